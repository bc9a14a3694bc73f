package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the full server configuration, loadable from YAML.
type ServerConfig struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"readTimeout"`
		WriteTimeout time.Duration `yaml:"writeTimeout"`
		IdleTimeout  time.Duration `yaml:"idleTimeout"`
		MaxBodySize  int64         `yaml:"maxBodySize"`
	} `yaml:"server"`

	Auth struct {
		Enabled    bool   `yaml:"enabled"`
		JWTSecret  string `yaml:"jwtSecret"`
		APIKeyHash string `yaml:"apiKeyHash"`
	} `yaml:"auth"`

	Index struct {
		// Mode is "strict" or "graceful".
		Mode string `yaml:"mode"`
	} `yaml:"index"`

	Variables map[string]interface{} `yaml:"variables"`

	Policies struct {
		Dir   string `yaml:"dir"`
		Watch bool   `yaml:"watch"`
	} `yaml:"policies"`

	Cache struct {
		// Type is "lru" or "redis".
		Type     string        `yaml:"type"`
		Capacity int           `yaml:"capacity"`
		TTL      time.Duration `yaml:"ttl"`

		Redis struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Database struct {
		Enabled bool   `yaml:"enabled"`
		DSN     string `yaml:"dsn"`
		Migrate bool   `yaml:"migrate"`
	} `yaml:"database"`

	Similarity struct {
		Enabled   bool `yaml:"enabled"`
		Dimension int  `yaml:"dimension"`
	} `yaml:"similarity"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`

		File struct {
			Path       string `yaml:"path"`
			MaxSizeMB  int    `yaml:"maxSizeMB"`
			MaxBackups int    `yaml:"maxBackups"`
			MaxAgeDays int    `yaml:"maxAgeDays"`
			Compress   bool   `yaml:"compress"`
		} `yaml:"file"`
	} `yaml:"log"`
}

// DefaultServerConfig returns the configuration used when no file is
// given.
func DefaultServerConfig() *ServerConfig {
	cfg := &ServerConfig{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Server.MaxBodySize = 1 * 1024 * 1024

	cfg.Index.Mode = "graceful"

	cfg.Policies.Watch = true

	cfg.Cache.Type = "lru"
	cfg.Cache.Capacity = 10000
	cfg.Cache.TTL = 5 * time.Minute

	cfg.Similarity.Enabled = true
	cfg.Similarity.Dimension = 256

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Log.File.MaxSizeMB = 100
	cfg.Log.File.MaxBackups = 5
	cfg.Log.File.MaxAgeDays = 30
	cfg.Log.File.Compress = true

	return cfg
}

// LoadServerConfig reads a YAML configuration file over the defaults.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for obvious mistakes.
func (c *ServerConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	switch c.Index.Mode {
	case "strict", "graceful":
	default:
		return fmt.Errorf("index mode must be strict or graceful, got %q", c.Index.Mode)
	}
	switch c.Cache.Type {
	case "lru", "redis", "":
	default:
		return fmt.Errorf("cache type must be lru or redis, got %q", c.Cache.Type)
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database is enabled but no DSN is configured")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" && c.Auth.APIKeyHash == "" {
		return fmt.Errorf("auth is enabled but neither JWT secret nor API key hash is configured")
	}
	return nil
}
