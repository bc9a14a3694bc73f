package cache

import (
	"crypto/tls"
	"fmt"
	"time"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize    int
	PoolTimeout time.Duration

	// TTL for cached retrieval results.
	TTL time.Duration

	TLS *tls.Config

	// Sentinel/Cluster mode.
	SentinelEnabled bool
	SentinelAddrs   []string
	MasterName      string
	ClusterEnabled  bool

	// Key prefix for namespacing.
	KeyPrefix string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
}

// DefaultRedisConfig returns a configuration with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:         "localhost",
		Port:         6379,
		DB:           0,
		PoolSize:     10,
		PoolTimeout:  4 * time.Second,
		TTL:          5 * time.Minute,
		KeyPrefix:    "prp:",
		MasterName:   "mymaster",
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *RedisConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("redis host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("redis port %d out of range", c.Port)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("redis TTL must be positive")
	}
	if c.SentinelEnabled && len(c.SentinelAddrs) == 0 {
		return fmt.Errorf("sentinel mode requires sentinel addresses")
	}
	if c.SentinelEnabled && c.ClusterEnabled {
		return fmt.Errorf("sentinel and cluster modes are mutually exclusive")
	}
	return nil
}
