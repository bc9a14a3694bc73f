// Package main provides the entry point for the policy retrieval
// server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/authz-engine/prp-core/internal/api"
	"github.com/authz-engine/prp-core/internal/cache"
	"github.com/authz-engine/prp-core/internal/canonical"
	"github.com/authz-engine/prp-core/internal/cel"
	"github.com/authz-engine/prp-core/internal/db"
	"github.com/authz-engine/prp-core/internal/index"
	"github.com/authz-engine/prp-core/internal/policy"
	"github.com/authz-engine/prp-core/internal/prp"
	"github.com/authz-engine/prp-core/internal/similarity"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath      = flag.String("config", "", "Path to YAML configuration file")
		policyDir       = flag.String("policy-dir", "", "Directory to load policy documents from (overrides config)")
		port            = flag.Int("port", 0, "HTTP server port (overrides config)")
		logLevel        = flag.String("log-level", "", "Log level (debug, info, warn, error; overrides config)")
		showVersion     = flag.Bool("version", false, "Show version information")
		gracefulTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("prp-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := LoadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *policyDir != "" {
		cfg.Policies.Dir = *policyDir
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting policy retrieval server",
		zap.String("version", Version),
		zap.Int("port", cfg.Server.Port),
		zap.String("mode", cfg.Index.Mode),
	)

	if err := run(cfg, logger, *gracefulTimeout); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped successfully")
}

func run(cfg *ServerConfig, logger *zap.Logger, gracefulTimeout time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	evalCtx, err := cel.NewContext(cfg.Variables)
	if err != nil {
		return fmt.Errorf("creating evaluation context: %w", err)
	}

	mode := index.Graceful
	if cfg.Index.Mode == "strict" {
		mode = index.Strict
	}

	live, err := prp.New(prp.Config{
		Compile: evalCtx.CompileFunc(),
		Mode:    mode,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("creating live index: %w", err)
	}

	// Replay persisted documents before going live.
	var store *db.DocumentStore
	if cfg.Database.Enabled {
		store, err = db.Open(ctx, cfg.Database.DSN, logger)
		if err != nil {
			return fmt.Errorf("opening document store: %w", err)
		}
		defer store.Close()

		if cfg.Database.Migrate {
			runner, err := db.NewMigrationRunner(store.DB(), logger)
			if err != nil {
				return fmt.Errorf("creating migration runner: %w", err)
			}
			if err := runner.Up(); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
		}

		docs, err := store.LoadAll(ctx)
		if err != nil {
			return fmt.Errorf("loading persisted documents: %w", err)
		}
		for _, doc := range docs {
			if err := live.Publish(doc); err != nil {
				logger.Warn("Skipping persisted document",
					zap.String("document", doc.ID),
					zap.Error(err),
				)
			}
		}
		logger.Info("Replayed persisted documents", zap.Int("count", len(docs)))
	}

	// Load the policy directory and keep it synchronized.
	var watcher *policy.FileWatcher
	if cfg.Policies.Dir != "" {
		loader := policy.NewLoader(logger)
		watcher, err = policy.NewFileWatcher(cfg.Policies.Dir, live, loader, logger)
		if err != nil {
			return fmt.Errorf("creating policy watcher: %w", err)
		}
		watcher.Sync()

		if cfg.Policies.Watch {
			if err := watcher.Watch(ctx); err != nil {
				return fmt.Errorf("starting policy watcher: %w", err)
			}
			defer watcher.Stop()
		}
	}

	live.MakeLive()

	results, err := buildCache(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating result cache: %w", err)
	}
	defer results.Close()

	var similar *similarity.Index
	if cfg.Similarity.Enabled {
		simCfg := similarity.DefaultConfig()
		if cfg.Similarity.Dimension > 0 {
			simCfg.Dimension = cfg.Similarity.Dimension
		}
		similar, err = similarity.New(simCfg)
		if err != nil {
			return fmt.Errorf("creating similarity index: %w", err)
		}
		for _, doc := range live.Documents() {
			if formula, ok := live.Formula(doc.ID); ok {
				if err := similar.Add(ctx, doc.ID, formula); err != nil {
					logger.Warn("Failed to index document for similarity",
						zap.String("document", doc.ID),
						zap.Error(err),
					)
				}
			}
		}
	}

	newCompile := func(variables map[string]interface{}) (canonical.CompileFunc, error) {
		c, err := cel.NewContext(variables)
		if err != nil {
			return nil, err
		}
		return c.CompileFunc(), nil
	}

	apiCfg := api.Config{
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		MaxBodySize:  cfg.Server.MaxBodySize,
		EnableAuth:   cfg.Auth.Enabled,
		JWTSecret:    cfg.Auth.JWTSecret,
		APIKeyHash:   cfg.Auth.APIKeyHash,
	}

	server, err := api.New(apiCfg, live, results, similar, newCompile, logger)
	if err != nil {
		return fmt.Errorf("creating REST server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("Server is ready",
		zap.Int("documents", len(live.Documents())),
		zap.Uint64("revision", live.Revision()),
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down", zap.Duration("timeout", gracefulTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
	defer cancel()
	return server.Stop(shutdownCtx)
}

func buildCache(cfg *ServerConfig, logger *zap.Logger) (cache.Cache, error) {
	if cfg.Cache.Type == "redis" {
		redisCfg := cache.DefaultRedisConfig()
		if cfg.Cache.Redis.Host != "" {
			redisCfg.Host = cfg.Cache.Redis.Host
		}
		if cfg.Cache.Redis.Port != 0 {
			redisCfg.Port = cfg.Cache.Redis.Port
		}
		redisCfg.Password = cfg.Cache.Redis.Password
		redisCfg.DB = cfg.Cache.Redis.DB
		if cfg.Cache.Redis.Prefix != "" {
			redisCfg.KeyPrefix = cfg.Cache.Redis.Prefix
		}
		if cfg.Cache.TTL > 0 {
			redisCfg.TTL = cfg.Cache.TTL
		}
		return cache.NewRedisCache(redisCfg, logger)
	}
	return cache.NewLRU(cfg.Cache.Capacity, cfg.Cache.TTL), nil
}

// initLogger initializes the zap logger, optionally writing to a
// rotating log file.
func initLogger(cfg *ServerConfig) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch cfg.Log.Level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	if cfg.Log.File.Path != "" {
		writer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Log.File.Path,
			MaxSize:    cfg.Log.File.MaxSizeMB,
			MaxBackups: cfg.Log.File.MaxBackups,
			MaxAge:     cfg.Log.File.MaxAgeDays,
			LocalTime:  true,
			Compress:   cfg.Log.File.Compress,
		})

		encoderCfg := zap.NewProductionEncoderConfig()
		var encoder zapcore.Encoder
		if cfg.Log.Format == "console" {
			encoder = zapcore.NewConsoleEncoder(encoderCfg)
		} else {
			encoder = zapcore.NewJSONEncoder(encoderCfg)
		}

		core := zapcore.NewCore(encoder, writer, zapLevel)
		return zap.New(core), nil
	}

	var config zap.Config
	if cfg.Log.Format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	return config.Build()
}
