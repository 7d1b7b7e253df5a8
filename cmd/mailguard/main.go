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

	"github.com/raaihank/mailguard/internal/api"
	"github.com/raaihank/mailguard/internal/cache"
	"github.com/raaihank/mailguard/internal/config"
	"github.com/raaihank/mailguard/internal/logger"
	"github.com/raaihank/mailguard/internal/store"
	"go.uber.org/zap"
)

var (
	version = api.Version
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath      = flag.String("config", "", "Path to configuration file")
		showVersion     = flag.Bool("version", false, "Show version information")
		healthCheck     = flag.Bool("health-check", false, "Perform health check and exit")
		clearLabelCache = flag.Bool("clear-label-cache", false, "Remove all cached labels and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailguard %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *healthCheck {
		performHealthCheck(cfg.Server.Port)
		return
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting mailguard",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	labels, err := openLabelCache(cfg, log)
	if err != nil {
		log.Fatal("Failed to connect label cache", zap.Error(err))
	}
	if labels != nil {
		defer labels.Close()
	}

	if *clearLabelCache {
		if labels == nil {
			log.Fatal("Label cache is not enabled")
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := labels.Clear(ctx); err != nil {
			log.Fatal("Failed to clear label cache", zap.Error(err))
		}
		return
	}

	audit, err := openAuditStore(cfg, log)
	if err != nil {
		log.Fatal("Failed to connect audit store", zap.Error(err))
	}
	if audit != nil {
		defer audit.Close()
	}

	deps := api.Dependencies{}
	if labels != nil {
		deps.Cache = labels
	}
	if audit != nil {
		deps.Audit = audit
	}

	server, err := api.New(cfg, log, deps)
	if err != nil {
		log.Fatal("Failed to create API server", zap.Error(err))
	}

	if *configPath != "" {
		err := config.Watch(func(updated *config.Config) {
			log.Warn("Configuration file changed; restart to apply",
				zap.Int("port", updated.Server.Port),
				zap.Strings("detectors", updated.Privacy.Detectors),
				zap.Int("custom_rules", len(updated.Privacy.CustomRules)))
		}, func(err error) {
			log.Error("Ignoring invalid configuration change", zap.Error(err))
		})
		if err != nil {
			log.Warn("Configuration hot reload disabled", zap.Error(err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- server.Start(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
			os.Exit(1)
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
		cancel()

		// Give outstanding requests 30 seconds to complete
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()

		if err := server.Stop(stopCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	return logger.New(loggerConfig)
}

// openLabelCache returns nil when the cache is disabled
func openLabelCache(cfg *config.Config, log *logger.Logger) (*cache.LabelCache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}

	return cache.NewLabelCache(&cache.Config{
		RedisURL:       cfg.Cache.RedisURL,
		MaxConnections: cfg.Cache.MaxConnections,
		MinIdleConns:   cfg.Cache.MinIdleConns,
		DefaultTTL:     cfg.Cache.DefaultTTL,
		KeyPrefix:      cfg.Cache.KeyPrefix,
	}, log.WithComponent("cache").Logger)
}

// openAuditStore returns nil when the audit log is disabled
func openAuditStore(cfg *config.Config, log *logger.Logger) (*store.Store, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}

	return store.NewStore(&store.Config{
		DatabaseURL:     cfg.Store.DatabaseURL,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	}, log.WithComponent("store").Logger)
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(port int) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
