// Package main provides the API server entry point for the ERP sync service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp-sync/internal/api"
	"github.com/erp-sync/internal/config"
	"github.com/erp-sync/internal/logging"
	"github.com/erp-sync/internal/retry"
	"github.com/erp-sync/internal/service"
	"github.com/erp-sync/internal/storage"
	"github.com/erp-sync/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	// Postgres is often the last dependency up after a deploy; retry with
	// the default backoff profile instead of crash-looping.
	var postgres *storage.PostgresDB
	err = retry.DoSimple(context.Background(), func(ctx context.Context, _ int) error {
		var connErr error
		postgres, connErr = storage.NewPostgresDB(&cfg.Database.Postgres)
		return connErr
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Initialize storage layer
	optionsRepo := storage.NewOptionsRepository(postgres)
	cachedOptions := storage.NewCachedOptions(optionsRepo, redis, 30*time.Second)
	lockManager := storage.NewLockManager(redis, cfg.Lock.TTL)
	historyRepo := storage.NewHistoryRepository(clickhouse)
	stagingRepo := storage.NewStagingRepository(postgres)

	if warmed, err := cachedOptions.Warm(context.Background()); err != nil {
		logger.WithError(err).Warn("Failed to warm option cache")
	} else if warmed > 0 {
		logger.Infof("Preloaded %d autoload options into cache", warmed)
	}

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	if err := historyRepo.EnsureSchema(schemaCtx); err != nil {
		cancelSchema()
		logger.WithError(err).Fatal("Failed to ensure history schema")
	}
	cancelSchema()

	// Initialize the status service
	statusService, err := service.NewStatusService(&service.StatusServiceConfig{
		Options:             cachedOptions,
		Transient:           redis,
		Locks:               lockManager,
		History:             historyRepo,
		Policy:              &cfg.Sync,
		StaleThreshold:      cfg.Sync.StaleThreshold,
		CancelFlagTTL:       cfg.Sync.CancelFlagTTL,
		LockExtendThreshold: cfg.Lock.ExtendThreshold,
		LockExtension:       cfg.Lock.Extension,
		Logger:              logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create status service")
	}

	// Start the consistency watchdog
	watchdog, err := worker.NewWatchdog(&worker.WatchdogConfig{
		Status:           statusService,
		Interval:         cfg.Watchdog.Interval,
		HistoryRetention: cfg.Watchdog.HistoryRetention,
		Staging:          stagingRepo,
		StagingRetention: cfg.Watchdog.StagingRetention,
		Logger:           logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create watchdog")
	}

	watchdogCtx, cancelWatchdog := context.WithCancel(context.Background())
	defer cancelWatchdog()
	watchdog.Start(watchdogCtx)

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateLimitRPS:    cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst:  cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, statusService, logger)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	cancelWatchdog()
	watchdog.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
