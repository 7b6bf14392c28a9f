// Package main provides the sync worker entry point. It drives scheduled
// sync runs for the configured entities and directions.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/erp-sync/internal/config"
	"github.com/erp-sync/internal/erp"
	"github.com/erp-sync/internal/logging"
	"github.com/erp-sync/internal/service"
	"github.com/erp-sync/internal/storage"
	"github.com/erp-sync/internal/types"
	"github.com/erp-sync/internal/worker"
)

func main() {
	var (
		entitiesFlag  = flag.String("entities", "products,orders", "Comma-separated entities to sync")
		directionFlag = flag.String("direction", string(types.DirectionERPToStore), "Sync direction")
		intervalFlag  = flag.Duration("interval", 15*time.Minute, "Delay between run cycles")
		onceFlag      = flag.Bool("once", false, "Run one cycle and exit")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	direction := types.SyncDirection(*directionFlag)
	if !types.ValidDirection(direction) {
		logger.WithField("direction", *directionFlag).Fatal("Unknown sync direction")
	}

	entities := parseEntities(*entitiesFlag, logger)
	if len(entities) == 0 {
		logger.WithField("entities", *entitiesFlag).Fatal("No valid entities to sync")
	}

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
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

	optionsRepo := storage.NewOptionsRepository(postgres)
	cachedOptions := storage.NewCachedOptions(optionsRepo, redis, 30*time.Second)
	lockManager := storage.NewLockManager(redis, cfg.Lock.TTL)
	historyRepo := storage.NewHistoryRepository(clickhouse)
	stagingRepo := storage.NewStagingRepository(postgres)

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	if err := historyRepo.EnsureSchema(schemaCtx); err != nil {
		cancelSchema()
		logger.WithError(err).Fatal("Failed to ensure history schema")
	}
	cancelSchema()

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

	source, err := erp.NewClient(cfg.ERP, stagingRepo, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create batch source")
	}

	hostname, _ := os.Hostname()
	runner, err := worker.NewRunner(&worker.RunnerConfig{
		Status:            statusService,
		Source:            source,
		Owner:             hostname,
		HeartbeatInterval: cfg.Sync.HeartbeatInterval,
		Logger:            logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sync runner")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithFields(map[string]interface{}{
		"entities":  *entitiesFlag,
		"direction": string(direction),
		"interval":  intervalFlag.String(),
	}).Info("Sync worker started")

	for {
		runCycle(ctx, runner, stagingRepo, entities, direction, logger)

		if *onceFlag {
			return
		}

		select {
		case <-ctx.Done():
			logger.Info("Sync worker stopping")
			return
		case <-time.After(*intervalFlag):
		}
	}
}

// runCycle runs one sync per entity, continuing past individual failures
func runCycle(ctx context.Context, runner *worker.Runner, staging *storage.StagingRepository, entities []types.EntityType, direction types.SyncDirection, logger *logging.Logger) {
	for _, entity := range entities {
		if ctx.Err() != nil {
			return
		}

		result, err := runner.Run(ctx, entity, direction)
		if err != nil {
			logger.WithError(err).WithField("entity", string(entity)).Error("Sync run failed")
			continue
		}
		if result.Cancelled {
			logger.WithField("entity", string(entity)).Warn("Sync run cancelled")
			continue
		}

		staged, err := staging.CountStaged(ctx, entity, direction)
		if err != nil {
			logger.WithError(err).WithField("entity", string(entity)).Warn("Failed to count staged items")
			continue
		}
		logger.Infof("Sync run for %s staged %d items total", entity, staged)
	}
}

// parseEntities parses the comma-separated entity list, dropping unknowns
func parseEntities(raw string, logger *logging.Logger) []types.EntityType {
	var entities []types.EntityType
	for _, part := range strings.Split(raw, ",") {
		entity := types.EntityType(strings.TrimSpace(part))
		if !types.ValidEntity(entity) {
			logger.Warnf("Skipping unknown entity %q", entity)
			continue
		}
		entities = append(entities, entity)
	}
	return entities
}
