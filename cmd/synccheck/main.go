// Package main provides a one-shot CLI that validates the persisted sync
// status and optionally auto-repairs it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/erp-sync/internal/config"
	"github.com/erp-sync/internal/logging"
	"github.com/erp-sync/internal/service"
	"github.com/erp-sync/internal/storage"
)

func main() {
	var (
		fix     = flag.Bool("fix", false, "Auto-repair detected inconsistencies")
		timeout = flag.Duration("timeout", 30*time.Second, "Overall operation timeout")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	optionsRepo := storage.NewOptionsRepository(postgres)
	lockManager := storage.NewLockManager(redis, cfg.Lock.TTL)

	// History is optional here: a check run without ClickHouse still works,
	// it just cannot record the repair.
	var history service.HistorySink
	if clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse); err == nil {
		defer clickhouse.Close()
		history = storage.NewHistoryRepository(clickhouse)
	} else {
		logger.WithError(err).Warn("ClickHouse unavailable, repair history will not be recorded")
	}

	statusService, err := service.NewStatusService(&service.StatusServiceConfig{
		Options:        optionsRepo,
		Transient:      redis,
		Locks:          lockManager,
		History:        history,
		Policy:         &cfg.Sync,
		StaleThreshold: cfg.Sync.StaleThreshold,
		Logger:         logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create status service")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report := statusService.ValidateStateConsistency(ctx)
	printJSON(report)

	if report.IsConsistent {
		fmt.Println("Sync status is consistent")
		return
	}

	if !*fix {
		fmt.Println("Sync status is inconsistent, re-run with -fix to repair")
		os.Exit(1)
	}

	result := statusService.AutoFixInconsistencies(ctx, report)
	printJSON(result)

	if !result.Success {
		fmt.Println("Repair incomplete")
		os.Exit(1)
	}
	fmt.Println("Sync status repaired")
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
	fmt.Println(string(out))
}
