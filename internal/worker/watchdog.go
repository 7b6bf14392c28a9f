package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/erp-sync/internal/logging"
	"github.com/erp-sync/internal/service"
)

// StagedPruner removes staged items older than a retention window.
// Satisfied by storage.StagingRepository.
type StagedPruner interface {
	PruneStaged(ctx context.Context, maxAge time.Duration) (int, error)
}

// Watchdog periodically validates the persisted sync status and auto-repairs
// inconsistencies, so state corrupted by a crashed or interrupted run heals
// without waiting for the next read. It also prunes old history records and
// expired staged items.
type Watchdog struct {
	status           *service.StatusService
	interval         time.Duration
	historyRetention time.Duration
	staging          StagedPruner
	stagingRetention time.Duration
	logger           *logging.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	lastCleanup time.Time
}

// WatchdogConfig holds configuration for the consistency watchdog
type WatchdogConfig struct {
	Status           *service.StatusService
	Interval         time.Duration
	HistoryRetention time.Duration
	Staging          StagedPruner
	StagingRetention time.Duration
	Logger           *logging.Logger
}

// NewWatchdog creates a consistency watchdog
func NewWatchdog(cfg *WatchdogConfig) (*Watchdog, error) {
	if cfg.Status == nil {
		return nil, fmt.Errorf("status service cannot be nil")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Watchdog{
		status:           cfg.Status,
		interval:         interval,
		historyRetention: cfg.HistoryRetention,
		staging:          cfg.Staging,
		stagingRetention: cfg.StagingRetention,
		logger:           logger,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}, nil
}

// Start runs the watchdog loop until Stop is called or the context ends
func (w *Watchdog) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish
func (w *Watchdog) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watchdog) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.WithField("interval", w.interval.String()).Info("Consistency watchdog started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick performs one validate-and-repair pass
func (w *Watchdog) tick(ctx context.Context) {
	report := w.status.ValidateStateConsistency(ctx)
	if !report.IsConsistent {
		w.logger.WithField("inconsistencies", len(report.Inconsistencies)).
			Warn("Sync status inconsistent, attempting auto-repair")

		result := w.status.AutoFixInconsistencies(ctx, report)
		if result.Success {
			w.logger.WithField("fixesApplied", len(result.FixesApplied)).
				Info("Sync status repaired")
		} else {
			w.logger.WithFields(map[string]interface{}{
				"fixesApplied": len(result.FixesApplied),
				"fixesFailed":  len(result.FixesFailed),
				"persisted":    result.Persisted,
			}).Warn("Sync status repair incomplete")
		}
	}

	w.dailyCleanup(ctx)
}

// dailyCleanup prunes expired history records and staged items at most once
// a day
func (w *Watchdog) dailyCleanup(ctx context.Context) {
	if time.Since(w.lastCleanup) < 24*time.Hour {
		return
	}
	w.lastCleanup = time.Now()

	if w.historyRetention > 0 && w.status.History() != nil {
		removed, err := w.status.History().CleanHistory(ctx, w.historyRetention)
		if err != nil {
			w.logger.WithError(err).Warn("Failed to clean sync history")
		} else if removed > 0 {
			w.logger.WithField("removed", removed).Info("Cleaned old sync history records")
		}
	}

	if w.staging != nil && w.stagingRetention > 0 {
		pruned, err := w.staging.PruneStaged(ctx, w.stagingRetention)
		if err != nil {
			w.logger.WithError(err).Warn("Failed to prune staged items")
		} else if pruned > 0 {
			w.logger.WithField("pruned", pruned).Info("Pruned expired staged items")
		}
	}
}
