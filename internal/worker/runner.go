// Package worker drives sync runs and the proactive consistency watchdog.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/erp-sync/internal/errors"
	"github.com/erp-sync/internal/logging"
	"github.com/erp-sync/internal/models"
	"github.com/erp-sync/internal/service"
	"github.com/erp-sync/internal/types"
	"github.com/google/uuid"
)

// BatchResult reports what one batch accomplished
type BatchResult struct {
	ItemsSynced       int
	Errors            int
	ImagesProcessed   int
	DuplicatesSkipped int
}

// BatchSource supplies the items of a sync run, batch by batch. The actual
// transport to the store and the ERP lives behind this interface.
type BatchSource interface {
	// CountItems returns the total number of items the run will cover
	CountItems(ctx context.Context, entity types.EntityType, direction types.SyncDirection) (int, error)
	// SyncBatch processes one batch and reports its outcome. Item-level
	// failures belong in BatchResult.Errors; a returned error aborts the run.
	SyncBatch(ctx context.Context, entity types.EntityType, direction types.SyncDirection, batch, batchSize int) (BatchResult, error)
}

// RunResult summarizes a finished run
type RunResult struct {
	OperationID string `json:"operationId"`
	Cancelled   bool   `json:"cancelled"`
	Batches     int    `json:"batches"`
	ItemsSynced int    `json:"itemsSynced"`
	Errors      int    `json:"errors"`
}

// Runner executes one sync run at a time for a (entity, direction) pair,
// holding the entity lock for the duration and polling the cancellation
// channel between batches.
type Runner struct {
	status            *service.StatusService
	source            BatchSource
	owner             string
	heartbeatInterval time.Duration
	logger            *logging.Logger
}

// RunnerConfig holds configuration for a sync runner
type RunnerConfig struct {
	Status            *service.StatusService
	Source            BatchSource
	Owner             string
	HeartbeatInterval time.Duration
	Logger            *logging.Logger
}

// NewRunner creates a sync runner
func NewRunner(cfg *RunnerConfig) (*Runner, error) {
	if cfg.Status == nil {
		return nil, fmt.Errorf("status service cannot be nil")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("batch source cannot be nil")
	}

	owner := cfg.Owner
	if owner == "" {
		owner = uuid.New().String()
	}
	heartbeatInterval := cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Runner{
		status:            cfg.Status,
		source:            cfg.Source,
		owner:             owner,
		heartbeatInterval: heartbeatInterval,
		logger:            logger,
	}, nil
}

// Run executes a full sync run. Mutual exclusion comes from the entity lock;
// a second Run for the same entity fails fast instead of queueing.
func (r *Runner) Run(ctx context.Context, entity types.EntityType, direction types.SyncDirection) (*RunResult, error) {
	if !types.ValidEntity(entity) {
		return nil, errors.NewInvalidEntityError(string(entity))
	}
	if !types.ValidDirection(direction) {
		return nil, errors.NewInvalidDirectionError(string(direction))
	}

	locks := r.status.Locks()
	acquired, err := locks.Acquire(ctx, entity, r.owner)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", entity, err)
	}
	if !acquired {
		return nil, errors.NewLockUnavailableError(entity)
	}
	defer func() {
		if err := locks.Release(ctx, entity, r.owner); err != nil {
			r.logger.WithError(err).WithField("entity", string(entity)).
				Warn("Failed to release sync lock")
		}
	}()

	// A flag left over from an earlier run must not cancel this one
	r.status.ClearCancellation(ctx)

	operationID := uuid.New().String()
	if !r.status.InitializeSync(ctx, entity, direction, 0, operationID) {
		return nil, fmt.Errorf("failed to initialize sync status")
	}

	totalItems, err := r.source.CountItems(ctx, entity, direction)
	if err != nil {
		r.status.ClearCurrentSync(ctx)
		return nil, fmt.Errorf("failed to count items: %w", err)
	}

	batchSize := r.status.ReadStatus(ctx).Current.BatchSize
	totalBatches := 0
	if totalItems > 0 {
		totalBatches = (totalItems + batchSize - 1) / batchSize
	}

	if !r.status.UpdateCurrentSync(ctx, models.CurrentSyncPatch{
		TotalItems:   &totalItems,
		TotalBatches: &totalBatches,
	}) {
		r.logger.WithFields(map[string]interface{}{
			"totalItems":   totalItems,
			"totalBatches": totalBatches,
		}).Warn("Run totals not persisted")
	}

	result := &RunResult{OperationID: operationID}
	itemsSynced := 0
	lastHeartbeat := time.Now()

	for batch := 1; batch <= totalBatches; batch++ {
		if ctx.Err() != nil {
			r.status.ClearCurrentSync(ctx)
			return result, ctx.Err()
		}

		if r.status.IsCancellationRequested(ctx) {
			r.status.CancelCurrentSync(ctx)
			r.status.ClearCancellation(ctx)
			result.Cancelled = true
			r.logger.WithField("operationId", operationID).Info("Sync run stopped by cancellation request")
			return result, nil
		}

		batchResult, err := r.source.SyncBatch(ctx, entity, direction, batch, batchSize)
		if err != nil {
			r.status.ClearCurrentSync(ctx)
			return result, fmt.Errorf("batch %d failed: %w", batch, err)
		}

		itemsSynced += batchResult.ItemsSynced
		result.Batches = batch
		result.ItemsSynced = itemsSynced
		result.Errors += batchResult.Errors

		if !r.status.UpdateBatchProgress(ctx, batch, itemsSynced, batchResult.Errors) {
			r.logger.WithField("batch", batch).Warn("Batch progress not persisted")
		}

		if entity == types.EntityProducts && (batchResult.ImagesProcessed > 0 || batchResult.DuplicatesSkipped > 0) {
			r.recordImageProgress(ctx, batchResult)
		}

		if time.Since(lastHeartbeat) >= r.heartbeatInterval {
			r.status.MaintainHeartbeat(ctx, entity, 0)
			lastHeartbeat = time.Now()
		}
	}

	if !r.status.FinalizeSyncSuccess(ctx, entity, direction) {
		return result, fmt.Errorf("failed to finalize sync status")
	}
	r.status.ClearCancellation(ctx)

	r.logger.WithFields(map[string]interface{}{
		"operationId": operationID,
		"entity":      string(entity),
		"direction":   string(direction),
		"items":       itemsSynced,
		"errors":      result.Errors,
	}).Info("Sync run completed")

	return result, nil
}

// recordImageProgress accumulates image-phase counters from a product batch
func (r *Runner) recordImageProgress(ctx context.Context, batch BatchResult) {
	current := r.status.ReadStatus(ctx).ImagePhase

	processed := current.ImagesProcessed + batch.ImagesProcessed
	duplicates := current.DuplicatesSkipped + batch.DuplicatesSkipped
	products := current.ProductsProcessed + batch.ItemsSynced

	r.status.UpdateImagePhase(ctx, models.ImagePhasePatch{
		ImagesProcessed:   &processed,
		DuplicatesSkipped: &duplicates,
		ProductsProcessed: &products,
	})
}
