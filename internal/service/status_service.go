// Package service implements the synchronization state machine: the durable
// status record, its named transition operations, consistency validation and
// auto-repair, lock liveness maintenance, and the cancellation channel.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp-sync/internal/errors"
	"github.com/erp-sync/internal/logging"
	"github.com/erp-sync/internal/models"
	"github.com/erp-sync/internal/retry"
	"github.com/erp-sync/internal/storage"
	"github.com/erp-sync/internal/types"
	"github.com/google/uuid"
)

// Option-store keys owned by this service
const (
	statusOptionKey = "sync_status"
	cancelOptionKey = "sync_cancel_requested"
)

// cancelFastKey is the transient fast-read cancellation slot
const cancelFastKey = "synccancel:flag"

// LockManager is the external lock collaborator consumed by the heartbeat
// monitor and the worker.
type LockManager interface {
	Acquire(ctx context.Context, entity types.EntityType, owner string) (bool, error)
	Release(ctx context.Context, entity types.EntityType, owner string) error
	GetLockInfo(ctx context.Context, entity types.EntityType) (*models.LockInfo, error)
	UpdateHeartbeat(ctx context.Context, entity types.EntityType) (bool, error)
	ExtendLock(ctx context.Context, entity types.EntityType, extension time.Duration) (bool, error)
	GetActiveLocks(ctx context.Context) ([]*models.LockInfo, error)
}

// HistorySink receives terminal sync-run records. Sink failures are logged
// and swallowed; history is never allowed to fail a sync operation.
type HistorySink interface {
	AddSyncHistory(ctx context.Context, record *models.SyncHistoryRecord) error
	GetSyncHistory(ctx context.Context, limit int) ([]*models.SyncHistoryRecord, error)
	CleanHistory(ctx context.Context, maxAge time.Duration) (int, error)
}

// TransientStore is a short-lived flag store with TTL semantics, satisfied by
// storage.RedisCache.
type TransientStore interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, keys ...string) error
}

// BatchSizePolicy supplies per-entity default batch sizes
type BatchSizePolicy interface {
	DefaultBatchSize(entity types.EntityType) int
}

// StatusService owns the persisted SyncStatus record and its transition API.
// All write-backed operations return a bool: false means the store rejected
// the write after retries and the in-memory transition must not be assumed
// to have taken effect.
type StatusService struct {
	options   storage.OptionStore
	transient TransientStore
	locks     LockManager
	history   HistorySink
	policy    BatchSizePolicy

	validator *Validator

	cancelFlagTTL       time.Duration
	lockExtendThreshold time.Duration
	lockExtension       time.Duration

	logger *logging.Logger
	now    func() time.Time
}

// StatusServiceConfig holds dependencies and tunables for a StatusService
type StatusServiceConfig struct {
	Options   storage.OptionStore
	Transient TransientStore
	Locks     LockManager
	History   HistorySink
	Policy    BatchSizePolicy

	// StaleThreshold flags in-progress runs whose last update is older
	StaleThreshold time.Duration
	// CancelFlagTTL is the lifetime of the fast cancellation slot
	CancelFlagTTL time.Duration
	// LockExtendThreshold triggers lock extension below this remaining lifetime
	LockExtendThreshold time.Duration
	// LockExtension is how much lifetime an extension adds
	LockExtension time.Duration

	Logger *logging.Logger
	// Now overrides the clock, for tests
	Now func() time.Time
}

// NewStatusService creates a status service
func NewStatusService(cfg *StatusServiceConfig) (*StatusService, error) {
	if cfg.Options == nil {
		return nil, fmt.Errorf("option store cannot be nil")
	}
	if cfg.Transient == nil {
		return nil, fmt.Errorf("transient store cannot be nil")
	}
	if cfg.Locks == nil {
		return nil, fmt.Errorf("lock manager cannot be nil")
	}

	staleThreshold := cfg.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = time.Hour
	}
	cancelFlagTTL := cfg.CancelFlagTTL
	if cancelFlagTTL <= 0 {
		cancelFlagTTL = 5 * time.Minute
	}
	lockExtendThreshold := cfg.LockExtendThreshold
	if lockExtendThreshold <= 0 {
		lockExtendThreshold = 5 * time.Minute
	}
	lockExtension := cfg.LockExtension
	if lockExtension <= 0 {
		lockExtension = time.Hour
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &StatusService{
		options:             cfg.Options,
		transient:           cfg.Transient,
		locks:               cfg.Locks,
		history:             cfg.History,
		policy:              cfg.Policy,
		validator:           &Validator{StaleThreshold: staleThreshold},
		cancelFlagTTL:       cancelFlagTTL,
		lockExtendThreshold: lockExtendThreshold,
		lockExtension:       lockExtension,
		logger:              logger,
		now:                 now,
	}, nil
}

// ReadStatus returns the persisted status record. A missing record yields a
// default-populated one, persisted back so subsequent readers agree on it.
// An undecodable record degrades to whatever fields survived decoding; the
// validator and repair engine handle the rest.
func (s *StatusService) ReadStatus(ctx context.Context) *models.SyncStatus {
	raw, found, err := s.options.Get(ctx, statusOptionKey)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read sync status, using defaults")
		return models.NewSyncStatus()
	}

	if !found {
		status := models.NewSyncStatus()
		if !s.writeStatus(ctx, status) {
			s.logger.Warn("Failed to persist default sync status")
		}
		return status
	}

	status := models.NewSyncStatus()
	if err := json.Unmarshal(raw, status); err != nil {
		// Partial decode: fields with type mismatches stay at their zero
		// values and get flagged by the validator.
		s.logger.WithError(err).Warn("Sync status record partially decoded")
	}
	if status.LastSync == nil {
		status.LastSync = map[types.EntityType]map[types.SyncDirection]time.Time{}
	}

	return status
}

// readStatusRaw returns the persisted record bytes for raw validation
func (s *StatusService) readStatusRaw(ctx context.Context) ([]byte, bool) {
	raw, found, err := s.options.Get(ctx, statusOptionKey)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read raw sync status")
		return nil, false
	}
	return raw, found
}

// writeStatus persists the record with the store's retry discipline:
// 3 attempts, 100ms apart. Every write stamps Current.LastUpdate.
func (s *StatusService) writeStatus(ctx context.Context, status *models.SyncStatus) bool {
	status.Current.LastUpdate = s.now()

	payload, err := json.Marshal(status)
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode sync status")
		return false
	}

	result := retry.Do(ctx, retry.StoreWriteConfig(), func(ctx context.Context, _ int) error {
		return s.options.Set(ctx, statusOptionKey, payload, true)
	})
	if !result.Success {
		s.logger.WithError(errors.NewStoreWriteError(statusOptionKey, result.LastError)).
			Error("Failed to persist sync status after retries")
		return false
	}

	return true
}

// SetInProgress flips the in-progress flag, merging any extra fields from the
// patch. Transition to true stamps StartTime when unset; transition to false
// stamps EndTime and the computed duration.
func (s *StatusService) SetInProgress(ctx context.Context, inProgress bool, patch *models.CurrentSyncPatch) bool {
	status := s.ReadStatus(ctx)
	wasInProgress := status.Current.InProgress

	patch.Apply(&status.Current)
	status.Current.InProgress = inProgress

	now := s.now()
	if inProgress && !wasInProgress && status.Current.StartTime.IsZero() {
		status.Current.StartTime = now
	}
	if !inProgress && wasInProgress {
		end := now
		status.Current.EndTime = &end
		if !status.Current.StartTime.IsZero() {
			status.Current.Duration = end.Sub(status.Current.StartTime)
		}
	}

	return s.writeStatus(ctx, status)
}

// InitializeSync resets the current-run record for a fresh sync. This is the
// only operation allowed to zero all progress counters together.
func (s *StatusService) InitializeSync(ctx context.Context, entity types.EntityType, direction types.SyncDirection, batchSize int, operationID string) bool {
	if batchSize <= 0 {
		batchSize = s.defaultBatchSize(entity)
	}
	if operationID == "" {
		operationID = uuid.New().String()
	}

	status := s.ReadStatus(ctx)
	now := s.now()
	status.Current = models.CurrentSync{
		InProgress:  true,
		Entity:      entity,
		Direction:   direction,
		BatchSize:   batchSize,
		StartTime:   now,
		OperationID: operationID,
	}
	status.ImagePhase = models.ImagePhaseStatus{}

	s.logger.WithFields(map[string]interface{}{
		"entity":      string(entity),
		"direction":   string(direction),
		"batchSize":   batchSize,
		"operationId": operationID,
	}).Info("Sync run initialized")

	return s.writeStatus(ctx, status)
}

// UpdateBatchProgress records batch progress. CurrentBatch and ItemsSynced
// are absolute values; errorsDelta is added to the running error counter.
// The asymmetry is deliberate: progress is reported as a position, errors as
// increments, so concurrent reporters cannot reset each other's error counts.
func (s *StatusService) UpdateBatchProgress(ctx context.Context, currentBatch, itemsSynced, errorsDelta int) bool {
	status := s.ReadStatus(ctx)
	status.Current.CurrentBatch = currentBatch
	status.Current.ItemsSynced = itemsSynced
	status.Current.Errors += errorsDelta

	return s.writeStatus(ctx, status)
}

// UpdateCurrentSync merges a partial update into the current-run record.
// Fields absent from the patch keep their stored values, so the protected
// fields (TotalBatches, TotalItems, OperationID, InProgress) survive partial
// updates that omit them.
func (s *StatusService) UpdateCurrentSync(ctx context.Context, patch models.CurrentSyncPatch) bool {
	status := s.ReadStatus(ctx)
	patch.Apply(&status.Current)

	return s.writeStatus(ctx, status)
}

// UpdateImagePhase merges a partial update into the image-ingestion sub-phase
func (s *StatusService) UpdateImagePhase(ctx context.Context, patch models.ImagePhasePatch) bool {
	status := s.ReadStatus(ctx)
	patch.Apply(&status.ImagePhase)
	status.ImagePhase.LastUpdate = s.now()

	return s.writeStatus(ctx, status)
}

// FinalizeSyncSuccess records a successful completion for the pair and closes
// the current run. Repeating the call only moves the lastSync timestamp
// forward; it adds no state beyond its own history entry.
func (s *StatusService) FinalizeSyncSuccess(ctx context.Context, entity types.EntityType, direction types.SyncDirection) bool {
	status := s.ReadStatus(ctx)
	now := s.now()

	status.RecordLastSync(entity, direction, now)

	record := &models.SyncHistoryRecord{
		OperationID: status.Current.OperationID,
		Entity:      entity,
		Direction:   direction,
		Status:      types.HistoryCompleted,
		ItemsSynced: status.Current.ItemsSynced,
		Errors:      status.Current.Errors,
		StartedAt:   status.Current.StartTime,
		FinishedAt:  now,
	}

	if status.Current.InProgress {
		status.Current.InProgress = false
		end := now
		status.Current.EndTime = &end
		if !status.Current.StartTime.IsZero() {
			status.Current.Duration = end.Sub(status.Current.StartTime)
		}
		record.Duration = status.Current.Duration
	}

	if !s.writeStatus(ctx, status) {
		return false
	}

	s.appendHistory(ctx, record)

	s.logger.WithFields(map[string]interface{}{
		"entity":    string(entity),
		"direction": string(direction),
	}).Info("Sync run finalized")

	return true
}

// CancelCurrentSync raises the cancellation signal and clears the current
// run. When nothing is in progress it reports no_sync without mutating state.
func (s *StatusService) CancelCurrentSync(ctx context.Context) *models.CancelResult {
	status := s.ReadStatus(ctx)
	if !status.Current.InProgress {
		return &models.CancelResult{Success: false, Status: "no_sync"}
	}

	operationID := status.Current.OperationID
	now := s.now()

	s.RequestCancellation(ctx)

	s.appendHistory(ctx, &models.SyncHistoryRecord{
		OperationID: operationID,
		Entity:      status.Current.Entity,
		Direction:   status.Current.Direction,
		Status:      types.HistoryCancelled,
		ItemsSynced: status.Current.ItemsSynced,
		Errors:      status.Current.Errors,
		StartedAt:   status.Current.StartTime,
		FinishedAt:  now,
		Duration:    now.Sub(status.Current.StartTime),
	})

	status.Current = models.CurrentSync{BatchSize: models.DefaultBatchSize}
	if !s.writeStatus(ctx, status) {
		s.logger.Error("Cancellation raised but status reset failed to persist")
	}

	s.logger.WithField("operationId", operationID).Info("Sync run cancelled")

	return &models.CancelResult{Success: true, Status: "cancelled", OperationID: operationID}
}

// ClearCurrentSync hard-resets the current-run record to defaults. Used after
// cancellation and when a stale run's counters cannot be trusted piecemeal.
func (s *StatusService) ClearCurrentSync(ctx context.Context) bool {
	status := s.ReadStatus(ctx)
	status.Current = models.CurrentSync{BatchSize: models.DefaultBatchSize}
	status.ImagePhase = models.ImagePhaseStatus{}

	return s.writeStatus(ctx, status)
}

// IsSyncInProgress reports whether a run is currently active
func (s *StatusService) IsSyncInProgress(ctx context.Context) bool {
	return s.ReadStatus(ctx).Current.InProgress
}

// GetCurrentSyncInfo returns the active run's record, or nil when idle.
// The record is validated and silently repaired before reporting so a
// dashboard never sees (or errors on) an inconsistent snapshot.
func (s *StatusService) GetCurrentSyncInfo(ctx context.Context) *models.CurrentSync {
	status := s.ReadStatusRepaired(ctx)
	if !status.Current.InProgress {
		return nil
	}

	current := status.Current
	return &current
}

// GetHeartbeatData returns the dashboard polling payload
func (s *StatusService) GetHeartbeatData(ctx context.Context) *models.HeartbeatData {
	status := s.ReadStatusRepaired(ctx)

	data := &models.HeartbeatData{
		Active:    status.Current.InProgress,
		Timestamp: s.now(),
	}
	if status.Current.InProgress {
		current := status.Current
		data.SyncInfo = &current
	}

	return data
}

// GetLastSync returns the last successful completion time for a pair
func (s *StatusService) GetLastSync(ctx context.Context, entity types.EntityType, direction types.SyncDirection) (time.Time, bool) {
	return s.ReadStatus(ctx).LastSyncAt(entity, direction)
}

// History returns the configured history sink, or nil
func (s *StatusService) History() HistorySink {
	return s.history
}

// Locks returns the configured lock manager
func (s *StatusService) Locks() LockManager {
	return s.locks
}

// ReadStatusRepaired reads the status, running reactive validation and
// silent repair when the record is inconsistent. Status reporting surfaces
// go through this instead of ReadStatus so callers never see a corrupted
// snapshot.
func (s *StatusService) ReadStatusRepaired(ctx context.Context) *models.SyncStatus {
	report := s.ValidateStateConsistency(ctx)
	if !report.IsConsistent {
		s.logger.WithField("inconsistencies", len(report.Inconsistencies)).
			Warn("Sync status inconsistent, repairing before report")
		s.AutoFixInconsistencies(ctx, report)
	}
	return s.ReadStatus(ctx)
}

func (s *StatusService) defaultBatchSize(entity types.EntityType) int {
	if s.policy != nil {
		if size := s.policy.DefaultBatchSize(entity); size > 0 {
			return size
		}
	}
	return models.DefaultBatchSize
}

// appendHistory writes to the sink, logging and swallowing failures
func (s *StatusService) appendHistory(ctx context.Context, record *models.SyncHistoryRecord) {
	if s.history == nil {
		return
	}
	if err := s.history.AddSyncHistory(ctx, record); err != nil {
		s.logger.WithError(err).WithField("operationId", record.OperationID).
			Warn("Failed to append sync history")
	}
}
