package models

import (
	"time"

	"github.com/erp-sync/internal/types"
)

// DefaultBatchSize is the documented fallback batch size applied when a run
// is initialized without one and when auto-repair replaces an invalid value.
const DefaultBatchSize = 50

// SyncStatus is the root persisted record describing synchronization state.
// It is mutated exclusively through the status service's named transition
// operations; calling code never writes fields directly.
type SyncStatus struct {
	LastSync   map[types.EntityType]map[types.SyncDirection]time.Time `json:"lastSync"`
	Current    CurrentSync                                            `json:"currentSync"`
	ImagePhase ImagePhaseStatus                                       `json:"phase1Images"`
}

// CurrentSync describes the active or most recently finished sync run
type CurrentSync struct {
	InProgress   bool                `json:"inProgress"`
	Entity       types.EntityType    `json:"entity"`
	Direction    types.SyncDirection `json:"direction"`
	BatchSize    int                 `json:"batchSize"`
	CurrentBatch int                 `json:"currentBatch"`
	TotalBatches int                 `json:"totalBatches"`
	ItemsSynced  int                 `json:"itemsSynced"`
	TotalItems   int                 `json:"totalItems"`
	Errors       int                 `json:"errors"`
	StartTime    time.Time           `json:"startTime"`
	LastUpdate   time.Time           `json:"lastUpdate"`
	EndTime      *time.Time          `json:"endTime,omitempty"`
	Duration     time.Duration       `json:"duration,omitempty"`
	OperationID  string              `json:"operationId"`
}

// ImagePhaseStatus tracks the image-ingestion sub-phase of a product sync
type ImagePhaseStatus struct {
	ProductsProcessed int       `json:"productsProcessed"`
	TotalProducts     int       `json:"totalProducts"`
	ImagesProcessed   int       `json:"imagesProcessed"`
	DuplicatesSkipped int       `json:"duplicatesSkipped"`
	Errors            int       `json:"errors"`
	StartTime         time.Time `json:"startTime"`
	LastUpdate        time.Time `json:"lastUpdate"`
}

// NewSyncStatus returns a default-populated status record, used when nothing
// has been persisted yet and after an administrative clear.
func NewSyncStatus() *SyncStatus {
	return &SyncStatus{
		LastSync: map[types.EntityType]map[types.SyncDirection]time.Time{},
		Current:  CurrentSync{BatchSize: DefaultBatchSize},
	}
}

// RecordLastSync stamps the last successful completion time for a pair
func (s *SyncStatus) RecordLastSync(entity types.EntityType, direction types.SyncDirection, at time.Time) {
	if s.LastSync == nil {
		s.LastSync = map[types.EntityType]map[types.SyncDirection]time.Time{}
	}
	if s.LastSync[entity] == nil {
		s.LastSync[entity] = map[types.SyncDirection]time.Time{}
	}
	s.LastSync[entity][direction] = at
}

// LastSyncAt returns the last successful completion time for a pair
func (s *SyncStatus) LastSyncAt(entity types.EntityType, direction types.SyncDirection) (time.Time, bool) {
	byDirection, ok := s.LastSync[entity]
	if !ok {
		return time.Time{}, false
	}
	at, ok := byDirection[direction]
	return at, ok
}

// CurrentSyncPatch is a partial update to CurrentSync. Only non-nil fields
// are written; a naive whole-record merge would silently wipe TotalBatches,
// TotalItems, OperationID and InProgress on partial updates, which is exactly
// the bug this patch type exists to prevent.
type CurrentSyncPatch struct {
	InProgress   *bool                `json:"inProgress,omitempty"`
	Entity       *types.EntityType    `json:"entity,omitempty"`
	Direction    *types.SyncDirection `json:"direction,omitempty"`
	BatchSize    *int                 `json:"batchSize,omitempty"`
	CurrentBatch *int                 `json:"currentBatch,omitempty"`
	TotalBatches *int                 `json:"totalBatches,omitempty"`
	ItemsSynced  *int                 `json:"itemsSynced,omitempty"`
	TotalItems   *int                 `json:"totalItems,omitempty"`
	Errors       *int                 `json:"errors,omitempty"`
	StartTime    *time.Time           `json:"startTime,omitempty"`
	OperationID  *string              `json:"operationId,omitempty"`
}

// Apply writes the patch's present fields onto the target record
func (p *CurrentSyncPatch) Apply(cs *CurrentSync) {
	if p == nil {
		return
	}
	if p.InProgress != nil {
		cs.InProgress = *p.InProgress
	}
	if p.Entity != nil {
		cs.Entity = *p.Entity
	}
	if p.Direction != nil {
		cs.Direction = *p.Direction
	}
	if p.BatchSize != nil {
		cs.BatchSize = *p.BatchSize
	}
	if p.CurrentBatch != nil {
		cs.CurrentBatch = *p.CurrentBatch
	}
	if p.TotalBatches != nil {
		cs.TotalBatches = *p.TotalBatches
	}
	if p.ItemsSynced != nil {
		cs.ItemsSynced = *p.ItemsSynced
	}
	if p.TotalItems != nil {
		cs.TotalItems = *p.TotalItems
	}
	if p.Errors != nil {
		cs.Errors = *p.Errors
	}
	if p.StartTime != nil {
		cs.StartTime = *p.StartTime
	}
	if p.OperationID != nil {
		cs.OperationID = *p.OperationID
	}
}

// ImagePhasePatch is a partial update to ImagePhaseStatus
type ImagePhasePatch struct {
	ProductsProcessed *int       `json:"productsProcessed,omitempty"`
	TotalProducts     *int       `json:"totalProducts,omitempty"`
	ImagesProcessed   *int       `json:"imagesProcessed,omitempty"`
	DuplicatesSkipped *int       `json:"duplicatesSkipped,omitempty"`
	Errors            *int       `json:"errors,omitempty"`
	StartTime         *time.Time `json:"startTime,omitempty"`
}

// Apply writes the patch's present fields onto the target record
func (p *ImagePhasePatch) Apply(ip *ImagePhaseStatus) {
	if p == nil {
		return
	}
	if p.ProductsProcessed != nil {
		ip.ProductsProcessed = *p.ProductsProcessed
	}
	if p.TotalProducts != nil {
		ip.TotalProducts = *p.TotalProducts
	}
	if p.ImagesProcessed != nil {
		ip.ImagesProcessed = *p.ImagesProcessed
	}
	if p.DuplicatesSkipped != nil {
		ip.DuplicatesSkipped = *p.DuplicatesSkipped
	}
	if p.Errors != nil {
		ip.Errors = *p.Errors
	}
	if p.StartTime != nil {
		ip.StartTime = *p.StartTime
	}
}

// CancelResult distinguishes "cancelled" from "nothing to cancel"
type CancelResult struct {
	Success     bool   `json:"success"`
	Status      string `json:"status"` // "cancelled" or "no_sync"
	OperationID string `json:"operationId,omitempty"`
}

// HeartbeatData is the dashboard polling payload. SyncInfo is nil when no
// sync is active so the payload serializes compactly.
type HeartbeatData struct {
	Active    bool         `json:"active"`
	Timestamp time.Time    `json:"timestamp"`
	SyncInfo  *CurrentSync `json:"syncInfo,omitempty"`
}
