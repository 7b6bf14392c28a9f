package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erp-sync/internal/models"
	"github.com/erp-sync/internal/types"
	"github.com/google/uuid"
)

// AutoFixInconsistencies repairs each reported inconsistency with a targeted
// fix. Repairs clamp, reset or default — they never inflate totals to make
// bad progress look legitimate. Items with no documented fix are reported as
// failed without aborting the rest; partial repair is acceptable. The
// repaired record is persisted once at the end.
func (s *StatusService) AutoFixInconsistencies(ctx context.Context, report *models.ValidationReport) *models.FixResult {
	result := &models.FixResult{
		FixesApplied: []models.AppliedFix{},
		FixesFailed:  []models.FailedFix{},
	}

	if report == nil || report.IsConsistent {
		result.Success = true
		result.Persisted = true
		return result
	}

	status := s.ReadStatus(ctx)

	// A stale run escalates to a full clear: a dead run's counters cannot be
	// trusted piecemeal, so field-level patches for the same record are moot.
	cleared := false
	for _, inc := range report.Inconsistencies {
		if inc.Type == types.InconsistencyStaleState {
			status.Current = models.CurrentSync{BatchSize: models.DefaultBatchSize}
			status.ImagePhase = models.ImagePhaseStatus{}
			cleared = true
			result.FixesApplied = append(result.FixesApplied, models.AppliedFix{
				Type:   inc.Type,
				Field:  inc.Field,
				Action: "clear_current_sync",
			})
		}
	}

	for _, inc := range report.Inconsistencies {
		if inc.Type == types.InconsistencyStaleState {
			continue
		}
		if cleared {
			// The clear already reset every field the remaining items target
			result.FixesApplied = append(result.FixesApplied, models.AppliedFix{
				Type:   inc.Type,
				Field:  inc.Field,
				Action: "resolved_by_clear",
			})
			continue
		}

		if fix, ok := s.applyFix(status, inc); ok {
			result.FixesApplied = append(result.FixesApplied, fix)
		} else {
			result.FixesFailed = append(result.FixesFailed, models.FailedFix{
				Type:   inc.Type,
				Field:  inc.Field,
				Reason: fmt.Sprintf("no repair rule for %s on field %q", inc.Type, inc.Field),
			})
		}
	}

	result.Persisted = s.writeStatus(ctx, status)
	result.Success = result.Persisted && len(result.FixesFailed) == 0

	s.logger.WithFields(map[string]interface{}{
		"applied": len(result.FixesApplied),
		"failed":  len(result.FixesFailed),
	}).Warn("Auto-repair pass completed")

	s.recordRepair(ctx, status, result)

	return result
}

// applyFix dispatches one inconsistency to its fixer. Returns false when no
// rule covers the (type, field) pair.
func (s *StatusService) applyFix(status *models.SyncStatus, inc models.Inconsistency) (models.AppliedFix, bool) {
	fix := models.AppliedFix{Type: inc.Type, Field: inc.Field}
	current := &status.Current

	switch inc.Type {
	case types.InconsistencyMissingField:
		switch inc.Field {
		case "batchSize":
			current.BatchSize = models.DefaultBatchSize
			fix.Action, fix.NewValue = "set_default", models.DefaultBatchSize
		case "currentBatch":
			current.CurrentBatch = 0
			fix.Action, fix.NewValue = "set_default", 0
		case "totalBatches":
			current.TotalBatches = 0
			fix.Action, fix.NewValue = "set_default", 0
		case "inProgress":
			current.InProgress = false
			fix.Action, fix.NewValue = "set_default", false
		case "operationId":
			// An in-progress run must stay identifiable; an idle record
			// gets the documented empty default.
			if current.InProgress {
				current.OperationID = uuid.New().String()
			} else {
				current.OperationID = ""
			}
			fix.Action, fix.NewValue = "set_default", current.OperationID
		default:
			return fix, false
		}

	case types.InconsistencyInvalidType:
		if inc.Field != "inProgress" {
			return fix, false
		}
		current.InProgress = false
		fix.Action, fix.NewValue = "coerce_boolean", false

	case types.InconsistencyInvalidValue:
		switch inc.Field {
		case "batchSize":
			current.BatchSize = models.DefaultBatchSize
			fix.Action, fix.NewValue = "reset_default", models.DefaultBatchSize
		case "currentBatch":
			current.CurrentBatch = 0
			fix.Action, fix.NewValue = "reset_default", 0
		case "totalBatches":
			current.TotalBatches = 0
			fix.Action, fix.NewValue = "reset_default", 0
		case "itemsSynced":
			current.ItemsSynced = 0
			fix.Action, fix.NewValue = "reset_default", 0
		case "totalItems":
			current.TotalItems = 0
			fix.Action, fix.NewValue = "reset_default", 0
		case "errors":
			current.Errors = 0
			fix.Action, fix.NewValue = "reset_default", 0
		default:
			return fix, false
		}

	case types.InconsistencyLogicError:
		switch inc.Field {
		case "currentBatch":
			if current.CurrentBatch > current.TotalBatches {
				current.CurrentBatch = current.TotalBatches
			}
			fix.Action, fix.NewValue = "clamp", current.CurrentBatch
		case "itemsSynced":
			if current.ItemsSynced > current.TotalItems {
				current.ItemsSynced = current.TotalItems
			}
			fix.Action, fix.NewValue = "clamp", current.ItemsSynced
		default:
			return fix, false
		}

	case types.InconsistencyInvalidTimestamp:
		now := s.now()
		switch inc.Field {
		case "startTime":
			current.StartTime = now
		case "lastUpdate":
			current.LastUpdate = now
		default:
			return fix, false
		}
		fix.Action, fix.NewValue = "reset_to_now", now

	default:
		return fix, false
	}

	return fix, true
}

// recordRepair emits a machine-readable anomaly record so upstream alerting
// can consume repairs, not just the log line.
func (s *StatusService) recordRepair(ctx context.Context, status *models.SyncStatus, result *models.FixResult) {
	detail, err := json.Marshal(result)
	if err != nil {
		detail = []byte(`{}`)
	}

	s.appendHistory(ctx, &models.SyncHistoryRecord{
		OperationID: status.Current.OperationID,
		Entity:      status.Current.Entity,
		Direction:   status.Current.Direction,
		Status:      types.HistoryRepaired,
		ItemsSynced: status.Current.ItemsSynced,
		Errors:      status.Current.Errors,
		StartedAt:   status.Current.StartTime,
		FinishedAt:  s.now(),
		Detail:      string(detail),
	})
}
