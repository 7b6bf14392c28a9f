package service

import (
	"context"
	"fmt"
	"time"

	"github.com/erp-sync/internal/models"
	"github.com/erp-sync/internal/types"
)

// MaintainHeartbeat keeps the entity's lock alive for a long-running sync.
// An inactive lock yields a failure result with no side effects. An active
// lock gets its heartbeat refreshed, and an extension is requested when the
// remaining lifetime drops below extendThreshold. A failed extension is a
// warning, not an error: the lock may still expire mid-run, and callers must
// detect that through subsequent liveness checks rather than this result.
func (s *StatusService) MaintainHeartbeat(ctx context.Context, entity types.EntityType, extendThreshold time.Duration) *models.HeartbeatResult {
	if extendThreshold <= 0 {
		extendThreshold = s.lockExtendThreshold
	}

	info, err := s.locks.GetLockInfo(ctx, entity)
	if err != nil {
		s.logger.WithError(err).WithField("entity", string(entity)).
			Error("Failed to query lock state")
		return &models.HeartbeatResult{Message: "lock state unavailable"}
	}
	if info == nil || !info.Active {
		return &models.HeartbeatResult{Message: "no active lock"}
	}

	result := &models.HeartbeatResult{Active: true}

	updated, err := s.locks.UpdateHeartbeat(ctx, entity)
	if err != nil {
		s.logger.WithError(err).WithField("entity", string(entity)).
			Warn("Failed to refresh lock heartbeat")
	}
	result.HeartbeatUpdated = updated

	remaining := info.Remaining(s.now())
	result.RemainingSeconds = remaining.Seconds()

	if remaining < extendThreshold {
		extended, err := s.locks.ExtendLock(ctx, entity, s.lockExtension)
		if err != nil || !extended {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"entity":    string(entity),
				"remaining": remaining.String(),
			}).Warn("Lock extension failed, run may lose its lock")
			result.Message = "lock extension failed"
		} else {
			result.LockExtended = true
			result.RemainingSeconds = (remaining + s.lockExtension).Seconds()
			result.Message = fmt.Sprintf("lock extended by %s", s.lockExtension)
		}
	}

	return result
}
