package models

import (
	"time"

	"github.com/erp-sync/internal/types"
)

// LockInfo describes an entity-scoped mutual-exclusion lock held by a sync run
type LockInfo struct {
	Entity        types.EntityType `json:"entity"`
	Owner         string           `json:"owner"`
	Active        bool             `json:"active"`
	AcquiredAt    time.Time        `json:"acquiredAt"`
	ExpiresAt     time.Time        `json:"expiresAt"`
	LastHeartbeat time.Time        `json:"lastHeartbeat"`
}

// Remaining returns the lock lifetime left at the given instant
func (l *LockInfo) Remaining(now time.Time) time.Duration {
	if l == nil {
		return 0
	}
	remaining := l.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HeartbeatResult is the outcome of a lock-liveness maintenance call.
// A failed extension is reported here as a warning, not an error; the caller
// must detect actual expiry via subsequent liveness checks.
type HeartbeatResult struct {
	Active           bool    `json:"active"`
	HeartbeatUpdated bool    `json:"heartbeatUpdated"`
	LockExtended     bool    `json:"lockExtended"`
	RemainingSeconds float64 `json:"remainingSeconds"`
	Message          string  `json:"message,omitempty"`
}
