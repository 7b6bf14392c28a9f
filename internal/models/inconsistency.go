package models

import (
	"time"

	"github.com/erp-sync/internal/types"
)

// Inconsistency represents a single detected violation in the status record,
// with enough context to drive a targeted fix.
type Inconsistency struct {
	Type     types.InconsistencyType `json:"type"`
	Field    string                  `json:"field"`
	Severity types.Severity          `json:"severity"`
	Message  string                  `json:"message"`
	Value    interface{}             `json:"value,omitempty"`
	Expected interface{}             `json:"expected,omitempty"`
}

// ValidationReport is the result of a full state-consistency validation pass
type ValidationReport struct {
	IsConsistent     bool                     `json:"isConsistent"`
	Inconsistencies  []Inconsistency          `json:"inconsistencies"`
	CountsBySeverity map[types.Severity]int   `json:"countsBySeverity"`
	CheckedAt        time.Time                `json:"checkedAt"`
}

// AppliedFix records a repair that succeeded
type AppliedFix struct {
	Type     types.InconsistencyType `json:"type"`
	Field    string                  `json:"field"`
	Action   string                  `json:"action"`
	NewValue interface{}             `json:"newValue,omitempty"`
}

// FailedFix records an inconsistency the repair engine had no rule for
type FailedFix struct {
	Type   types.InconsistencyType `json:"type"`
	Field  string                  `json:"field"`
	Reason string                  `json:"reason"`
}

// FixResult is the item-by-item outcome of an auto-repair pass. Success is
// true only when every detected inconsistency was repaired and the corrected
// record was persisted.
type FixResult struct {
	Success      bool         `json:"success"`
	FixesApplied []AppliedFix `json:"fixesApplied"`
	FixesFailed  []FailedFix  `json:"fixesFailed"`
	Persisted    bool         `json:"persisted"`
}
