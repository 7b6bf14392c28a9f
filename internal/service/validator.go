package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp-sync/internal/models"
	"github.com/erp-sync/internal/types"
)

// Validator inspects a persisted status record for structural and logical
// inconsistencies. It works on the raw stored JSON rather than the decoded
// struct so that type corruption — which a typed decode would silently zero —
// is still observable and reportable.
type Validator struct {
	// StaleThreshold flags in-progress runs whose last update is older
	StaleThreshold time.Duration
}

// requiredFields are the currentSync keys that must be present
var requiredFields = []string{"inProgress", "entity", "direction", "batchSize", "currentBatch", "totalBatches"}

// ValidateStateConsistency validates the currently persisted record
func (s *StatusService) ValidateStateConsistency(ctx context.Context) *models.ValidationReport {
	raw, found := s.readStatusRaw(ctx)
	if !found {
		// Nothing stored yet: the lazily created default record is consistent
		return emptyReport(s.now())
	}
	return s.validator.ValidateRaw(raw, s.now())
}

// Validate validates a decoded record by round-tripping it through JSON,
// giving the same field-level view the raw path sees.
func (v *Validator) Validate(status *models.SyncStatus, now time.Time) *models.ValidationReport {
	raw, err := json.Marshal(status)
	if err != nil {
		report := emptyReport(now)
		addInconsistency(report, models.Inconsistency{
			Type:     types.InconsistencyInvalidType,
			Field:    "currentSync",
			Severity: types.SeverityCritical,
			Message:  "status record cannot be encoded",
		})
		return report
	}
	return v.ValidateRaw(raw, now)
}

// ValidateRaw runs every check, in order, with no early exit: a single pass
// reports all detectable problems so the repair engine can fix them together.
func (v *Validator) ValidateRaw(raw []byte, now time.Time) *models.ValidationReport {
	report := emptyReport(now)

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		addInconsistency(report, models.Inconsistency{
			Type:     types.InconsistencyInvalidType,
			Field:    "currentSync",
			Severity: types.SeverityCritical,
			Message:  "status record is not a JSON object",
		})
		return report
	}

	var current map[string]interface{}
	if rawCurrent, ok := decoded["currentSync"]; ok {
		if err := json.Unmarshal(rawCurrent, &current); err != nil {
			addInconsistency(report, models.Inconsistency{
				Type:     types.InconsistencyInvalidType,
				Field:    "currentSync",
				Severity: types.SeverityCritical,
				Message:  "currentSync is not a JSON object",
			})
			return report
		}
	}
	if current == nil {
		addInconsistency(report, models.Inconsistency{
			Type:     types.InconsistencyMissingField,
			Field:    "currentSync",
			Severity: types.SeverityCritical,
			Message:  "currentSync sub-record is missing",
		})
		return report
	}

	v.checkStructure(report, current)
	v.checkTypes(report, current)
	v.checkRanges(report, current)
	v.checkCrossField(report, current)
	v.checkTimestamps(report, current, now)
	v.checkStaleness(report, current, now)

	return report
}

// checkStructure flags required fields that are absent
func (v *Validator) checkStructure(report *models.ValidationReport, current map[string]interface{}) {
	for _, field := range requiredFields {
		if _, ok := current[field]; !ok {
			addInconsistency(report, models.Inconsistency{
				Type:     types.InconsistencyMissingField,
				Field:    field,
				Severity: types.SeverityCritical,
				Message:  fmt.Sprintf("required field %q is missing", field),
			})
		}
	}
}

// checkTypes flags the in-progress flag holding a non-boolean value
func (v *Validator) checkTypes(report *models.ValidationReport, current map[string]interface{}) {
	value, ok := current["inProgress"]
	if !ok {
		return // already reported as missing
	}
	if _, isBool := value.(bool); !isBool {
		addInconsistency(report, models.Inconsistency{
			Type:     types.InconsistencyInvalidType,
			Field:    "inProgress",
			Severity: types.SeverityCritical,
			Message:  "inProgress must be a boolean",
			Value:    value,
		})
	}
}

// checkRanges flags counters outside their documented ranges
func (v *Validator) checkRanges(report *models.ValidationReport, current map[string]interface{}) {
	checks := []struct {
		field string
		min   float64
	}{
		{"batchSize", 1},
		{"currentBatch", 0},
		{"totalBatches", 0},
		{"itemsSynced", 0},
		{"totalItems", 0},
		{"errors", 0},
	}

	for _, check := range checks {
		value, present, numeric := numField(current, check.field)
		if !present {
			continue
		}
		if !numeric || value < check.min {
			addInconsistency(report, models.Inconsistency{
				Type:     types.InconsistencyInvalidValue,
				Field:    check.field,
				Severity: types.SeverityHigh,
				Message:  fmt.Sprintf("%s must be a number >= %v", check.field, check.min),
				Value:    current[check.field],
			})
		}
	}
}

// checkCrossField flags progress counters violating their ordering invariants
func (v *Validator) checkCrossField(report *models.ValidationReport, current map[string]interface{}) {
	currentBatch, _, batchNumeric := numField(current, "currentBatch")
	totalBatches, totalPresent, totalNumeric := numField(current, "totalBatches")
	if batchNumeric && totalPresent && totalNumeric && totalBatches > 0 && currentBatch > totalBatches {
		addInconsistency(report, models.Inconsistency{
			Type:     types.InconsistencyLogicError,
			Field:    "currentBatch",
			Severity: types.SeverityHigh,
			Message:  "currentBatch exceeds totalBatches",
			Value:    currentBatch,
			Expected: totalBatches,
		})
	}

	itemsSynced, _, itemsNumeric := numField(current, "itemsSynced")
	totalItems, itemsPresent, totalItemsNumeric := numField(current, "totalItems")
	if itemsNumeric && itemsPresent && totalItemsNumeric && totalItems > 0 && itemsSynced > totalItems {
		addInconsistency(report, models.Inconsistency{
			Type:     types.InconsistencyLogicError,
			Field:    "itemsSynced",
			Severity: types.SeverityHigh,
			Message:  "itemsSynced exceeds totalItems",
			Value:    itemsSynced,
			Expected: totalItems,
		})
	}
}

// checkTimestamps flags timestamps ahead of the wall clock
func (v *Validator) checkTimestamps(report *models.ValidationReport, current map[string]interface{}, now time.Time) {
	for _, field := range []string{"startTime", "lastUpdate"} {
		at, ok := timeField(current, field)
		if !ok {
			continue
		}
		if at.After(now) {
			addInconsistency(report, models.Inconsistency{
				Type:     types.InconsistencyInvalidTimestamp,
				Field:    field,
				Severity: types.SeverityMedium,
				Message:  fmt.Sprintf("%s is in the future", field),
				Value:    at,
			})
		}
	}
}

// checkStaleness flags in-progress runs that stopped reporting, plus the
// operationId invariant that every in-progress run must be identifiable
func (v *Validator) checkStaleness(report *models.ValidationReport, current map[string]interface{}, now time.Time) {
	inProgress, isBool := current["inProgress"].(bool)
	if !isBool || !inProgress {
		return
	}

	if opID, ok := current["operationId"].(string); !ok || opID == "" {
		addInconsistency(report, models.Inconsistency{
			Type:     types.InconsistencyMissingField,
			Field:    "operationId",
			Severity: types.SeverityCritical,
			Message:  "in-progress run has no operationId",
		})
	}

	lastUpdate, ok := timeField(current, "lastUpdate")
	if !ok {
		return
	}
	if age := now.Sub(lastUpdate); age > v.StaleThreshold {
		addInconsistency(report, models.Inconsistency{
			Type:     types.InconsistencyStaleState,
			Field:    "inProgress",
			Severity: types.SeverityCritical,
			Message:  fmt.Sprintf("in-progress run has not updated for %s", age.Round(time.Second)),
			Value:    lastUpdate,
		})
	}
}

func emptyReport(now time.Time) *models.ValidationReport {
	return &models.ValidationReport{
		IsConsistent:     true,
		Inconsistencies:  []models.Inconsistency{},
		CountsBySeverity: map[types.Severity]int{},
		CheckedAt:        now,
	}
}

func addInconsistency(report *models.ValidationReport, inc models.Inconsistency) {
	report.IsConsistent = false
	report.Inconsistencies = append(report.Inconsistencies, inc)
	report.CountsBySeverity[inc.Severity]++
}

// numField reads a numeric field: (value, present, numeric)
func numField(m map[string]interface{}, key string) (float64, bool, bool) {
	value, ok := m[key]
	if !ok {
		return 0, false, false
	}
	number, isNumber := value.(float64)
	return number, true, isNumber
}

// timeField reads an RFC3339 timestamp field, ignoring zero times
func timeField(m map[string]interface{}, key string) (time.Time, bool) {
	value, ok := m[key].(string)
	if !ok {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil || at.IsZero() {
		return time.Time{}, false
	}
	return at, true
}
