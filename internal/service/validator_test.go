package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/erp-sync/internal/models"
	"github.com/erp-sync/internal/types"
)

var validatorNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// rawStatus builds a stored record with a consistent baseline currentSync,
// then applies overrides (nil values delete the key).
func rawStatus(t *testing.T, overrides map[string]interface{}) []byte {
	t.Helper()

	current := map[string]interface{}{
		"inProgress":   false,
		"entity":       "products",
		"direction":    "verial_to_wc",
		"batchSize":    50,
		"currentBatch": 0,
		"totalBatches": 0,
		"itemsSynced":  0,
		"totalItems":   0,
		"errors":       0,
		"startTime":    validatorNow.Add(-time.Minute).Format(time.RFC3339Nano),
		"lastUpdate":   validatorNow.Add(-time.Minute).Format(time.RFC3339Nano),
		"operationId":  "",
	}
	for key, value := range overrides {
		if value == nil {
			delete(current, key)
		} else {
			current[key] = value
		}
	}

	raw, err := json.Marshal(map[string]interface{}{
		"lastSync":     map[string]interface{}{},
		"currentSync":  current,
		"phase1Images": map[string]interface{}{},
	})
	if err != nil {
		t.Fatalf("failed to build status record: %v", err)
	}
	return raw
}

func findInconsistency(report *models.ValidationReport, incType types.InconsistencyType, field string) *models.Inconsistency {
	for i := range report.Inconsistencies {
		inc := &report.Inconsistencies[i]
		if inc.Type == incType && inc.Field == field {
			return inc
		}
	}
	return nil
}

func TestValidateConsistentRecord(t *testing.T) {
	v := &Validator{StaleThreshold: time.Hour}

	report := v.ValidateRaw(rawStatus(t, nil), validatorNow)

	if !report.IsConsistent {
		t.Fatalf("baseline record flagged inconsistent: %+v", report.Inconsistencies)
	}
	if len(report.Inconsistencies) != 0 {
		t.Errorf("got %d inconsistencies, want 0", len(report.Inconsistencies))
	}
}

func TestValidateMissingRequiredFields(t *testing.T) {
	v := &Validator{StaleThreshold: time.Hour}

	report := v.ValidateRaw(rawStatus(t, map[string]interface{}{
		"batchSize": nil,
		"direction": nil,
	}), validatorNow)

	if report.IsConsistent {
		t.Fatal("record with missing fields passed validation")
	}
	for _, field := range []string{"batchSize", "direction"} {
		inc := findInconsistency(report, types.InconsistencyMissingField, field)
		if inc == nil {
			t.Fatalf("missing_field not reported for %s", field)
		}
		if inc.Severity != types.SeverityCritical {
			t.Errorf("severity for missing %s = %s, want critical", field, inc.Severity)
		}
	}
}

func TestValidateInProgressType(t *testing.T) {
	v := &Validator{StaleThreshold: time.Hour}

	report := v.ValidateRaw(rawStatus(t, map[string]interface{}{
		"inProgress": "yes",
	}), validatorNow)

	inc := findInconsistency(report, types.InconsistencyInvalidType, "inProgress")
	if inc == nil {
		t.Fatal("invalid_type not reported for non-boolean inProgress")
	}
	if inc.Severity != types.SeverityCritical {
		t.Errorf("severity = %s, want critical", inc.Severity)
	}
}

func TestValidateRanges(t *testing.T) {
	v := &Validator{StaleThreshold: time.Hour}

	report := v.ValidateRaw(rawStatus(t, map[string]interface{}{
		"batchSize":   0,
		"itemsSynced": -5,
		"errors":      -1,
	}), validatorNow)

	for _, field := range []string{"batchSize", "itemsSynced", "errors"} {
		inc := findInconsistency(report, types.InconsistencyInvalidValue, field)
		if inc == nil {
			t.Fatalf("invalid_value not reported for %s", field)
		}
		if inc.Severity != types.SeverityHigh {
			t.Errorf("severity for %s = %s, want high", field, inc.Severity)
		}
	}
}

func TestValidateCrossFieldInvariants(t *testing.T) {
	v := &Validator{StaleThreshold: time.Hour}

	report := v.ValidateRaw(rawStatus(t, map[string]interface{}{
		"currentBatch": 9,
		"totalBatches": 5,
		"itemsSynced":  120,
		"totalItems":   100,
	}), validatorNow)

	if findInconsistency(report, types.InconsistencyLogicError, "currentBatch") == nil {
		t.Error("logic_error not reported for currentBatch > totalBatches")
	}
	if findInconsistency(report, types.InconsistencyLogicError, "itemsSynced") == nil {
		t.Error("logic_error not reported for itemsSynced > totalItems")
	}

	// Zero totals mean "not yet counted": no ordering violation to report
	report = v.ValidateRaw(rawStatus(t, map[string]interface{}{
		"currentBatch": 9,
		"totalBatches": 0,
		"itemsSynced":  120,
		"totalItems":   0,
	}), validatorNow)
	if !report.IsConsistent {
		t.Errorf("zero totals flagged: %+v", report.Inconsistencies)
	}
}

func TestValidateFutureTimestamps(t *testing.T) {
	v := &Validator{StaleThreshold: time.Hour}

	report := v.ValidateRaw(rawStatus(t, map[string]interface{}{
		"startTime": validatorNow.Add(2 * time.Hour).Format(time.RFC3339Nano),
	}), validatorNow)

	inc := findInconsistency(report, types.InconsistencyInvalidTimestamp, "startTime")
	if inc == nil {
		t.Fatal("invalid_timestamp not reported for future startTime")
	}
	if inc.Severity != types.SeverityMedium {
		t.Errorf("severity = %s, want medium", inc.Severity)
	}
}

func TestValidateStaleInProgressRun(t *testing.T) {
	v := &Validator{StaleThreshold: 300 * time.Second}

	report := v.ValidateRaw(rawStatus(t, map[string]interface{}{
		"inProgress":  true,
		"operationId": "op-1",
		"lastUpdate":  validatorNow.Add(-4000 * time.Second).Format(time.RFC3339Nano),
	}), validatorNow)

	inc := findInconsistency(report, types.InconsistencyStaleState, "inProgress")
	if inc == nil {
		t.Fatal("stale_state not reported for abandoned run")
	}
	if inc.Severity != types.SeverityCritical {
		t.Errorf("severity = %s, want critical", inc.Severity)
	}

	// A recently updated run is not stale
	report = v.ValidateRaw(rawStatus(t, map[string]interface{}{
		"inProgress":  true,
		"operationId": "op-1",
		"lastUpdate":  validatorNow.Add(-60 * time.Second).Format(time.RFC3339Nano),
	}), validatorNow)
	if findInconsistency(report, types.InconsistencyStaleState, "inProgress") != nil {
		t.Error("fresh run flagged as stale")
	}

	// An idle record is never stale no matter how old
	report = v.ValidateRaw(rawStatus(t, map[string]interface{}{
		"lastUpdate": validatorNow.Add(-48 * time.Hour).Format(time.RFC3339Nano),
	}), validatorNow)
	if findInconsistency(report, types.InconsistencyStaleState, "inProgress") != nil {
		t.Error("idle record flagged as stale")
	}
}

func TestValidateInProgressRequiresOperationID(t *testing.T) {
	v := &Validator{StaleThreshold: time.Hour}

	report := v.ValidateRaw(rawStatus(t, map[string]interface{}{
		"inProgress":  true,
		"operationId": "",
	}), validatorNow)

	inc := findInconsistency(report, types.InconsistencyMissingField, "operationId")
	if inc == nil {
		t.Fatal("missing operationId not reported for in-progress run")
	}
	if inc.Severity != types.SeverityCritical {
		t.Errorf("severity = %s, want critical", inc.Severity)
	}
}

func TestValidateMalformedRecord(t *testing.T) {
	v := &Validator{StaleThreshold: time.Hour}

	report := v.ValidateRaw([]byte(`"not an object"`), validatorNow)
	if report.IsConsistent {
		t.Error("non-object record passed validation")
	}

	report = v.ValidateRaw([]byte(`{"lastSync":{}}`), validatorNow)
	if findInconsistency(report, types.InconsistencyMissingField, "currentSync") == nil {
		t.Error("missing currentSync sub-record not reported")
	}
}

func TestValidateSeverityCounts(t *testing.T) {
	v := &Validator{StaleThreshold: time.Hour}

	report := v.ValidateRaw(rawStatus(t, map[string]interface{}{
		"batchSize": -1,
		"entity":    nil,
		"startTime": validatorNow.Add(time.Hour).Format(time.RFC3339Nano),
	}), validatorNow)

	if got := report.CountsBySeverity[types.SeverityCritical]; got != 1 {
		t.Errorf("critical count = %d, want 1", got)
	}
	if got := report.CountsBySeverity[types.SeverityHigh]; got != 1 {
		t.Errorf("high count = %d, want 1", got)
	}
	if got := report.CountsBySeverity[types.SeverityMedium]; got != 1 {
		t.Errorf("medium count = %d, want 1", got)
	}
}

func TestValidateStateConsistencyEmptyStore(t *testing.T) {
	env := newTestService(t)

	report := env.service.ValidateStateConsistency(context.Background())
	if !report.IsConsistent {
		t.Errorf("empty store should validate clean: %+v", report.Inconsistencies)
	}
}
