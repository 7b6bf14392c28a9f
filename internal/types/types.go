// Package types provides common type definitions for the ERP sync service.
package types

// EntityType represents the business object type being synchronized
type EntityType string

const (
	// EntityProducts represents product catalog synchronization
	EntityProducts EntityType = "products"
	// EntityOrders represents order synchronization
	EntityOrders EntityType = "orders"
)

// SyncDirection represents which system is the source of truth for a run
type SyncDirection string

const (
	// DirectionStoreToERP pushes store data into the Verial ERP
	DirectionStoreToERP SyncDirection = "wc_to_verial"
	// DirectionERPToStore pulls Verial ERP data into the store
	DirectionERPToStore SyncDirection = "verial_to_wc"
)

// InconsistencyType classifies a detected status-record violation
type InconsistencyType string

const (
	// InconsistencyMissingField represents a required field that is absent
	InconsistencyMissingField InconsistencyType = "missing_field"
	// InconsistencyInvalidType represents a field holding the wrong type
	InconsistencyInvalidType InconsistencyType = "invalid_type"
	// InconsistencyInvalidValue represents a field outside its valid range
	InconsistencyInvalidValue InconsistencyType = "invalid_value"
	// InconsistencyLogicError represents a cross-field invariant violation
	InconsistencyLogicError InconsistencyType = "logic_error"
	// InconsistencyInvalidTimestamp represents a timestamp in the future
	InconsistencyInvalidTimestamp InconsistencyType = "invalid_timestamp"
	// InconsistencyStaleState represents an in-progress flag left behind by a dead run
	InconsistencyStaleState InconsistencyType = "stale_state"
)

// Severity represents how serious a detected inconsistency is
type Severity string

const (
	// SeverityCritical represents inconsistencies that make the record unusable
	SeverityCritical Severity = "critical"
	// SeverityHigh represents inconsistencies that corrupt progress reporting
	SeverityHigh Severity = "high"
	// SeverityMedium represents inconsistencies that are cosmetic or recoverable
	SeverityMedium Severity = "medium"
)

// HistoryStatus represents the terminal status of a recorded sync run
type HistoryStatus string

const (
	// HistoryCompleted represents a run that finished successfully
	HistoryCompleted HistoryStatus = "completed"
	// HistoryCancelled represents a run stopped by a cancellation request
	HistoryCancelled HistoryStatus = "cancelled"
	// HistoryFailed represents a run that aborted on error
	HistoryFailed HistoryStatus = "failed"
	// HistoryRepaired represents an auto-repair pass applied to the status record
	HistoryRepaired HistoryStatus = "repaired"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return e.Code + ": " + e.Message
}

// ValidEntity reports whether the given entity type is known
func ValidEntity(e EntityType) bool {
	return e == EntityProducts || e == EntityOrders
}

// ValidDirection reports whether the given sync direction is known
func ValidDirection(d SyncDirection) bool {
	return d == DirectionStoreToERP || d == DirectionERPToStore
}
