// Package errors provides categorized errors for the sync service.
package errors

import (
	"fmt"
	"net/http"

	"github.com/erp-sync/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategoryPersistence represents options-store and database errors
	CategoryPersistence ErrorCategory = "persistence"
	// CategoryLock represents lock-manager errors
	CategoryLock ErrorCategory = "lock"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryHistory represents history-sink errors
	CategoryHistory ErrorCategory = "history"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError for API responses
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInvalidEntityError creates an error for an unknown entity type
func NewInvalidEntityError(entity string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_ENTITY",
		Message:    fmt.Sprintf("unknown entity type: %s", entity),
		Details:    map[string]interface{}{"entity": entity},
	}
}

// NewInvalidDirectionError creates an error for an unknown sync direction
func NewInvalidDirectionError(direction string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_DIRECTION",
		Message:    fmt.Sprintf("unknown sync direction: %s", direction),
		Details:    map[string]interface{}{"direction": direction},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewStoreWriteError creates a persistence failure error
func NewStoreWriteError(key string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPersistence,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "STORE_WRITE_FAILED",
		Message:    fmt.Sprintf("failed to persist option '%s' after retries", key),
		Details:    map[string]interface{}{"key": key},
		Cause:      cause,
	}
}

// NewLockUnavailableError creates an error for an entity whose sync lock is
// held by another run
func NewLockUnavailableError(entity types.EntityType) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryLock,
		StatusCode: http.StatusConflict,
		Code:       "LOCK_UNAVAILABLE",
		Message:    fmt.Sprintf("sync for entity '%s' is already running", entity),
		Details:    map[string]interface{}{"entity": string(entity)},
	}
}

// NewHistoryError creates a history-sink failure error
func NewHistoryError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryHistory,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "HISTORY_UNAVAILABLE",
		Message:    "sync history sink unavailable",
		Cause:      cause,
	}
}
