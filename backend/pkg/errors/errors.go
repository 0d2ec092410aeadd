package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents malformed requests (e.g. neither text nor file given)
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeStorage represents graph storage backend errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeExtraction represents triple extraction errors
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeQuery represents unsupported or malformed graph queries
	ErrorTypeQuery ErrorType = "query"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Validation Errors

// ErrValidationFailed is returned when a request is malformed
type ErrValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewValidationFailed(field, reason string) *ErrValidationFailed {
	return &ErrValidationFailed{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Storage Errors

// ErrBackendUnavailable is returned when the storage backend cannot be reached.
// The backend fails closed for all operations until reconnected.
type ErrBackendUnavailable struct {
	*BaseError
	Backend string
}

func NewBackendUnavailable(backend string, err error) *ErrBackendUnavailable {
	return &ErrBackendUnavailable{
		BaseError: NewBaseError(ErrorTypeStorage, fmt.Sprintf("backend unavailable: %s", backend), err),
		Backend:   backend,
	}
}

// ErrStorageQueryFailed is returned when a storage operation fails
type ErrStorageQueryFailed struct {
	*BaseError
	Operation string
}

func NewStorageQueryFailed(operation string, err error) *ErrStorageQueryFailed {
	return &ErrStorageQueryFailed{
		BaseError: NewBaseError(ErrorTypeStorage, fmt.Sprintf("storage operation failed: %s", operation), err),
		Operation: operation,
	}
}

// ErrNodeNotFound is returned when a node lookup by id fails
type ErrNodeNotFound struct {
	*BaseError
	NodeID string
}

func NewNodeNotFound(nodeID string) *ErrNodeNotFound {
	return &ErrNodeNotFound{
		BaseError: NewBaseError(ErrorTypeStorage, fmt.Sprintf("node not found: %s", nodeID), nil),
		NodeID:    nodeID,
	}
}

// Extraction Errors

// ErrExtractionFailed is returned when the extraction collaborator fails outright.
// Note: an empty extraction result is NOT an error; it is a valid outcome
// reported as success by the service layer.
type ErrExtractionFailed struct {
	*BaseError
	Source string
}

func NewExtractionFailed(source string, err error) *ErrExtractionFailed {
	return &ErrExtractionFailed{
		BaseError: NewBaseError(ErrorTypeExtraction, fmt.Sprintf("extraction failed for %s", source), err),
		Source:    source,
	}
}

// Query Errors

// ErrUnsupportedQuery is returned for an unknown query type or export format
type ErrUnsupportedQuery struct {
	*BaseError
	QueryType string
}

func NewUnsupportedQuery(queryType string) *ErrUnsupportedQuery {
	return &ErrUnsupportedQuery{
		BaseError: NewBaseError(ErrorTypeQuery, fmt.Sprintf("unsupported query type: %s", queryType), nil),
		QueryType: queryType,
	}
}

// Config Errors

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	if baseErr, ok := err.(*BaseError); ok {
		return baseErr.Type == errType
	}
	if wrapped, ok := err.(interface{ Unwrap() error }); ok {
		inner := wrapped.Unwrap()
		if inner != nil {
			return IsErrorType(inner, errType)
		}
	}
	return false
}

// IsRetryable checks if an error is worth retrying
func IsRetryable(err error) bool {
	// Malformed input never fixes itself
	if IsErrorType(err, ErrorTypeValidation) || IsErrorType(err, ErrorTypeQuery) {
		return false
	}
	// Backend connectivity may come back
	if IsErrorType(err, ErrorTypeStorage) {
		return true
	}
	// Extraction failures are often transient (rate limits, timeouts)
	if IsErrorType(err, ErrorTypeExtraction) {
		return true
	}
	return false
}
