package domain

import (
	"fmt"
	"time"
)

// ErrorCategory is the taxonomy bucket a failure is sorted into.
type ErrorCategory string

// Error categories.
const (
	CategoryNetwork          ErrorCategory = "network"
	CategoryAuthentication   ErrorCategory = "authentication"
	CategoryAuthorization    ErrorCategory = "authorization"
	CategoryValidation       ErrorCategory = "validation"
	CategoryResourceNotFound ErrorCategory = "resource_not_found"
	CategoryConflict         ErrorCategory = "conflict"
	CategoryServerError      ErrorCategory = "server_error"
	CategoryClientError      ErrorCategory = "client_error"
	CategoryOffline          ErrorCategory = "offline"
	CategoryTimeout          ErrorCategory = "timeout"
	CategoryUnknown          ErrorCategory = "unknown"
)

// ErrorCategories lists every category.
var ErrorCategories = []ErrorCategory{
	CategoryNetwork,
	CategoryAuthentication,
	CategoryAuthorization,
	CategoryValidation,
	CategoryResourceNotFound,
	CategoryConflict,
	CategoryServerError,
	CategoryClientError,
	CategoryOffline,
	CategoryTimeout,
	CategoryUnknown,
}

// String returns the string representation.
func (c ErrorCategory) String() string {
	return string(c)
}

// Severity ranks how disruptive a failure is to the user.
type Severity string

// Severities.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// CategorizedError is a failure normalised into the error taxonomy.
// It is immutable once created.
type CategorizedError struct {
	OriginalError    error
	Category         ErrorCategory
	Severity         Severity
	UserMessage      string
	TechnicalMessage string
	RecoveryActions  []string
	IsRetryable      bool
	Context          map[string]any
	Timestamp        time.Time
	ID               string
}

func (e *CategorizedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.TechnicalMessage)
}

// Unwrap returns the original failure.
func (e *CategorizedError) Unwrap() error {
	return e.OriginalError
}
