package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSyncInProgress indicates a replay pass is already running.
	ErrSyncInProgress = errors.New("sync in progress")

	// Connectivity Errors.

	// ErrOffline indicates the remote service cannot be reached right now.
	ErrOffline = errors.New("offline: remote service unreachable")

	// ErrOfflineModeDisabled indicates a mutation was attempted while
	// disconnected and queueing is switched off.
	ErrOfflineModeDisabled = errors.New("offline mode disabled")

	// ErrNotCached indicates a read was attempted while disconnected
	// and nothing usable was in the cache.
	ErrNotCached = errors.New("offline and resource not cached")

	// Storage Errors.

	// ErrQuotaExceeded indicates the key/value storage is full.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrQueuePersist indicates a pending operation could not be written.
	ErrQueuePersist = errors.New("failed to persist pending operation")

	// Transport Errors.

	// ErrUnsupported indicates the remote client lacks an optional capability.
	ErrUnsupported = errors.New("operation not supported by remote client")
)

// StatusError is a failure reported by the remote service with an HTTP status.
type StatusError struct {
	Status  int
	Message string
}

// NewStatusError creates a StatusError.
func NewStatusError(status int, message string) *StatusError {
	return &StatusError{Status: status, Message: message}
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote returned status %d", e.Status)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.Status, e.Message)
}

// StatusCode returns the HTTP status of the failure.
func (e *StatusError) StatusCode() int {
	return e.Status
}
