package domain

import "time"

// OperationType is the kind of mutation a pending operation replays.
type OperationType string

// Pending operation types.
const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// OperationTypes lists every operation type in queue order.
var OperationTypes = []OperationType{OperationCreate, OperationUpdate, OperationDelete}

// IsValid returns true if the operation type is recognised.
func (t OperationType) IsValid() bool {
	switch t {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	default:
		return false
	}
}

// QueueKey returns the cache key holding operations of this type.
func (t OperationType) QueueKey() string {
	switch t {
	case OperationCreate:
		return "pending.creates"
	case OperationUpdate:
		return "pending.updates"
	case OperationDelete:
		return "pending.deletes"
	default:
		return "pending.unknown"
	}
}

// PendingOperation is a mutation recorded while disconnected and awaiting replay.
type PendingOperation struct {
	ID           string        `json:"id"`
	Type         OperationType `json:"type"`
	ResourceType string        `json:"resourceType"`
	ResourceID   string        `json:"resourceId,omitempty"`
	Payload      Resource      `json:"payload,omitempty"`

	// Timestamp is the enqueue time in epoch milliseconds.
	Timestamp  int64  `json:"timestamp"`
	RetryCount int    `json:"retryCount"`
	LastError  string `json:"lastError,omitempty"`

	// NextAttemptAt is the earliest replay time in epoch milliseconds.
	// Zero means immediately.
	NextAttemptAt int64 `json:"nextAttemptAt,omitempty"`
}

// Due reports whether the operation may be replayed at now.
func (o *PendingOperation) Due(now time.Time) bool {
	return o.NextAttemptAt == 0 || now.UnixMilli() >= o.NextAttemptAt
}

// PendingCounts reports the queue length per operation type.
type PendingCounts struct {
	Creates int
	Updates int
	Deletes int
	Total   int
}

// SyncFailure pairs a permanently failed operation with its classified error.
type SyncFailure struct {
	Operation PendingOperation
	Error     *CategorizedError
}

// SyncProgress reports the state of a replay pass.
type SyncProgress struct {
	// Total is the number of operations loaded for the pass.
	Total int

	// Completed counts operations applied to the remote service.
	Completed int

	// Failed counts operations dropped as permanent failures.
	Failed int

	// Retrying counts operations that failed and were requeued.
	Retrying int

	// Skipped counts operations not yet due for another attempt.
	Skipped int

	// InProgress is true while the pass is running.
	InProgress bool

	// Errors lists the permanently failed operations.
	Errors []SyncFailure

	// Resolved maps the temporary id of each create applied in the pass
	// to the id the remote service assigned.
	Resolved map[string]string
}

// Copy returns a snapshot safe to hand to other goroutines.
func (p SyncProgress) Copy() SyncProgress {
	out := p
	out.Errors = append([]SyncFailure(nil), p.Errors...)
	if p.Resolved != nil {
		out.Resolved = make(map[string]string, len(p.Resolved))
		for k, v := range p.Resolved {
			out.Resolved[k] = v
		}
	}
	return out
}

// SyncConfig configures the sync engine.
type SyncConfig struct {
	// MaxRetries is the number of failed attempts after which an
	// operation is dropped.
	MaxRetries int

	// RetryDelay is the base delay between attempts for errors the
	// classifier does not schedule itself.
	RetryDelay time.Duration

	// BatchSize is the number of operations replayed concurrently.
	BatchSize int

	// Timeout bounds a replay pass when EnforceTimeout is set.
	Timeout time.Duration

	// EnforceTimeout applies Timeout to each pass.
	EnforceTimeout bool
}

// DefaultSyncConfig returns the sync engine defaults.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxRetries: 3,
		RetryDelay: time.Second,
		BatchSize:  10,
		Timeout:    30 * time.Second,
	}
}
