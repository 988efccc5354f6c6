package driving

import (
	"context"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
)

// SyncEngine queues mutations made while disconnected and replays them
// once the remote service is reachable again.
type SyncEngine interface {
	// QueueCreate records a create and returns the operation id.
	QueueCreate(resourceType string, payload domain.Resource) (string, error)

	// QueueUpdate records an update and returns the operation id. An update
	// of a temporary id is folded into that resource's queued create.
	QueueUpdate(resourceType, resourceID string, payload domain.Resource) (string, error)

	// QueueDelete records a delete and returns the operation id. A delete
	// of a temporary id discards that resource's queued create instead.
	QueueDelete(resourceType, resourceID string) (string, error)

	// HasPendingOperations reports whether anything is queued.
	HasPendingOperations() bool

	// PendingCounts returns the queue length per operation type.
	PendingCounts() domain.PendingCounts

	// PendingOperations returns every queued operation, oldest first.
	PendingOperations() []domain.PendingOperation

	// SyncPendingOperations runs one replay pass. If a pass is already
	// running it returns that pass's progress without starting another.
	SyncPendingOperations(ctx context.Context) domain.SyncProgress

	// Subscribe registers a progress listener. The returned function removes it.
	Subscribe(listener func(domain.SyncProgress)) func()

	// ClearPendingOperations discards the whole queue.
	ClearPendingOperations() error
}
