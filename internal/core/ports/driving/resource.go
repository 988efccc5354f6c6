package driving

import (
	"context"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
)

// ResourceService is the CRUD contract for one resource type. It hides
// whether the remote service is reachable: reads fall back to the cache
// and writes are queued while disconnected. Every returned error is a
// *domain.CategorizedError.
type ResourceService interface {
	// ResourceType returns the type this service manages.
	ResourceType() string

	// FetchOne returns a resource by id.
	FetchOne(ctx context.Context, id string) (domain.Resource, error)

	// FetchMany returns resources matching opts.
	FetchMany(ctx context.Context, opts domain.Query) ([]domain.Resource, error)

	// Search returns resources matching a search query.
	Search(ctx context.Context, query domain.Query) ([]domain.Resource, error)

	// Create creates a resource, or queues it and returns a temporary copy.
	Create(ctx context.Context, data domain.Resource) (domain.Resource, error)

	// Update updates a resource, or queues it and returns the local copy.
	Update(ctx context.Context, id string, data domain.Resource) (domain.Resource, error)

	// Delete deletes a resource, or queues its soft delete.
	Delete(ctx context.Context, id string) error

	// SyncPending replays queued operations.
	SyncPending(ctx context.Context) (domain.SyncProgress, error)

	// HasPendingChanges reports whether queued operations exist.
	HasPendingChanges() bool
}
