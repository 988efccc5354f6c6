package driven

import (
	"context"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
)

// FHIRClient is the remote service the sync core writes to and reads from.
// Errors carrying an HTTP status should implement StatusCode() int so the
// error classifier can see it.
type FHIRClient interface {
	// CreateResource creates r and returns it with its server-assigned id.
	CreateResource(ctx context.Context, r domain.Resource) (domain.Resource, error)

	// ReadResource returns the current version of resourceType/id.
	ReadResource(ctx context.Context, resourceType, id string) (domain.Resource, error)

	// UpdateResource replaces the resource identified by r's type and id.
	UpdateResource(ctx context.Context, r domain.Resource) (domain.Resource, error)

	// DeleteResource removes resourceType/id.
	DeleteResource(ctx context.Context, resourceType, id string) error

	// FetchResources lists resources of a type matching the options.
	FetchResources(ctx context.Context, resourceType string, opts domain.Query) ([]domain.Resource, error)
}

// TextSearcher is an optional FHIRClient capability for full-text search.
type TextSearcher interface {
	Search(ctx context.Context, resourceType string, query domain.Query) (*domain.Bundle, error)
}

// ResourceSearcher is an optional FHIRClient capability for generic
// parameter search returning a flat list.
type ResourceSearcher interface {
	SearchResources(ctx context.Context, resourceType string, query domain.Query) ([]domain.Resource, error)
}
