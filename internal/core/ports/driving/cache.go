package driving

import (
	"time"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
)

// CacheService is TTL-aware, namespaced storage for arbitrary values and
// FHIR resources. Failures never surface as errors: writes report false
// and reads report a miss.
type CacheService interface {
	// Set stores value under key with the default TTL.
	Set(key string, value any) bool

	// SetWithTTL stores value under key. A ttl <= 0 never expires.
	SetWithTTL(key string, value any, ttl time.Duration) bool

	// Get decodes the value under key into dst. Expired or corrupted
	// entries are removed and reported as a miss.
	Get(key string, dst any) bool

	// Delete removes key.
	Delete(key string) bool

	// Has reports whether Get would hit.
	Has(key string) bool

	// CacheResource stores a resource under "<type>.<id>".
	CacheResource(r domain.Resource) bool

	// GetCachedResource returns the resource cached under "<type>.<id>".
	GetCachedResource(resourceType, id string) (domain.Resource, bool)

	// CacheResourceList caches each resource and, if queryKey is set,
	// the ordered list with half the default TTL.
	CacheResourceList(resourceType string, resources []domain.Resource, queryKey string) bool

	// GetCachedResourceList returns the list cached for queryKey.
	GetCachedResourceList(resourceType, queryKey string) ([]domain.Resource, bool)

	// InvalidateResourceType removes every entry of a resource type.
	InvalidateResourceType(resourceType string) int

	// InvalidateLists removes only the cached lists of a resource type.
	InvalidateLists(resourceType string) int

	// Cleanup removes expired and corrupted entries, then evicts the
	// oldest entries until the store is within its size limit.
	Cleanup() int

	// Clear removes every entry under the store's prefix.
	Clear() int

	// Metrics summarises the store contents.
	Metrics() domain.CacheMetrics
}
