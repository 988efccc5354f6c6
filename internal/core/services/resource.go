package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driven"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driving"
	"github.com/custodia-labs/fhirsync/internal/logger"
)

// Ensure ResourceService implements the interface.
var _ driving.ResourceService = (*ResourceService)(nil)

// ResourceDeps are the collaborators of a ResourceService.
// Monitor may be nil, in which case the remote is always assumed reachable.
type ResourceDeps struct {
	Cache      driving.CacheService
	Monitor    driving.ConnectionMonitor
	Engine     driving.SyncEngine
	Remote     driven.FHIRClient
	Classifier *ErrorClassifier
}

// ResourceConfig configures a ResourceService.
type ResourceConfig struct {
	// OfflineMode queues mutations while disconnected instead of failing them.
	OfflineMode bool
}

// ResourceState is the in-memory view a ResourceService keeps of the
// data it last returned.
type ResourceState struct {
	Current   domain.Resource
	Items     []domain.Resource
	LastError *domain.CategorizedError
}

// searchStrategy is one way of answering Search.
type searchStrategy struct {
	name string
	run  func(ctx context.Context, query domain.Query) ([]domain.Resource, error)
}

// ResourceService provides CRUD for one resource type, branching between
// the remote service and the offline queue depending on connectivity.
type ResourceService struct {
	resourceType string
	deps         ResourceDeps
	config       ResourceConfig
	now          func() time.Time

	strategies []searchStrategy

	mu       sync.RWMutex
	state    ResourceState
	lastTemp int64
}

// NewResourceService creates the façade for resourceType. Search
// strategies are chosen once from the capabilities of deps.Remote.
func NewResourceService(resourceType string, deps ResourceDeps, config ResourceConfig) *ResourceService {
	if deps.Classifier == nil {
		deps.Classifier = NewErrorClassifier(ClassifierConfig{})
	}
	s := &ResourceService{
		resourceType: resourceType,
		deps:         deps,
		config:       config,
		now:          time.Now,
	}

	if ts, ok := deps.Remote.(driven.TextSearcher); ok {
		s.strategies = append(s.strategies, searchStrategy{
			name: "text search",
			run: func(ctx context.Context, q domain.Query) ([]domain.Resource, error) {
				bundle, err := ts.Search(ctx, resourceType, q)
				if err != nil {
					return nil, err
				}
				return bundle.Entries, nil
			},
		})
	}
	if rs, ok := deps.Remote.(driven.ResourceSearcher); ok {
		s.strategies = append(s.strategies, searchStrategy{
			name: "resource search",
			run: func(ctx context.Context, q domain.Query) ([]domain.Resource, error) {
				return rs.SearchResources(ctx, resourceType, q)
			},
		})
	}
	s.strategies = append(s.strategies, searchStrategy{name: "list", run: s.fetchMany})

	return s
}

// ResourceType returns the type this service manages.
func (s *ResourceService) ResourceType() string {
	return s.resourceType
}

// State returns a snapshot of the in-memory view.
func (s *ResourceService) State() ResourceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ResourceState{
		Current:   s.state.Current.Clone(),
		Items:     cloneAll(s.state.Items),
		LastError: s.state.LastError,
	}
}

func (s *ResourceService) connected() bool {
	return s.deps.Monitor == nil || s.deps.Monitor.IsConnected()
}

// fail classifies err, records it as the last error and returns it.
func (s *ResourceService) fail(err error, operation, id string) *domain.CategorizedError {
	details := map[string]any{
		"resourceType": s.resourceType,
		"operation":    operation,
	}
	if id != "" {
		details["resourceId"] = id
	}
	ce := s.deps.Classifier.Categorize(err, details)

	s.mu.Lock()
	s.state.LastError = ce
	s.mu.Unlock()
	return ce
}

func (s *ResourceService) setCurrent(r domain.Resource) {
	s.mu.Lock()
	s.state.Current = r.Clone()
	s.state.LastError = nil
	s.mu.Unlock()
}

func (s *ResourceService) setItems(items []domain.Resource) {
	s.mu.Lock()
	s.state.Items = cloneAll(items)
	s.state.LastError = nil
	s.mu.Unlock()
}

// FetchOne returns the cached resource if present, otherwise reads it
// from the remote service and caches it.
func (s *ResourceService) FetchOne(ctx context.Context, id string) (domain.Resource, error) {
	if r, ok := s.deps.Cache.GetCachedResource(s.resourceType, id); ok {
		s.setCurrent(r)
		return r, nil
	}
	if !s.connected() {
		return nil, s.fail(fmt.Errorf("fetch %s/%s: %w", s.resourceType, id, domain.ErrNotCached), "fetch", id)
	}

	r, err := s.deps.Remote.ReadResource(ctx, s.resourceType, id)
	if err != nil {
		return nil, s.fail(fmt.Errorf("read resource: %w", err), "fetch", id)
	}
	s.deps.Cache.CacheResource(r)
	s.setCurrent(r)
	return r, nil
}

// FetchMany returns the list cached for opts if present, otherwise lists
// from the remote service and caches the list and each member.
func (s *ResourceService) FetchMany(ctx context.Context, opts domain.Query) ([]domain.Resource, error) {
	items, err := s.fetchMany(ctx, opts)
	if err != nil {
		return nil, s.fail(err, "list", "")
	}
	s.setItems(items)
	return items, nil
}

func (s *ResourceService) fetchMany(ctx context.Context, opts domain.Query) ([]domain.Resource, error) {
	key := opts.Key()
	if items, ok := s.deps.Cache.GetCachedResourceList(s.resourceType, key); ok {
		return items, nil
	}
	if !s.connected() {
		return nil, fmt.Errorf("list %s: %w", s.resourceType, domain.ErrNotCached)
	}

	items, err := s.deps.Remote.FetchResources(ctx, s.resourceType, opts)
	if err != nil {
		return nil, fmt.Errorf("fetch resources: %w", err)
	}
	s.deps.Cache.CacheResourceList(s.resourceType, items, key)
	return items, nil
}

// Search tries each search strategy in turn, falling back on failure.
// While disconnected only the cached list path is tried.
func (s *ResourceService) Search(ctx context.Context, query domain.Query) ([]domain.Resource, error) {
	strategies := s.strategies
	if !s.connected() {
		strategies = strategies[len(strategies)-1:]
	}

	var lastErr error
	for _, st := range strategies {
		items, err := st.run(ctx, query)
		if err == nil {
			s.deps.Cache.CacheResourceList(s.resourceType, items, "")
			s.setItems(items)
			return items, nil
		}
		logger.Warn("%s: %s failed, falling back: %v", s.resourceType, st.name, err)
		lastErr = err
	}
	return nil, s.fail(fmt.Errorf("search %s: %w", s.resourceType, lastErr), "search", "")
}

// tempID returns a fresh "temp-<epochMs>" id. Ids are strictly increasing
// so two creates within the same millisecond do not collide.
func (s *ResourceService) tempID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.now().UnixMilli()
	if ms <= s.lastTemp {
		ms = s.lastTemp + 1
	}
	s.lastTemp = ms
	return fmt.Sprintf("%s%d", domain.TempIDPrefix, ms)
}

// Create creates data on the remote service. While disconnected it queues
// the create and returns a placeholder with a temporary id.
func (s *ResourceService) Create(ctx context.Context, data domain.Resource) (domain.Resource, error) {
	r := data.Clone()
	if r == nil {
		r = domain.Resource{}
	}
	r[domain.FieldResourceType] = s.resourceType

	if s.connected() {
		created, err := s.deps.Remote.CreateResource(ctx, r)
		if err != nil {
			return nil, s.fail(fmt.Errorf("create resource: %w", err), "create", "")
		}
		s.stored(created)
		return created, nil
	}

	if !s.config.OfflineMode {
		return nil, s.fail(fmt.Errorf("create %s: %w", s.resourceType, domain.ErrOfflineModeDisabled), "create", "")
	}

	r[domain.FieldID] = s.tempID()
	r[domain.FieldTempID] = true
	if _, err := s.deps.Engine.QueueCreate(s.resourceType, r); err != nil {
		return nil, s.fail(err, "create", r.ID())
	}
	logger.Info("%s: offline, create queued as %s", s.resourceType, r.ID())
	s.stored(r)
	return r, nil
}

// Update updates resource id on the remote service. While disconnected it
// queues the update and applies it to the cached copy straight away. A
// resource whose create is still queued is always updated through the
// queue, whatever the connection state.
func (s *ResourceService) Update(ctx context.Context, id string, data domain.Resource) (domain.Resource, error) {
	r := data.Clone()
	if r == nil {
		r = domain.Resource{}
	}
	delete(r, domain.FieldTempID)
	r[domain.FieldResourceType] = s.resourceType
	r[domain.FieldID] = id
	pendingCreate := domain.IsTempID(id)

	if s.connected() && !pendingCreate {
		updated, err := s.deps.Remote.UpdateResource(ctx, r)
		if err != nil {
			return nil, s.fail(fmt.Errorf("update resource: %w", err), "update", id)
		}
		s.stored(updated)
		return updated, nil
	}

	if !s.config.OfflineMode && !pendingCreate {
		return nil, s.fail(fmt.Errorf("update %s/%s: %w", s.resourceType, id, domain.ErrOfflineModeDisabled), "update", id)
	}

	local := r
	if cached, ok := s.deps.Cache.GetCachedResource(s.resourceType, id); ok {
		local = cached.Merge(r)
	}
	if pendingCreate {
		local[domain.FieldTempID] = true
	}
	if _, err := s.deps.Engine.QueueUpdate(s.resourceType, id, local); err != nil {
		return nil, s.fail(err, "update", id)
	}
	logger.Info("%s: update of %s queued", s.resourceType, id)
	s.stored(local)
	return local, nil
}

// stored caches r after a mutation and drops the type's cached lists.
func (s *ResourceService) stored(r domain.Resource) {
	s.deps.Cache.CacheResource(r)
	s.deps.Cache.InvalidateLists(s.resourceType)
	s.setCurrent(r)
}

// Delete deletes resource id on the remote service. While disconnected it
// queues a soft delete. Deleting a resource whose create is still queued
// discards the create. Either way the cached copy is evicted.
func (s *ResourceService) Delete(ctx context.Context, id string) error {
	pendingCreate := domain.IsTempID(id)

	if s.connected() && !pendingCreate {
		if err := s.deps.Remote.DeleteResource(ctx, s.resourceType, id); err != nil {
			return s.fail(fmt.Errorf("delete resource: %w", err), "delete", id)
		}
	} else {
		if !s.config.OfflineMode && !pendingCreate {
			return s.fail(fmt.Errorf("delete %s/%s: %w", s.resourceType, id, domain.ErrOfflineModeDisabled), "delete", id)
		}
		if _, err := s.deps.Engine.QueueDelete(s.resourceType, id); err != nil {
			return s.fail(err, "delete", id)
		}
		logger.Info("%s: delete of %s queued", s.resourceType, id)
	}

	s.deps.Cache.Delete(resourceKey(s.resourceType, id))
	s.deps.Cache.InvalidateLists(s.resourceType)
	s.forget(id)
	return nil
}

// forget drops id from the in-memory view.
func (s *ResourceService) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Current.ID() == id {
		s.state.Current = nil
	}
	kept := s.state.Items[:0]
	for _, r := range s.state.Items {
		if r.ID() != id {
			kept = append(kept, r)
		}
	}
	s.state.Items = kept
	s.state.LastError = nil
}

// SyncPending replays the pending queue and then reloads the in-memory
// view from the cache. Placeholders whose create was applied are replaced
// by the resource the remote service returned.
func (s *ResourceService) SyncPending(ctx context.Context) (domain.SyncProgress, error) {
	if !s.connected() {
		return domain.SyncProgress{}, s.fail(fmt.Errorf("sync pending: %w", domain.ErrOffline), "sync", "")
	}

	progress := s.deps.Engine.SyncPendingOperations(ctx)
	s.refresh(progress.Resolved)
	return progress, nil
}

// refresh reloads the in-memory view from the cache, following resolved
// from temporary to server ids.
func (s *ResourceService) refresh(resolved map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lookup := func(id string) (domain.Resource, bool) {
		if real, ok := resolved[id]; ok {
			id = real
		}
		return s.deps.Cache.GetCachedResource(s.resourceType, id)
	}

	if cur := s.state.Current; cur != nil {
		if r, ok := lookup(cur.ID()); ok {
			s.state.Current = r
		} else {
			s.state.Current = nil
		}
	}

	items := make([]domain.Resource, 0, len(s.state.Items))
	for _, it := range s.state.Items {
		if r, ok := lookup(it.ID()); ok {
			items = append(items, r)
		}
	}
	s.state.Items = items
}

// HasPendingChanges reports whether queued operations exist.
func (s *ResourceService) HasPendingChanges() bool {
	return s.deps.Engine.HasPendingOperations()
}

func cloneAll(in []domain.Resource) []domain.Resource {
	if in == nil {
		return nil
	}
	out := make([]domain.Resource, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
