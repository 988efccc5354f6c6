package services

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driven"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driving"
	"github.com/custodia-labs/fhirsync/internal/logger"
)

// Ensure SyncEngine implements the interface.
var _ driving.SyncEngine = (*SyncEngine)(nil)

// SyncEngine persists mutations made while disconnected and replays them
// against the remote service. Operations are stored through the cache
// without a TTL, one list per operation type.
type SyncEngine struct {
	cache      driving.CacheService
	remote     driven.FHIRClient
	classifier *ErrorClassifier
	monitor    driving.ConnectionMonitor
	config     domain.SyncConfig
	now        func() time.Time

	// queueMu serialises read-modify-write cycles on the stored queues.
	queueMu sync.Mutex

	// Pass tracking
	syncMu   sync.Mutex
	syncing  bool
	progress domain.SyncProgress

	listenerMu sync.RWMutex
	listeners  map[int]func(domain.SyncProgress)
	nextID     int

	// Auto-sync
	runMu       sync.Mutex
	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewSyncEngine creates a sync engine. A nil monitor is treated as always
// connected; a nil classifier gets a default one. Zero config fields take
// defaults, except RetryDelay which may legitimately be zero.
func NewSyncEngine(
	cache driving.CacheService,
	remote driven.FHIRClient,
	classifier *ErrorClassifier,
	monitor driving.ConnectionMonitor,
	config domain.SyncConfig,
) *SyncEngine {
	defaults := domain.DefaultSyncConfig()
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if classifier == nil {
		classifier = NewErrorClassifier(ClassifierConfig{})
	}
	return &SyncEngine{
		cache:      cache,
		remote:     remote,
		classifier: classifier,
		monitor:    monitor,
		config:     config,
		now:        time.Now,
		listeners:  make(map[int]func(domain.SyncProgress)),
	}
}

// Config returns the effective configuration.
func (e *SyncEngine) Config() domain.SyncConfig {
	return e.config
}

// QueueCreate records a create. A temporary id on the payload is kept so
// the placeholder can be evicted from the cache once the create lands.
func (e *SyncEngine) QueueCreate(resourceType string, payload domain.Resource) (string, error) {
	if resourceType == "" {
		return "", fmt.Errorf("%w: resource type is required", domain.ErrInvalidInput)
	}
	return e.enqueue(domain.OperationCreate, resourceType, payload.ID(), payload)
}

// QueueUpdate records an update of resourceType/resourceID. A temporary
// id has no server counterpart yet, so the update is folded into the
// queued create and the create's operation id is returned.
func (e *SyncEngine) QueueUpdate(resourceType, resourceID string, payload domain.Resource) (string, error) {
	if resourceType == "" || resourceID == "" {
		return "", fmt.Errorf("%w: resource type and id are required", domain.ErrInvalidInput)
	}
	if domain.IsTempID(resourceID) {
		return e.foldIntoCreate(resourceType, resourceID, payload)
	}
	return e.enqueue(domain.OperationUpdate, resourceType, resourceID, payload)
}

// QueueDelete records a delete of resourceType/resourceID. It is replayed
// as a soft delete. For a temporary id the queued create is discarded
// and its operation id returned; nothing is sent to the remote service.
func (e *SyncEngine) QueueDelete(resourceType, resourceID string) (string, error) {
	if resourceType == "" || resourceID == "" {
		return "", fmt.Errorf("%w: resource type and id are required", domain.ErrInvalidInput)
	}
	if domain.IsTempID(resourceID) {
		return e.discardCreate(resourceType, resourceID)
	}
	return e.enqueue(domain.OperationDelete, resourceType, resourceID, nil)
}

// queuedCreate returns the index of the create of resourceType/tempID in
// ops, or -1.
func queuedCreate(ops []domain.PendingOperation, resourceType, tempID string) int {
	for i, op := range ops {
		if op.ResourceType == resourceType && op.ResourceID == tempID {
			return i
		}
	}
	return -1
}

func (e *SyncEngine) foldIntoCreate(resourceType, tempID string, payload domain.Resource) (string, error) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	ops := e.loadQueue(domain.OperationCreate)
	i := queuedCreate(ops, resourceType, tempID)
	if i < 0 {
		return "", fmt.Errorf("update %s/%s: no queued create: %w", resourceType, tempID, domain.ErrNotFound)
	}

	merged := ops[i].Payload.Merge(payload)
	merged[domain.FieldResourceType] = resourceType
	merged[domain.FieldID] = tempID
	merged[domain.FieldTempID] = true
	ops[i].Payload = merged

	if err := e.saveQueue(domain.OperationCreate, ops); err != nil {
		return "", err
	}
	logger.Debug("sync: update of %s/%s folded into %s", resourceType, tempID, ops[i].ID)
	return ops[i].ID, nil
}

func (e *SyncEngine) discardCreate(resourceType, tempID string) (string, error) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	ops := e.loadQueue(domain.OperationCreate)
	i := queuedCreate(ops, resourceType, tempID)
	if i < 0 {
		return "", fmt.Errorf("delete %s/%s: no queued create: %w", resourceType, tempID, domain.ErrNotFound)
	}

	id := ops[i].ID
	ops = append(ops[:i], ops[i+1:]...)
	if err := e.saveQueue(domain.OperationCreate, ops); err != nil {
		return "", err
	}
	logger.Debug("sync: delete of %s/%s discarded %s", resourceType, tempID, id)
	return id, nil
}

func (e *SyncEngine) enqueue(opType domain.OperationType, resourceType, resourceID string, payload domain.Resource) (string, error) {
	now := e.now()
	op := domain.PendingOperation{
		ID:           newOperationID(opType, now),
		Type:         opType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      payload.Clone(),
		Timestamp:    now.UnixMilli(),
	}
	if err := e.Enqueue(op); err != nil {
		return "", err
	}
	logger.Debug("sync: queued %s %s/%s as %s", opType, resourceType, resourceID, op.ID)
	return op.ID, nil
}

// newOperationID returns "<type>-<epochMs>-<random>".
func newOperationID(opType domain.OperationType, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", opType, now.UnixMilli(), uuid.NewString()[:8])
}

// Enqueue stores op in its type's queue, replacing any operation with the same id.
func (e *SyncEngine) Enqueue(op domain.PendingOperation) error {
	if !op.Type.IsValid() {
		return fmt.Errorf("%w: unknown operation type %q", domain.ErrInvalidInput, op.Type)
	}
	if op.ID == "" {
		return fmt.Errorf("%w: operation id is required", domain.ErrInvalidInput)
	}

	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	ops := e.loadQueue(op.Type)
	replaced := false
	for i := range ops {
		if ops[i].ID == op.ID {
			ops[i] = op
			replaced = true
			break
		}
	}
	if !replaced {
		ops = append(ops, op)
	}
	return e.saveQueue(op.Type, ops)
}

func (e *SyncEngine) loadQueue(opType domain.OperationType) []domain.PendingOperation {
	var ops []domain.PendingOperation
	if !e.cache.Get(opType.QueueKey(), &ops) {
		return nil
	}
	return ops
}

func (e *SyncEngine) saveQueue(opType domain.OperationType, ops []domain.PendingOperation) error {
	if len(ops) == 0 {
		e.cache.Delete(opType.QueueKey())
		return nil
	}
	if !e.cache.SetWithTTL(opType.QueueKey(), ops, 0) {
		return fmt.Errorf("save %s queue: %w", opType, domain.ErrQueuePersist)
	}
	return nil
}

// removeOperation drops op from its queue. The queue is reloaded so
// operations queued during a pass are kept.
func (e *SyncEngine) removeOperation(op domain.PendingOperation) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	ops := e.loadQueue(op.Type)
	kept := ops[:0]
	for _, o := range ops {
		if o.ID != op.ID {
			kept = append(kept, o)
		}
	}
	if err := e.saveQueue(op.Type, kept); err != nil {
		logger.Error("sync: remove operation %s: %v", op.ID, err)
	}
}

// requeue stores the retry state of a failed operation. The payload
// stored now wins over the replayed copy, and an operation discarded
// while in flight stays discarded.
func (e *SyncEngine) requeue(op domain.PendingOperation) error {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	ops := e.loadQueue(op.Type)
	for i := range ops {
		if ops[i].ID == op.ID {
			op.Payload = ops[i].Payload
			ops[i] = op
			return e.saveQueue(op.Type, ops)
		}
	}
	logger.Debug("sync: %s discarded during replay", op.ID)
	return nil
}

// resolveCreate removes a replayed create from the queue. An update folded
// into the create while it was in flight is requeued against the id the
// remote service assigned.
func (e *SyncEngine) resolveCreate(op domain.PendingOperation, created domain.Resource) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	ops := e.loadQueue(domain.OperationCreate)
	var edited domain.Resource
	kept := ops[:0]
	for _, o := range ops {
		if o.ID != op.ID {
			kept = append(kept, o)
			continue
		}
		if !reflect.DeepEqual(o.Payload, op.Payload) {
			edited = o.Payload
		}
	}
	if err := e.saveQueue(domain.OperationCreate, kept); err != nil {
		logger.Error("sync: remove operation %s: %v", op.ID, err)
	}
	if edited == nil || created.ID() == "" {
		return
	}

	r := edited.Clone()
	delete(r, domain.FieldTempID)
	r[domain.FieldID] = created.ID()

	now := e.now()
	update := domain.PendingOperation{
		ID:           newOperationID(domain.OperationUpdate, now),
		Type:         domain.OperationUpdate,
		ResourceType: op.ResourceType,
		ResourceID:   created.ID(),
		Payload:      r,
		Timestamp:    now.UnixMilli(),
	}
	if err := e.saveQueue(domain.OperationUpdate, append(e.loadQueue(domain.OperationUpdate), update)); err != nil {
		logger.Error("sync: requeue edit of %s/%s: %v", op.ResourceType, created.ID(), err)
		return
	}
	logger.Info("sync: %s/%s changed during replay, update queued for %s", op.ResourceType, op.ResourceID, created.ID())
}

// HasPendingOperations reports whether anything is queued.
func (e *SyncEngine) HasPendingOperations() bool {
	return e.PendingCounts().Total > 0
}

// PendingCounts returns the queue length per operation type.
func (e *SyncEngine) PendingCounts() domain.PendingCounts {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	counts := domain.PendingCounts{
		Creates: len(e.loadQueue(domain.OperationCreate)),
		Updates: len(e.loadQueue(domain.OperationUpdate)),
		Deletes: len(e.loadQueue(domain.OperationDelete)),
	}
	counts.Total = counts.Creates + counts.Updates + counts.Deletes
	return counts
}

// PendingOperations returns every queued operation merged across types,
// oldest first.
func (e *SyncEngine) PendingOperations() []domain.PendingOperation {
	e.queueMu.Lock()
	var all []domain.PendingOperation
	for _, t := range domain.OperationTypes {
		all = append(all, e.loadQueue(t)...)
	}
	e.queueMu.Unlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp < all[j].Timestamp
	})
	return all
}

// ClearPendingOperations discards every queued operation.
func (e *SyncEngine) ClearPendingOperations() error {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	for _, t := range domain.OperationTypes {
		if !e.cache.Delete(t.QueueKey()) {
			return fmt.Errorf("clear %s queue: %w", t, domain.ErrQueuePersist)
		}
	}
	logger.Info("sync: pending operations cleared")
	return nil
}

// Progress returns the progress of the running or last finished pass.
func (e *SyncEngine) Progress() domain.SyncProgress {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	return e.progress.Copy()
}

// Subscribe registers a progress listener. The returned function removes it.
func (e *SyncEngine) Subscribe(listener func(domain.SyncProgress)) func() {
	e.listenerMu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = listener
	e.listenerMu.Unlock()

	return func() {
		e.listenerMu.Lock()
		delete(e.listeners, id)
		e.listenerMu.Unlock()
	}
}

func (e *SyncEngine) notify(p domain.SyncProgress) {
	e.listenerMu.RLock()
	listeners := make([]func(domain.SyncProgress), 0, len(e.listeners))
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.listenerMu.RUnlock()

	for _, l := range listeners {
		l(p.Copy())
	}
}

// updateProgress applies fn under the pass lock and notifies listeners.
func (e *SyncEngine) updateProgress(fn func(*domain.SyncProgress)) {
	e.syncMu.Lock()
	fn(&e.progress)
	snap := e.progress.Copy()
	e.syncMu.Unlock()
	e.notify(snap)
}

// SyncPendingOperations replays every due operation, oldest first, in
// batches whose members run concurrently. A failing operation never stops
// its siblings or the pass. If a pass is already running, its current
// progress is returned and no new pass starts.
func (e *SyncEngine) SyncPendingOperations(ctx context.Context) domain.SyncProgress {
	e.syncMu.Lock()
	if e.syncing {
		snap := e.progress.Copy()
		e.syncMu.Unlock()
		logger.Debug("sync: pass already in progress")
		return snap
	}
	e.syncing = true
	e.progress = domain.SyncProgress{InProgress: true}
	e.syncMu.Unlock()

	defer func() {
		e.updateProgress(func(p *domain.SyncProgress) { p.InProgress = false })
		e.syncMu.Lock()
		e.syncing = false
		e.syncMu.Unlock()
	}()

	if e.monitor != nil && !e.monitor.IsConnected() {
		logger.Info("sync: remote service unreachable, pass skipped")
		return e.finalProgress()
	}

	ops := e.PendingOperations()
	now := e.now()
	due := make([]domain.PendingOperation, 0, len(ops))
	for _, op := range ops {
		if op.Due(now) {
			due = append(due, op)
		}
	}
	e.updateProgress(func(p *domain.SyncProgress) {
		p.Total = len(ops)
		p.Skipped = len(ops) - len(due)
	})
	if len(due) == 0 {
		return e.finalProgress()
	}

	if e.config.EnforceTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	logger.Info("sync: replaying %d of %d pending operations", len(due), len(ops))

	for start := 0; start < len(due); start += e.config.BatchSize {
		if ctx.Err() != nil {
			logger.Warn("sync: pass stopped: %v", ctx.Err())
			break
		}
		end := start + e.config.BatchSize
		if end > len(due) {
			end = len(due)
		}
		e.replayBatch(ctx, due[start:end])
	}

	final := e.finalProgress()
	logger.Info("sync: pass complete: %d applied, %d requeued, %d failed, %d skipped",
		final.Completed, final.Retrying, final.Failed, final.Skipped)
	return final
}

func (e *SyncEngine) finalProgress() domain.SyncProgress {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	out := e.progress.Copy()
	out.InProgress = false
	return out
}

// replayResult is the outcome of replaying one operation.
type replayResult struct {
	resource domain.Resource
	err      error
}

func (e *SyncEngine) replayBatch(ctx context.Context, batch []domain.PendingOperation) {
	results := make([]replayResult, len(batch))

	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := e.replay(ctx, batch[i])
			results[i] = replayResult{resource: r, err: err}
		}(i)
	}
	wg.Wait()

	for i, op := range batch {
		e.settle(op, results[i])
	}
}

// replay dispatches one operation to the remote service.
func (e *SyncEngine) replay(ctx context.Context, op domain.PendingOperation) (domain.Resource, error) {
	switch op.Type {
	case domain.OperationCreate:
		r := op.Payload.Clone()
		if r == nil {
			r = domain.Resource{}
		}
		if r.IsTemporary() {
			delete(r, domain.FieldID)
		}
		delete(r, domain.FieldTempID)
		r[domain.FieldResourceType] = op.ResourceType
		return e.remote.CreateResource(ctx, r)

	case domain.OperationUpdate:
		r := op.Payload.Clone()
		if r == nil {
			r = domain.Resource{}
		}
		delete(r, domain.FieldTempID)
		r[domain.FieldResourceType] = op.ResourceType
		r[domain.FieldID] = op.ResourceID
		return e.remote.UpdateResource(ctx, r)

	case domain.OperationDelete:
		current, err := e.remote.ReadResource(ctx, op.ResourceType, op.ResourceID)
		if err != nil {
			return nil, fmt.Errorf("read resource: %w", err)
		}
		return e.remote.UpdateResource(ctx, current.SoftDeleted())

	default:
		return nil, fmt.Errorf("%w: operation type %q", domain.ErrUnsupported, op.Type)
	}
}

// settle records the outcome of a replay in the queue, the cache and
// the pass progress.
func (e *SyncEngine) settle(op domain.PendingOperation, res replayResult) {
	if res.err == nil {
		if op.Type == domain.OperationCreate {
			e.resolveCreate(op, res.resource)
		} else {
			e.removeOperation(op)
		}
		if res.resource.ResourceType() != "" && res.resource.ID() != "" {
			e.cache.CacheResource(res.resource)
		}
		replaced := op.Type == domain.OperationCreate && op.ResourceID != "" && op.ResourceID != res.resource.ID()
		if replaced {
			e.cache.Delete(resourceKey(op.ResourceType, op.ResourceID))
		}
		resolved := replaced && res.resource.ID() != ""
		e.cache.InvalidateLists(op.ResourceType)

		logger.Debug("sync: applied %s", op.ID)
		e.updateProgress(func(p *domain.SyncProgress) {
			p.Completed++
			if resolved {
				if p.Resolved == nil {
					p.Resolved = make(map[string]string)
				}
				p.Resolved[op.ResourceID] = res.resource.ID()
			}
		})
		return
	}

	ce := e.classifier.Categorize(res.err, map[string]any{
		"operationId":  op.ID,
		"operation":    string(op.Type),
		"resourceType": op.ResourceType,
		"resourceId":   op.ResourceID,
	})
	op.RetryCount++
	op.LastError = ce.TechnicalMessage

	if op.RetryCount >= e.config.MaxRetries {
		e.removeOperation(op)
		logger.Error("sync: dropping %s after %d attempt(s): %s", op.ID, op.RetryCount, ce.TechnicalMessage)
		e.updateProgress(func(p *domain.SyncProgress) {
			p.Failed++
			p.Errors = append(p.Errors, domain.SyncFailure{Operation: op, Error: ce})
		})
		return
	}

	delay := time.Duration(op.RetryCount) * e.config.RetryDelay
	if ce.IsRetryable {
		delay = e.classifier.RetryDelay(ce, op.RetryCount)
	}
	op.NextAttemptAt = e.now().Add(delay).UnixMilli()

	if err := e.requeue(op); err != nil {
		logger.Error("sync: requeue %s: %v", op.ID, err)
	}
	logger.Warn("sync: %s failed (attempt %d/%d), retrying in %s", op.ID, op.RetryCount, e.config.MaxRetries, delay)
	e.updateProgress(func(p *domain.SyncProgress) { p.Retrying++ })
}

// Start begins automatic replay: a pass runs whenever the monitor reports
// the service reachable again and operations are queued. It does not block.
func (e *SyncEngine) Start(ctx context.Context) {
	if e.monitor == nil {
		return
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return // Already running
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	var mu sync.Mutex
	connected := e.monitor.IsConnected()

	e.unsubscribe = e.monitor.Subscribe(func(state domain.ConnectionState) {
		mu.Lock()
		was := connected
		connected = state.Connected()
		mu.Unlock()

		if was || !state.Connected() || !e.HasPendingOperations() {
			return
		}

		e.runMu.Lock()
		defer e.runMu.Unlock()
		if e.cancel == nil {
			return
		}
		logger.Info("sync: connection restored, replaying pending operations")
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.SyncPendingOperations(ctx)
		}()
	})
}

// Stop ends automatic replay and waits for a triggered pass to finish.
func (e *SyncEngine) Stop() {
	e.runMu.Lock()
	cancel := e.cancel
	unsubscribe := e.unsubscribe
	e.cancel = nil
	e.unsubscribe = nil
	e.runMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}
