package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driven"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driving"
)

// --- Test doubles shared by the service tests ---

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeFHIR is an in-memory remote service. Errors can be injected per call kind.
type fakeFHIR struct {
	mu        sync.Mutex
	resources map[string]domain.Resource
	nextID    int

	createErr error
	readErr   error
	updateErr error
	deleteErr error
	fetchErr  error

	// failFor fails update calls for a specific resource key.
	failFor map[string]error

	creates []domain.Resource
	updates []domain.Resource
	deletes []string
	reads   int
	fetches int
}

func newFakeFHIR() *fakeFHIR {
	return &fakeFHIR{
		resources: make(map[string]domain.Resource),
		failFor:   make(map[string]error),
	}
}

func (f *fakeFHIR) put(r domain.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[resourceKey(r.ResourceType(), r.ID())] = r.Clone()
}

func (f *fakeFHIR) stored(resourceType, id string) (domain.Resource, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.resources[resourceKey(resourceType, id)]
	return r.Clone(), ok
}

func (f *fakeFHIR) CreateResource(_ context.Context, r domain.Resource) (domain.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, r.Clone())
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	out := r.Clone()
	out[domain.FieldID] = fmt.Sprintf("srv-%d", f.nextID)
	f.resources[resourceKey(out.ResourceType(), out.ID())] = out.Clone()
	return out, nil
}

func (f *fakeFHIR) ReadResource(_ context.Context, resourceType, id string) (domain.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	r, ok := f.resources[resourceKey(resourceType, id)]
	if !ok {
		return nil, domain.NewStatusError(404, "Not found")
	}
	return r.Clone(), nil
}

func (f *fakeFHIR) UpdateResource(_ context.Context, r domain.Resource) (domain.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, r.Clone())
	key := resourceKey(r.ResourceType(), r.ID())
	if err := f.failFor[key]; err != nil {
		return nil, err
	}
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.resources[key] = r.Clone()
	return r.Clone(), nil
}

func (f *fakeFHIR) DeleteResource(_ context.Context, resourceType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, resourceKey(resourceType, id))
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.resources, resourceKey(resourceType, id))
	return nil
}

func (f *fakeFHIR) FetchResources(_ context.Context, resourceType string, _ domain.Query) ([]domain.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []domain.Resource
	for _, r := range f.resources {
		if r.ResourceType() == resourceType {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// searchingFHIR adds both optional search capabilities to fakeFHIR.
type searchingFHIR struct {
	*fakeFHIR
	textErr   error
	paramErr  error
	textHits  []domain.Resource
	paramHits []domain.Resource
	calls     []string
}

func (f *searchingFHIR) Search(_ context.Context, _ string, _ domain.Query) (*domain.Bundle, error) {
	f.calls = append(f.calls, "text")
	if f.textErr != nil {
		return nil, f.textErr
	}
	return &domain.Bundle{Entries: f.textHits, Total: len(f.textHits)}, nil
}

func (f *searchingFHIR) SearchResources(_ context.Context, _ string, _ domain.Query) ([]domain.Resource, error) {
	f.calls = append(f.calls, "params")
	if f.paramErr != nil {
		return nil, f.paramErr
	}
	return f.paramHits, nil
}

var (
	_ driven.FHIRClient       = (*fakeFHIR)(nil)
	_ driven.TextSearcher     = (*searchingFHIR)(nil)
	_ driven.ResourceSearcher = (*searchingFHIR)(nil)
)

// fakeMonitor is a connection monitor whose state is set by the test.
type fakeMonitor struct {
	mu        sync.Mutex
	state     domain.ConnectionState
	listeners map[int]func(domain.ConnectionState)
	nextID    int
	checks    int
}

func newFakeMonitor(connected bool) *fakeMonitor {
	return &fakeMonitor{
		state:     domain.ConnectionState{IsOnline: connected, IsServerAvailable: connected},
		listeners: make(map[int]func(domain.ConnectionState)),
	}
}

// set changes the state and notifies listeners synchronously.
func (m *fakeMonitor) set(connected bool) {
	m.mu.Lock()
	m.state = domain.ConnectionState{IsOnline: connected, IsServerAvailable: connected}
	state := m.state
	listeners := make([]func(domain.ConnectionState), 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}

func (m *fakeMonitor) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *fakeMonitor) IsOnline() bool { return m.State().IsOnline }
func (m *fakeMonitor) IsServerAvailable() bool { return m.State().IsServerAvailable }
func (m *fakeMonitor) IsConnected() bool { return m.State().Connected() }

func (m *fakeMonitor) CheckConnection(_ context.Context) bool {
	m.mu.Lock()
	m.checks++
	m.mu.Unlock()
	return m.IsConnected()
}

func (m *fakeMonitor) Subscribe(listener func(domain.ConnectionState)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

var _ driving.ConnectionMonitor = (*fakeMonitor)(nil)
