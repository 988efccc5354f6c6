package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driven"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driving"
	"github.com/custodia-labs/fhirsync/internal/logger"
)

// Ensure ConnectionMonitor implements the interface.
var _ driving.ConnectionMonitor = (*ConnectionMonitor)(nil)

// ConnectionMonitor combines the local link signal with periodic
// reachability probes. Concurrent probe cycles are not serialised: the
// last cycle to finish writes the state.
type ConnectionMonitor struct {
	prober driven.Prober
	link   driven.LinkMonitor
	config domain.ConnectionConfig
	now    func() time.Time

	mu        sync.RWMutex
	state     domain.ConnectionState
	listeners map[int]func(domain.ConnectionState)
	nextID    int

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConnectionMonitor creates a monitor. A nil link is treated as always
// up; a nil prober as always reachable. Zero config fields take defaults.
func NewConnectionMonitor(
	prober driven.Prober,
	link driven.LinkMonitor,
	config domain.ConnectionConfig,
) *ConnectionMonitor {
	defaults := domain.DefaultConnectionConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = defaults.RetryAttempts
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = defaults.RetryDelay
	}

	online := link == nil || link.Online()
	return &ConnectionMonitor{
		prober:    prober,
		link:      link,
		config:    config,
		now:       time.Now,
		state:     domain.ConnectionState{IsOnline: online},
		listeners: make(map[int]func(domain.ConnectionState)),
	}
}

// Start runs an initial probe, then follows link events and probes every
// CheckInterval until ctx is done or Close is called. It does not block.
func (m *ConnectionMonitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return // Already running
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.run(ctx)
}

// Close stops the background loop and drops all listeners.
func (m *ConnectionMonitor) Close() {
	m.runMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	m.listeners = make(map[int]func(domain.ConnectionState))
	m.mu.Unlock()
}

func (m *ConnectionMonitor) run(ctx context.Context) {
	defer m.wg.Done()

	var events <-chan bool
	if m.link != nil {
		events = m.link.Watch(ctx)
		m.HandleLinkChange(ctx, m.link.Online())
	} else {
		m.CheckConnection(ctx)
	}

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.HandleLinkChange(ctx, up)
		case <-ticker.C:
			if m.IsOnline() {
				m.CheckConnection(ctx)
			}
		}
	}
}

// HandleLinkChange applies a link event. Link down marks the server
// unavailable without probing; link up triggers a probe cycle.
func (m *ConnectionMonitor) HandleLinkChange(ctx context.Context, up bool) {
	if !up {
		logger.Info("connection: link down")
		m.update(func(s *domain.ConnectionState) {
			s.IsOnline = false
			s.IsServerAvailable = false
			s.LastError = domain.ErrOffline
		})
		return
	}

	logger.Info("connection: link up, probing server")
	m.update(func(s *domain.ConnectionState) {
		s.IsOnline = true
	})
	m.CheckConnection(ctx)
}

// CheckConnection runs a probe cycle now and returns IsConnected.
// No probe is attempted while the link is down.
func (m *ConnectionMonitor) CheckConnection(ctx context.Context) bool {
	if !m.IsOnline() {
		return false
	}

	err := m.probeCycle(ctx)

	m.update(func(s *domain.ConnectionState) {
		s.LastCheckTime = m.now()
		s.LastError = err
		// A link-down event that arrived mid-probe wins.
		s.IsServerAvailable = err == nil && s.IsOnline
	})

	if err != nil {
		logger.Warn("connection: server unreachable: %v", err)
	}
	return m.IsConnected()
}

// probeCycle makes up to RetryAttempts probes with RetryDelay between them.
func (m *ConnectionMonitor) probeCycle(ctx context.Context) error {
	if m.prober == nil {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= m.config.RetryAttempts; attempt++ {
		lastErr = m.prober.Probe(ctx)
		if lastErr == nil {
			return nil
		}
		logger.Debug("connection: probe attempt %d/%d failed: %v", attempt, m.config.RetryAttempts, lastErr)

		if attempt == m.config.RetryAttempts {
			break
		}
		if err := sleepContext(ctx, m.config.RetryDelay); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	return lastErr
}

// update mutates the state and notifies listeners if the observable part changed.
func (m *ConnectionMonitor) update(fn func(*domain.ConnectionState)) {
	m.mu.Lock()
	old := m.state
	fn(&m.state)
	current := m.state
	var listeners []func(domain.ConnectionState)
	if !old.SameAs(current) {
		listeners = make([]func(domain.ConnectionState), 0, len(m.listeners))
		for _, l := range m.listeners {
			listeners = append(listeners, l)
		}
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(current)
	}
}

// State returns a snapshot of the connection state.
func (m *ConnectionMonitor) State() domain.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsOnline reports the local link state.
func (m *ConnectionMonitor) IsOnline() bool {
	return m.State().IsOnline
}

// IsServerAvailable reports the last probe result.
func (m *ConnectionMonitor) IsServerAvailable() bool {
	return m.State().IsServerAvailable
}

// IsConnected reports IsOnline && IsServerAvailable.
func (m *ConnectionMonitor) IsConnected() bool {
	return m.State().Connected()
}

// Subscribe registers a listener called on every state change.
func (m *ConnectionMonitor) Subscribe(listener func(domain.ConnectionState)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
