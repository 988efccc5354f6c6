package netlink

import (
	"context"
	"net"
	"time"

	"github.com/custodia-labs/fhirsync/internal/core/ports/driven"
	"github.com/custodia-labs/fhirsync/internal/logger"
)

// Ensure Monitor implements the interface.
var _ driven.LinkMonitor = (*Monitor)(nil)

// DefaultPollInterval is how often interfaces are inspected.
const DefaultPollInterval = 2 * time.Second

// Monitor polls the host's network interfaces. It holds no link state of
// its own: each Watch tracks the last state it reported.
type Monitor struct {
	interval time.Duration
	check    func() (bool, error)
}

// NewMonitor creates a monitor polling every interval.
// A non-positive interval uses DefaultPollInterval.
func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Monitor{
		interval: interval,
		check:    hasActiveInterface,
	}
}

// Online returns the link state as of now.
func (m *Monitor) Online() bool {
	return m.poll()
}

// Watch emits the link state whenever it differs from the state seen at
// the previous tick, starting from the state at the time of the call.
// The channel is closed when ctx is done.
func (m *Monitor) Watch(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)
	last := m.poll()

	go func() {
		defer close(ch)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				up := m.poll()
				if up == last {
					continue
				}
				last = up
				logger.Debug("network link %s", linkWord(up))
				select {
				case ch <- up:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch
}

// poll runs the check, treating errors as link down.
func (m *Monitor) poll() bool {
	up, err := m.check()
	if err != nil {
		logger.Warn("inspecting network interfaces: %v", err)
		return false
	}
	return up
}

// hasActiveInterface reports whether a non-loopback interface is up and
// carries at least one address.
func hasActiveInterface() (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if len(addrs) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func linkWord(up bool) string {
	if up {
		return "up"
	}
	return "down"
}
