package driving

import (
	"context"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
)

// ConnectionMonitor is the single source of truth for whether the remote
// service can be reached.
type ConnectionMonitor interface {
	// State returns a snapshot of the connection state.
	State() domain.ConnectionState

	// IsOnline reports the local link state.
	IsOnline() bool

	// IsServerAvailable reports the last probe result.
	IsServerAvailable() bool

	// IsConnected reports IsOnline && IsServerAvailable.
	IsConnected() bool

	// CheckConnection runs a probe cycle now and returns IsConnected.
	CheckConnection(ctx context.Context) bool

	// Subscribe registers a listener called on every state change.
	// The returned function removes it.
	Subscribe(listener func(domain.ConnectionState)) func()
}
