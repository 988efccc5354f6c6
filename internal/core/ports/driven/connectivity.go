package driven

import "context"

// Prober actively checks that the remote service responds.
type Prober interface {
	// Probe returns nil if the remote service answered.
	Probe(ctx context.Context) error
}

// LinkMonitor reports the local network link signal.
type LinkMonitor interface {
	// Online returns the current link state.
	Online() bool

	// Watch emits the link state every time it changes.
	// The channel is closed when ctx is done.
	Watch(ctx context.Context) <-chan bool
}
