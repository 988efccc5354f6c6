package domain

import "time"

// ConnectionState describes whether the remote service can be reached.
type ConnectionState struct {
	// IsOnline reflects the local network link.
	IsOnline bool

	// IsServerAvailable reflects the last reachability probe.
	IsServerAvailable bool

	// LastCheckTime is when the last probe cycle finished.
	LastCheckTime time.Time

	// LastError is the error of the last failed probe cycle, if any.
	LastError error
}

// Connected reports whether both the link is up and the server answered.
func (s ConnectionState) Connected() bool {
	return s.IsOnline && s.IsServerAvailable
}

// SameAs reports whether two states differ only in LastCheckTime.
func (s ConnectionState) SameAs(other ConnectionState) bool {
	return s.IsOnline == other.IsOnline &&
		s.IsServerAvailable == other.IsServerAvailable &&
		errorText(s.LastError) == errorText(other.LastError)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ConnectionConfig configures the connection monitor.
type ConnectionConfig struct {
	// CheckInterval is the period between automatic probes.
	CheckInterval time.Duration

	// RetryAttempts is the number of probe attempts per cycle.
	RetryAttempts int

	// RetryDelay is the pause between probe attempts.
	RetryDelay time.Duration
}

// DefaultConnectionConfig returns the connection monitor defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		CheckInterval: 30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
}
