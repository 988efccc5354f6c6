package domain

import (
	"fmt"
	"net/url"
	"time"
)

// ServerSettings configures the remote FHIR service.
type ServerSettings struct {
	// BaseURL is the FHIR base, e.g. https://api.medplum.com/fhir/R4.
	BaseURL string

	// TokenURL is the OAuth2 token endpoint. Empty disables auth.
	TokenURL string

	// ClientID and ClientSecret are client-credentials grant parameters.
	ClientID     string
	ClientSecret string

	// RequestsPerSecond throttles outgoing requests.
	RequestsPerSecond float64
}

// IsConfigured returns true if a base URL is set.
func (s ServerSettings) IsConfigured() bool {
	return s.BaseURL != ""
}

// HasCredentials returns true if client credentials are set.
func (s ServerSettings) HasCredentials() bool {
	return s.TokenURL != "" && s.ClientID != "" && s.ClientSecret != ""
}

// Validate checks the server settings for obvious mistakes.
func (s ServerSettings) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("%w: server.base_url is required", ErrInvalidInput)
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: server.base_url %q is not an absolute URL", ErrInvalidInput, s.BaseURL)
	}
	if s.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: server.requests_per_second must not be negative", ErrInvalidInput)
	}
	return nil
}

// AppSettings holds all application settings.
type AppSettings struct {
	Server     ServerSettings
	Cache      CacheConfig
	Connection ConnectionConfig
	Sync       SyncConfig
	Scheduler  SchedulerConfig

	// OfflineMode enables queueing of mutations while disconnected.
	OfflineMode bool
}

// DefaultAppSettings returns settings with sensible defaults.
// The server is left unconfigured; users set it with `fhirsync login`.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Server: ServerSettings{
			RequestsPerSecond: 10,
		},
		Cache:       DefaultCacheConfig(),
		Connection:  DefaultConnectionConfig(),
		Sync:        DefaultSyncConfig(),
		Scheduler:   DefaultSchedulerConfig(),
		OfflineMode: true,
	}
}

// SyncInterval returns the pending-sync task interval.
func (s AppSettings) SyncInterval() time.Duration {
	return s.Scheduler.GetTaskConfig(TaskIDPendingSync).Interval
}
