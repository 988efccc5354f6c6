package driving

import "github.com/custodia-labs/fhirsync/internal/core/domain"

// SettingsService manages application settings.
type SettingsService interface {
	// Get retrieves current application settings.
	Get() (*domain.AppSettings, error)

	// Save persists application settings.
	Save(settings *domain.AppSettings) error

	// SetServer updates the remote server settings after validating them.
	SetServer(server domain.ServerSettings) error

	// SetOfflineMode enables or disables queueing while disconnected.
	SetOfflineMode(enabled bool) error

	// GetDefaults returns default settings.
	GetDefaults() domain.AppSettings
}
