package services

import (
	"fmt"
	"time"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driven"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyServerBaseURL      = "server.base_url"
	keyServerTokenURL     = "server.token_url"
	keyServerClientID     = "server.client_id"
	keyServerClientSecret = "server.client_secret"
	keyServerRPS          = "server.requests_per_second"

	keyCacheTTL     = "cache.ttl_seconds"
	keyCacheMaxSize = "cache.max_size"
	keyCachePrefix  = "cache.prefix"

	keyConnInterval   = "connection.check_interval_ms"
	keyConnAttempts   = "connection.retry_attempts"
	keyConnRetryDelay = "connection.retry_delay_ms"

	keySyncMaxRetries     = "sync.max_retries"
	keySyncRetryDelay     = "sync.retry_delay_ms"
	keySyncBatchSize      = "sync.batch_size"
	keySyncTimeout        = "sync.timeout_ms"
	keySyncEnforceTimeout = "sync.enforce_timeout"

	keyOfflineEnabled = "offline.enabled"

	keySchedulerEnabled = "scheduler.enabled"
)

// schedulerTaskKeys maps task IDs to their config section (underscore version for TOML).
var schedulerTaskKeys = map[string]string{
	domain.TaskIDPendingSync:  "pending_sync",
	domain.TaskIDCacheCleanup: "cache_cleanup",
}

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{
		configStore: configStore,
	}
}

// Get retrieves current application settings.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	defaults := domain.DefaultAppSettings()

	settings := &domain.AppSettings{
		Server: domain.ServerSettings{
			BaseURL:           s.configStore.GetString(keyServerBaseURL),
			TokenURL:          s.configStore.GetString(keyServerTokenURL),
			ClientID:          s.configStore.GetString(keyServerClientID),
			ClientSecret:      s.configStore.GetString(keyServerClientSecret),
			RequestsPerSecond: s.getFloat(keyServerRPS, defaults.Server.RequestsPerSecond),
		},
		Cache: domain.CacheConfig{
			TTL:     s.getDuration(keyCacheTTL, time.Second, defaults.Cache.TTL),
			MaxSize: s.getInt(keyCacheMaxSize, defaults.Cache.MaxSize),
			Prefix:  s.getString(keyCachePrefix, defaults.Cache.Prefix),
		},
		Connection: domain.ConnectionConfig{
			CheckInterval: s.getDuration(keyConnInterval, time.Millisecond, defaults.Connection.CheckInterval),
			RetryAttempts: s.getInt(keyConnAttempts, defaults.Connection.RetryAttempts),
			RetryDelay:    s.getDuration(keyConnRetryDelay, time.Millisecond, defaults.Connection.RetryDelay),
		},
		Sync: domain.SyncConfig{
			MaxRetries:     s.getInt(keySyncMaxRetries, defaults.Sync.MaxRetries),
			RetryDelay:     s.getDuration(keySyncRetryDelay, time.Millisecond, defaults.Sync.RetryDelay),
			BatchSize:      s.getInt(keySyncBatchSize, defaults.Sync.BatchSize),
			Timeout:        s.getDuration(keySyncTimeout, time.Millisecond, defaults.Sync.Timeout),
			EnforceTimeout: s.getBool(keySyncEnforceTimeout, defaults.Sync.EnforceTimeout),
		},
		Scheduler:   s.GetSchedulerConfig(),
		OfflineMode: s.getBool(keyOfflineEnabled, defaults.OfflineMode),
	}

	return settings, nil
}

// Save persists application settings.
func (s *SettingsService) Save(settings *domain.AppSettings) error {
	values := []struct {
		key   string
		value any
	}{
		{keyServerBaseURL, settings.Server.BaseURL},
		{keyServerTokenURL, settings.Server.TokenURL},
		{keyServerClientID, settings.Server.ClientID},
		{keyServerRPS, settings.Server.RequestsPerSecond},
		{keyCacheTTL, int64(settings.Cache.TTL / time.Second)},
		{keyCacheMaxSize, settings.Cache.MaxSize},
		{keyCachePrefix, settings.Cache.Prefix},
		{keyConnInterval, settings.Connection.CheckInterval.Milliseconds()},
		{keyConnAttempts, settings.Connection.RetryAttempts},
		{keyConnRetryDelay, settings.Connection.RetryDelay.Milliseconds()},
		{keySyncMaxRetries, settings.Sync.MaxRetries},
		{keySyncRetryDelay, settings.Sync.RetryDelay.Milliseconds()},
		{keySyncBatchSize, settings.Sync.BatchSize},
		{keySyncTimeout, settings.Sync.Timeout.Milliseconds()},
		{keySyncEnforceTimeout, settings.Sync.EnforceTimeout},
		{keyOfflineEnabled, settings.OfflineMode},
		{keySchedulerEnabled, settings.Scheduler.Enabled},
	}
	for _, v := range values {
		if err := s.configStore.Set(v.key, v.value); err != nil {
			return fmt.Errorf("save %s: %w", v.key, err)
		}
	}

	// Only overwrite the secret when one is supplied
	if settings.Server.ClientSecret != "" {
		if err := s.configStore.Set(keyServerClientSecret, settings.Server.ClientSecret); err != nil {
			return fmt.Errorf("save %s: %w", keyServerClientSecret, err)
		}
	}

	for taskID, section := range schedulerTaskKeys {
		taskCfg := settings.Scheduler.GetTaskConfig(taskID)
		prefix := "scheduler." + section + "."
		if err := s.configStore.Set(prefix+"enabled", taskCfg.Enabled); err != nil {
			return fmt.Errorf("save %senabled: %w", prefix, err)
		}
		if err := s.configStore.Set(prefix+"interval", taskCfg.Interval.String()); err != nil {
			return fmt.Errorf("save %sinterval: %w", prefix, err)
		}
	}

	return nil
}

// SetServer updates the remote server settings after validating them.
func (s *SettingsService) SetServer(server domain.ServerSettings) error {
	if server.RequestsPerSecond == 0 {
		server.RequestsPerSecond = domain.DefaultAppSettings().Server.RequestsPerSecond
	}
	if err := server.Validate(); err != nil {
		return err
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}
	settings.Server = server

	return s.Save(settings)
}

// SetOfflineMode enables or disables queueing while disconnected.
func (s *SettingsService) SetOfflineMode(enabled bool) error {
	settings, err := s.Get()
	if err != nil {
		return err
	}
	settings.OfflineMode = enabled
	return s.Save(settings)
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// GetSchedulerConfig returns the scheduler configuration.
// Returns default configuration if nothing is configured.
func (s *SettingsService) GetSchedulerConfig() domain.SchedulerConfig {
	defaults := domain.DefaultSchedulerConfig()

	// Master switch
	if _, exists := s.configStore.Get(keySchedulerEnabled); exists {
		defaults.Enabled = s.configStore.GetBool(keySchedulerEnabled)
	}

	for taskID, section := range schedulerTaskKeys {
		prefix := "scheduler." + section + "."

		taskCfg := defaults.TaskConfigs[taskID]

		if _, exists := s.configStore.Get(prefix + "enabled"); exists {
			taskCfg.Enabled = s.configStore.GetBool(prefix + "enabled")
		}

		// Interval is a duration string like "5m" or "1h"
		if interval := s.configStore.GetString(prefix + "interval"); interval != "" {
			if d, err := time.ParseDuration(interval); err == nil && d > 0 {
				taskCfg.Interval = d
			}
		}

		defaults.TaskConfigs[taskID] = taskCfg
	}

	return defaults
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val <= 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getBool(key string, defaultVal bool) bool {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetBool(key)
}

// getDuration reads an integer count of unit. Zero is honoured when the
// key is present; negative values fall back to the default.
func (s *SettingsService) getDuration(key string, unit, defaultVal time.Duration) time.Duration {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	n := s.configStore.GetInt(key)
	if n < 0 {
		return defaultVal
	}
	return time.Duration(n) * unit
}

func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	val, ok := s.configStore.Get(key)
	if !ok {
		return defaultVal
	}
	switch v := val.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return defaultVal
	}
}
