package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
)

func TestSettingsCmd_HasSubcommands(t *testing.T) {
	names := commandNames(settingsCmd)

	assert.Contains(t, names, "show")
	assert.Contains(t, names, "offline")
}

func TestSettingsShowCmd_Defaults(t *testing.T) {
	setupTestServices(t)

	out, err := execute(t, "settings", "show")

	require.NoError(t, err)
	assert.Contains(t, out, "Base URL: (not set)")
	assert.Contains(t, out, "Prefix: medplum")
	assert.Contains(t, out, "Offline mode: yes")
	assert.Contains(t, out, "pending-sync: every 5m0s")
	assert.Contains(t, out, "cache-cleanup: every 1h0m0s")
}

func TestSettingsShowCmd_MasksSecret(t *testing.T) {
	env := setupTestServices(t)
	require.NoError(t, env.settings.SetServer(domain.ServerSettings{
		BaseURL:      "https://fhir.example.org/R4",
		TokenURL:     "https://fhir.example.org/oauth2/token",
		ClientID:     "client-1",
		ClientSecret: "supersecretvalue",
	}))

	out, err := execute(t, "settings")

	require.NoError(t, err)
	assert.Contains(t, out, "Client ID: client-1")
	assert.Contains(t, out, "Client Secret: supe...alue")
	assert.NotContains(t, out, "supersecretvalue")
}

func TestSettingsOfflineCmd(t *testing.T) {
	env := setupTestServices(t)

	out, err := execute(t, "settings", "offline", "off")
	require.NoError(t, err)
	assert.Contains(t, out, "Offline mode disabled")

	settings, err := env.settings.Get()
	require.NoError(t, err)
	assert.False(t, settings.OfflineMode)

	_, err = execute(t, "settings", "offline", "ON")
	require.NoError(t, err)
	settings, err = env.settings.Get()
	require.NoError(t, err)
	assert.True(t, settings.OfflineMode)
}

func TestSettingsOfflineCmd_InvalidValue(t *testing.T) {
	setupTestServices(t)

	_, err := execute(t, "settings", "offline", "maybe")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid value "maybe"`)
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{"short", "abc", "****"},
		{"eight", "12345678", "****"},
		{"long", "abcdefghijkl", "abcd...ijkl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, maskSecret(tt.secret))
		})
	}
}
