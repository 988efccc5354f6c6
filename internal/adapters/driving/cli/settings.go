package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View the effective settings and toggle offline mode.

Settings live in ~/.fhirsync/config.toml and may be edited by hand; a
running daemon picks up changes automatically.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsOfflineCmd = &cobra.Command{
	Use:       "offline [on|off]",
	Short:     "Enable or disable queueing while disconnected",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runSettingsOffline,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsOfflineCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	svc, err := loadServices(cmd)
	if err != nil {
		return err
	}
	if svc.Settings == nil {
		return errors.New("settings service not configured")
	}

	settings, err := svc.Settings.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Println()

	cmd.Println("[Server]")
	if settings.Server.IsConfigured() {
		cmd.Printf("  Base URL: %s\n", settings.Server.BaseURL)
	} else {
		cmd.Printf("  Base URL: (not set)\n")
	}
	if settings.Server.TokenURL != "" {
		cmd.Printf("  Token URL: %s\n", settings.Server.TokenURL)
		cmd.Printf("  Client ID: %s\n", settings.Server.ClientID)
		if settings.Server.ClientSecret != "" {
			cmd.Printf("  Client Secret: %s\n", maskSecret(settings.Server.ClientSecret))
		} else {
			cmd.Printf("  Client Secret: (not set)\n")
		}
	}
	cmd.Printf("  Requests/second: %g\n", settings.Server.RequestsPerSecond)
	cmd.Println()

	cmd.Println("[Cache]")
	cmd.Printf("  Prefix: %s\n", settings.Cache.Prefix)
	cmd.Printf("  TTL: %s\n", settings.Cache.TTL)
	cmd.Printf("  Max entries: %d\n", settings.Cache.MaxSize)
	cmd.Println()

	cmd.Println("[Connection]")
	cmd.Printf("  Check interval: %s\n", settings.Connection.CheckInterval)
	cmd.Printf("  Probe attempts: %d\n", settings.Connection.RetryAttempts)
	cmd.Printf("  Probe delay: %s\n", settings.Connection.RetryDelay)
	cmd.Println()

	cmd.Println("[Sync]")
	cmd.Printf("  Offline mode: %s\n", yesNo(settings.OfflineMode))
	cmd.Printf("  Max retries: %d\n", settings.Sync.MaxRetries)
	cmd.Printf("  Retry delay: %s\n", settings.Sync.RetryDelay)
	cmd.Printf("  Batch size: %d\n", settings.Sync.BatchSize)
	cmd.Println()

	cmd.Println("[Scheduler]")
	cmd.Printf("  Enabled: %s\n", yesNo(settings.Scheduler.Enabled))
	for _, id := range []string{domain.TaskIDPendingSync, domain.TaskIDCacheCleanup} {
		task := settings.Scheduler.GetTaskConfig(id)
		if task.Enabled {
			cmd.Printf("  %s: every %s\n", id, task.Interval)
		} else {
			cmd.Printf("  %s: disabled\n", id)
		}
	}

	return nil
}

func runSettingsOffline(cmd *cobra.Command, args []string) error {
	var enabled bool
	switch strings.ToLower(args[0]) {
	case "on", "true", "yes":
		enabled = true
	case "off", "false", "no":
		enabled = false
	default:
		return fmt.Errorf("invalid value %q, expected on or off", args[0])
	}

	svc, err := loadServices(cmd)
	if err != nil {
		return err
	}
	if svc.Settings == nil {
		return errors.New("settings service not configured")
	}

	if err := svc.Settings.SetOfflineMode(enabled); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	if enabled {
		cmd.Println("Offline mode enabled: changes are queued while the server is unreachable.")
	} else {
		cmd.Println("Offline mode disabled: changes fail while the server is unreachable.")
	}
	return nil
}

func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
