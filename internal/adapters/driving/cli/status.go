package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// statusProbeTimeout bounds the reachability check run by status.
const statusProbeTimeout = 10 * time.Second

var statusNoProbe bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection, queue and cache status",
	Long: `Probes the FHIR server and reports whether it is reachable, how many
changes are waiting to be replayed and what the local cache holds.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusNoProbe, "no-probe", false, "report the last known state without contacting the server")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	svc, err := loadServices(cmd)
	if err != nil {
		return err
	}
	st := stylesFor(cmd.OutOrStdout())

	if svc.Settings != nil {
		if settings, err := svc.Settings.Get(); err == nil {
			cmd.Println(st.Title.Render("[Server]"))
			if settings.Server.IsConfigured() {
				cmd.Printf("  URL: %s\n", settings.Server.BaseURL)
			} else {
				cmd.Printf("  URL: %s\n", st.Warn.Render("(not configured, run `fhirsync login`)"))
			}
			cmd.Printf("  Offline mode: %s\n", yesNo(settings.OfflineMode))
			cmd.Println()
		}
	}

	if svc.Monitor != nil {
		if !statusNoProbe {
			ctx, cancel := context.WithTimeout(cmd.Context(), statusProbeTimeout)
			svc.Monitor.CheckConnection(ctx)
			cancel()
		}
		state := svc.Monitor.State()

		cmd.Println(st.Title.Render("[Connection]"))
		link := st.Good.Render("up")
		if !state.IsOnline {
			link = st.Bad.Render("down")
		}
		cmd.Printf("  Network link: %s\n", link)
		reachable := st.Good.Render("yes")
		if !state.IsServerAvailable {
			reachable = st.Bad.Render("no")
		}
		cmd.Printf("  Server reachable: %s\n", reachable)
		if !state.LastCheckTime.IsZero() {
			cmd.Printf("  Last check: %s\n", state.LastCheckTime.Format(time.RFC3339))
		}
		if state.LastError != nil {
			cmd.Printf("  Last error: %s\n", st.Muted.Render(state.LastError.Error()))
		}
		cmd.Println()
	}

	if svc.Engine != nil {
		counts := svc.Engine.PendingCounts()
		cmd.Println(st.Title.Render("[Pending]"))
		cmd.Printf("  Creates: %d\n", counts.Creates)
		cmd.Printf("  Updates: %d\n", counts.Updates)
		cmd.Printf("  Deletes: %d\n", counts.Deletes)
		cmd.Printf("  Total: %d\n", counts.Total)
		cmd.Println()
	}

	if svc.Cache != nil {
		printCacheMetrics(cmd, st, svc)
	}

	return nil
}

func printCacheMetrics(cmd *cobra.Command, st styles, svc *Services) {
	m := svc.Cache.Metrics()
	cmd.Println(st.Title.Render("[Cache]"))
	cmd.Printf("  Entries: %d\n", m.TotalEntries)
	cmd.Printf("  Approximate size: %d bytes\n", m.TotalSize)
	if !m.OldestEntry.IsZero() {
		cmd.Printf("  Oldest: %s\n", m.OldestEntry.Format(time.RFC3339))
		cmd.Printf("  Newest: %s\n", m.NewestEntry.Format(time.RFC3339))
	}
}
