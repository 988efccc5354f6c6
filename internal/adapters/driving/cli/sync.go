package cli

import (
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued changes against the FHIR server",
	Long: `Replays every queued create, update and delete against the FHIR server.
Operations that fail with a transient error stay queued for a later pass;
permanent failures are dropped and reported.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	svc, err := loadServices(cmd)
	if err != nil {
		return err
	}
	if svc.Engine == nil || svc.Monitor == nil {
		return errors.New("sync service not configured")
	}

	if !svc.Engine.HasPendingOperations() {
		cmd.Println("Nothing to synchronise.")
		return nil
	}

	if !svc.Monitor.CheckConnection(cmd.Context()) {
		state := svc.Monitor.State()
		if state.LastError != nil {
			return errors.Join(domain.ErrOffline, state.LastError)
		}
		return domain.ErrOffline
	}

	counts := svc.Engine.PendingCounts()
	cmd.Printf("Synchronising %d pending operations...\n", counts.Total)

	progress := svc.Engine.SyncPendingOperations(cmd.Context())
	printProgress(cmd, progress)

	if progress.Failed > 0 {
		return errors.New("some operations failed permanently")
	}
	return nil
}

func printProgress(cmd *cobra.Command, p domain.SyncProgress) {
	st := stylesFor(cmd.OutOrStdout())

	cmd.Printf("Completed: %s  Failed: %s  Retrying: %d  Skipped: %d\n",
		st.Good.Render(strconv.Itoa(p.Completed)), st.Bad.Render(strconv.Itoa(p.Failed)), p.Retrying, p.Skipped)

	for _, f := range p.Errors {
		op := f.Operation
		target := op.ResourceType
		if op.ResourceID != "" {
			target += "/" + op.ResourceID
		}
		cmd.Printf("\n%s %s (attempt %d)\n", op.Type, target, op.RetryCount)
		if f.Error != nil {
			cmd.Printf("  %s\n", describeError(f.Error))
		}
	}
}
