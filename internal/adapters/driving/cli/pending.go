package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	pendingJSON     bool
	pendingClearYes bool
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect queued changes",
	Long:  `Inspect or discard changes queued while the FHIR server was unreachable.`,
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued operations, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runPendingList,
}

var pendingClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every queued operation",
	Long: `Discards every queued operation. The changes they carry are lost and
will never reach the FHIR server.`,
	Args: cobra.NoArgs,
	RunE: runPendingClear,
}

func init() {
	pendingListCmd.Flags().BoolVar(&pendingJSON, "json", false, "output operations as JSON")
	pendingClearCmd.Flags().BoolVar(&pendingClearYes, "yes", false, "confirm discarding the queue")
	pendingCmd.AddCommand(pendingListCmd)
	pendingCmd.AddCommand(pendingClearCmd)
	rootCmd.AddCommand(pendingCmd)
}

func runPendingList(cmd *cobra.Command, _ []string) error {
	svc, err := loadServices(cmd)
	if err != nil {
		return err
	}
	if svc.Engine == nil {
		return errors.New("sync service not configured")
	}

	ops := svc.Engine.PendingOperations()
	if pendingJSON {
		return printJSON(cmd, ops)
	}

	if len(ops) == 0 {
		cmd.Println("No pending operations.")
		return nil
	}

	st := stylesFor(cmd.OutOrStdout())
	cmd.Printf("Pending operations (%d):\n\n", len(ops))
	for _, op := range ops {
		target := op.ResourceType
		if op.ResourceID != "" {
			target += "/" + op.ResourceID
		}
		queued := time.UnixMilli(op.Timestamp).Format(time.RFC3339)
		cmd.Printf("  %-6s %s\n", op.Type, target)
		cmd.Printf("         %s\n", st.Muted.Render(fmt.Sprintf("id %s, queued %s", op.ID, queued)))
		if op.RetryCount > 0 {
			cmd.Printf("         %s\n", st.Warn.Render(fmt.Sprintf("%d failed attempt(s): %s", op.RetryCount, op.LastError)))
		}
	}
	return nil
}

func runPendingClear(cmd *cobra.Command, _ []string) error {
	svc, err := loadServices(cmd)
	if err != nil {
		return err
	}
	if svc.Engine == nil {
		return errors.New("sync service not configured")
	}

	total := svc.Engine.PendingCounts().Total
	if total == 0 {
		cmd.Println("No pending operations.")
		return nil
	}
	if !pendingClearYes {
		return fmt.Errorf("refusing to discard %d pending operations without --yes", total)
	}

	if err := svc.Engine.ClearPendingOperations(); err != nil {
		return fmt.Errorf("failed to clear pending operations: %w", err)
	}
	cmd.Printf("Discarded %d pending operations.\n", total)
	return nil
}
