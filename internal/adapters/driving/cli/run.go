package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/fhirsync/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the background sync daemon",
	Long: `Runs in the foreground until interrupted. The daemon:

  - watches the network link and probes the FHIR server
  - replays queued changes as soon as the server is reachable again
  - runs the pending-sync and cache-cleanup tasks on their schedules
  - restarts its services when the configuration file changes`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	for {
		svc, err := loadServices(cmd)
		if err != nil {
			return err
		}

		cmd.Println("fhirsync daemon started.")
		reload, err := serve(ctx, svc)
		if err != nil || !reload {
			cmd.Println("fhirsync daemon stopped.")
			return err
		}

		logger.Info("configuration changed, restarting services")
		cmd.Println("Configuration changed, restarting services...")
		if err := closeServices(); err != nil {
			return fmt.Errorf("closing services: %w", err)
		}
	}
}

// serve runs the background components until ctx is done or the
// configuration changes, in which case it reports true.
func serve(ctx context.Context, svc *Services) (bool, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var changes <-chan struct{}
	if svc.WatchConfig != nil {
		ch, err := svc.WatchConfig(runCtx)
		if err != nil {
			logger.Warn("config changes will not be picked up: %v", err)
		} else {
			changes = ch
		}
	}

	// The engine subscribes before the monitor's first probe so the
	// initial transition to connected triggers a replay.
	if svc.Engine != nil {
		svc.Engine.Start(runCtx)
		defer svc.Engine.Stop()
	}
	if svc.Monitor != nil {
		svc.Monitor.Start(runCtx)
		defer svc.Monitor.Close()
	}

	schedulerDone := make(chan error, 1)
	if svc.Scheduler != nil {
		go func() {
			schedulerDone <- svc.Scheduler.Start(runCtx)
		}()
		defer func() {
			if err := svc.Scheduler.Stop(); err != nil {
				logger.Warn("scheduler stop error: %v", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			return true, nil
		case err := <-schedulerDone:
			if err == nil || errors.Is(err, context.Canceled) {
				return false, nil
			}
			return false, fmt.Errorf("scheduler stopped: %w", err)
		}
	}
}
