// Package cli implements the fhirsync command line interface using cobra.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/fhirsync/internal/core/ports/driving"
	"github.com/custodia-labs/fhirsync/internal/logger"
)

// version is set at build time with -ldflags "-X ...cli.version=v1.2.3".
var version = "dev"

// Options are the global flags passed to the bootstrap function.
type Options struct {
	DataDir   string
	ConfigDir string
}

// Monitor is a connection monitor that can run in the background.
type Monitor interface {
	driving.ConnectionMonitor
	Start(ctx context.Context)
	Close()
}

// Engine is a sync engine that can replay automatically in the background.
type Engine interface {
	driving.SyncEngine
	Start(ctx context.Context)
	Stop()
}

// Services holds everything the commands drive.
type Services struct {
	Settings  driving.SettingsService
	Cache     driving.CacheService
	Monitor   Monitor
	Engine    Engine
	Scheduler driving.Scheduler

	// Resources returns the façade for one resource type.
	Resources func(resourceType string) driving.ResourceService

	// WatchConfig signals when the configuration file changes.
	WatchConfig func(ctx context.Context) (<-chan struct{}, error)

	// Close releases storage. May be nil.
	Close func() error
}

// Bootstrap builds the services from the global options.
type Bootstrap func(ctx context.Context, opts Options) (*Services, error)

var (
	options   Options
	verbose   bool
	bootstrap Bootstrap

	// app is built lazily so commands like version need no storage.
	app *Services
)

var rootCmd = &cobra.Command{
	Use:   "fhirsync",
	Short: "Offline-first FHIR resource sync",
	Long: `fhirsync keeps a local cache of FHIR resources and queues changes made
while the server is unreachable, replaying them once it is back.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&options.DataDir, "data-dir", "", "data directory (default ~/.fhirsync/data)")
	rootCmd.PersistentFlags().StringVar(&options.ConfigDir, "config-dir", "", "config directory (default ~/.fhirsync)")
}

// SetBootstrap registers the function that builds the services.
func SetBootstrap(b Bootstrap) {
	bootstrap = b
}

// Execute runs the root command until it completes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if closeErr := closeServices(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "closing storage: %v\n", closeErr)
	}
	return err
}

// loadServices returns the services, building them on first use.
func loadServices(cmd *cobra.Command) (*Services, error) {
	if app != nil {
		return app, nil
	}
	if bootstrap == nil {
		return nil, errors.New("services not configured")
	}

	s, err := bootstrap(cmd.Context(), options)
	if err != nil {
		return nil, fmt.Errorf("initialising: %w", err)
	}
	app = s
	return s, nil
}

// closeServices releases the current services, if any.
func closeServices() error {
	if app == nil || app.Close == nil {
		app = nil
		return nil
	}
	err := app.Close()
	app = nil
	return err
}
