package main

import (
	"context"
	"fmt"

	"github.com/custodia-labs/fhirsync/internal/adapters/driven/config/file"
	"github.com/custodia-labs/fhirsync/internal/adapters/driven/fhir"
	"github.com/custodia-labs/fhirsync/internal/adapters/driven/netlink"
	"github.com/custodia-labs/fhirsync/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/fhirsync/internal/adapters/driving/cli"
	"github.com/custodia-labs/fhirsync/internal/core/domain"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driven"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driving"
	"github.com/custodia-labs/fhirsync/internal/core/services"
	"github.com/custodia-labs/fhirsync/internal/logger"
)

// remote is what the services need from the FHIR adapter.
type remote interface {
	driven.FHIRClient
	driven.Prober
}

// bootstrap builds the services from configuration on disk.
func bootstrap(ctx context.Context, opts cli.Options) (*cli.Services, error) {
	configStore, err := file.NewConfigStore(opts.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	settingsService := services.NewSettingsService(configStore)
	settings, err := settingsService.Get()
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	store, err := sqlite.NewStore(opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	logger.Debug("store: %s", store.Path())

	var client remote = unconfigured{}
	if settings.Server.IsConfigured() {
		c, err := fhir.NewClient(ctx, settings.Server)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("creating FHIR client: %w", err)
		}
		client = c
		logger.Debug("server: %s", c.BaseURL())
	}

	link := netlink.NewMonitor(0)
	classifier := services.NewErrorClassifier(services.ClassifierConfig{LinkUp: link.Online})
	cache := services.NewCacheStore(store.KeyValueStore(), settings.Cache)
	monitor := services.NewConnectionMonitor(client, link, settings.Connection)
	engine := services.NewSyncEngine(cache, client, classifier, monitor, settings.Sync)

	var scheduler driving.Scheduler
	if settings.Scheduler.Enabled {
		scheduler = services.NewScheduler(settings.Scheduler, store.SchedulerStore(), engine, cache)
	}

	deps := services.ResourceDeps{
		Cache:      cache,
		Monitor:    monitor,
		Engine:     engine,
		Remote:     client,
		Classifier: classifier,
	}
	resourceConfig := services.ResourceConfig{OfflineMode: settings.OfflineMode}

	return &cli.Services{
		Settings:  settingsService,
		Cache:     cache,
		Monitor:   monitor,
		Engine:    engine,
		Scheduler: scheduler,
		Resources: func(resourceType string) driving.ResourceService {
			return services.NewResourceService(resourceType, deps, resourceConfig)
		},
		WatchConfig: configStore.Watch,
		Close: func() error {
			monitor.Close()
			return store.Close()
		},
	}, nil
}

// errNotConfigured is returned by every remote call until a server is set.
var errNotConfigured = fmt.Errorf("%w: no FHIR server configured, run `fhirsync login`", domain.ErrOffline)

// unconfigured stands in for the FHIR client before login. It is never
// reachable, so reads fall back to the cache and writes are queued.
type unconfigured struct{}

func (unconfigured) Probe(context.Context) error { return errNotConfigured }

func (unconfigured) CreateResource(context.Context, domain.Resource) (domain.Resource, error) {
	return nil, errNotConfigured
}

func (unconfigured) ReadResource(context.Context, string, string) (domain.Resource, error) {
	return nil, errNotConfigured
}

func (unconfigured) UpdateResource(context.Context, domain.Resource) (domain.Resource, error) {
	return nil, errNotConfigured
}

func (unconfigured) DeleteResource(context.Context, string, string) error {
	return errNotConfigured
}

func (unconfigured) FetchResources(context.Context, string, domain.Query) ([]domain.Resource, error) {
	return nil, errNotConfigured
}
