package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/custodia-labs/fhirsync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/fhirsync/internal/core/domain"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driving"
	"github.com/custodia-labs/fhirsync/internal/core/services"
)

// fakeFHIR is an in-memory remote service.
type fakeFHIR struct {
	mu        sync.Mutex
	resources map[string]domain.Resource
	nextID    int
	createErr error
}

func newFakeFHIR() *fakeFHIR {
	return &fakeFHIR{resources: make(map[string]domain.Resource)}
}

func (f *fakeFHIR) key(resourceType, id string) string {
	return resourceType + "/" + id
}

func (f *fakeFHIR) put(r domain.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[f.key(r.ResourceType(), r.ID())] = r.Clone()
}

func (f *fakeFHIR) get(resourceType, id string) (domain.Resource, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.resources[f.key(resourceType, id)]
	return r.Clone(), ok
}

func (f *fakeFHIR) CreateResource(_ context.Context, r domain.Resource) (domain.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	out := r.Clone()
	out[domain.FieldID] = fmt.Sprintf("srv-%d", f.nextID)
	f.resources[f.key(out.ResourceType(), out.ID())] = out.Clone()
	return out, nil
}

func (f *fakeFHIR) ReadResource(_ context.Context, resourceType, id string) (domain.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.resources[f.key(resourceType, id)]
	if !ok {
		return nil, domain.NewStatusError(404, "Not Found")
	}
	return r.Clone(), nil
}

func (f *fakeFHIR) UpdateResource(_ context.Context, r domain.Resource) (domain.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[f.key(r.ResourceType(), r.ID())] = r.Clone()
	return r.Clone(), nil
}

func (f *fakeFHIR) DeleteResource(_ context.Context, resourceType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resources, f.key(resourceType, id))
	return nil
}

func (f *fakeFHIR) FetchResources(_ context.Context, resourceType string, _ domain.Query) ([]domain.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Resource
	for k, r := range f.resources {
		if strings.HasPrefix(k, resourceType+"/") {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// fakeProber answers probes according to up.
type fakeProber struct {
	up atomic.Bool
}

func (p *fakeProber) Probe(_ context.Context) error {
	if p.up.Load() {
		return nil
	}
	return fmt.Errorf("dial tcp: connection refused")
}

// testEnv is a fully wired set of services over in-memory storage.
type testEnv struct {
	remote     *fakeFHIR
	prober     *fakeProber
	classifier *services.ErrorClassifier
	config     *memory.ConfigStore
	settings   *services.SettingsService
	cache      *services.CacheStore
	monitor    *services.ConnectionMonitor
	engine     *services.SyncEngine
	svc        *Services
}

// setupTestServices installs wired services as the CLI's services and
// restores the previous state when the test ends.
func setupTestServices(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		remote: newFakeFHIR(),
		prober: &fakeProber{},
		config: memory.NewConfigStore(),
	}
	env.prober.up.Store(true)

	env.classifier = services.NewErrorClassifier(services.ClassifierConfig{})
	env.settings = services.NewSettingsService(env.config)
	env.cache = services.NewCacheStore(memory.NewKeyValueStore(), domain.DefaultCacheConfig())
	env.monitor = services.NewConnectionMonitor(env.prober, nil, domain.ConnectionConfig{RetryAttempts: 1})
	env.engine = services.NewSyncEngine(env.cache, env.remote, env.classifier, env.monitor, domain.SyncConfig{})

	env.svc = &Services{
		Settings:    env.settings,
		Cache:       env.cache,
		Monitor:     env.monitor,
		Engine:      env.engine,
		Resources:   env.resourceFactory(true),
		WatchConfig: env.config.Watch,
	}

	oldApp, oldBootstrap := app, bootstrap
	app, bootstrap = env.svc, nil
	t.Cleanup(func() {
		env.monitor.Close()
		app, bootstrap = oldApp, oldBootstrap
	})
	return env
}

// resourceFactory builds façades over the environment's services.
func (env *testEnv) resourceFactory(offlineMode bool) func(string) driving.ResourceService {
	return func(resourceType string) driving.ResourceService {
		return services.NewResourceService(resourceType, services.ResourceDeps{
			Cache:      env.cache,
			Monitor:    env.monitor,
			Engine:     env.engine,
			Remote:     env.remote,
			Classifier: env.classifier,
		}, services.ResourceConfig{OfflineMode: offlineMode})
	}
}

// execute runs the root command with args and returns combined output.
func execute(t *testing.T, args ...string) (string, error) {
	return executeWithInput(t, nil, args...)
}

func executeWithInput(t *testing.T, in io.Reader, args ...string) (string, error) {
	t.Helper()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	if in != nil {
		rootCmd.SetIn(in)
	}
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		resetFlags(rootCmd)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}

// resetFlags restores every flag to its default so values do not leak
// between tests.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// commandNames lists the names of a command's subcommands.
func commandNames(cmd *cobra.Command) []string {
	commands := cmd.Commands()
	names := make([]string, 0, len(commands))
	for _, c := range commands {
		names = append(names, c.Name())
	}
	return names
}
