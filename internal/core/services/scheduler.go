package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driven"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driving"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// schedulerTick is how often due tasks are looked for.
const schedulerTick = time.Minute

// historyRetention is the number of results kept per task.
const historyRetention = 100

// Scheduler runs the pending-sync and cache-cleanup tasks on their
// intervals, persisting task state so schedules survive restarts.
type Scheduler struct {
	config domain.SchedulerConfig
	store  driven.SchedulerStore
	engine driving.SyncEngine
	cache  driving.CacheService
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler with configuration.
// Either engine or cache may be nil, in which case its task is a no-op.
func NewScheduler(
	config domain.SchedulerConfig,
	store driven.SchedulerStore,
	engine driving.SyncEngine,
	cache driving.CacheService,
) *Scheduler {
	return &Scheduler{
		config: config,
		store:  store,
		engine: engine,
		cache:  cache,
		now:    time.Now,
	}
}

// Start begins the scheduler loop. This method blocks until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	// Initialise tasks in store
	if err := s.initialiseTasks(ctx); err != nil {
		log.Printf("scheduler: failed to initialise tasks: %v", err)
	}

	// Run the main scheduler loop
	return s.run(ctx)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	// Wait for running tasks to complete
	s.wg.Wait()

	return nil
}

// initialiseTasks ensures all configured tasks exist in the store.
func (s *Scheduler) initialiseTasks(ctx context.Context) error {
	tasks := []struct {
		id   string
		name string
	}{
		{domain.TaskIDPendingSync, "Pending Operation Sync"},
		{domain.TaskIDCacheCleanup, "Cache Cleanup"},
	}
	for _, t := range tasks {
		taskCfg := s.config.GetTaskConfig(t.id)
		if !taskCfg.Enabled || taskCfg.Interval <= 0 {
			continue
		}
		if err := s.ensureTask(ctx, t.id, t.name, taskCfg); err != nil {
			return fmt.Errorf("ensure task %s: %w", t.id, err)
		}
	}

	return nil
}

// ensureTask creates or updates a task in the store.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, cfg domain.TaskConfig) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if task == nil {
		// Create new task
		task = &domain.ScheduledTask{
			ID:       id,
			Name:     name,
			Interval: cfg.Interval,
			Enabled:  cfg.Enabled,
			NextRun:  s.now().Add(cfg.Interval),
		}
	} else {
		// Update interval if changed
		if task.Interval != cfg.Interval {
			task.Interval = cfg.Interval
			// Recalculate next run from now
			task.NextRun = s.now().Add(cfg.Interval)
		}
		task.Enabled = cfg.Enabled
	}

	return s.store.SaveTask(ctx, task)
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) error {
	// Check for due tasks immediately on startup
	s.checkAndRunDueTasks(ctx)

	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.checkAndRunDueTasks(ctx)
		}
	}
}

// checkAndRunDueTasks finds and executes tasks that are due.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		log.Printf("scheduler: failed to list tasks: %v", err)
		return
	}

	now := s.now()
	for i := range tasks {
		task := &tasks[i]
		if !task.Enabled {
			continue
		}
		if task.NextRun.IsZero() || task.NextRun.Before(now) || task.NextRun.Equal(now) {
			s.runTask(ctx, task)
		}
	}
}

// runTask executes a single task.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduledTask) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		result := &domain.TaskResult{
			TaskID:    task.ID,
			StartedAt: s.now(),
		}

		var err error
		switch task.ID {
		case domain.TaskIDPendingSync:
			result.ItemsProcessed, err = s.runPendingSync(ctx)
		case domain.TaskIDCacheCleanup:
			result.ItemsProcessed = s.runCacheCleanup()
		default:
			log.Printf("scheduler: unknown task ID: %s", task.ID)
			return
		}

		result.EndedAt = s.now()
		if err != nil {
			result.Success = false
			result.Error = err.Error()
			task.LastError = err.Error()
		} else {
			result.Success = true
			task.LastError = ""
			task.LastSuccess = result.EndedAt
		}

		// Update task state
		task.LastRun = result.StartedAt
		task.NextRun = result.EndedAt.Add(task.Interval)

		if saveErr := s.store.SaveTask(ctx, task); saveErr != nil {
			log.Printf("scheduler: failed to save task %s: %v", task.ID, saveErr)
		}

		// Record result for history
		if recordErr := s.store.RecordResult(ctx, result); recordErr != nil {
			log.Printf("scheduler: failed to record result for %s: %v", task.ID, recordErr)
		}

		if pruneErr := s.store.PruneHistory(ctx, historyRetention); pruneErr != nil {
			log.Printf("scheduler: failed to prune history: %v", pruneErr)
		}
	}()
}

// runPendingSync replays the pending queue. Operations that were dropped
// as permanent failures make the run count as failed.
func (s *Scheduler) runPendingSync(ctx context.Context) (int, error) {
	if s.engine == nil || !s.engine.HasPendingOperations() {
		return 0, nil
	}

	progress := s.engine.SyncPendingOperations(ctx)
	if progress.Failed > 0 {
		return progress.Completed, fmt.Errorf("%d pending operation(s) failed permanently", progress.Failed)
	}
	return progress.Completed, nil
}

// runCacheCleanup sweeps expired entries and enforces the size limit.
func (s *Scheduler) runCacheCleanup() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Cleanup()
}
