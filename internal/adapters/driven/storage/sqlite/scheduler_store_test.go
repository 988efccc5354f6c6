package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
)

// ==================== SchedulerStore Tests ====================

func TestSchedulerStore_SaveAndGetTask(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	schedulerStore := store.SchedulerStore()

	now := time.Now().UTC().Truncate(time.Millisecond)
	task := &domain.ScheduledTask{
		ID:          domain.TaskIDPendingSync,
		Name:        "Pending Operation Sync",
		Interval:    5 * time.Minute,
		LastRun:     now.Add(-5 * time.Minute),
		NextRun:     now,
		LastSuccess: now.Add(-5 * time.Minute),
		Enabled:     true,
	}
	require.NoError(t, schedulerStore.SaveTask(ctx, task))

	retrieved, err := schedulerStore.GetTask(ctx, domain.TaskIDPendingSync)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, task.ID, retrieved.ID)
	assert.Equal(t, task.Name, retrieved.Name)
	assert.Equal(t, task.Interval, retrieved.Interval)
	assert.True(t, retrieved.Enabled)
	assert.True(t, task.LastRun.Equal(retrieved.LastRun))
	assert.True(t, task.NextRun.Equal(retrieved.NextRun))
	assert.True(t, task.LastSuccess.Equal(retrieved.LastSuccess))
}

func TestSchedulerStore_GetTask_NotFound(t *testing.T) {
	store := setupTestStore(t)

	task, err := store.SchedulerStore().GetTask(context.Background(), "non-existent")

	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestSchedulerStore_SaveTask_Update(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	schedulerStore := store.SchedulerStore()

	task := &domain.ScheduledTask{
		ID:       domain.TaskIDCacheCleanup,
		Name:     "Cache Cleanup",
		Interval: time.Hour,
		Enabled:  true,
	}
	require.NoError(t, schedulerStore.SaveTask(ctx, task))

	task.Interval = 2 * time.Hour
	task.LastError = "clear expired entries: disk I/O error"
	task.Enabled = false
	require.NoError(t, schedulerStore.SaveTask(ctx, task))

	retrieved, err := schedulerStore.GetTask(ctx, domain.TaskIDCacheCleanup)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, retrieved.Interval)
	assert.Equal(t, task.LastError, retrieved.LastError)
	assert.False(t, retrieved.Enabled)
}

func TestSchedulerStore_NilArguments(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	schedulerStore := store.SchedulerStore()

	assert.ErrorIs(t, schedulerStore.SaveTask(ctx, nil), domain.ErrInvalidInput)
	assert.ErrorIs(t, schedulerStore.RecordResult(ctx, nil), domain.ErrInvalidInput)
}

func TestSchedulerStore_ListTasks(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	schedulerStore := store.SchedulerStore()

	tasks, err := schedulerStore.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	for _, id := range []string{domain.TaskIDPendingSync, domain.TaskIDCacheCleanup} {
		require.NoError(t, schedulerStore.SaveTask(ctx, &domain.ScheduledTask{ID: id, Name: id, Interval: time.Minute}))
	}

	tasks, err = schedulerStore.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, domain.TaskIDCacheCleanup, tasks[0].ID)
	assert.Equal(t, domain.TaskIDPendingSync, tasks[1].ID)
}

func TestSchedulerStore_DeleteTask(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	schedulerStore := store.SchedulerStore()

	require.NoError(t, schedulerStore.SaveTask(ctx, &domain.ScheduledTask{ID: "to-delete", Name: "x", Interval: time.Hour}))
	require.NoError(t, schedulerStore.DeleteTask(ctx, "to-delete"))

	retrieved, err := schedulerStore.GetTask(ctx, "to-delete")
	require.NoError(t, err)
	assert.Nil(t, retrieved)
}

func TestSchedulerStore_TaskHistory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	schedulerStore := store.SchedulerStore()

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, schedulerStore.RecordResult(ctx, &domain.TaskResult{
		TaskID:         domain.TaskIDPendingSync,
		StartedAt:      now.Add(-time.Minute),
		EndedAt:        now.Add(-time.Minute + 200*time.Millisecond),
		Success:        true,
		ItemsProcessed: 4,
	}))
	require.NoError(t, schedulerStore.RecordResult(ctx, &domain.TaskResult{
		TaskID:    domain.TaskIDPendingSync,
		StartedAt: now,
		EndedAt:   now.Add(time.Second),
		Error:     "1 pending operation(s) failed permanently",
	}))

	history, err := schedulerStore.GetTaskHistory(ctx, domain.TaskIDPendingSync, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.False(t, history[0].Success)
	assert.Equal(t, "1 pending operation(s) failed permanently", history[0].Error)
	assert.True(t, history[0].StartedAt.Equal(now))
	assert.True(t, history[1].Success)
	assert.Equal(t, 4, history[1].ItemsProcessed)

	other, err := schedulerStore.GetTaskHistory(ctx, domain.TaskIDCacheCleanup, 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSchedulerStore_PruneHistory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	schedulerStore := store.SchedulerStore()

	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 10; i++ {
		require.NoError(t, schedulerStore.RecordResult(ctx, &domain.TaskResult{
			TaskID:         domain.TaskIDPendingSync,
			StartedAt:      now.Add(time.Duration(i) * time.Minute),
			EndedAt:        now.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Success:        true,
			ItemsProcessed: i + 1,
		}))
	}
	require.NoError(t, schedulerStore.RecordResult(ctx, &domain.TaskResult{
		TaskID:    domain.TaskIDCacheCleanup,
		StartedAt: now,
		EndedAt:   now,
		Success:   true,
	}))

	require.NoError(t, schedulerStore.PruneHistory(ctx, 3))

	history, err := schedulerStore.GetTaskHistory(ctx, domain.TaskIDPendingSync, 100)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 10, history[0].ItemsProcessed)
	assert.Equal(t, 9, history[1].ItemsProcessed)
	assert.Equal(t, 8, history[2].ItemsProcessed)

	cleanup, err := schedulerStore.GetTaskHistory(ctx, domain.TaskIDCacheCleanup, 100)
	require.NoError(t, err)
	assert.Len(t, cleanup, 1, "pruning is per task")
}

func TestSchedulerStore_TaskWithZeroTimes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	schedulerStore := store.SchedulerStore()

	require.NoError(t, schedulerStore.SaveTask(ctx, &domain.ScheduledTask{ID: "new", Name: "New Task", Interval: time.Hour}))

	retrieved, err := schedulerStore.GetTask(ctx, "new")
	require.NoError(t, err)
	assert.True(t, retrieved.LastRun.IsZero())
	assert.True(t, retrieved.NextRun.IsZero())
	assert.True(t, retrieved.LastSuccess.IsZero())
}

// ==================== Helper Function Tests ====================

func TestFormatTime(t *testing.T) {
	assert.Nil(t, formatTime(time.Time{}))

	at := time.Date(2024, 3, 1, 12, 0, 0, 5_000_000, time.FixedZone("CET", 3600))
	assert.Equal(t, "2024-03-01T11:00:00.005Z", formatTime(at))
}

func TestParseTime(t *testing.T) {
	assert.True(t, parseTime(sql.NullString{}).IsZero())
	assert.True(t, parseTime(sql.NullString{String: "yesterday", Valid: true}).IsZero())

	got := parseTime(sql.NullString{String: "2024-03-01T11:00:00.005Z", Valid: true})
	assert.Equal(t, time.Date(2024, 3, 1, 11, 0, 0, 5_000_000, time.UTC), got)
}

func TestNullString(t *testing.T) {
	assert.Nil(t, nullString(""))
	assert.Equal(t, "hello", nullString("hello"))
}

func TestBoolToInt(t *testing.T) {
	assert.Equal(t, 1, boolToInt(true))
	assert.Equal(t, 0, boolToInt(false))
}
