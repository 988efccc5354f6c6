package sqlite

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a SQLite store in a temporary directory.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

// ==================== Store Creation Tests ====================

func TestNewStore_InvalidDirectory(t *testing.T) {
	_, err := NewStore("/invalid\x00path")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating data directory")
}

func TestNewStore_Success(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, filepath.Join(dir, "fhirsync.db"), store.Path())
	assert.FileExists(t, store.Path())
	assert.NoError(t, store.db.Ping())
}

func TestNewStore_DefaultDirectory(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	store, err := NewStore("")
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, filepath.Join(home, ".fhirsync", "data", "fhirsync.db"), store.Path())
}

func TestNewStore_NestedDirectory(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "nested", "path")

	store, err := NewStore(nested)
	require.NoError(t, err)
	defer store.Close()

	assert.DirExists(t, nested)
}

func TestNewStore_Migrations(t *testing.T) {
	store := setupTestStore(t)

	var version int
	require.NoError(t, store.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 1, version)

	for _, table := range []string{"cache_entries", "scheduled_tasks", "task_results"} {
		var exists int
		err := store.db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.Equal(t, 1, exists, "table %s should exist", table)
	}
}

func TestNewStore_ReopenSkipsAppliedMigrations(t *testing.T) {
	dir := t.TempDir()

	first, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewStore(dir)
	require.NoError(t, err)
	defer second.Close()

	var count int
	require.NoError(t, second.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestStore_MigrateFailureRollsBack(t *testing.T) {
	store := setupTestStore(t)

	broken := fstest.MapFS{
		"002_broken.up.sql": {Data: []byte("CREATE TABLE extra (id TEXT); NOT SQL;")},
		"notes.txt":         {Data: []byte("ignored")},
	}

	err := store.migrate(broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "002_broken.up.sql")

	var version int
	require.NoError(t, store.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 1, version)
}

func TestStore_Close(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Close())
	assert.Error(t, store.db.Ping())
}

func TestStore_InterfaceGetters(t *testing.T) {
	store := setupTestStore(t)

	assert.NotNil(t, store.KeyValueStore())
	assert.NotNil(t, store.SchedulerStore())
}

// ==================== KeyValueStore Tests ====================

func TestKeyValueStore_SetGetDelete(t *testing.T) {
	kv := setupTestStore(t).KeyValueStore()

	_, ok, err := kv.Get("medplum_Patient_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set("medplum_Patient_1", `{"data":{"id":"1"}}`))
	value, ok, err := kv.Get("medplum_Patient_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"data":{"id":"1"}}`, value)

	require.NoError(t, kv.Set("medplum_Patient_1", `{"data":{"id":"1","active":true}}`))
	value, _, err = kv.Get("medplum_Patient_1")
	require.NoError(t, err)
	assert.Equal(t, `{"data":{"id":"1","active":true}}`, value)

	require.NoError(t, kv.Delete("medplum_Patient_1"))
	require.NoError(t, kv.Delete("medplum_Patient_1"), "deleting a missing key is not an error")
	_, ok, err = kv.Get("medplum_Patient_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyValueStore_KeysByPrefix(t *testing.T) {
	kv := setupTestStore(t).KeyValueStore()

	for _, key := range []string{"medplum_b", "medplum_a", "other_a", "medplum%_x", "med"} {
		require.NoError(t, kv.Set(key, "{}"))
	}

	keys, err := kv.Keys("medplum_")
	require.NoError(t, err)
	assert.Equal(t, []string{"medplum_a", "medplum_b"}, keys)

	// Wildcard characters in the prefix are literal
	keys, err = kv.Keys("medplum%")
	require.NoError(t, err)
	assert.Equal(t, []string{"medplum%_x"}, keys)

	keys, err = kv.Keys("")
	require.NoError(t, err)
	assert.Len(t, keys, 5)
}

func TestKeyValueStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	first, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.KeyValueStore().Set("medplum_pending_Patient", `[{"id":"op-1"}]`))
	require.NoError(t, first.Close())

	second, err := NewStore(dir)
	require.NoError(t, err)
	defer second.Close()

	value, ok, err := second.KeyValueStore().Get("medplum_pending_Patient")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"id":"op-1"}]`, value)
}
