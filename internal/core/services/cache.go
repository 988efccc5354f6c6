package services

import (
	"encoding/json"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driven"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driving"
	"github.com/custodia-labs/fhirsync/internal/logger"
)

// Ensure CacheStore implements the interface.
var _ driving.CacheService = (*CacheStore)(nil)

// cleanupThreshold is the fill ratio above which Set triggers a sweep.
const cleanupThreshold = 0.8

// CacheStore is TTL-aware, namespaced storage over a KeyValueStore.
// Every entry is wrapped in a domain.CacheEntry envelope. Entries written
// without a TTL are never evicted for capacity; the pending-operation
// queue relies on this.
type CacheStore struct {
	kv     driven.KeyValueStore
	config domain.CacheConfig
	now    func() time.Time

	cleaning atomic.Bool
}

// NewCacheStore creates a cache store. Zero config fields take defaults.
func NewCacheStore(kv driven.KeyValueStore, config domain.CacheConfig) *CacheStore {
	defaults := domain.DefaultCacheConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaults.MaxSize
	}
	if config.Prefix == "" {
		config.Prefix = defaults.Prefix
	}
	return &CacheStore{
		kv:     kv,
		config: config,
		now:    time.Now,
	}
}

// Config returns the effective configuration.
func (c *CacheStore) Config() domain.CacheConfig {
	return c.config
}

func (c *CacheStore) fullKey(key string) string {
	return c.config.Prefix + "." + key
}

func (c *CacheStore) namespace() string {
	return c.config.Prefix + "."
}

// Set stores value under key with the default TTL.
func (c *CacheStore) Set(key string, value any) bool {
	return c.SetWithTTL(key, value, c.config.TTL)
}

// SetWithTTL stores value under key. A ttl <= 0 never expires.
func (c *CacheStore) SetWithTTL(key string, value any, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		logger.Warn("cache: encode %s: %v", key, err)
		return false
	}

	entry := domain.CacheEntry{
		Data:      data,
		Timestamp: c.now().UnixMilli(),
		Version:   domain.CacheVersion,
	}
	if ttl > 0 {
		entry.TTL = ttl.Milliseconds()
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		logger.Warn("cache: encode entry %s: %v", key, err)
		return false
	}

	if err := c.kv.Set(c.fullKey(key), string(raw)); err != nil {
		logger.Warn("cache: write %s: %v", key, err)
		return false
	}

	c.maybeCleanup()
	return true
}

// maybeCleanup sweeps when the store is above the fill threshold.
func (c *CacheStore) maybeCleanup() {
	if c.cleaning.Load() {
		return
	}
	keys, err := c.kv.Keys(c.namespace())
	if err != nil {
		return
	}
	if float64(len(keys)) > float64(c.config.MaxSize)*cleanupThreshold {
		c.Cleanup()
	}
}

// readEntry loads and decodes the envelope at a full storage key.
// Returns the raw text so callers can size it.
func (c *CacheStore) readEntry(fullKey string) (*domain.CacheEntry, string, bool, error) {
	raw, ok, err := c.kv.Get(fullKey)
	if err != nil || !ok {
		return nil, "", ok, err
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, raw, true, err
	}
	return &entry, raw, true, nil
}

// Get decodes the value under key into dst. A nil dst only checks presence.
func (c *CacheStore) Get(key string, dst any) bool {
	full := c.fullKey(key)
	entry, _, ok, err := c.readEntry(full)
	if !ok {
		if err != nil {
			logger.Warn("cache: read %s: %v", key, err)
		}
		return false
	}
	if err != nil {
		logger.Warn("cache: corrupted entry %s removed: %v", key, err)
		c.remove(full)
		return false
	}
	if entry.Expired(c.now()) {
		logger.Debug("cache: entry %s expired", key)
		c.remove(full)
		return false
	}
	if dst != nil {
		if err := json.Unmarshal(entry.Data, dst); err != nil {
			logger.Warn("cache: corrupted value %s removed: %v", key, err)
			c.remove(full)
			return false
		}
	}
	return true
}

func (c *CacheStore) remove(fullKey string) bool {
	if err := c.kv.Delete(fullKey); err != nil {
		logger.Warn("cache: delete %s: %v", fullKey, err)
		return false
	}
	return true
}

// Delete removes key.
func (c *CacheStore) Delete(key string) bool {
	return c.remove(c.fullKey(key))
}

// Has reports whether Get would hit.
func (c *CacheStore) Has(key string) bool {
	return c.Get(key, nil)
}

func resourceKey(resourceType, id string) string {
	return resourceType + "." + id
}

func listKey(resourceType, queryKey string) string {
	return resourceType + ".list." + queryKey
}

// CacheResource stores a resource under "<type>.<id>".
func (c *CacheStore) CacheResource(r domain.Resource) bool {
	if r.ResourceType() == "" || r.ID() == "" {
		logger.Warn("cache: refusing to cache resource without resourceType and id")
		return false
	}
	return c.Set(resourceKey(r.ResourceType(), r.ID()), r)
}

// GetCachedResource returns the resource cached under "<type>.<id>".
func (c *CacheStore) GetCachedResource(resourceType, id string) (domain.Resource, bool) {
	var r domain.Resource
	if !c.Get(resourceKey(resourceType, id), &r) {
		return nil, false
	}
	return r, true
}

// CacheResourceList caches each resource and, if queryKey is set, the
// ordered list. Lists get half the default TTL since they go stale faster
// than individual records.
func (c *CacheStore) CacheResourceList(resourceType string, resources []domain.Resource, queryKey string) bool {
	ok := true
	for _, r := range resources {
		if !c.CacheResource(r) {
			ok = false
		}
	}
	if queryKey != "" {
		if resources == nil {
			resources = []domain.Resource{}
		}
		if !c.SetWithTTL(listKey(resourceType, queryKey), resources, c.config.TTL/2) {
			ok = false
		}
	}
	return ok
}

// GetCachedResourceList returns the list cached for queryKey.
func (c *CacheStore) GetCachedResourceList(resourceType, queryKey string) ([]domain.Resource, bool) {
	var list []domain.Resource
	if !c.Get(listKey(resourceType, queryKey), &list) {
		return nil, false
	}
	return list, true
}

// InvalidateResourceType removes every entry of a resource type,
// including its lists.
func (c *CacheStore) InvalidateResourceType(resourceType string) int {
	return c.removePrefix(c.fullKey(resourceType + "."))
}

// InvalidateLists removes only the cached lists of a resource type.
func (c *CacheStore) InvalidateLists(resourceType string) int {
	return c.removePrefix(c.fullKey(resourceType + ".list."))
}

// Clear removes every entry under the store's prefix, pending operations included.
func (c *CacheStore) Clear() int {
	return c.removePrefix(c.namespace())
}

func (c *CacheStore) removePrefix(prefix string) int {
	keys, err := c.kv.Keys(prefix)
	if err != nil {
		logger.Warn("cache: list keys %s: %v", prefix, err)
		return 0
	}
	removed := 0
	for _, k := range keys {
		if c.remove(k) {
			removed++
		}
	}
	return removed
}

// liveEntry is a surviving entry considered for capacity eviction.
type liveEntry struct {
	key       string
	timestamp int64
	pinned    bool
}

// Cleanup removes expired and corrupted entries, then evicts the oldest
// entries until the store holds at most MaxSize. Entries without a TTL
// count towards the size but are never evicted.
func (c *CacheStore) Cleanup() int {
	if !c.cleaning.CompareAndSwap(false, true) {
		return 0
	}
	defer c.cleaning.Store(false)

	keys, err := c.kv.Keys(c.namespace())
	if err != nil {
		logger.Warn("cache: cleanup list keys: %v", err)
		return 0
	}

	now := c.now()
	removed := 0
	live := make([]liveEntry, 0, len(keys))

	for _, k := range keys {
		entry, _, ok, err := c.readEntry(k)
		if !ok {
			continue
		}
		if err != nil || entry.Expired(now) {
			if c.remove(k) {
				removed++
			}
			continue
		}
		live = append(live, liveEntry{key: k, timestamp: entry.Timestamp, pinned: entry.TTL <= 0})
	}

	excess := len(live) - c.config.MaxSize
	if excess > 0 {
		sort.SliceStable(live, func(i, j int) bool {
			if live[i].timestamp != live[j].timestamp {
				return live[i].timestamp < live[j].timestamp
			}
			return strings.Compare(live[i].key, live[j].key) < 0
		})
		for _, e := range live {
			if excess == 0 {
				break
			}
			if e.pinned {
				continue
			}
			if c.remove(e.key) {
				removed++
				excess--
			}
		}
	}

	if removed > 0 {
		logger.Debug("cache: cleanup removed %d entries", removed)
	}
	return removed
}

// Metrics summarises the store contents. TotalSize is the summed length
// of the serialised entries, an estimate rather than bytes on disk.
func (c *CacheStore) Metrics() domain.CacheMetrics {
	var m domain.CacheMetrics

	keys, err := c.kv.Keys(c.namespace())
	if err != nil {
		logger.Warn("cache: metrics list keys: %v", err)
		return m
	}

	var oldest, newest int64
	for _, k := range keys {
		entry, raw, ok, err := c.readEntry(k)
		if !ok || err != nil {
			continue
		}
		m.TotalEntries++
		m.TotalSize += len(raw)
		if oldest == 0 || entry.Timestamp < oldest {
			oldest = entry.Timestamp
		}
		if entry.Timestamp > newest {
			newest = entry.Timestamp
		}
	}
	if m.TotalEntries > 0 {
		m.OldestEntry = time.UnixMilli(oldest)
		m.NewestEntry = time.UnixMilli(newest)
	}
	return m
}
