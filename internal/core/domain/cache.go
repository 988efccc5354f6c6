package domain

import (
	"encoding/json"
	"time"
)

// CacheVersion is stamped on every entry written by this build.
const CacheVersion = "1"

// CacheEntry is the serialised envelope stored for every cache key.
type CacheEntry struct {
	// Data is the cached value as JSON.
	Data json.RawMessage `json:"data"`

	// Timestamp is the write time in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`

	// TTL is the lifetime in milliseconds. Zero means the entry never
	// expires by time.
	TTL int64 `json:"ttl,omitempty"`

	// Version identifies the envelope format.
	Version string `json:"version,omitempty"`
}

// Expired reports whether the entry's TTL has elapsed at now.
// An entry is still readable when its age equals its TTL.
func (e *CacheEntry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.UnixMilli()-e.Timestamp > e.TTL
}

// CacheMetrics summarises the cache contents.
type CacheMetrics struct {
	TotalEntries int
	// TotalSize is an estimate: the summed length of serialised entries,
	// not bytes on disk.
	TotalSize   int
	OldestEntry time.Time
	NewestEntry time.Time
}

// CacheConfig configures the cache store.
type CacheConfig struct {
	// TTL is the default entry lifetime.
	TTL time.Duration

	// MaxSize is the entry count the cleanup sweep evicts down to.
	MaxSize int

	// Prefix namespaces every key in the backing storage.
	Prefix string
}

// DefaultCacheConfig returns the cache defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:     24 * time.Hour,
		MaxSize: 1000,
		Prefix:  "medplum",
	}
}
