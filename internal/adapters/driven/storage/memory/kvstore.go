package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driven"
)

// Ensure KeyValueStore implements the interface.
var _ driven.KeyValueStore = (*KeyValueStore)(nil)

// KeyValueStore is an in-memory implementation of driven.KeyValueStore.
// An optional quota bounds the summed length of keys and values, the
// way browser-style storage does.
type KeyValueStore struct {
	mu     sync.RWMutex
	values map[string]string
	size   int
	quota  int
}

// NewKeyValueStore creates a new unbounded in-memory key/value store.
func NewKeyValueStore() *KeyValueStore {
	return NewKeyValueStoreWithQuota(0)
}

// NewKeyValueStoreWithQuota creates a store that rejects writes once the
// summed length of keys and values would exceed quota. Zero means unbounded.
func NewKeyValueStoreWithQuota(quota int) *KeyValueStore {
	return &KeyValueStore{
		values: make(map[string]string),
		quota:  quota,
	}
}

// Get returns the value stored under key.
func (s *KeyValueStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.values[key]
	return val, ok, nil
}

// Set stores value under key.
func (s *KeyValueStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.size + len(key) + len(value)
	if old, ok := s.values[key]; ok {
		size -= len(key) + len(old)
	}
	if s.quota > 0 && size > s.quota {
		return domain.ErrQuotaExceeded
	}
	s.values[key] = value
	s.size = size
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *KeyValueStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.values[key]; ok {
		s.size -= len(key) + len(old)
		delete(s.values, key)
	}
	return nil
}

// Keys returns every key starting with prefix, sorted.
func (s *KeyValueStore) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored keys.
func (s *KeyValueStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Size returns the summed length of stored keys and values.
func (s *KeyValueStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}
