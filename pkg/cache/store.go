package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrEmptyEntry indicates an attempt to cache an empty payload
	ErrEmptyEntry = errors.New("empty cache entry")
)

// Store is a key to image-bytes cache. Implementations are safe for
// concurrent use and never hold a lock across I/O of their callers.
type Store interface {
	// Get returns the cached bytes or ErrCacheMiss.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores data under key. Bytes at a key are immutable, so a store
	// may either keep or replace an existing entry.
	Set(ctx context.Context, key Key, data []byte) error

	// Len returns the number of cached entries.
	Len(ctx context.Context) (int, error)
}

// MemoryStore is an unbounded in-process Store guarded by a RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Key][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[Key][]byte),
	}
}

// Get returns a copy of an entry under the shared lock.
func (s *MemoryStore) Get(_ context.Context, key Key) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		CacheMisses.WithLabelValues(LayerMemory).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(LayerMemory).Inc()
	return bytes.Clone(data), nil
}

// Set stores a copy of data under the exclusive lock.
func (s *MemoryStore) Set(_ context.Context, key Key, data []byte) error {
	if len(data) == 0 {
		CacheErrors.WithLabelValues("set").Inc()
		return ErrEmptyEntry
	}

	data = bytes.Clone(data)

	s.mu.Lock()
	old, replaced := s.entries[key]
	s.entries[key] = data
	s.mu.Unlock()

	if replaced {
		CacheSize.WithLabelValues(LayerMemory).Add(float64(len(data) - len(old)))
	} else {
		CacheEntries.WithLabelValues(LayerMemory).Inc()
		CacheSize.WithLabelValues(LayerMemory).Add(float64(len(data)))
	}
	return nil
}

// Len returns the number of entries.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Keys returns a snapshot of the cached keys in no particular order.
func (s *MemoryStore) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}
