package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries caps a cache backend.
const DefaultMaxEntries = 1000

// MemoryBackend keeps entries in a bounded LRU. Reads use Peek, so recency
// is never refreshed and capacity eviction drops the oldest insert first.
type MemoryBackend struct {
	entries *lru.Cache[string, *Entry]
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates a backend holding at most maxEntries.
func NewMemoryBackend(maxEntries int) (*MemoryBackend, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	entries, err := lru.New[string, *Entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &MemoryBackend{entries: entries}, nil
}

// Get returns the entry for key.
func (m *MemoryBackend) Get(_ context.Context, key string) (*Entry, error) {
	e, ok := m.entries.Peek(key)
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Set stores e.
func (m *MemoryBackend) Set(_ context.Context, e *Entry) (int, error) {
	// Re-adding moves the key to the newest position.
	m.entries.Remove(e.Key)
	if m.entries.Add(e.Key, e) {
		return 1, nil
	}
	return 0, nil
}

// Delete removes keys.
func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.entries.Remove(k)
	}
	return nil
}

// Scan visits entries newest first.
func (m *MemoryBackend) Scan(ctx context.Context, limit int, fn func(*Entry) bool) error {
	keys := m.entries.Keys() // oldest to newest
	visited := 0
	for i := len(keys) - 1; i >= 0; i-- {
		if limit > 0 && visited >= limit {
			return nil
		}
		if visited%100 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		e, ok := m.entries.Peek(keys[i])
		if !ok {
			continue
		}
		visited++
		if !fn(e) {
			return nil
		}
	}
	return nil
}

// Len returns the number of entries.
func (m *MemoryBackend) Len() int {
	return m.entries.Len()
}

// Clear removes every entry.
func (m *MemoryBackend) Clear(_ context.Context) error {
	m.entries.Purge()
	return nil
}

// Close drops all entries.
func (m *MemoryBackend) Close() error {
	m.entries.Purge()
	return nil
}
