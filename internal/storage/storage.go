// Package storage provides the key/value store the tracker persists to.
// Values are opaque strings, mirroring browser local storage, so every
// client sharing a storage directory sees the same keys.
package storage

import (
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage closed")

// ErrCorrupt is returned when the storage document cannot be parsed. The
// next write replaces it.
var ErrCorrupt = errors.New("storage file corrupt")

// Store is a string key/value store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	// Set writes a value.
	Set(key, value string) error
	// Remove deletes keys. Missing keys are ignored.
	Remove(keys ...string) error
	// Update runs fn on the current items and writes back whatever fn
	// leaves in the map, as one atomic step.
	Update(fn func(items map[string]string)) error
}

// Snapshot is the full content of a store as last written.
type Snapshot struct {
	Origin string            `json:"origin"`
	Items  map[string]string `json:"items"`
}

// MemoryStore is an in-process Store used by tests and by sessions
// started without a storage directory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
	fail  error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

// Get implements Store.
func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail != nil {
		return "", false, m.fail
	}
	v, ok := m.items[key]
	return v, ok, nil
}

// Set implements Store.
func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.items[key] = value
	return nil
}

// Remove implements Store.
func (m *MemoryStore) Remove(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

// Update implements Store.
func (m *MemoryStore) Update(fn func(items map[string]string)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	fn(m.items)
	return nil
}

// FailWith makes every subsequent operation return err. Pass nil to
// restore normal behavior.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}
