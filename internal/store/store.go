package store

import (
	"sort"
	"strings"
	"sync"
)

// ScopedStore is a small key/value capability used by the OAuth state ledger
// and token vault. Implementations must be safe for concurrent use.
//
// Values are opaque blobs; the store does not interpret them. Keys are
// namespaced by convention (e.g. "oauth:state:{token}", "token:{provider}").
type ScopedStore interface {
	// Get returns the value for key. The second return is false when the
	// key is absent.
	Get(key string) ([]byte, bool, error)

	// Set stores or overwrites the value for key.
	Set(key string, value []byte) error

	// Remove deletes the value for key. Removing an absent key is not an
	// error.
	Remove(key string) error

	// Keys returns all keys with the given prefix, sorted.
	Keys(prefix string) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// MemoryStore is the process-local ScopedStore. It is the universal fallback
// when persistent storage is unavailable and the default for tests. Contents
// do not survive process exit.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get implements ScopedStore.
func (m *MemoryStore) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	// Copy so callers cannot mutate stored state.
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Set implements ScopedStore.
func (m *MemoryStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored
	return nil
}

// Remove implements ScopedStore.
func (m *MemoryStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Keys implements ScopedStore.
func (m *MemoryStore) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements ScopedStore. It is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}
