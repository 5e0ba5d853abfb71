// iface.go defines the KV interface for dependency injection and testing.
//
// The concrete *Store type satisfies this interface. The offset persistence
// layer accepts KV so tests can swap in Memory.
package store

import (
	"sort"
	"sync"
)

// KV is the persistent key-value contract: integer values under string keys.
type KV interface {
	// GetLong returns the value under key, or def if it is missing.
	GetLong(key string, def int64) int64

	// PutLong stores a single value.
	PutLong(key string, value int64) error

	// PutLongs stores several values atomically.
	PutLongs(values map[string]int64) error

	// Delete removes keys; missing keys are ignored.
	Delete(keys ...string) error
}

// Compile-time checks.
var (
	_ KV = (*Store)(nil)
	_ KV = (*Memory)(nil)
)

// Memory is an in-process KV. It forgets everything on exit.
type Memory struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemory returns an empty in-memory KV.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]int64)}
}

func (m *Memory) GetLong(key string, def int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.values[key]; ok {
		return v
	}
	return def
}

func (m *Memory) PutLong(key string, value int64) error {
	return m.PutLongs(map[string]int64{key: value})
}

func (m *Memory) PutLongs(values map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *Memory) Delete(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

// Keys returns all stored keys in lexical order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
