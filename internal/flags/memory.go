package flags

import (
	"context"
	"maps"
	"sync"
)

// Memory is an in-process flag store, seeded from config.
type Memory struct {
	mu     sync.RWMutex
	values map[string]bool
}

// NewMemory copies values into a new store.
func NewMemory(values map[string]bool) *Memory {
	m := &Memory{values: make(map[string]bool, len(values))}
	maps.Copy(m.values, values)
	return m
}

func (m *Memory) GetBool(_ context.Context, key string) (bool, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set stores a value.
func (m *Memory) Set(key string, value bool) {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
}

// Delete removes a key.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
}

// replace swaps the whole map.
func (m *Memory) replace(values map[string]bool) {
	m.mu.Lock()
	m.values = values
	m.mu.Unlock()
}
