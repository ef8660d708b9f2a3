package kvstore

import (
	"context"
	"sync"
)

// Memory is an in-process store with an optional byte budget. A zero budget
// means unlimited.
type Memory struct {
	mu       sync.RWMutex
	data     map[string]string
	used     int64
	maxBytes int64
}

// NewMemory creates an empty in-memory store
func NewMemory(maxBytes int64) *Memory {
	return &Memory{
		data:     make(map[string]string),
		maxBytes: maxBytes,
	}
}

// Get implements Store
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements Store. The write is rejected whole when it would push usage
// past the budget.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := int64(len(key) + len(value))
	if old, ok := m.data[key]; ok {
		delta -= int64(len(key) + len(old))
	}
	if m.maxBytes > 0 && m.used+delta > m.maxBytes {
		return ErrQuotaExceeded
	}
	m.data[key] = value
	m.used += delta
	return nil
}

// Remove implements Store
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data[key]; ok {
		m.used -= int64(len(key) + len(old))
		delete(m.data, key)
	}
	return nil
}

// EstimateUsedBytes implements Store
func (m *Memory) EstimateUsedBytes(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used, nil
}

// Len returns the number of stored keys
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
