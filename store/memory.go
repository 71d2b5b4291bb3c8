package store

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-vault-bridge/core"
)

// Memory is a process-local KVStore. It backs tests and single-node
// deployments; shared deployments use the SQL-backed store instead.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{items: map[string][]byte{}}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, core.ErrKeyNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.items[key]
	if !ok {
		return nil, core.ErrKeyNotFound
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return core.ErrKeyNotFound
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	m.mu.Lock()
	m.items[key] = copied
	m.mu.Unlock()
	return nil
}

func (m *Memory) PutIfAbsent(_ context.Context, key string, value []byte) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, core.ErrKeyNotFound
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[key]; exists {
		return false, nil
	}
	m.items[key] = copied
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Keys lists stored keys with the given prefix, in no particular order.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Len reports the number of stored keys. Test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

var _ core.KVStore = (*Memory)(nil)
