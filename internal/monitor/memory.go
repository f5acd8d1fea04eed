package monitor

import (
	"context"
	"sync"

	"github.com/loom-platform/loom/infrastructure/errors"
)

// MemoryStore is an in-memory Store, used by tests and as a starting point
// before a durable backend is wired in.
type MemoryStore struct {
	mu       sync.RWMutex
	monitors map[string]Monitor // key: ping_key
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{monitors: make(map[string]Monitor)}
}

// Put seeds or replaces a monitor, keyed by its ping key.
func (m *MemoryStore) Put(mon Monitor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitors[mon.PingKey] = mon
}

// GetByPingKey implements Store.
func (m *MemoryStore) GetByPingKey(ctx context.Context, pingKey string) (Monitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mon, ok := m.monitors[pingKey]
	if !ok {
		return Monitor{}, errors.NotFound("monitor", pingKey)
	}
	return mon, nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, mon Monitor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitors[mon.PingKey] = mon
	return nil
}

// ListAll implements Store.
func (m *MemoryStore) ListAll(ctx context.Context) ([]Monitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Monitor, 0, len(m.monitors))
	for _, mon := range m.monitors {
		out = append(out, mon)
	}
	return out, nil
}
