package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process cache. Entries expire lazily on read.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]record
	now     func() time.Time
}

// NewMemory returns an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]record),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	rec, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || !rec.live(m.now()) {
		return "", false, nil
	}

	return rec.Value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = newRecord(value, ttl, m.now())
	m.mu.Unlock()

	return nil
}
