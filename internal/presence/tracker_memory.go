package presence

import (
	"context"
	"sync"
)

// MemoryTracker is an in-process tracker for tests and early development.
type MemoryTracker struct {
	mu     sync.Mutex
	status map[string]Status
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{status: make(map[string]Status)}
}

func (m *MemoryTracker) Get(ctx context.Context, userID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.status[userID]; ok {
		return s, nil
	}
	return StatusOffline, nil
}

func (m *MemoryTracker) Set(ctx context.Context, userID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[userID] = status
	return nil
}
