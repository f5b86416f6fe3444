package recovery

import (
	"context"
	"sync"
	"time"
)

// MemoryPointerStore is an in-process pointer store for tests.
type MemoryPointerStore struct {
	mu       sync.Mutex
	pointers map[string]Pointer
}

func NewMemoryPointerStore() *MemoryPointerStore {
	return &MemoryPointerStore{pointers: make(map[string]Pointer)}
}

func (m *MemoryPointerStore) Set(ctx context.Context, userID string, p Pointer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pointers[userID] = p
	return nil
}

func (m *MemoryPointerStore) Get(ctx context.Context, userID string) (Pointer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pointers[userID]
	return p, ok, nil
}

func (m *MemoryPointerStore) ClearIf(ctx context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pointers[userID]; ok && p.SessionID == sessionID {
		delete(m.pointers, userID)
	}
	return nil
}

// MemoryHeartbeatStore tracks liveness deadlines in memory. The clock is
// injectable for deterministic watchdog tests.
type MemoryHeartbeatStore struct {
	mu        sync.Mutex
	deadlines map[string]time.Time
	Clock     func() time.Time
}

func NewMemoryHeartbeatStore() *MemoryHeartbeatStore {
	return &MemoryHeartbeatStore{
		deadlines: make(map[string]time.Time),
		Clock:     time.Now,
	}
}

func beatKey(sessionID, userID string) string {
	return sessionID + "|" + userID
}

func (m *MemoryHeartbeatStore) Beat(ctx context.Context, sessionID, userID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlines[beatKey(sessionID, userID)] = m.Clock().Add(ttl)
	return nil
}

func (m *MemoryHeartbeatStore) Alive(ctx context.Context, sessionID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.deadlines[beatKey(sessionID, userID)]
	if !ok {
		return false, nil
	}
	return m.Clock().Before(dl), nil
}

// Expire drops a participant's heartbeat immediately. Test helper.
func (m *MemoryHeartbeatStore) Expire(sessionID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadlines, beatKey(sessionID, userID))
}
