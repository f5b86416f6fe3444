package tips

import (
	"context"
	"sync"
)

// MemoryStore is an in-process tip store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Append(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *MemoryStore) FindByKey(ctx context.Context, sessionID, key string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.SessionID == sessionID && r.IdempotencyKey == key {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

func (m *MemoryStore) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0)
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}
