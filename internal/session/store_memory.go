package session

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory session store for tests and early development.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Create(ctx context.Context, s Session) error {
	if s.ID == "" {
		return ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrAlreadyExists
	}
	m.sessions[s.ID] = clone(s)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) UpdateIf(ctx context.Context, s Session, expect Status) error {
	if s.Status != expect && !CanTransition(expect, s.Status) {
		return ErrIllegalTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expect {
		return ErrConflict
	}
	m.sessions[s.ID] = clone(s)
	return nil
}

func (m *MemoryStore) FindActiveByUser(ctx context.Context, userID string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Status.Active() && s.HasParticipant(userID) {
			return clone(s), true, nil
		}
	}
	return Session{}, false, nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, statuses ...Status) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0)
	for _, s := range m.sessions {
		for _, st := range statuses {
			if s.Status == st {
				out = append(out, clone(s))
				break
			}
		}
	}
	return out, nil
}

// clone copies the session so callers cannot alias stored timestamps.
func clone(s Session) Session {
	out := s
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return out
}
