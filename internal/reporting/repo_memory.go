package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"consult-platform/internal/session"
	"consult-platform/internal/wallet"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early
// development.
type MemoryRepo struct {
	mu sync.Mutex

	Sessions []session.Session
	Entries  []wallet.Entry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListSessions(ctx context.Context, userID string, from, to time.Time) ([]session.Session, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.Session, 0)
	for _, c := range r.Sessions {
		if !c.HasParticipant(userID) {
			continue
		}
		if !c.CreatedAt.IsZero() {
			if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) ListWalletEntries(ctx context.Context, userID string, from, to time.Time) ([]wallet.Entry, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wallet.Entry, 0)
	for _, e := range r.Entries {
		if e.UserID != userID {
			continue
		}
		if !e.CreatedAt.IsZero() {
			if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}
