package wallet

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory wallet store for tests and early development.
type MemoryStore struct {
	mu     sync.Mutex
	byUser map[string]*walletState
}

type walletState struct {
	balance Balance
	entries []Entry
	byKey   map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUser: make(map[string]*walletState)}
}

func (m *MemoryStore) state(userID string) *walletState {
	st, ok := m.byUser[userID]
	if !ok {
		st = &walletState{
			balance: Balance{UserID: userID, Amount: decimal.Zero},
			byKey:   make(map[string]Entry),
		}
		m.byUser[userID] = st
	}
	return st
}

func (m *MemoryStore) Balance(ctx context.Context, userID string) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(userID).balance, nil
}

func (m *MemoryStore) FindByIdempotency(ctx context.Context, userID, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.state(userID).byKey[key]
	return e, ok, nil
}

func (m *MemoryStore) Append(ctx context.Context, e Entry, newBalance Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(e.UserID)
	st.entries = append(st.entries, e)
	st.byKey[e.IdempotencyKey] = e
	st.balance = newBalance
	return nil
}

// Entries returns a copy of the user's ledger, oldest first. Test helper.
func (m *MemoryStore) Entries(userID string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(userID)
	out := make([]Entry, len(st.entries))
	copy(out, st.entries)
	return out
}
