package transport

import (
	"context"
	"sync"

	"consult-platform/internal/session"
)

// Noop is a transport that accepts every request and emits no events.
// Used in local wiring and as a base for test fakes.
type Noop struct {
	mu      sync.Mutex
	handler EventHandler
}

func NewNoop() *Noop { return &Noop{} }

func (n *Noop) Name() string { return "noop" }

func (n *Noop) Ring(ctx context.Context, s session.Session) error { return nil }

func (n *Noop) Accept(ctx context.Context, s session.Session) error { return nil }

func (n *Noop) Leave(ctx context.Context, sessionID, userID string) error { return nil }

func (n *Noop) Subscribe(h EventHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handler = h
}

// Emit delivers an event to the subscribed handler, if any. Test helper.
func (n *Noop) Emit(ctx context.Context, ev Event) {
	n.mu.Lock()
	h := n.handler
	n.mu.Unlock()
	if h != nil {
		h(ctx, ev)
	}
}
