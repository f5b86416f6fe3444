package transport

import (
	"context"
	"time"

	"consult-platform/internal/session"
)

// Transport is the provider-agnostic interface to the real-time media
// provider.
//
// Rules:
// - No provider SDK calls outside transport adapters.
// - This core only asks the provider to ring, accept and leave, and consumes
//   its lifecycle events. Media negotiation, codecs and room internals stay
//   behind the adapter.
type Transport interface {
	Name() string

	// Ring asks the provider to deliver an incoming-call signal to the
	// callee's devices.
	Ring(ctx context.Context, s session.Session) error

	// Accept asks the provider to bridge both parties.
	Accept(ctx context.Context, s session.Session) error

	// Leave removes a participant from the provider-side call. Safe to call
	// for participants that already left.
	Leave(ctx context.Context, sessionID, userID string) error

	// Subscribe registers the handler for provider lifecycle events.
	// At most one handler is supported; later calls replace it.
	Subscribe(h EventHandler)
}

// Event is a provider lifecycle notification.
type Event struct {
	SessionID string
	UserID    string
	Kind      EventKind

	// OccurredAt is the provider event time.
	OccurredAt time.Time
}

type EventKind string

const (
	EventAccepted EventKind = "accepted"
	EventRejected EventKind = "rejected"
	EventEnded    EventKind = "ended"
	EventFailed   EventKind = "failed"
)

type EventHandler func(ctx context.Context, ev Event)
