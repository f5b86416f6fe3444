package recovery

import (
	"context"
	"time"

	"consult-platform/internal/session"
)

// Pointer is the "active session pointer" mirrored per participant on every
// status transition. It is a hint, not the source of truth: reconciliation
// always prefers the authoritative session record over the pointer.
type Pointer struct {
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`
	ClientID  string         `json:"client_id"`
	ExpertID  string         `json:"expert_id"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// PointerStore holds one active-session pointer per user.
//
// ClearIf only removes the pointer when it still references sessionID, so
// concurrent reconciliation for the two participants of one session cannot
// clobber a pointer that was already repointed at a newer session.
type PointerStore interface {
	Set(ctx context.Context, userID string, p Pointer) error
	Get(ctx context.Context, userID string) (Pointer, bool, error)
	ClearIf(ctx context.Context, userID, sessionID string) error
}

// HeartbeatStore records participant liveness with a TTL. A participant
// whose heartbeat expires while their session is ongoing is treated as
// disconnected by the watchdog.
type HeartbeatStore interface {
	Beat(ctx context.Context, sessionID, userID string, ttl time.Duration) error
	Alive(ctx context.Context, sessionID, userID string) (bool, error)
}
