package notify

import (
	"context"
	"log/slog"
)

// Event names the user-facing notification kinds the engine emits.
// Low balance and insufficient funds are distinct on purpose: the former is
// a warning, the latter ends the call.
type Event string

const (
	EventIncomingCall Event = "incoming_call"
	EventCallAccepted Event = "call_accepted"
	EventCallRejected Event = "call_rejected"
	EventCallMissed   Event = "call_missed"
	EventCallEnded    Event = "call_ended"
	EventLowBalance   Event = "low_balance"
	EventTipApplied   Event = "tip_applied"
)

// Notifier delivers fire-and-forget push alerts. Implementations must never
// block or fail a billing path; errors are swallowed after logging.
type Notifier interface {
	Notify(ctx context.Context, userID string, event Event, payload map[string]any)
}

// LogNotifier writes notifications to the structured log. Stands in for the
// real push provider in local and test wiring.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, userID string, event Event, payload map[string]any) {
	n.log.Info("notify", "user_id", userID, "event", string(event), "payload", payload)
}
