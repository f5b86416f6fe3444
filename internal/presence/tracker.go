package presence

import "context"

// Status is a user's externally tracked availability.
type Status string

const (
	StatusOnline  Status = "online"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Tracker reports and records per-user availability.
//
// The signaling coordinator refuses calls to busy/offline parties, marks
// both parties busy on acceptance, and releases the busy mark when a
// session reaches a terminal status. Unknown users read as offline.
type Tracker interface {
	Get(ctx context.Context, userID string) (Status, error)
	Set(ctx context.Context, userID string, status Status) error
}
