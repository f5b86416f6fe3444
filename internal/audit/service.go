package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// Callers should treat audit logging as best-effort: a failed append is
// logged and dropped, never propagated into the calling flow.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogAdminCredit records a privileged manual wallet credit.
func (s *Service) LogAdminCredit(ctx context.Context, actorUserID, actorRole, walletUserID, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:         EventTypeAdminCredit,
		ActorUserID:  actorUserID,
		ActorRole:    actorRole,
		WalletUserID: walletUserID,
		Message:      message,
		Metadata:     metadata,
	})
}

// LogInterruption records a watchdog-driven session interruption.
func (s *Service) LogInterruption(ctx context.Context, sessionID, message string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeSessionInterrupted,
		SessionID: sessionID,
		Message:   message,
	})
}

// LogReconciliation records a stale-pointer reconciliation outcome.
func (s *Service) LogReconciliation(ctx context.Context, sessionID, walletUserID, message string) error {
	return s.Append(ctx, Event{
		Type:         EventTypeSessionReconciled,
		SessionID:    sessionID,
		WalletUserID: walletUserID,
		Message:      message,
	})
}
