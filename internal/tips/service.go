package tips

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"consult-platform/internal/metering"
	"consult-platform/internal/notify"
	"consult-platform/internal/session"
	"consult-platform/internal/wallet"
)

var (
	ErrInvalidArgument  = errors.New("tips: invalid argument")
	ErrSessionNotActive = errors.New("tips: session not active")
	ErrNotPayer         = errors.New("tips: only the paying client may tip")
)

// Wallet is the slice of the wallet service tips need.
type Wallet interface {
	Credit(ctx context.Context, userID string, amount decimal.Decimal, currency, externalRef, key string) (wallet.Balance, error)
}

// Executor serializes work onto a session's metering queue. Implemented by
// the metering engine.
type Executor interface {
	Exec(ctx context.Context, sessionID string, fn func(s *session.Session) error) error
}

// Service applies mid-call tips. A tip credits the payer's spendable balance
// so the ongoing call can continue; it never rewinds chargeable time.
//
// The whole apply runs on the session's metering queue, so it is mutually
// exclusive with ticks: a tip landing "between" two ticks is deterministically
// ordered relative to them, and the combined effect of tip plus debit in the
// same window can neither lose nor double-count the tip.
type Service struct {
	store    Store
	wallet   Wallet
	engine   Executor
	notifier notify.Notifier

	clock func() time.Time
	log   *slog.Logger
}

func NewService(store Store, w Wallet, engine Executor, notifier notify.Notifier, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		wallet:   w,
		engine:   engine,
		notifier: notifier,
		clock:    time.Now,
		log:      log,
	}
}

// ApplyTip credits amount to the payer's wallet for an ongoing session.
// Idempotent per key: replaying the same key returns the originally applied
// record without crediting twice.
func (s *Service) ApplyTip(ctx context.Context, sessionID, payerID string, amount decimal.Decimal, key string) (Record, error) {
	if sessionID == "" || payerID == "" || key == "" {
		return Record{}, ErrInvalidArgument
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return Record{}, ErrInvalidArgument
	}

	var rec Record
	err := s.engine.Exec(ctx, sessionID, func(sess *session.Session) error {
		if sess.Status != session.StatusOngoing {
			return ErrSessionNotActive
		}
		if sess.ClientID != payerID {
			return ErrNotPayer
		}

		if existing, ok, err := s.store.FindByKey(ctx, sessionID, key); err != nil {
			return err
		} else if ok {
			rec = existing
			return nil
		}

		if _, err := s.wallet.Credit(ctx, payerID, amount, sess.Currency, "tip:"+sessionID, key); err != nil {
			return err
		}

		rec = Record{
			ID:             uuid.NewString(),
			SessionID:      sessionID,
			PayerID:        payerID,
			Amount:         amount,
			Currency:       sess.Currency,
			IdempotencyKey: key,
			AppliedAt:      s.clock().UTC(),
		}
		if err := s.store.Append(ctx, rec); err != nil {
			// The credit is already durable and idempotent; the record is
			// best-effort bookkeeping on top of it.
			s.log.Error("tip record append failed", "session_id", sessionID, "err", err)
		}

		s.notifier.Notify(ctx, sess.ExpertID, notify.EventTipApplied, map[string]any{
			"session_id": sessionID,
			"amount":     amount.String(),
			"currency":   sess.Currency,
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, metering.ErrSessionNotActive) {
			return Record{}, ErrSessionNotActive
		}
		return Record{}, err
	}

	s.log.Info("tip applied", "session_id", sessionID, "payer_id", payerID, "amount", amount.String())
	return rec, nil
}

// BySession lists the tips applied to a session, oldest first.
func (s *Service) BySession(ctx context.Context, sessionID string) ([]Record, error) {
	if sessionID == "" {
		return nil, ErrInvalidArgument
	}
	return s.store.ListBySession(ctx, sessionID)
}
