package topup

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"consult-platform/internal/session"
	"consult-platform/internal/wallet"
)

var ErrInvalidArgument = errors.New("topup: invalid argument")

// Wallet is the slice of the wallet service top-ups need.
type Wallet interface {
	Credit(ctx context.Context, userID string, amount decimal.Decimal, currency, externalRef, key string) (wallet.Balance, error)
}

// Activator resumes a call parked in payment-pending. Implemented by the
// signaling coordinator; may be nil in wirings without call handling.
type Activator interface {
	Activate(ctx context.Context, sessionID string) (session.Session, error)
}

// Service funds wallets through the payment gateway. Gateway selection by
// currency region happens upstream; this service charges, credits, and
// optionally resumes the session the user was topping up for.
type Service struct {
	gateway   Gateway
	wallet    Wallet
	activator Activator
	log       *slog.Logger
}

func NewService(gateway Gateway, w Wallet, activator Activator, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{gateway: gateway, wallet: w, activator: activator, log: log}
}

type Request struct {
	UserID   string
	Amount   decimal.Decimal
	Currency string
	Method   string

	// SessionID, when set, names a payment-pending call to resume after the
	// wallet is funded.
	SessionID string
}

// TopUp charges the user's payment method and credits the wallet with the
// captured amount, keyed by the gateway receipt id.
func (s *Service) TopUp(ctx context.Context, req Request) (Receipt, wallet.Balance, error) {
	if req.UserID == "" || req.Currency == "" {
		return Receipt{}, wallet.Balance{}, ErrInvalidArgument
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return Receipt{}, wallet.Balance{}, ErrInvalidArgument
	}

	receipt, err := s.gateway.Charge(ctx, req.UserID, req.Amount, req.Currency, req.Method)
	if err != nil {
		return Receipt{}, wallet.Balance{}, err
	}

	bal, err := s.wallet.Credit(ctx, req.UserID, receipt.Amount, receipt.Currency, "topup:"+receipt.ID, receipt.ID)
	if err != nil {
		// The charge is captured but the credit failed; this must be retried
		// with the same receipt, never re-charged.
		s.log.Error("wallet credit after capture failed",
			"user_id", req.UserID,
			"receipt_id", receipt.ID,
			"err", err,
		)
		return Receipt{}, wallet.Balance{}, err
	}

	s.log.Info("wallet topped up",
		"user_id", req.UserID,
		"amount", receipt.Amount.String(),
		"currency", receipt.Currency,
		"gateway", s.gateway.Name(),
	)

	if req.SessionID != "" && s.activator != nil {
		if _, err := s.activator.Activate(ctx, req.SessionID); err != nil {
			// The money is in the wallet either way; resuming is best-effort.
			s.log.Error("session activation after top-up failed", "session_id", req.SessionID, "err", err)
		}
	}
	return receipt, bal, nil
}
