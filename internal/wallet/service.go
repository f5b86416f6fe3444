package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service provides wallet operations.
//
// Money invariants:
// - No balance update without a ledger entry.
// - The ledger is append-only.
// - A debit that would drive the balance negative is rejected (Debit) or
//   clamped to exactly zero (DebitAtMost); the balance is never negative at
//   any observable point.
// - All operations are idempotent per caller-supplied idempotency key.
//
// Serialization discipline:
// - Operations for the same user are serialized through a per-user mutex, so
//   concurrent tips, top-ups and metering debits for one wallet cannot race.
//   Different users' wallets proceed fully in parallel.
type Service struct {
	store Store
	clock func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(store Store) *Service {
	return &Service{
		store: store,
		clock: time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

var (
	ErrInvalidArgument   = errors.New("wallet: invalid argument")
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	ErrCurrencyMismatch  = errors.New("wallet: currency mismatch")
)

func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// GetBalance returns the user's current spendable balance.
func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return s.store.Balance(ctx, userID)
}

// Credit adds funds to the wallet.
func (s *Service) Credit(ctx context.Context, userID string, amount decimal.Decimal, currency, externalRef, key string) (Balance, error) {
	if err := validateMoneyOp(userID, amount, currency, key); err != nil {
		return Balance{}, err
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if existing, ok, err := s.store.FindByIdempotency(ctx, userID, key); err != nil {
		return Balance{}, err
	} else if ok {
		_ = existing
		return s.store.Balance(ctx, userID)
	}

	bal, err := s.store.Balance(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	if bal.Currency != "" && bal.Currency != currency {
		return Balance{}, ErrCurrencyMismatch
	}

	now := s.clock().UTC()
	entry := Entry{
		ID:             uuid.NewString(),
		UserID:         userID,
		Type:           EntryTypeCredit,
		Amount:         amount,
		Currency:       currency,
		ExternalRef:    externalRef,
		IdempotencyKey: key,
		CreatedAt:      now,
	}
	newBal := Balance{
		UserID:    userID,
		Currency:  currency,
		Amount:    bal.Amount.Add(amount),
		UpdatedAt: now,
	}
	if err := s.store.Append(ctx, entry, newBal); err != nil {
		return Balance{}, err
	}
	return newBal, nil
}

// Debit removes funds from the wallet. It fails with ErrInsufficientFunds if
// the full amount is not available; the balance is left untouched in that
// case.
func (s *Service) Debit(ctx context.Context, userID string, amount decimal.Decimal, currency, externalRef, key string) (Balance, error) {
	if err := validateMoneyOp(userID, amount, currency, key); err != nil {
		return Balance{}, err
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if _, ok, err := s.store.FindByIdempotency(ctx, userID, key); err != nil {
		return Balance{}, err
	} else if ok {
		return s.store.Balance(ctx, userID)
	}

	bal, err := s.store.Balance(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	if bal.Currency != "" && bal.Currency != currency {
		return Balance{}, ErrCurrencyMismatch
	}
	if bal.Amount.LessThan(amount) {
		return Balance{}, ErrInsufficientFunds
	}

	return s.append(ctx, userID, amount, currency, externalRef, key, bal)
}

// DebitAtMost removes up to amount from the wallet, clamping at exactly zero.
// It returns the amount actually debited. Used by the metering loop for the
// final partial tick: charge only what the payer can afford, never below
// zero. A zero-balance wallet yields a zero debit with no ledger entry.
func (s *Service) DebitAtMost(ctx context.Context, userID string, amount decimal.Decimal, currency, externalRef, key string) (decimal.Decimal, Balance, error) {
	if err := validateMoneyOp(userID, amount, currency, key); err != nil {
		return decimal.Zero, Balance{}, err
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if existing, ok, err := s.store.FindByIdempotency(ctx, userID, key); err != nil {
		return decimal.Zero, Balance{}, err
	} else if ok {
		bal, err := s.store.Balance(ctx, userID)
		if err != nil {
			return decimal.Zero, Balance{}, err
		}
		return existing.Amount.Neg(), bal, nil
	}

	bal, err := s.store.Balance(ctx, userID)
	if err != nil {
		return decimal.Zero, Balance{}, err
	}
	if bal.Currency != "" && bal.Currency != currency {
		return decimal.Zero, Balance{}, ErrCurrencyMismatch
	}

	debit := amount
	if bal.Amount.LessThan(debit) {
		debit = bal.Amount
	}
	if debit.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, bal, nil
	}

	newBal, err := s.append(ctx, userID, debit, currency, externalRef, key, bal)
	if err != nil {
		return decimal.Zero, Balance{}, err
	}
	return debit, newBal, nil
}

func (s *Service) append(ctx context.Context, userID string, amount decimal.Decimal, currency, externalRef, key string, bal Balance) (Balance, error) {
	now := s.clock().UTC()
	entry := Entry{
		ID:             uuid.NewString(),
		UserID:         userID,
		Type:           EntryTypeDebit,
		Amount:         amount.Neg(),
		Currency:       currency,
		ExternalRef:    externalRef,
		IdempotencyKey: key,
		CreatedAt:      now,
	}
	newBal := Balance{
		UserID:    userID,
		Currency:  currency,
		Amount:    bal.Amount.Sub(amount),
		UpdatedAt: now,
	}
	if err := s.store.Append(ctx, entry, newBal); err != nil {
		return Balance{}, err
	}
	return newBal, nil
}

func validateMoneyOp(userID string, amount decimal.Decimal, currency, key string) error {
	if userID == "" || currency == "" || key == "" {
		return ErrInvalidArgument
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidArgument
	}
	return nil
}
