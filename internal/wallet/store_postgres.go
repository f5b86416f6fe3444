package wallet

import (
	"context"
	"database/sql"
	"errors"

	"consult-platform/pkg/utils"

	"github.com/shopspring/decimal"
)

// PostgresStore persists the ledger and balance projection.
//
// Assumed schema:
//
//	wallet_ledger (
//	  id TEXT PRIMARY KEY,
//	  user_id TEXT NOT NULL,
//	  type TEXT NOT NULL,
//	  amount NUMERIC(20,6) NOT NULL,
//	  currency TEXT NOT NULL,
//	  external_ref TEXT NOT NULL DEFAULT '',
//	  idempotency_key TEXT NOT NULL,
//	  created_at TIMESTAMPTZ NOT NULL,
//	  UNIQUE (user_id, idempotency_key)
//	)
//
//	wallet_balances (
//	  user_id TEXT PRIMARY KEY,
//	  currency TEXT NOT NULL,
//	  amount NUMERIC(20,6) NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL
//	)
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Balance(ctx context.Context, userID string) (Balance, error) {
	const q = `
SELECT user_id, currency, amount, updated_at
FROM wallet_balances
WHERE user_id = $1
`
	var b Balance
	err := p.db.QueryRowContext(ctx, q, userID).Scan(&b.UserID, &b.Currency, &b.Amount, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{UserID: userID, Amount: decimal.Zero}, nil
		}
		return Balance{}, err
	}
	return b, nil
}

func (p *PostgresStore) FindByIdempotency(ctx context.Context, userID, key string) (Entry, bool, error) {
	const q = `
SELECT id, user_id, type, amount, currency, external_ref, idempotency_key, created_at
FROM wallet_ledger
WHERE user_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e Entry
	err := p.db.QueryRowContext(ctx, q, userID, key).Scan(
		&e.ID, &e.UserID, &e.Type, &e.Amount, &e.Currency, &e.ExternalRef, &e.IdempotencyKey, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return e, true, nil
}

// Append writes the ledger row and applies the entry's signed amount to the
// balance projection as a delta. The delta form keeps the projection correct
// even when several API processes share the database: two concurrent appends
// both land instead of the later absolute write silently erasing the earlier
// one.
func (p *PostgresStore) Append(ctx context.Context, e Entry, newBalance Balance) error {
	return utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const insertLedger = `
INSERT INTO wallet_ledger (id, user_id, type, amount, currency, external_ref, idempotency_key, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
		if _, err := tx.ExecContext(ctx, insertLedger,
			e.ID, e.UserID, e.Type, e.Amount, e.Currency, e.ExternalRef, e.IdempotencyKey, e.CreatedAt,
		); err != nil {
			return err
		}

		const applyDelta = `
INSERT INTO wallet_balances (user_id, currency, amount, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id)
DO UPDATE SET currency = EXCLUDED.currency,
              amount = wallet_balances.amount + EXCLUDED.amount,
              updated_at = EXCLUDED.updated_at
`
		_, err := tx.ExecContext(ctx, applyDelta,
			e.UserID, e.Currency, e.Amount, newBalance.UpdatedAt,
		)
		return err
	})
}
