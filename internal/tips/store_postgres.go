package tips

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists tips in the call_tips table.
//
// Assumed schema:
//
//	call_tips (
//	  id TEXT PRIMARY KEY,
//	  session_id TEXT NOT NULL,
//	  payer_id TEXT NOT NULL,
//	  amount NUMERIC(20,6) NOT NULL,
//	  currency TEXT NOT NULL,
//	  idempotency_key TEXT NOT NULL,
//	  applied_at TIMESTAMPTZ NOT NULL,
//	  UNIQUE (session_id, idempotency_key)
//	)
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, r Record) error {
	const q = `
INSERT INTO call_tips (id, session_id, payer_id, amount, currency, idempotency_key, applied_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := p.db.ExecContext(ctx, q,
		r.ID, r.SessionID, r.PayerID, r.Amount, r.Currency, r.IdempotencyKey, r.AppliedAt,
	)
	return err
}

func (p *PostgresStore) FindByKey(ctx context.Context, sessionID, key string) (Record, bool, error) {
	const q = `
SELECT id, session_id, payer_id, amount, currency, idempotency_key, applied_at
FROM call_tips
WHERE session_id = $1 AND idempotency_key = $2
`
	var r Record
	err := p.db.QueryRowContext(ctx, q, sessionID, key).Scan(
		&r.ID, &r.SessionID, &r.PayerID, &r.Amount, &r.Currency, &r.IdempotencyKey, &r.AppliedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return r, true, nil
}

func (p *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	const q = `
SELECT id, session_id, payer_id, amount, currency, idempotency_key, applied_at
FROM call_tips
WHERE session_id = $1
ORDER BY applied_at
`
	rows, err := p.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.SessionID, &r.PayerID, &r.Amount, &r.Currency, &r.IdempotencyKey, &r.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
