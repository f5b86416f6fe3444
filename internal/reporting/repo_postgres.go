package reporting

import (
	"context"
	"database/sql"
	"time"

	"consult-platform/internal/session"
	"consult-platform/internal/wallet"
)

// PostgresRepo reads reporting inputs straight from the immutable sources:
// call_sessions and the append-only wallet_ledger.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (p *PostgresRepo) ListSessions(ctx context.Context, userID string, from, to time.Time) ([]session.Session, error) {
	const q = `
SELECT id, type, client_id, expert_id, initiator_id, rate_per_minute, currency, is_global,
       status, end_reason, started_at, ended_at, chargeable_seconds, charged_total, created_at, updated_at
FROM call_sessions
WHERE (client_id = $1 OR expert_id = $1)
  AND created_at >= $2 AND created_at < $3
ORDER BY created_at
`
	rows, err := p.db.QueryContext(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		var s session.Session
		var startedAt, endedAt sql.NullTime
		if err := rows.Scan(
			&s.ID, &s.Type, &s.ClientID, &s.ExpertID, &s.InitiatorID,
			&s.RatePerMinute, &s.Currency, &s.IsGlobal,
			&s.Status, &s.EndReason, &startedAt, &endedAt,
			&s.ChargeableSeconds, &s.ChargedTotal, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if startedAt.Valid {
			t := startedAt.Time
			s.StartedAt = &t
		}
		if endedAt.Valid {
			t := endedAt.Time
			s.EndedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresRepo) ListWalletEntries(ctx context.Context, userID string, from, to time.Time) ([]wallet.Entry, error) {
	const q = `
SELECT id, user_id, type, amount, currency, external_ref, idempotency_key, created_at
FROM wallet_ledger
WHERE user_id = $1
  AND created_at >= $2 AND created_at < $3
ORDER BY created_at
`
	rows, err := p.db.QueryContext(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []wallet.Entry
	for rows.Next() {
		var e wallet.Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Amount, &e.Currency, &e.ExternalRef, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
