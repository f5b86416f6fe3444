package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PostgresStore persists sessions in the call_sessions table.
//
// Assumed schema:
//
//	call_sessions (
//	  id TEXT PRIMARY KEY,
//	  type TEXT NOT NULL,
//	  client_id TEXT NOT NULL,
//	  expert_id TEXT NOT NULL,
//	  initiator_id TEXT NOT NULL,
//	  rate_per_minute NUMERIC(20,6) NOT NULL,
//	  currency TEXT NOT NULL,
//	  is_global BOOLEAN NOT NULL,
//	  status TEXT NOT NULL,
//	  end_reason TEXT NOT NULL DEFAULT '',
//	  started_at TIMESTAMPTZ NULL,
//	  ended_at TIMESTAMPTZ NULL,
//	  chargeable_seconds NUMERIC(20,6) NOT NULL,
//	  charged_total NUMERIC(20,6) NOT NULL,
//	  created_at TIMESTAMPTZ NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL
//	)
//
// plus a partial index on (client_id), (expert_id) filtered by active statuses
// for FindActiveByUser.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, type, client_id, expert_id, initiator_id, rate_per_minute, currency, is_global,
status, end_reason, started_at, ended_at, chargeable_seconds, charged_total, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, s Session) error {
	const q = `
INSERT INTO call_sessions (` + sessionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO NOTHING
`
	res, err := p.db.ExecContext(ctx, q,
		s.ID, s.Type, s.ClientID, s.ExpertID, s.InitiatorID,
		s.RatePerMinute, s.Currency, s.IsGlobal,
		s.Status, s.EndReason, nullTime(s.StartedAt), nullTime(s.EndedAt),
		s.ChargeableSeconds, s.ChargedTotal, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM call_sessions WHERE id = $1`
	return scanSession(p.db.QueryRowContext(ctx, q, id))
}

func (p *PostgresStore) UpdateIf(ctx context.Context, s Session, expect Status) error {
	if s.Status != expect && !CanTransition(expect, s.Status) {
		return ErrIllegalTransition
	}
	const q = `
UPDATE call_sessions SET
  status = $1, end_reason = $2, started_at = $3, ended_at = $4,
  chargeable_seconds = $5, charged_total = $6, updated_at = $7
WHERE id = $8 AND status = $9
`
	res, err := p.db.ExecContext(ctx, q,
		s.Status, s.EndReason, nullTime(s.StartedAt), nullTime(s.EndedAt),
		s.ChargeableSeconds, s.ChargedTotal, s.UpdatedAt,
		s.ID, expect,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Disambiguate missing row from a lost CAS race.
		if _, err := p.Get(ctx, s.ID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) FindActiveByUser(ctx context.Context, userID string) (Session, bool, error) {
	q := `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE (client_id = $1 OR expert_id = $1)
  AND status IN (` + activeStatusList() + `)
ORDER BY created_at DESC
LIMIT 1
`
	s, err := scanSession(p.db.QueryRowContext(ctx, q, userID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	return s, true, nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, statuses ...Status) ([]Session, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(statuses))
	ph := make([]string, 0, len(statuses))
	for i, st := range statuses {
		args = append(args, st)
		ph = append(ph, fmt.Sprintf("$%d", i+1))
	}
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE status IN (` + strings.Join(ph, ",") + `)`

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var startedAt, endedAt sql.NullTime
	err := row.Scan(
		&s.ID, &s.Type, &s.ClientID, &s.ExpertID, &s.InitiatorID,
		&s.RatePerMinute, &s.Currency, &s.IsGlobal,
		&s.Status, &s.EndReason, &startedAt, &endedAt,
		&s.ChargeableSeconds, &s.ChargedTotal, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		s.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func activeStatusList() string {
	statuses := []Status{StatusRinging, StatusAccepted, StatusConnecting, StatusPaymentPending, StatusOngoing}
	quoted := make([]string, len(statuses))
	for i, st := range statuses {
		quoted[i] = "'" + string(st) + "'"
	}
	return strings.Join(quoted, ",")
}
