package rates

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"consult-platform/internal/session"
)

// PostgresRepo reads expert rates from the expert_minute_rates table.
//
// Assumed schema:
//
//	expert_minute_rates (
//	  id TEXT PRIMARY KEY,
//	  expert_id TEXT NOT NULL,
//	  call_type TEXT NOT NULL,
//	  rate_per_minute NUMERIC(20,6) NOT NULL,
//	  currency TEXT NOT NULL,
//	  is_global BOOLEAN NOT NULL,
//	  status TEXT NOT NULL,
//	  effective_from TIMESTAMPTZ NOT NULL,
//	  effective_to TIMESTAMPTZ NULL
//	)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) FindMinuteRate(ctx context.Context, expertID string, callType session.Type, at time.Time) (MinuteRate, bool, error) {
	const q = `
SELECT id, expert_id, call_type, rate_per_minute, currency, is_global, status, effective_from, effective_to
FROM expert_minute_rates
WHERE expert_id = $1
  AND call_type = $2
  AND status = 'active'
  AND effective_from <= $3
  AND (effective_to IS NULL OR effective_to > $3)
ORDER BY effective_from DESC
LIMIT 1
`
	var m MinuteRate
	var effectiveTo sql.NullTime
	err := r.db.QueryRowContext(ctx, q, expertID, callType, at).Scan(
		&m.ID, &m.ExpertID, &m.CallType, &m.RatePerMinute, &m.Currency, &m.IsGlobal,
		&m.Status, &m.EffectiveFrom, &effectiveTo,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MinuteRate{}, false, nil
		}
		return MinuteRate{}, false, err
	}
	if effectiveTo.Valid {
		t := effectiveTo.Time
		m.EffectiveTo = &t
	}
	return m, true, nil
}
