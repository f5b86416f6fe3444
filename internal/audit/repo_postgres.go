package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends audit events to the audit_events table.
//
// Assumed schema:
//
//	audit_events (
//	  id TEXT PRIMARY KEY,
//	  type TEXT NOT NULL,
//	  actor_user_id TEXT NOT NULL DEFAULT '',
//	  actor_role TEXT NOT NULL DEFAULT '',
//	  session_id TEXT NOT NULL DEFAULT '',
//	  wallet_user_id TEXT NOT NULL DEFAULT '',
//	  message TEXT NOT NULL DEFAULT '',
//	  metadata TEXT NOT NULL DEFAULT '',
//	  created_at TIMESTAMPTZ NOT NULL
//	)
//
// INSERT-only; revoke UPDATE/DELETE from the app role.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (p *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, actor_user_id, actor_role, session_id, wallet_user_id, message, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`
	_, err := p.db.ExecContext(ctx, q,
		e.ID, e.Type, e.ActorUserID, e.ActorRole, e.SessionID, e.WalletUserID, e.Message, e.Metadata, e.CreatedAt,
	)
	return err
}
