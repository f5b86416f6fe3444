package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry is an immutable, append-only ledger row.
//
// Money invariants:
// - Every balance change has a corresponding ledger entry.
// - Entries are never updated or deleted.
// - Amount is signed: credits positive, debits negative.
// - IdempotencyKey is unique per (user_id, idempotency_key); retries of the
//   same operation return the original entry instead of posting twice.
type Entry struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	Type EntryType `json:"type" db:"type"`

	Amount   decimal.Decimal `json:"amount" db:"amount"`
	Currency string          `json:"currency" db:"currency"`

	// ExternalRef links the entry to its cause: call session id, tip id,
	// payment receipt id, admin action id.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EntryType string

const (
	EntryTypeCredit EntryType = "credit" // top-up, tip, admin adjustment
	EntryTypeDebit  EntryType = "debit"  // metering charge
)

// Balance is the projection of a user's spendable funds.
// Never negative after a successful debit; DebitAtMost clamps at zero.
type Balance struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Currency  string          `json:"currency" db:"currency"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
