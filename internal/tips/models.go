package tips

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is one applied tip. Additive only: a tip extends the payer's
// spendable balance for the session and never reduces the chargeable time
// already accumulated.
type Record struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	PayerID        string          `json:"payer_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"-"`
	AppliedAt      time.Time       `json:"applied_at"`
}
