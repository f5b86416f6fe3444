package rates

import (
	"time"

	"github.com/shopspring/decimal"

	"consult-platform/internal/session"
)

// MinuteRate is an expert's published per-minute price for one call type.
//
// Rows are versioned by effective window rather than updated in place, so a
// session's frozen rate can always be traced back to the row that produced
// it.
type MinuteRate struct {
	ID       string `json:"id" db:"id"`
	ExpertID string `json:"expert_id" db:"expert_id"`

	CallType session.Type `json:"call_type" db:"call_type"`

	RatePerMinute decimal.Decimal `json:"rate_per_minute" db:"rate_per_minute"`
	Currency      string          `json:"currency" db:"currency"`

	// IsGlobal selects the international price book and payment gateway.
	IsGlobal bool `json:"is_global" db:"is_global"`

	Status RateStatus `json:"status" db:"status"`

	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`
}

type RateStatus string

const (
	RateStatusActive   RateStatus = "active"
	RateStatusInactive RateStatus = "inactive"
)
