package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SessionsSummaryRequest requests aggregated call metrics for one user,
// on either side of the call.

type SessionsSummaryRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
}

type SessionsSummary struct {
	UserID string `json:"user_id"`

	TotalSessions       int `json:"total_sessions"`
	EndedSessions       int `json:"ended_sessions"`
	RejectedSessions    int `json:"rejected_sessions"`
	CanceledSessions    int `json:"canceled_sessions"`
	MissedSessions      int `json:"missed_sessions"`
	InterruptedSessions int `json:"interrupted_sessions"`
	ActiveSessions      int `json:"active_sessions"`

	TotalChargeableSeconds   decimal.Decimal `json:"total_chargeable_seconds"`
	AverageChargeableSeconds decimal.Decimal `json:"average_chargeable_seconds"`
	TotalCharged             decimal.Decimal `json:"total_charged"`
}

// SpendSummaryRequest requests aggregated money movement for one user.
// Spend is derived from immutable wallet ledger entries.

type SpendSummaryRequest struct {
	UserID   string    `json:"user_id"`
	Range    TimeRange `json:"range"`
	Currency string    `json:"currency,omitempty"`
}

type SpendSummary struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`

	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
	NetDelta    decimal.Decimal `json:"net_delta"`

	// Categorized by ledger external_ref.
	CallSpend   decimal.Decimal `json:"call_spend"`
	TipCredit   decimal.Decimal `json:"tip_credit"`
	TopUpCredit decimal.Decimal `json:"topup_credit"`
	AdminAdjust decimal.Decimal `json:"admin_adjust"`
}
