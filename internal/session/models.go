package session

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session is one discrete call attempt between a client and an expert.
//
// Money invariant reminder: metering charges reference the session id in the
// wallet ledger (external_ref); money state is never stored on this model
// beyond the frozen rate and the running totals written by the metering loop.
//
// RatePerMinute is resolved at initiate time and frozen for the lifetime of
// the session. Later edits to the expert's pricing must not affect it.
type Session struct {
	ID string `json:"id" db:"id"`

	Type Type `json:"type" db:"type"`

	ClientID    string `json:"client_id" db:"client_id"`
	ExpertID    string `json:"expert_id" db:"expert_id"`
	InitiatorID string `json:"initiator_id" db:"initiator_id"`

	RatePerMinute decimal.Decimal `json:"rate_per_minute" db:"rate_per_minute"`
	Currency      string          `json:"currency" db:"currency"`
	IsGlobal      bool            `json:"is_global" db:"is_global"`

	Status    Status    `json:"status" db:"status"`
	EndReason EndReason `json:"end_reason,omitempty" db:"end_reason"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// ChargeableSeconds is the metered, already-debited talk time.
	// Monotonically non-decreasing while the session is ongoing.
	ChargeableSeconds decimal.Decimal `json:"chargeable_seconds" db:"chargeable_seconds"`

	// ChargedTotal is the sum of all metering debits for this session.
	ChargedTotal decimal.Decimal `json:"charged_total" db:"charged_total"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasParticipant reports whether userID is one of the two parties.
func (s Session) HasParticipant(userID string) bool {
	return userID != "" && (userID == s.ClientID || userID == s.ExpertID)
}

// Counterparty returns the other participant's user id, or "" if userID is
// not a participant.
func (s Session) Counterparty(userID string) string {
	switch userID {
	case s.ClientID:
		return s.ExpertID
	case s.ExpertID:
		return s.ClientID
	default:
		return ""
	}
}

type Type string

const (
	TypeAudio Type = "audio"
	TypeVideo Type = "video"
	TypeChat  Type = "chat"
)

func (t Type) Valid() bool {
	switch t {
	case TypeAudio, TypeVideo, TypeChat:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusRinging        Status = "ringing"
	StatusAccepted       Status = "accepted"
	StatusConnecting     Status = "connecting"
	StatusOngoing        Status = "ongoing"
	StatusPaymentPending Status = "payment_pending"
	StatusEnded          Status = "ended"
	StatusRejected       Status = "rejected"
	StatusCanceled       Status = "canceled"
	StatusNotAnswered    Status = "not_answered"
	StatusInterrupted    Status = "interrupted"
)

// Terminal reports whether the status is final. A terminal session is
// immutable and is only read by reconciliation and reporting.
func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusRejected, StatusCanceled, StatusNotAnswered, StatusInterrupted:
		return true
	default:
		return false
	}
}

// Active reports whether the session still occupies its participants.
// One active session per user is enforced at initiate time.
func (s Status) Active() bool {
	return s != "" && !s.Terminal()
}

type EndReason string

const (
	EndReasonHangup           EndReason = "hangup"
	EndReasonBalanceExhausted EndReason = "balance_exhausted"
	EndReasonTransportFailure EndReason = "transport_failure"
	EndReasonRingTimeout      EndReason = "ring_timeout"
	EndReasonParticipantLost  EndReason = "participant_lost"
	EndReasonPaymentTimeout   EndReason = "payment_timeout"
	EndReasonDeclined         EndReason = "declined"
	EndReasonCallerCanceled   EndReason = "caller_canceled"
)
