package reporting

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"consult-platform/internal/session"
	"consult-platform/internal/wallet"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// Implementations should query immutable sources: terminal session records
// and the append-only wallet ledger.
type Repository interface {
	ListSessions(ctx context.Context, userID string, from, to time.Time) ([]session.Session, error)
	ListWalletEntries(ctx context.Context, userID string, from, to time.Time) ([]wallet.Entry, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) SessionsSummary(ctx context.Context, req SessionsSummaryRequest) (SessionsSummary, error) {
	if req.UserID == "" {
		return SessionsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SessionsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SessionsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListSessions(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return SessionsSummary{}, err
	}

	out := SessionsSummary{UserID: req.UserID}
	for _, c := range rows {
		out.TotalSessions++
		out.TotalChargeableSeconds = out.TotalChargeableSeconds.Add(c.ChargeableSeconds)
		out.TotalCharged = out.TotalCharged.Add(c.ChargedTotal)
		switch c.Status {
		case session.StatusEnded:
			out.EndedSessions++
		case session.StatusRejected:
			out.RejectedSessions++
		case session.StatusCanceled:
			out.CanceledSessions++
		case session.StatusNotAnswered:
			out.MissedSessions++
		case session.StatusInterrupted:
			out.InterruptedSessions++
		default:
			out.ActiveSessions++
		}
	}
	if out.TotalSessions > 0 {
		out.AverageChargeableSeconds = out.TotalChargeableSeconds.DivRound(decimal.NewFromInt(int64(out.TotalSessions)), 2)
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.UserID == "" {
		return SpendSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	entries, err := s.repo.ListWalletEntries(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{UserID: req.UserID, Currency: req.Currency}
	for _, e := range entries {
		// currency normalization: if request specified currency, filter; else populate from first row.
		if out.Currency == "" {
			out.Currency = e.Currency
		}
		if req.Currency != "" && e.Currency != req.Currency {
			continue
		}

		if e.Amount.IsPositive() {
			out.TotalCredit = out.TotalCredit.Add(e.Amount)
		} else {
			out.TotalDebit = out.TotalDebit.Add(e.Amount.Neg())
		}

		switch {
		case strings.HasPrefix(e.ExternalRef, "call:"):
			if e.Amount.IsNegative() {
				out.CallSpend = out.CallSpend.Add(e.Amount.Neg())
			}
		case strings.HasPrefix(e.ExternalRef, "tip:"):
			out.TipCredit = out.TipCredit.Add(e.Amount)
		case strings.HasPrefix(e.ExternalRef, "topup:"):
			out.TopUpCredit = out.TopUpCredit.Add(e.Amount)
		case strings.HasPrefix(e.ExternalRef, "admin:"):
			out.AdminAdjust = out.AdminAdjust.Add(e.Amount)
		}
	}
	out.NetDelta = out.TotalCredit.Sub(out.TotalDebit)
	if out.Currency == "" {
		out.Currency = "UNKNOWN"
	}
	return out, nil
}
