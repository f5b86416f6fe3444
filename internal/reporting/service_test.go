package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"consult-platform/internal/session"
	"consult-platform/internal/wallet"
)

func TestReporting_SessionsSummaryScopedToUser(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Sessions = []session.Session{
		{ID: "s1", ClientID: "u1", ExpertID: "e1", Status: session.StatusEnded, ChargeableSeconds: decimal.NewFromInt(30), ChargedTotal: decimal.NewFromInt(5), CreatedAt: now},
		{ID: "s2", ClientID: "u2", ExpertID: "e1", Status: session.StatusEnded, ChargeableSeconds: decimal.NewFromInt(50), ChargedTotal: decimal.NewFromInt(8), CreatedAt: now},
		{ID: "s3", ClientID: "u1", ExpertID: "e2", Status: session.StatusNotAnswered, CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.SessionsSummary(context.Background(), SessionsSummaryRequest{
		UserID: "u1",
		Range:  TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalSessions != 2 || out.EndedSessions != 1 || out.MissedSessions != 1 {
		t.Fatalf("unexpected summary: %+v", out)
	}
	if !out.TotalChargeableSeconds.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected 30 chargeable seconds, got %s", out.TotalChargeableSeconds)
	}
	if !out.TotalCharged.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected 5 charged, got %s", out.TotalCharged)
	}
}

func TestReporting_SpendSummaryAggregates(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Entries = []wallet.Entry{
		{ID: "l1", UserID: "u1", Currency: "USD", Amount: decimal.NewFromInt(100), ExternalRef: "topup:r1", CreatedAt: now},
		{ID: "l2", UserID: "u1", Currency: "USD", Amount: decimal.NewFromInt(-20), ExternalRef: "call:s1", CreatedAt: now},
		{ID: "l3", UserID: "u1", Currency: "USD", Amount: decimal.NewFromInt(-5), ExternalRef: "call:s2", CreatedAt: now},
		{ID: "l4", UserID: "u1", Currency: "USD", Amount: decimal.NewFromInt(10), ExternalRef: "tip:s1", CreatedAt: now},
		{ID: "l5", UserID: "u1", Currency: "USD", Amount: decimal.NewFromInt(3), ExternalRef: "admin:goodwill", CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.SpendSummary(context.Background(), SpendSummaryRequest{
		UserID:   "u1",
		Range:    TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !out.TotalDebit.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected total debit 25, got %s", out.TotalDebit)
	}
	if !out.TotalCredit.Equal(decimal.NewFromInt(113)) {
		t.Fatalf("expected total credit 113, got %s", out.TotalCredit)
	}
	if !out.NetDelta.Equal(decimal.NewFromInt(88)) {
		t.Fatalf("expected net 88, got %s", out.NetDelta)
	}
	if !out.CallSpend.Equal(decimal.NewFromInt(25)) || !out.TipCredit.Equal(decimal.NewFromInt(10)) || !out.TopUpCredit.Equal(decimal.NewFromInt(100)) || !out.AdminAdjust.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected categorization: %+v", out)
	}
}

func TestReporting_RejectsInvalidRange(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	now := time.Unix(1700000000, 0).UTC()

	_, err := svc.SessionsSummary(context.Background(), SessionsSummaryRequest{
		UserID: "u1",
		Range:  TimeRange{From: now, To: now},
	})
	if err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
