package tips

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"consult-platform/internal/metering"
	"consult-platform/internal/notify"
	"consult-platform/internal/session"
	"consult-platform/internal/wallet"
)

// fakeEngine runs queued work inline against a fixed session, mimicking the
// metering runner's single-writer queue.
type fakeEngine struct {
	sess   *session.Session
	active bool
}

func (f *fakeEngine) Exec(ctx context.Context, sessionID string, fn func(s *session.Session) error) error {
	if !f.active || f.sess.ID != sessionID {
		return metering.ErrSessionNotActive
	}
	return fn(f.sess)
}

func newTipFixture(t *testing.T, status session.Status) (*Service, *fakeEngine, *wallet.Service, *MemoryStore) {
	t.Helper()
	w := wallet.NewService(wallet.NewMemoryStore())
	store := NewMemoryStore()
	eng := &fakeEngine{
		sess: &session.Session{
			ID:       "s1",
			ClientID: "c1", ExpertID: "e1",
			Currency: "USD",
			Status:   status,
		},
		active: true,
	}
	svc := NewService(store, w, eng, notify.NewLogNotifier(slog.Default()), nil)
	svc.clock = func() time.Time { return time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC) }
	return svc, eng, w, store
}

func TestApplyTip_CreditsPayerWallet(t *testing.T) {
	svc, _, w, store := newTipFixture(t, session.StatusOngoing)
	ctx := context.Background()

	rec, err := svc.ApplyTip(ctx, "s1", "c1", decimal.NewFromInt(25), "k1")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if rec.SessionID != "s1" || !rec.Amount.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	bal, err := w.GetBalance(ctx, "c1")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if !bal.Amount.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected 25 credited, got %s", bal.Amount)
	}

	got, err := store.ListBySession(ctx, "s1")
	if err != nil || len(got) != 1 {
		t.Fatalf("expected 1 stored tip, got %d (err %v)", len(got), err)
	}
}

func TestApplyTip_IdempotentPerKey(t *testing.T) {
	svc, _, w, _ := newTipFixture(t, session.StatusOngoing)
	ctx := context.Background()

	first, err := svc.ApplyTip(ctx, "s1", "c1", decimal.NewFromInt(10), "k1")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	second, err := svc.ApplyTip(ctx, "s1", "c1", decimal.NewFromInt(10), "k1")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay produced a new record: %q vs %q", second.ID, first.ID)
	}

	bal, _ := w.GetBalance(ctx, "c1")
	if !bal.Amount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("tip double-counted: balance %s", bal.Amount)
	}
}

func TestApplyTip_RejectsInactiveSession(t *testing.T) {
	svc, eng, _, _ := newTipFixture(t, session.StatusOngoing)
	eng.active = false

	_, err := svc.ApplyTip(context.Background(), "s1", "c1", decimal.NewFromInt(5), "k1")
	if err != ErrSessionNotActive {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
}

func TestApplyTip_RejectsPreOngoingStatus(t *testing.T) {
	svc, _, _, _ := newTipFixture(t, session.StatusRinging)

	_, err := svc.ApplyTip(context.Background(), "s1", "c1", decimal.NewFromInt(5), "k1")
	if err != ErrSessionNotActive {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
}

func TestApplyTip_RejectsNonPayer(t *testing.T) {
	svc, _, _, _ := newTipFixture(t, session.StatusOngoing)

	_, err := svc.ApplyTip(context.Background(), "s1", "e1", decimal.NewFromInt(5), "k1")
	if err != ErrNotPayer {
		t.Fatalf("expected ErrNotPayer, got %v", err)
	}
}

func TestApplyTip_RejectsBadInput(t *testing.T) {
	svc, _, _, _ := newTipFixture(t, session.StatusOngoing)
	ctx := context.Background()

	if _, err := svc.ApplyTip(ctx, "s1", "c1", decimal.Zero, "k1"); err != ErrInvalidArgument {
		t.Fatalf("zero amount: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.ApplyTip(ctx, "s1", "c1", decimal.NewFromInt(-5), "k1"); err != ErrInvalidArgument {
		t.Fatalf("negative amount: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.ApplyTip(ctx, "s1", "c1", decimal.NewFromInt(5), ""); err != ErrInvalidArgument {
		t.Fatalf("missing key: expected ErrInvalidArgument, got %v", err)
	}
}
