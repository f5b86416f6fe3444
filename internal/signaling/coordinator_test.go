package signaling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"consult-platform/internal/notify"
	"consult-platform/internal/presence"
	"consult-platform/internal/rates"
	"consult-platform/internal/recovery"
	"consult-platform/internal/session"
	"consult-platform/internal/transport"
	"consult-platform/internal/wallet"
)

// stubMeter records the hand-off from signaling and finalizes on stop.
type stubMeter struct {
	sessions session.Store
	started  []string
}

func (m *stubMeter) Start(ctx context.Context, s session.Session) error {
	m.started = append(m.started, s.ID)
	return nil
}

func (m *stubMeter) Stop(ctx context.Context, sessionID string, reason session.EndReason) (session.Session, error) {
	s, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if s.Status.Terminal() {
		return s, nil
	}
	expect := s.Status
	if expect == session.StatusOngoing {
		s.Status = session.StatusEnded
	} else {
		s.Status = session.StatusCanceled
	}
	s.EndReason = reason
	if err := m.sessions.UpdateIf(ctx, s, expect); err != nil {
		return session.Session{}, err
	}
	return s, nil
}

// failingTransport rejects the configured operations.
type failingTransport struct {
	*transport.Noop
	failAccept bool
}

func (f *failingTransport) Accept(ctx context.Context, s session.Session) error {
	if f.failAccept {
		return errors.New("media negotiation failed")
	}
	return f.Noop.Accept(ctx, s)
}

type world struct {
	coord    *Coordinator
	sessions *session.MemoryStore
	presence *presence.MemoryTracker
	wallet   *wallet.Service
	meter    *stubMeter
	pointers *recovery.MemoryPointerStore
	tr       *failingTransport
}

func newWorld(t *testing.T, cfg Config) *world {
	t.Helper()
	ctx := context.Background()

	sessions := session.NewMemoryStore()
	pres := presence.NewMemoryTracker()
	pointers := recovery.NewMemoryPointerStore()
	beats := recovery.NewMemoryHeartbeatStore()
	w := wallet.NewService(wallet.NewMemoryStore())
	meter := &stubMeter{sessions: sessions}
	tr := &failingTransport{Noop: transport.NewNoop()}

	rateRepo := &rates.MemoryRepo{Rates: []rates.MinuteRate{{
		ID: "r1", ExpertID: "expert1", CallType: session.TypeVideo,
		RatePerMinute: decimal.NewFromInt(10), Currency: "USD",
		Status: rates.RateStatusActive, EffectiveFrom: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}}}

	mgr := recovery.NewManager(sessions, pointers, beats, nil, recovery.Config{}, nil)
	mgr.SetMeter(meter)

	coord := NewCoordinator(sessions, pres, rates.NewService(rateRepo), tr, notify.NewLogNotifier(nil), mgr, meter, w, cfg, nil)

	_ = pres.Set(ctx, "expert1", presence.StatusOnline)
	_ = pres.Set(ctx, "client1", presence.StatusOnline)

	t.Cleanup(coord.Shutdown)
	return &world{coord: coord, sessions: sessions, presence: pres, wallet: w, meter: meter, pointers: pointers, tr: tr}
}

func (w *world) fund(t *testing.T, userID, amount string) {
	t.Helper()
	d, _ := decimal.NewFromString(amount)
	if _, err := w.wallet.Credit(context.Background(), userID, d, "USD", "", "seed:"+userID+amount); err != nil {
		t.Fatalf("fund failed: %v", err)
	}
}

func TestInitiate_CreatesRingingSessionWithFrozenRate(t *testing.T) {
	w := newWorld(t, Config{RingTimeout: time.Hour})
	w.fund(t, "client1", "100")

	s, err := w.coord.Initiate(context.Background(), "client1", "expert1", session.TypeVideo)
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if s.Status != session.StatusRinging {
		t.Fatalf("expected ringing, got %q", s.Status)
	}
	if !s.RatePerMinute.Equal(decimal.NewFromInt(10)) || s.Currency != "USD" {
		t.Fatalf("rate not frozen: %s %s", s.RatePerMinute, s.Currency)
	}
	if s.InitiatorID != "client1" || s.ExpertID != "expert1" {
		t.Fatalf("unexpected parties: %+v", s)
	}

	// Pointer mirrored for both parties already at ringing.
	for _, uid := range []string{"client1", "expert1"} {
		if _, ok, _ := w.pointers.Get(context.Background(), uid); !ok {
			t.Fatalf("expected pointer for %s", uid)
		}
	}
}

func TestInitiate_RefusesBusyCallee(t *testing.T) {
	w := newWorld(t, Config{RingTimeout: time.Hour})
	_ = w.presence.Set(context.Background(), "expert1", presence.StatusBusy)

	_, err := w.coord.Initiate(context.Background(), "client1", "expert1", session.TypeVideo)
	if err != ErrCalleeUnavailable {
		t.Fatalf("expected ErrCalleeUnavailable, got %v", err)
	}

	// No session leaks out of the failed precondition.
	if _, ok, _ := w.sessions.FindActiveByUser(context.Background(), "client1"); ok {
		t.Fatalf("failed initiate created a session")
	}
}

func TestInitiate_RefusesOfflineCallee(t *testing.T) {
	w := newWorld(t, Config{RingTimeout: time.Hour})
	_ = w.presence.Set(context.Background(), "expert1", presence.StatusOffline)

	if _, err := w.coord.Initiate(context.Background(), "client1", "expert1", session.TypeVideo); err != ErrCalleeUnavailable {
		t.Fatalf("expected ErrCalleeUnavailable, got %v", err)
	}
}

func TestInitiate_OneActiveSessionPerUser(t *testing.T) {
	w := newWorld(t, Config{RingTimeout: time.Hour})
	w.fund(t, "client1", "100")
	ctx := context.Background()

	if _, err := w.coord.Initiate(ctx, "client1", "expert1", session.TypeVideo); err != nil {
		t.Fatalf("first initiate failed: %v", err)
	}
	if _, err := w.coord.Initiate(ctx, "client1", "expert1", session.TypeVideo); err != ErrAlreadyInCall {
		t.Fatalf("expected ErrAlreadyInCall, got %v", err)
	}
}

func TestAccept_ConnectsAndHandsOffToMeter(t *testing.T) {
	w := newWorld(t, Config{RingTimeout: time.Hour})
	w.fund(t, "client1", "100")
	ctx := context.Background()

	s, err := w.coord.Initiate(ctx, "client1", "expert1", session.TypeVideo)
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}

	got, err := w.coord.Accept(ctx, s.ID, "expert1")
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if got.Status != session.StatusOngoing {
		t.Fatalf("expected ongoing, got %q", got.Status)
	}
	if got.StartedAt == nil {
		t.Fatalf("expected started_at to be set")
	}
	if len(w.meter.started) != 1 || w.meter.started[0] != s.ID {
		t.Fatalf("meter not started: %v", w.meter.started)
	}

	for _, uid := range []string{"client1", "expert1"} {
		st, _ := w.presence.Get(ctx, uid)
		if st != presence.StatusBusy {
			t.Fatalf("expected %s busy, got %q", uid, st)
		}
	}
}

func TestAccept_IdempotentOnSettledSession(t *testing.T) {
	w := newWorld(t, Config{RingTimeout: time.Hour})
	w.fund(t, "client1", "100")
	ctx := context.Background()

	s, _ := w.coord.Initiate(ctx, "client1", "expert1", session.TypeVideo)
	first, err := w.coord.Accept(ctx, s.ID, "expert1")
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	second, err := w.coord.Accept(ctx, s.ID, "expert1")
	if err != nil {
		t.Fatalf("duplicate accept errored: %v", err)
	}
	if second.Status != first.Status || second.ID != first.ID {
		t.Fatalf("duplicate accept changed state: %q vs %q", second.Status, first.Status)
	}
	if len(w.meter.started) != 1 {
		t.Fatalf("duplicate accept restarted the meter: %v", w.meter.started)
	}
}

func TestAccept_OnlyCalleeMayAnswer(t *testing.T) {
	w := newWorld(t, Config{RingTimeout: time.Hour})
	w.fund(t, "client1", "100")
	ctx := context.Background()

	s, _ := w.coord.Initiate(ctx, "client1", "expert1", session.TypeVideo)
	if _, err := w.coord.Accept(ctx, s.ID, "client1"); err != ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := w.coord.Accept(ctx, s.ID, "stranger"); err != ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant for stranger, got %v", err)
	}
}

func TestAccept_EmptyWalletParksPaymentPending(t *testing.T) {
	w := newWorld(t, Config{RingTimeout: time.Hour})
	ctx := context.Background()

	s, _ := w.coord.Initiate(ctx, "client1", "expert1", session.TypeVideo)
	got, err := w.coord.Accept(ctx, s.ID, "expert1")
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if got.Status != session.StatusPaymentPending {
		t.Fatalf("expected payment_pending, got %q", got.Status)
	}
	if len(w.meter.started) != 0 {
		t.Fatalf("meter started without funds")
	}

	// Activation without funds keeps it parked.
	if _, err := w.coord.Activate(ctx, s.ID); err != wallet.ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	w.fund(t, "client1", "50")
	live, err := w.coord.Activate(ctx, s.ID)
	if err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if live.Status != session.StatusOngoing {
		t.Fatalf("expected ongoing after top-up, got %q", live.Status)
	}
	if len(w.meter.started) != 1 {
		t.Fatalf("meter not started after activation")
	}
}

func TestReject_SettlesRingingAndIsIdempotent(t *testing.T) {
	w := newWorld(t, Config{RingTimeout: time.Hour})
	w.fund(t, "client1", "100")
	ctx := context.Background()

	s, _ := w.coord.Initiate(ctx, "client1", "expert1", session.TypeVideo)
	got, err := w.coord.Reject(ctx, s.ID, "expert1")
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if got.Status != session.StatusRejected || got.EndReason != session.EndReasonDeclined {
		t.Fatalf("unexpected state: %q/%q", got.Status, got.EndReason)
	}

	again, err := w.coord.Reject(ctx, s.ID, "expert1")
	if err != nil {
		t.Fatalf("duplicate reject errored: %v", err)
	}
	if again.Status != session.StatusRejected {
		t.Fatalf("duplicate reject changed state: %q", again.Status)
	}

	// Pointers cleared with the terminal status.
	if _, ok, _ := w.pointers.Get(ctx, "client1"); ok {
		t.Fatalf("pointer survived rejection")
	}
}

func TestCancel_CallerOnly(t *testing.T) {
	w := newWorld(t, Config{RingTimeout: time.Hour})
	w.fund(t, "client1", "100")
	ctx := context.Background()

	s, _ := w.coord.Initiate(ctx, "client1", "expert1", session.TypeVideo)
	if _, err := w.coord.Cancel(ctx, s.ID, "expert1"); err != ErrNotParticipant {
		t.Fatalf("callee cancel should be refused, got %v", err)
	}

	got, err := w.coord.Cancel(ctx, s.ID, "client1")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got.Status != session.StatusCanceled || got.EndReason != session.EndReasonCallerCanceled {
		t.Fatalf("unexpected state: %q/%q", got.Status, got.EndReason)
	}
}

func TestRingTimeout_TransitionsToNotAnswered(t *testing.T) {
	w := newWorld(t, Config{RingTimeout: 20 * time.Millisecond})
	w.fund(t, "client1", "100")
	ctx := context.Background()

	s, err := w.coord.Initiate(ctx, "client1", "expert1", session.TypeVideo)
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := w.coord.GetStatus(ctx, s.ID)
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if got.Status == session.StatusNotAnswered {
			if got.EndReason != session.EndReasonRingTimeout {
				t.Fatalf("expected ring_timeout, got %q", got.EndReason)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ring never timed out, status %q", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A late accept is a no-op returning the settled state.
	late, err := w.coord.Accept(ctx, s.ID, "expert1")
	if err != nil {
		t.Fatalf("late accept errored: %v", err)
	}
	if late.Status != session.StatusNotAnswered {
		t.Fatalf("late accept changed state: %q", late.Status)
	}
}

func TestAccept_TransportFailureCancelsSession(t *testing.T) {
	w := newWorld(t, Config{RingTimeout: time.Hour})
	w.fund(t, "client1", "100")
	w.tr.failAccept = true
	ctx := context.Background()

	s, _ := w.coord.Initiate(ctx, "client1", "expert1", session.TypeVideo)
	if _, err := w.coord.Accept(ctx, s.ID, "expert1"); err != ErrTransportFailure {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}

	got, _ := w.coord.GetStatus(ctx, s.ID)
	if got.Status != session.StatusCanceled || got.EndReason != session.EndReasonTransportFailure {
		t.Fatalf("unexpected state: %q/%q", got.Status, got.EndReason)
	}
	st, _ := w.presence.Get(ctx, "expert1")
	if st != presence.StatusOnline {
		t.Fatalf("expert not released, presence %q", st)
	}
}

func TestEnd_RoutesByStatus(t *testing.T) {
	w := newWorld(t, Config{RingTimeout: time.Hour})
	w.fund(t, "client1", "100")
	ctx := context.Background()

	// Ringing + caller → canceled.
	s1, _ := w.coord.Initiate(ctx, "client1", "expert1", session.TypeVideo)
	got, err := w.coord.End(ctx, s1.ID, "client1")
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if got.Status != session.StatusCanceled {
		t.Fatalf("expected canceled, got %q", got.Status)
	}

	// Ongoing → meter stop with hangup.
	s2, _ := w.coord.Initiate(ctx, "client1", "expert1", session.TypeVideo)
	if _, err := w.coord.Accept(ctx, s2.ID, "expert1"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	got, err = w.coord.End(ctx, s2.ID, "client1")
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if got.Status != session.StatusEnded || got.EndReason != session.EndReasonHangup {
		t.Fatalf("unexpected state: %q/%q", got.Status, got.EndReason)
	}
}

func TestTransportEvents_DriveStateMachine(t *testing.T) {
	w := newWorld(t, Config{RingTimeout: time.Hour})
	w.fund(t, "client1", "100")
	ctx := context.Background()

	s, _ := w.coord.Initiate(ctx, "client1", "expert1", session.TypeVideo)
	w.tr.Emit(ctx, transport.Event{SessionID: s.ID, UserID: "expert1", Kind: transport.EventAccepted})

	got, _ := w.coord.GetStatus(ctx, s.ID)
	if got.Status != session.StatusOngoing {
		t.Fatalf("accepted event did not connect: %q", got.Status)
	}

	w.tr.Emit(ctx, transport.Event{SessionID: s.ID, UserID: "client1", Kind: transport.EventEnded})
	got, _ = w.coord.GetStatus(ctx, s.ID)
	if got.Status != session.StatusEnded {
		t.Fatalf("ended event did not finalize: %q", got.Status)
	}
}
