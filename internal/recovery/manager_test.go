package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"consult-platform/internal/session"
)

type fakeMeter struct {
	sessions session.Store
	stopped  []string
	reason   session.EndReason
}

func (f *fakeMeter) Stop(ctx context.Context, sessionID string, reason session.EndReason) (session.Session, error) {
	s, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if s.Status.Terminal() {
		return s, nil
	}
	expect := s.Status
	if reason == session.EndReasonParticipantLost {
		s.Status = session.StatusInterrupted
	} else {
		s.Status = session.StatusCanceled
	}
	s.EndReason = reason
	if err := f.sessions.UpdateIf(ctx, s, expect); err != nil {
		return session.Session{}, err
	}
	f.stopped = append(f.stopped, sessionID)
	f.reason = reason
	return s, nil
}

type harness struct {
	mgr      *Manager
	sessions *session.MemoryStore
	pointers *MemoryPointerStore
	beats    *MemoryHeartbeatStore
	meter    *fakeMeter
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	sessions := session.NewMemoryStore()
	pointers := NewMemoryPointerStore()
	beats := NewMemoryHeartbeatStore()
	mgr := NewManager(sessions, pointers, beats, nil, cfg, nil)
	meter := &fakeMeter{sessions: sessions}
	mgr.SetMeter(meter)
	return &harness{mgr: mgr, sessions: sessions, pointers: pointers, beats: beats, meter: meter}
}

func seedSession(t *testing.T, store *session.MemoryStore, id string, status session.Status) session.Session {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := session.Session{
		ID: id, Type: session.TypeVideo,
		ClientID: "c1", ExpertID: "e1", InitiatorID: "c1",
		RatePerMinute: decimal.NewFromInt(10), Currency: "USD",
		Status:    status,
		CreatedAt: now, UpdatedAt: now,
	}
	if status == session.StatusOngoing {
		s.StartedAt = &now
	}
	if err := store.Create(context.Background(), s); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return s
}

func TestMirror_SetsAndClearsPointers(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	s := seedSession(t, h.sessions, "s1", session.StatusOngoing)

	if err := h.mgr.Mirror(ctx, s); err != nil {
		t.Fatalf("mirror failed: %v", err)
	}
	for _, uid := range []string{"c1", "e1"} {
		p, ok, _ := h.pointers.Get(ctx, uid)
		if !ok || p.SessionID != "s1" {
			t.Fatalf("expected pointer for %s", uid)
		}
		alive, _ := h.beats.Alive(ctx, "s1", uid)
		if !alive {
			t.Fatalf("expected seeded heartbeat for %s", uid)
		}
	}

	s.Status = session.StatusEnded
	if err := h.mgr.Mirror(ctx, s); err != nil {
		t.Fatalf("terminal mirror failed: %v", err)
	}
	for _, uid := range []string{"c1", "e1"} {
		if _, ok, _ := h.pointers.Get(ctx, uid); ok {
			t.Fatalf("expected pointer for %s cleared", uid)
		}
	}
}

func TestMirror_ClearLeavesNewerPointerAlone(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	// User already moved on to a new session; clearing the old one must not
	// wipe the new pointer.
	_ = h.pointers.Set(ctx, "c1", Pointer{SessionID: "s2", Status: session.StatusOngoing})

	old := session.Session{ID: "s1", ClientID: "c1", ExpertID: "e1", Status: session.StatusEnded}
	if err := h.mgr.Mirror(ctx, old); err != nil {
		t.Fatalf("mirror failed: %v", err)
	}
	p, ok, _ := h.pointers.Get(ctx, "c1")
	if !ok || p.SessionID != "s2" {
		t.Fatalf("newer pointer was clobbered: %+v ok=%v", p, ok)
	}
}

func TestResumeIfPending_ReturnsOngoingSession(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	s := seedSession(t, h.sessions, "s1", session.StatusOngoing)
	if err := h.mgr.Mirror(ctx, s); err != nil {
		t.Fatalf("mirror failed: %v", err)
	}

	got, ok, err := h.mgr.ResumeIfPending(ctx, "c1")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if !ok || got.ID != "s1" {
		t.Fatalf("expected resumable session s1, got ok=%v id=%q", ok, got.ID)
	}
}

func TestResumeIfPending_NothingForIdleUser(t *testing.T) {
	h := newHarness(t, Config{})
	_, ok, err := h.mgr.ResumeIfPending(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if ok {
		t.Fatalf("expected no pending session")
	}
}

func TestResumeIfPending_ReconcilesTerminalPointer(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	seedSession(t, h.sessions, "s1", session.StatusEnded)
	_ = h.pointers.Set(ctx, "c1", Pointer{SessionID: "s1", Status: session.StatusOngoing})

	_, ok, err := h.mgr.ResumeIfPending(ctx, "c1")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if ok {
		t.Fatalf("terminal session must not be resumable")
	}
	if _, ok, _ := h.pointers.Get(ctx, "c1"); ok {
		t.Fatalf("stale pointer should have been cleared")
	}
}

func TestResumeIfPending_ReconcilesMissingSession(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	_ = h.pointers.Set(ctx, "c1", Pointer{SessionID: "ghost", Status: session.StatusOngoing})

	_, ok, err := h.mgr.ResumeIfPending(ctx, "c1")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if ok {
		t.Fatalf("missing session must not be resumable")
	}
	if _, ok, _ := h.pointers.Get(ctx, "c1"); ok {
		t.Fatalf("dangling pointer should have been cleared")
	}
}

func TestResumeIfPending_RefreshesHeartbeat(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	s := seedSession(t, h.sessions, "s1", session.StatusOngoing)
	if err := h.mgr.Mirror(ctx, s); err != nil {
		t.Fatalf("mirror failed: %v", err)
	}
	h.beats.Expire("s1", "c1")

	if _, ok, err := h.mgr.ResumeIfPending(ctx, "c1"); err != nil || !ok {
		t.Fatalf("resume failed: ok=%v err=%v", ok, err)
	}
	alive, _ := h.beats.Alive(ctx, "s1", "c1")
	if !alive {
		t.Fatalf("resume should count as liveness")
	}
}

func TestHeartbeat_RejectsNonParticipant(t *testing.T) {
	h := newHarness(t, Config{})
	seedSession(t, h.sessions, "s1", session.StatusOngoing)

	if err := h.mgr.Heartbeat(context.Background(), "s1", "stranger"); err != ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestScan_InterruptsOnExpiredHeartbeat(t *testing.T) {
	h := newHarness(t, Config{GraceWindow: 30 * time.Second})
	ctx := context.Background()
	s := seedSession(t, h.sessions, "s1", session.StatusOngoing)
	if err := h.mgr.Mirror(ctx, s); err != nil {
		t.Fatalf("mirror failed: %v", err)
	}

	h.mgr.Scan(ctx)
	if len(h.meter.stopped) != 0 {
		t.Fatalf("healthy session was interrupted")
	}

	h.beats.Expire("s1", "c1")
	h.mgr.Scan(ctx)
	if len(h.meter.stopped) != 1 || h.meter.stopped[0] != "s1" {
		t.Fatalf("expected s1 interrupted, got %v", h.meter.stopped)
	}
	if h.meter.reason != session.EndReasonParticipantLost {
		t.Fatalf("expected participant_lost, got %q", h.meter.reason)
	}

	got, _ := h.sessions.Get(ctx, "s1")
	if got.Status != session.StatusInterrupted {
		t.Fatalf("expected interrupted, got %q", got.Status)
	}
}

func TestScan_CancelsExpiredPaymentPending(t *testing.T) {
	h := newHarness(t, Config{PaymentPendingTTL: time.Minute})
	ctx := context.Background()
	seedSession(t, h.sessions, "s1", session.StatusPaymentPending)

	// Fresh session: inside the TTL, nothing happens.
	h.mgr.clock = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 30, 0, time.UTC) }
	h.mgr.Scan(ctx)
	if len(h.meter.stopped) != 0 {
		t.Fatalf("payment window canceled too early")
	}

	h.mgr.clock = func() time.Time { return time.Date(2026, 3, 1, 9, 2, 0, 0, time.UTC) }
	h.mgr.Scan(ctx)
	if len(h.meter.stopped) != 1 {
		t.Fatalf("expected expiry cancel, got %v", h.meter.stopped)
	}
	if h.meter.reason != session.EndReasonPaymentTimeout {
		t.Fatalf("expected payment_timeout, got %q", h.meter.reason)
	}
}

func TestScan_InterruptsStrandedAccepted(t *testing.T) {
	h := newHarness(t, Config{GraceWindow: 30 * time.Second})
	ctx := context.Background()
	seedSession(t, h.sessions, "s1", session.StatusAccepted)

	// Inside the grace window the connect hand-off may still be in flight.
	h.mgr.clock = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 10, 0, time.UTC) }
	h.mgr.Scan(ctx)
	if len(h.meter.stopped) != 0 {
		t.Fatalf("fresh accepted session was interrupted")
	}

	// An hour later the session never connected; without the watchdog both
	// parties would stay busy and blocked from new calls forever.
	h.mgr.clock = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	h.mgr.Scan(ctx)
	if len(h.meter.stopped) != 1 || h.meter.stopped[0] != "s1" {
		t.Fatalf("expected stranded accepted session interrupted, got %v", h.meter.stopped)
	}
	if h.meter.reason != session.EndReasonParticipantLost {
		t.Fatalf("expected participant_lost, got %q", h.meter.reason)
	}
	got, _ := h.sessions.Get(ctx, "s1")
	if got.Status != session.StatusInterrupted {
		t.Fatalf("expected interrupted, got %q", got.Status)
	}
}

func TestScan_InterruptsStuckConnecting(t *testing.T) {
	h := newHarness(t, Config{GraceWindow: 30 * time.Second})
	ctx := context.Background()
	seedSession(t, h.sessions, "s1", session.StatusConnecting)

	h.mgr.clock = func() time.Time { return time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC) }
	h.mgr.Scan(ctx)
	if len(h.meter.stopped) != 1 {
		t.Fatalf("expected stuck connect interrupted, got %v", h.meter.stopped)
	}
	if h.meter.reason != session.EndReasonParticipantLost {
		t.Fatalf("expected participant_lost, got %q", h.meter.reason)
	}
}
