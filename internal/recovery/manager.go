package recovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"consult-platform/internal/audit"
	"consult-platform/internal/session"
)

var ErrNotParticipant = errors.New("recovery: user is not a session participant")

// Interrupter finalizes a session on behalf of the watchdog. Implemented by
// the metering engine; set after construction to break the dependency cycle
// (metering clears pointers through this manager).
type Interrupter interface {
	Stop(ctx context.Context, sessionID string, reason session.EndReason) (session.Session, error)
}

type Config struct {
	// GraceWindow is how long a participant may go silent while their
	// session is ongoing before the watchdog declares the call interrupted.
	GraceWindow time.Duration

	// ScanInterval is the watchdog pass frequency.
	ScanInterval time.Duration

	// PaymentPendingTTL bounds how long an accepted call may wait for a
	// top-up before the watchdog cancels it.
	PaymentPendingTTL time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.GraceWindow <= 0 {
		out.GraceWindow = 45 * time.Second
	}
	if out.ScanInterval <= 0 {
		out.ScanInterval = 5 * time.Second
	}
	if out.PaymentPendingTTL <= 0 {
		out.PaymentPendingTTL = 2 * time.Minute
	}
	return out
}

// Manager mirrors session state to per-user active-session pointers, answers
// resume-on-reconnect queries, and runs the server-side interruption
// watchdog.
//
// A disconnecting client cannot be trusted to clean up after itself, so
// every "participant went away" decision is made here, from heartbeat TTLs,
// never from client-side cleanup code.
type Manager struct {
	sessions session.Store
	pointers PointerStore
	beats    HeartbeatStore
	auditor  *audit.Service

	meter Interrupter

	cfg   Config
	clock func() time.Time
	log   *slog.Logger
}

func NewManager(sessions session.Store, pointers PointerStore, beats HeartbeatStore, auditor *audit.Service, cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		sessions: sessions,
		pointers: pointers,
		beats:    beats,
		auditor:  auditor,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
		log:      log,
	}
}

// SetMeter wires the metering engine in after construction.
func (m *Manager) SetMeter(meter Interrupter) { m.meter = meter }

// Mirror records the session's current status against both participants'
// active-session pointers. Called on every status transition. For terminal
// statuses the pointers are cleared in the same logical operation that set
// the status, so no window exists where a stale "active" pointer outlives a
// dead session.
func (m *Manager) Mirror(ctx context.Context, s session.Session) error {
	if s.ID == "" {
		return errors.New("recovery: session id required")
	}

	if s.Status.Terminal() {
		var firstErr error
		for _, uid := range []string{s.ClientID, s.ExpertID} {
			if err := m.pointers.ClearIf(ctx, uid, s.ID); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	p := Pointer{
		SessionID: s.ID,
		Status:    s.Status,
		ClientID:  s.ClientID,
		ExpertID:  s.ExpertID,
		StartedAt: s.StartedAt,
		UpdatedAt: m.clock().UTC(),
	}
	for _, uid := range []string{s.ClientID, s.ExpertID} {
		if err := m.pointers.Set(ctx, uid, p); err != nil {
			return err
		}
	}

	// Seed liveness when the call goes live so the watchdog does not fire
	// before the first client heartbeat arrives.
	if s.Status == session.StatusOngoing {
		for _, uid := range []string{s.ClientID, s.ExpertID} {
			if err := m.beats.Beat(ctx, s.ID, uid, m.cfg.GraceWindow); err != nil {
				return err
			}
		}
	}
	return nil
}

// Heartbeat refreshes a participant's liveness for their active session.
func (m *Manager) Heartbeat(ctx context.Context, sessionID, userID string) error {
	s, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !s.HasParticipant(userID) {
		return ErrNotParticipant
	}
	if s.Status.Terminal() {
		return nil
	}
	return m.beats.Beat(ctx, sessionID, userID, m.cfg.GraceWindow)
}

// ResumeIfPending returns the session a reconnecting user should rejoin, if
// any. Pointers whose session turns out terminal, missing, or inconsistent
// are reconciled by preferring the authoritative session record and clearing
// the pointer, never the reverse.
func (m *Manager) ResumeIfPending(ctx context.Context, userID string) (session.Session, bool, error) {
	if userID == "" {
		return session.Session{}, false, errors.New("recovery: user id required")
	}

	p, ok, err := m.pointers.Get(ctx, userID)
	if err != nil {
		return session.Session{}, false, err
	}
	if !ok {
		return session.Session{}, false, nil
	}

	s, err := m.sessions.Get(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			m.reconcile(ctx, userID, p.SessionID, "pointer referenced missing session")
			return session.Session{}, false, nil
		}
		return session.Session{}, false, err
	}

	if !s.HasParticipant(userID) {
		m.reconcile(ctx, userID, p.SessionID, "pointer referenced session with mismatched parties")
		return session.Session{}, false, nil
	}
	if s.Status.Terminal() {
		m.reconcile(ctx, userID, p.SessionID, "pointer referenced terminal session")
		return session.Session{}, false, nil
	}

	switch s.Status {
	case session.StatusOngoing, session.StatusPaymentPending:
		// Rejoining counts as liveness.
		if err := m.beats.Beat(ctx, s.ID, userID, m.cfg.GraceWindow); err != nil {
			return session.Session{}, false, err
		}
		return s, true, nil
	default:
		// Ringing/accepted/connecting sessions settle through signaling;
		// nothing for the client to rejoin yet.
		return session.Session{}, false, nil
	}
}

func (m *Manager) reconcile(ctx context.Context, userID, sessionID, msg string) {
	if err := m.pointers.ClearIf(ctx, userID, sessionID); err != nil {
		m.log.Error("pointer reconcile failed", "user_id", userID, "session_id", sessionID, "err", err)
		return
	}
	m.log.Warn("stale pointer reconciled", "user_id", userID, "session_id", sessionID, "reason", msg)
	if m.auditor != nil {
		_ = m.auditor.LogReconciliation(ctx, sessionID, userID, msg)
	}
}

// RunWatchdog runs interruption scans until ctx is canceled. Intended to be
// started once per process as a background goroutine.
func (m *Manager) RunWatchdog(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Scan(ctx)
		}
	}
}

// Scan runs one watchdog pass. Exported for deterministic tests.
func (m *Manager) Scan(ctx context.Context) {
	if m.meter == nil {
		return
	}

	live, err := m.sessions.ListByStatus(ctx,
		session.StatusOngoing,
		session.StatusAccepted,
		session.StatusConnecting,
		session.StatusPaymentPending,
	)
	if err != nil {
		m.log.Error("watchdog scan failed", "err", err)
		return
	}

	now := m.clock().UTC()
	for _, s := range live {
		switch s.Status {
		case session.StatusOngoing:
			m.checkLiveness(ctx, s)
		case session.StatusAccepted:
			// Accepted normally hands off to connect within one request; a
			// session still here after the grace window means the process
			// died (or connect errored) between the answer and the media
			// setup, leaving both parties presence-busy with no live call.
			if now.Sub(s.UpdatedAt) > m.cfg.GraceWindow {
				m.interrupt(ctx, s.ID, session.EndReasonParticipantLost, "accepted session never connected")
			}
		case session.StatusConnecting:
			// Media negotiation should settle quickly; a stuck connect is
			// treated like a lost participant.
			if now.Sub(s.UpdatedAt) > m.cfg.GraceWindow {
				m.interrupt(ctx, s.ID, session.EndReasonParticipantLost, "connect exceeded grace window")
			}
		case session.StatusPaymentPending:
			if now.Sub(s.UpdatedAt) > m.cfg.PaymentPendingTTL {
				m.interrupt(ctx, s.ID, session.EndReasonPaymentTimeout, "payment pending expired")
			}
		}
	}
}

func (m *Manager) checkLiveness(ctx context.Context, s session.Session) {
	for _, uid := range []string{s.ClientID, s.ExpertID} {
		alive, err := m.beats.Alive(ctx, s.ID, uid)
		if err != nil {
			m.log.Error("liveness check failed", "session_id", s.ID, "user_id", uid, "err", err)
			return
		}
		if !alive {
			m.interrupt(ctx, s.ID, session.EndReasonParticipantLost, "participant heartbeat expired: "+uid)
			return
		}
	}
}

func (m *Manager) interrupt(ctx context.Context, sessionID string, reason session.EndReason, msg string) {
	if _, err := m.meter.Stop(ctx, sessionID, reason); err != nil {
		m.log.Error("watchdog interrupt failed", "session_id", sessionID, "err", err)
		return
	}
	m.log.Warn("session interrupted by watchdog", "session_id", sessionID, "reason", string(reason))
	if m.auditor != nil {
		_ = m.auditor.LogInterruption(ctx, sessionID, msg)
	}
}
