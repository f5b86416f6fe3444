package metering

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"consult-platform/internal/notify"
	"consult-platform/internal/presence"
	"consult-platform/internal/recovery"
	"consult-platform/internal/session"
	"consult-platform/internal/transport"
	"consult-platform/internal/wallet"
)

var (
	ErrSessionNotActive = errors.New("metering: session not active")
	ErrEngineClosed     = errors.New("metering: engine closed")
)

// Wallet is the slice of the wallet service the engine needs.
type Wallet interface {
	DebitAtMost(ctx context.Context, userID string, amount decimal.Decimal, currency, externalRef, key string) (decimal.Decimal, wallet.Balance, error)
}

type Config struct {
	// TickInterval is the metering granularity.
	TickInterval time.Duration

	// LowBalanceSeconds is the projected-remaining-talk-time threshold below
	// which the one-shot low-balance warning fires.
	LowBalanceSeconds int
}

func (c Config) withDefaults() Config {
	out := c
	if out.TickInterval <= 0 {
		out.TickInterval = time.Second
	}
	if out.LowBalanceSeconds <= 0 {
		out.LowBalanceSeconds = 120
	}
	return out
}

// Engine meters active sessions against the payer's wallet.
//
// One runner goroutine per ongoing session is the single writer for that
// session: ticks, tips and stop requests are all serialized through the
// runner's command queue, so a tip applied "between" two ticks is
// deterministically ordered relative to them and no two ticks for the same
// session ever execute concurrently.
//
// The engine is server-owned. Billing does not depend on any client staying
// connected; a vanished client is the watchdog's problem, not the meter's.
type Engine struct {
	wallet    Wallet
	sessions  session.Store
	recovery  *recovery.Manager
	presence  presence.Tracker
	transport transport.Transport
	notifier  notify.Notifier

	cfg   Config
	clock func() time.Time
	log   *slog.Logger

	mu      sync.Mutex
	runners map[string]*runner
	closed  bool
}

func NewEngine(
	w Wallet,
	sessions session.Store,
	rec *recovery.Manager,
	pres presence.Tracker,
	tr transport.Transport,
	notifier notify.Notifier,
	cfg Config,
	log *slog.Logger,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		wallet:    w,
		sessions:  sessions,
		recovery:  rec,
		presence:  pres,
		transport: tr,
		notifier:  notifier,
		cfg:       cfg.withDefaults(),
		clock:     time.Now,
		log:       log,
	}
}

// Start begins metering an ongoing session. Idempotent: starting a session
// that already has a runner is a no-op.
func (e *Engine) Start(ctx context.Context, s session.Session) error {
	if s.Status != session.StatusOngoing {
		return ErrSessionNotActive
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.runners == nil {
		e.runners = make(map[string]*runner)
	}
	if _, ok := e.runners[s.ID]; ok {
		return nil
	}

	// The runner is a server-owned task; it must not inherit a request
	// context that dies when the initiating HTTP call returns.
	rctx, cancel := context.WithCancel(context.Background())
	r := &runner{
		engine:   e,
		sess:     s,
		ctx:      rctx,
		cancel:   cancel,
		cmds:     make(chan func()),
		done:     make(chan struct{}),
		lastTick: e.clock().UTC(),
	}
	e.runners[s.ID] = r
	go r.run()

	e.log.Info("metering started", "session_id", s.ID, "rate_per_minute", s.RatePerMinute.String())
	return nil
}

// Exec runs fn on the session's runner queue, mutually exclusive with ticks.
// The session passed to fn is the runner's working copy; mutations are
// persisted on the next tick or at finalization.
func (e *Engine) Exec(ctx context.Context, sessionID string, fn func(s *session.Session) error) error {
	e.mu.Lock()
	r, ok := e.runners[sessionID]
	e.mu.Unlock()
	if !ok {
		return ErrSessionNotActive
	}

	reply := make(chan error, 1)
	select {
	case r.cmds <- func() { reply <- fn(&r.sess) }:
	case <-r.done:
		return ErrSessionNotActive
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop finalizes the session. Idempotent and safe to call multiple times;
// this is the single place that sets endedAt and the final chargeable
// seconds. If the session has a live runner the stop is serialized through
// its queue; otherwise (crashed process, watchdog recovery) the session is
// finalized directly against the store.
func (e *Engine) Stop(ctx context.Context, sessionID string, reason session.EndReason) (session.Session, error) {
	e.mu.Lock()
	r, ok := e.runners[sessionID]
	e.mu.Unlock()

	if ok {
		type result struct {
			s   session.Session
			err error
		}
		reply := make(chan result, 1)
		select {
		case r.cmds <- func() {
			s, err := r.stop(reason)
			reply <- result{s, err}
		}:
			select {
			case out := <-reply:
				return out.s, out.err
			case <-ctx.Done():
				return session.Session{}, ctx.Err()
			}
		case <-r.done:
			// Runner exited between lookup and send; finalize detached.
		case <-ctx.Done():
			return session.Session{}, ctx.Err()
		}
	}

	return e.stopDetached(ctx, sessionID, reason)
}

// stopDetached finalizes a session that has no live runner.
func (e *Engine) stopDetached(ctx context.Context, sessionID string, reason session.EndReason) (session.Session, error) {
	s, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if s.Status.Terminal() {
		return s, nil
	}
	return e.finalize(ctx, s, reason)
}

// finalize drives the session to its terminal status and performs the
// associated cleanup as one logical operation: status CAS, pointer clear,
// presence release, transport leave, notifications.
func (e *Engine) finalize(ctx context.Context, s session.Session, reason session.EndReason) (session.Session, error) {
	now := e.clock().UTC()
	expect := s.Status

	s.Status = terminalStatusFor(expect, reason)
	s.EndReason = reason
	s.EndedAt = &now
	s.UpdatedAt = now
	// Intermediate ticks keep full precision; rounding happens only here,
	// at the point of persisting the final charge.
	s.ChargedTotal = s.ChargedTotal.Round(2)

	if err := e.sessions.UpdateIf(ctx, s, expect); err != nil {
		if errors.Is(err, session.ErrConflict) {
			// Lost the race: someone else finalized. Converge on their result.
			cur, gerr := e.sessions.Get(ctx, s.ID)
			if gerr != nil {
				return session.Session{}, gerr
			}
			if cur.Status.Terminal() {
				return cur, nil
			}
		}
		return session.Session{}, err
	}

	for _, uid := range []string{s.ClientID, s.ExpertID} {
		if err := e.presence.Set(ctx, uid, presence.StatusOnline); err != nil {
			e.log.Error("presence release failed", "session_id", s.ID, "user_id", uid, "err", err)
		}
		if err := e.transport.Leave(ctx, s.ID, uid); err != nil {
			e.log.Error("transport leave failed", "session_id", s.ID, "user_id", uid, "err", err)
		}
	}
	if err := e.recovery.Mirror(ctx, s); err != nil {
		e.log.Error("pointer clear failed", "session_id", s.ID, "err", err)
	}

	payload := map[string]any{"session_id": s.ID, "reason": string(reason)}
	e.notifier.Notify(ctx, s.ClientID, notify.EventCallEnded, payload)
	e.notifier.Notify(ctx, s.ExpertID, notify.EventCallEnded, payload)

	e.log.Info("session finalized",
		"session_id", s.ID,
		"status", string(s.Status),
		"reason", string(reason),
		"chargeable_seconds", s.ChargeableSeconds.String(),
		"charged_total", s.ChargedTotal.String(),
	)
	return s, nil
}

// terminalStatusFor maps an end reason and the current status to the
// terminal status the session should land in.
func terminalStatusFor(from session.Status, reason session.EndReason) session.Status {
	if reason == session.EndReasonParticipantLost {
		return session.StatusInterrupted
	}
	if from == session.StatusOngoing {
		return session.StatusEnded
	}
	return session.StatusCanceled
}

// Close cancels all runners without finalizing their sessions; in-flight
// calls stay ongoing in the store and are reconciled by the next process's
// watchdog. Used during graceful shutdown.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	runners := make([]*runner, 0, len(e.runners))
	for _, r := range e.runners {
		runners = append(runners, r)
	}
	e.mu.Unlock()

	for _, r := range runners {
		r.cancel()
	}
	for _, r := range runners {
		<-r.done
	}
}
