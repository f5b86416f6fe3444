package signaling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"consult-platform/internal/notify"
	"consult-platform/internal/presence"
	"consult-platform/internal/rates"
	"consult-platform/internal/recovery"
	"consult-platform/internal/session"
	"consult-platform/internal/transport"
	"consult-platform/internal/wallet"
)

var (
	ErrInvalidRequest    = errors.New("signaling: invalid request")
	ErrCalleeUnavailable = errors.New("signaling: callee unavailable")
	ErrAlreadyInCall     = errors.New("signaling: user already has an active session")
	ErrNotParticipant    = errors.New("signaling: user is not a session participant")
	ErrTransportFailure  = errors.New("signaling: transport failure")
)

// Meter is the slice of the metering engine the coordinator drives.
type Meter interface {
	Start(ctx context.Context, s session.Session) error
	Stop(ctx context.Context, sessionID string, reason session.EndReason) (session.Session, error)
}

// BalanceReader answers "can this client afford to connect at all".
type BalanceReader interface {
	GetBalance(ctx context.Context, userID string) (wallet.Balance, error)
}

// RateResolver freezes the expert's per-minute price into the session.
type RateResolver interface {
	Resolve(ctx context.Context, expertID string, callType session.Type, at time.Time) (rates.MinuteRate, error)
}

type Config struct {
	// RingTimeout bounds how long a call may ring before it auto-transitions
	// to not-answered. Server-side: it fires even if no client is polling.
	RingTimeout time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.RingTimeout <= 0 {
		out.RingTimeout = 30 * time.Second
	}
	return out
}

// Coordinator owns the call-session state machine from dial to the moment a
// call goes live, at which point the metering engine takes over.
//
// Transitions for one session are serialized through a per-session mutex;
// independent sessions proceed fully in parallel. Accept and reject are
// idempotent: replaying them against a settled session returns the current
// state instead of erroring, to tolerate duplicate client retries.
type Coordinator struct {
	sessions  session.Store
	presence  presence.Tracker
	rates     RateResolver
	transport transport.Transport
	notifier  notify.Notifier
	recovery  *recovery.Manager
	meter     Meter
	balances  BalanceReader

	cfg   Config
	clock func() time.Time
	log   *slog.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	timers map[string]*time.Timer
}

func NewCoordinator(
	sessions session.Store,
	pres presence.Tracker,
	rateResolver RateResolver,
	tr transport.Transport,
	notifier notify.Notifier,
	rec *recovery.Manager,
	meter Meter,
	balances BalanceReader,
	cfg Config,
	log *slog.Logger,
) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		sessions:  sessions,
		presence:  pres,
		rates:     rateResolver,
		transport: tr,
		notifier:  notifier,
		recovery:  rec,
		meter:     meter,
		balances:  balances,
		cfg:       cfg.withDefaults(),
		clock:     time.Now,
		log:       log,
		locks:     make(map[string]*sync.Mutex),
		timers:    make(map[string]*time.Timer),
	}
	tr.Subscribe(c.OnTransportEvent)
	return c
}

func (c *Coordinator) sessionLock(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[sessionID] = l
	}
	return l
}

// Initiate dials calleeID on behalf of callerID and returns the new session
// in ringing state. The caller pays; the callee's published rate is resolved
// now and frozen for the session's lifetime.
func (c *Coordinator) Initiate(ctx context.Context, callerID, calleeID string, callType session.Type) (session.Session, error) {
	if callerID == "" || calleeID == "" || callerID == calleeID || !callType.Valid() {
		return session.Session{}, ErrInvalidRequest
	}

	st, err := c.presence.Get(ctx, calleeID)
	if err != nil {
		return session.Session{}, err
	}
	if st != presence.StatusOnline {
		return session.Session{}, ErrCalleeUnavailable
	}

	// One active session per user, both sides.
	if _, busy, err := c.sessions.FindActiveByUser(ctx, callerID); err != nil {
		return session.Session{}, err
	} else if busy {
		return session.Session{}, ErrAlreadyInCall
	}
	if _, busy, err := c.sessions.FindActiveByUser(ctx, calleeID); err != nil {
		return session.Session{}, err
	} else if busy {
		return session.Session{}, ErrCalleeUnavailable
	}

	now := c.clock().UTC()
	rate, err := c.rates.Resolve(ctx, calleeID, callType, now)
	if err != nil {
		return session.Session{}, err
	}

	s := session.Session{
		ID:                uuid.NewString(),
		Type:              callType,
		ClientID:          callerID,
		ExpertID:          calleeID,
		InitiatorID:       callerID,
		RatePerMinute:     rate.RatePerMinute,
		Currency:          rate.Currency,
		IsGlobal:          rate.IsGlobal,
		Status:            session.StatusRinging,
		ChargeableSeconds: decimal.Zero,
		ChargedTotal:      decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := c.sessions.Create(ctx, s); err != nil {
		return session.Session{}, err
	}
	if err := c.recovery.Mirror(ctx, s); err != nil {
		c.log.Error("pointer mirror failed", "session_id", s.ID, "err", err)
	}

	if err := c.transport.Ring(ctx, s); err != nil {
		c.log.Error("ring failed", "session_id", s.ID, "err", err)
		if _, ferr := c.settleRinging(ctx, s.ID, session.StatusCanceled, session.EndReasonTransportFailure); ferr != nil {
			c.log.Error("ring failure settle failed", "session_id", s.ID, "err", ferr)
		}
		return session.Session{}, ErrTransportFailure
	}

	c.notifier.Notify(ctx, calleeID, notify.EventIncomingCall, map[string]any{
		"session_id":      s.ID,
		"caller_id":       callerID,
		"type":            string(callType),
		"rate_per_minute": rate.RatePerMinute.String(),
		"currency":        rate.Currency,
	})

	c.armRingTimer(s.ID)

	c.log.Info("call initiated",
		"session_id", s.ID,
		"caller_id", callerID,
		"callee_id", calleeID,
		"type", string(callType),
		"rate_per_minute", rate.RatePerMinute.String(),
	)
	return s, nil
}

func (c *Coordinator) armRingTimer(sessionID string) {
	t := time.AfterFunc(c.cfg.RingTimeout, func() {
		c.ringTimeout(sessionID)
	})
	c.mu.Lock()
	c.timers[sessionID] = t
	c.mu.Unlock()
}

func (c *Coordinator) stopRingTimer(sessionID string) {
	c.mu.Lock()
	t, ok := c.timers[sessionID]
	if ok {
		delete(c.timers, sessionID)
	}
	c.mu.Unlock()
	if ok {
		t.Stop()
	}
}

func (c *Coordinator) ringTimeout(sessionID string) {
	ctx := context.Background()
	s, err := c.settleRinging(ctx, sessionID, session.StatusNotAnswered, session.EndReasonRingTimeout)
	if err != nil {
		c.log.Error("ring timeout settle failed", "session_id", sessionID, "err", err)
		return
	}
	if s.Status != session.StatusNotAnswered {
		// Settled by accept/reject/cancel before the timer fired.
		return
	}
	c.notifier.Notify(ctx, s.ClientID, notify.EventCallMissed, map[string]any{"session_id": sessionID})
	c.log.Info("call not answered", "session_id", sessionID)
}

// settleRinging moves a still-ringing session to the given terminal status.
// If the session already left ringing it is returned unchanged.
func (c *Coordinator) settleRinging(ctx context.Context, sessionID string, to session.Status, reason session.EndReason) (session.Session, error) {
	l := c.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if s.Status != session.StatusRinging {
		return s, nil
	}

	now := c.clock().UTC()
	s.Status = to
	s.EndReason = reason
	s.EndedAt = &now
	s.UpdatedAt = now
	if err := c.sessions.UpdateIf(ctx, s, session.StatusRinging); err != nil {
		if errors.Is(err, session.ErrConflict) {
			return c.sessions.Get(ctx, sessionID)
		}
		return session.Session{}, err
	}
	c.stopRingTimer(sessionID)
	if err := c.recovery.Mirror(ctx, s); err != nil {
		c.log.Error("pointer clear failed", "session_id", sessionID, "err", err)
	}
	return s, nil
}

// Accept answers a ringing call as the callee. Non-ringing sessions are a
// no-op returning the current state. If the payer's wallet is empty the
// session parks in payment-pending instead of going live; Activate connects
// it once funds arrive.
func (c *Coordinator) Accept(ctx context.Context, sessionID, userID string) (session.Session, error) {
	l := c.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if !s.HasParticipant(userID) {
		return session.Session{}, ErrNotParticipant
	}
	if s.Status != session.StatusRinging {
		return s, nil
	}
	if userID != s.ExpertID {
		return session.Session{}, ErrNotParticipant
	}

	c.stopRingTimer(sessionID)

	now := c.clock().UTC()
	s.Status = session.StatusAccepted
	s.UpdatedAt = now
	if err := c.sessions.UpdateIf(ctx, s, session.StatusRinging); err != nil {
		if errors.Is(err, session.ErrConflict) {
			return c.sessions.Get(ctx, sessionID)
		}
		return session.Session{}, err
	}
	if err := c.recovery.Mirror(ctx, s); err != nil {
		c.log.Error("pointer mirror failed", "session_id", sessionID, "err", err)
	}

	for _, uid := range []string{s.ClientID, s.ExpertID} {
		if err := c.presence.Set(ctx, uid, presence.StatusBusy); err != nil {
			c.log.Error("presence busy failed", "session_id", sessionID, "user_id", uid, "err", err)
		}
	}

	bal, err := c.balances.GetBalance(ctx, s.ClientID)
	if err != nil {
		return session.Session{}, err
	}
	if !bal.Amount.IsPositive() && s.RatePerMinute.IsPositive() {
		s, err = c.transition(ctx, s, session.StatusPaymentPending)
		if err != nil {
			return session.Session{}, err
		}
		c.notifier.Notify(ctx, s.ClientID, notify.EventLowBalance, map[string]any{
			"session_id": sessionID,
			"reason":     "top_up_required",
		})
		c.log.Info("call parked for payment", "session_id", sessionID)
		return s, nil
	}

	return c.connect(ctx, s)
}

// Activate connects a payment-pending session after the payer topped up.
// No-op on any other status.
func (c *Coordinator) Activate(ctx context.Context, sessionID string) (session.Session, error) {
	l := c.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if s.Status != session.StatusPaymentPending {
		return s, nil
	}

	bal, err := c.balances.GetBalance(ctx, s.ClientID)
	if err != nil {
		return session.Session{}, err
	}
	if !bal.Amount.IsPositive() {
		return s, wallet.ErrInsufficientFunds
	}
	return c.connect(ctx, s)
}

// connect drives accepted/payment-pending → connecting → ongoing and hands
// the live session to the metering engine. Caller holds the session lock.
func (c *Coordinator) connect(ctx context.Context, s session.Session) (session.Session, error) {
	s, err := c.transition(ctx, s, session.StatusConnecting)
	if err != nil {
		return session.Session{}, err
	}

	if err := c.transport.Accept(ctx, s); err != nil {
		c.log.Error("transport accept failed", "session_id", s.ID, "err", err)
		now := c.clock().UTC()
		failed := s
		failed.Status = session.StatusCanceled
		failed.EndReason = session.EndReasonTransportFailure
		failed.EndedAt = &now
		failed.UpdatedAt = now
		if uerr := c.sessions.UpdateIf(ctx, failed, session.StatusConnecting); uerr != nil {
			c.log.Error("transport failure settle failed", "session_id", s.ID, "err", uerr)
		} else {
			c.releaseParties(ctx, failed)
		}
		return session.Session{}, ErrTransportFailure
	}

	now := c.clock().UTC()
	s.StartedAt = &now
	s, err = c.transition(ctx, s, session.StatusOngoing)
	if err != nil {
		return session.Session{}, err
	}

	if err := c.meter.Start(ctx, s); err != nil {
		return session.Session{}, err
	}

	c.notifier.Notify(ctx, s.ClientID, notify.EventCallAccepted, map[string]any{"session_id": s.ID})
	c.log.Info("call connected", "session_id", s.ID)
	return s, nil
}

// transition applies one status change with CAS and mirrors the pointer.
func (c *Coordinator) transition(ctx context.Context, s session.Session, to session.Status) (session.Session, error) {
	expect := s.Status
	now := c.clock().UTC()
	s.Status = to
	s.UpdatedAt = now
	if err := c.sessions.UpdateIf(ctx, s, expect); err != nil {
		return session.Session{}, err
	}
	if err := c.recovery.Mirror(ctx, s); err != nil {
		c.log.Error("pointer mirror failed", "session_id", s.ID, "err", err)
	}
	return s, nil
}

// Reject declines a ringing call as the callee. Non-ringing sessions are a
// no-op returning the current state.
func (c *Coordinator) Reject(ctx context.Context, sessionID, userID string) (session.Session, error) {
	s, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if !s.HasParticipant(userID) {
		return session.Session{}, ErrNotParticipant
	}
	if s.Status == session.StatusRinging && userID != s.ExpertID {
		return session.Session{}, ErrNotParticipant
	}

	s, err = c.settleRinging(ctx, sessionID, session.StatusRejected, session.EndReasonDeclined)
	if err != nil {
		return session.Session{}, err
	}
	if s.Status == session.StatusRejected {
		c.notifier.Notify(ctx, s.ClientID, notify.EventCallRejected, map[string]any{"session_id": sessionID})
		c.log.Info("call rejected", "session_id", sessionID)
	}
	return s, nil
}

// Cancel aborts a ringing call as the caller. Non-ringing sessions are a
// no-op returning the current state.
func (c *Coordinator) Cancel(ctx context.Context, sessionID, userID string) (session.Session, error) {
	s, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if !s.HasParticipant(userID) {
		return session.Session{}, ErrNotParticipant
	}
	if s.Status == session.StatusRinging && userID != s.InitiatorID {
		return session.Session{}, ErrNotParticipant
	}

	s, err = c.settleRinging(ctx, sessionID, session.StatusCanceled, session.EndReasonCallerCanceled)
	if err != nil {
		return session.Session{}, err
	}
	if s.Status == session.StatusCanceled {
		c.notifier.Notify(ctx, s.ExpertID, notify.EventCallEnded, map[string]any{"session_id": sessionID})
		c.log.Info("call canceled", "session_id", sessionID)
	}
	return s, nil
}

// End hangs up. While ringing it behaves as cancel (caller) or reject
// (callee); for live or parked sessions it stops the meter; terminal sessions
// are returned unchanged.
func (c *Coordinator) End(ctx context.Context, sessionID, userID string) (session.Session, error) {
	s, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if !s.HasParticipant(userID) {
		return session.Session{}, ErrNotParticipant
	}

	switch s.Status {
	case session.StatusRinging:
		if userID == s.InitiatorID {
			return c.Cancel(ctx, sessionID, userID)
		}
		return c.Reject(ctx, sessionID, userID)
	case session.StatusOngoing, session.StatusConnecting, session.StatusAccepted, session.StatusPaymentPending:
		return c.meter.Stop(ctx, sessionID, session.EndReasonHangup)
	default:
		return s, nil
	}
}

// GetStatus returns the session as stored. The client is always told the
// session status, never internal tokens or locking details.
func (c *Coordinator) GetStatus(ctx context.Context, sessionID string) (session.Session, error) {
	return c.sessions.Get(ctx, sessionID)
}

func (c *Coordinator) releaseParties(ctx context.Context, s session.Session) {
	for _, uid := range []string{s.ClientID, s.ExpertID} {
		if err := c.presence.Set(ctx, uid, presence.StatusOnline); err != nil {
			c.log.Error("presence release failed", "session_id", s.ID, "user_id", uid, "err", err)
		}
	}
	if err := c.recovery.Mirror(ctx, s); err != nil {
		c.log.Error("pointer clear failed", "session_id", s.ID, "err", err)
	}
}

// OnTransportEvent maps provider lifecycle events onto the state machine.
// Registered with the transport at construction.
func (c *Coordinator) OnTransportEvent(ctx context.Context, ev transport.Event) {
	var err error
	switch ev.Kind {
	case transport.EventAccepted:
		_, err = c.Accept(ctx, ev.SessionID, ev.UserID)
	case transport.EventRejected:
		_, err = c.Reject(ctx, ev.SessionID, ev.UserID)
	case transport.EventEnded:
		_, err = c.End(ctx, ev.SessionID, ev.UserID)
	case transport.EventFailed:
		// Never retried: the caller must re-initiate.
		s, gerr := c.sessions.Get(ctx, ev.SessionID)
		if gerr != nil {
			err = gerr
			break
		}
		if s.Status == session.StatusRinging {
			_, err = c.settleRinging(ctx, ev.SessionID, session.StatusCanceled, session.EndReasonTransportFailure)
		} else if s.Status.Active() {
			_, err = c.meter.Stop(ctx, ev.SessionID, session.EndReasonTransportFailure)
		}
	}
	if err != nil {
		c.log.Error("transport event handling failed",
			"session_id", ev.SessionID,
			"kind", string(ev.Kind),
			"err", err,
		)
	}
}

// Shutdown stops pending ring timers. In-flight sessions stay in the store
// for the watchdog.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	timers := make([]*time.Timer, 0, len(c.timers))
	for id, t := range c.timers {
		timers = append(timers, t)
		delete(c.timers, id)
	}
	c.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}
