package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"consult-platform/internal/notify"
	"consult-platform/internal/session"
)

var sixty = decimal.NewFromInt(60)

// runner is the single writer for one session. Everything that touches the
// session while it is ongoing — ticks, tips, stop — executes on its
// goroutine, in arrival order.
type runner struct {
	engine *Engine
	sess   session.Session

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	done   chan struct{}

	lastTick       time.Time
	tickIndex      int64
	lowBalanceSent bool
	finished       bool
}

func (r *runner) run() {
	defer close(r.done)
	defer func() {
		r.engine.mu.Lock()
		delete(r.engine.runners, r.sess.ID)
		r.engine.mu.Unlock()
	}()

	ticker := time.NewTicker(r.engine.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			// Engine shutdown: leave the session ongoing in the store; the
			// watchdog of the surviving/next process reconciles it.
			return
		case <-ticker.C:
			r.step(r.engine.clock().UTC())
		case cmd := <-r.cmds:
			cmd()
		}
		if r.finished {
			return
		}
	}
}

// step runs one metering tick at the given wall-clock time.
//
// Cost is computed from the telescoped target charge
// (rate * totalSeconds / 60 minus what was already charged) rather than
// per-tick increments, so division rounding never accumulates across
// thousands of ticks: after N seconds the total charged is exactly the
// N-second price, to full decimal precision.
func (r *runner) step(now time.Time) {
	if r.finished || r.sess.Status != session.StatusOngoing {
		return
	}

	elapsed := now.Sub(r.lastTick)
	if elapsed <= 0 {
		return
	}
	sec := decimal.NewFromInt(elapsed.Milliseconds()).Div(decimal.NewFromInt(1000))

	targetSeconds := r.sess.ChargeableSeconds.Add(sec)
	targetCharge := r.sess.RatePerMinute.Mul(targetSeconds).Div(sixty)
	cost := targetCharge.Sub(r.sess.ChargedTotal)

	if cost.LessThanOrEqual(decimal.Zero) {
		// Zero-rate session: time still accrues, money does not.
		r.sess.ChargeableSeconds = targetSeconds
		r.lastTick = now
		r.persistProgress(now)
		return
	}

	token := fmt.Sprintf("%s:tick:%d", r.sess.ID, r.tickIndex)
	debited, bal, err := r.engine.wallet.DebitAtMost(r.ctx, r.sess.ClientID, cost, r.sess.Currency, "call:"+r.sess.ID, token)
	if err != nil {
		// Transient wallet failure: do not advance the baseline; the next
		// tick retries the same window under a fresh token.
		r.engine.log.Error("metering debit failed", "session_id", r.sess.ID, "err", err)
		r.tickIndex++
		return
	}
	r.tickIndex++
	r.lastTick = now

	if debited.LessThan(cost) {
		// Wallet exhausted: charge only the seconds actually affordable,
		// clamp the balance at exactly zero, end the call gracefully.
		affordable := decimal.Zero
		if r.sess.RatePerMinute.IsPositive() && debited.IsPositive() {
			affordable = debited.Mul(sixty).Div(r.sess.RatePerMinute)
		}
		r.sess.ChargeableSeconds = r.sess.ChargeableSeconds.Add(affordable)
		r.sess.ChargedTotal = r.sess.ChargedTotal.Add(debited)

		if _, err := r.stop(session.EndReasonBalanceExhausted); err != nil {
			r.engine.log.Error("exhaustion stop failed", "session_id", r.sess.ID, "err", err)
		}
		return
	}

	r.sess.ChargeableSeconds = targetSeconds
	r.sess.ChargedTotal = targetCharge
	r.persistProgress(now)

	r.maybeWarnLowBalance(bal.Amount)
}

func (r *runner) persistProgress(now time.Time) {
	r.sess.UpdatedAt = now
	if err := r.engine.sessions.UpdateIf(r.ctx, r.sess, session.StatusOngoing); err != nil {
		r.engine.log.Error("metering progress persist failed", "session_id", r.sess.ID, "err", err)
	}
}

// maybeWarnLowBalance emits the low-balance warning exactly once per
// session, edge-triggered: crossing the threshold fires it, staying below
// it does not fire it again.
func (r *runner) maybeWarnLowBalance(balance decimal.Decimal) {
	if r.lowBalanceSent || !r.sess.RatePerMinute.IsPositive() {
		return
	}
	projected := balance.Div(r.sess.RatePerMinute).Mul(sixty)
	threshold := decimal.NewFromInt(int64(r.engine.cfg.LowBalanceSeconds))
	if projected.LessThan(threshold) {
		r.lowBalanceSent = true
		r.engine.notifier.Notify(r.ctx, r.sess.ClientID, notify.EventLowBalance, map[string]any{
			"session_id":        r.sess.ID,
			"projected_seconds": projected.Round(0).String(),
		})
	}
}

// stop finalizes the runner's session. Runs on the runner goroutine.
// Idempotent: a second stop returns the already-final session.
func (r *runner) stop(reason session.EndReason) (session.Session, error) {
	if r.finished {
		return r.sess, nil
	}
	s, err := r.engine.finalize(context.Background(), r.sess, reason)
	if err != nil {
		return session.Session{}, err
	}
	r.sess = s
	r.finished = true
	r.cancel()
	return s, nil
}
