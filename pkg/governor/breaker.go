package governor

import (
	"math"
	"time"
)

// breaker is the per-integration circuit state machine. All methods require
// the owning budget's lock.
type breaker struct {
	cfg          BreakerConfig
	state        BreakerState
	failures     int
	reopenings   int
	openedAt     time.Time
	coolDown     time.Duration
	trialPending bool
	lastChange   time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &breaker{cfg: cfg, state: BreakerClosed, coolDown: cfg.CoolDown}
}

// transition describes a state change for audit emission.
type transition struct {
	From BreakerState `json:"from"`
	To   BreakerState `json:"to"`
	// RemainingCoolDown is set when the new state is OPEN.
	RemainingCoolDown time.Duration `json:"remaining_cool_down,omitempty"`
}

// admit decides whether a call may pass the breaker. It returns the verdict,
// the retry hint when rejected, and a non-nil transition when the attempt
// itself moved the state (OPEN -> HALF_OPEN after cool-down).
func (b *breaker) admit(now time.Time) (ok bool, retryAfter time.Duration, tr *transition) {
	switch b.state {
	case BreakerClosed:
		return true, 0, nil
	case BreakerOpen:
		elapsed := now.Sub(b.openedAt)
		if elapsed < b.coolDown {
			return false, b.coolDown - elapsed, nil
		}
		tr = &transition{From: BreakerOpen, To: BreakerHalfOpen}
		b.state = BreakerHalfOpen
		b.trialPending = true
		b.lastChange = now
		return true, 0, tr
	case BreakerHalfOpen:
		// A single trial call is in flight; everything else waits.
		if b.trialPending {
			return false, b.coolDown, nil
		}
		b.trialPending = true
		return true, 0, nil
	}
	return false, 0, nil
}

// onOutcome feeds an execution result back into the state machine. It
// returns a non-nil transition when the state changed.
func (b *breaker) onOutcome(success bool, now time.Time) *transition {
	switch b.state {
	case BreakerClosed:
		if success {
			b.failures = 0
			return nil
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open(now)
			return &transition{From: BreakerClosed, To: BreakerOpen, RemainingCoolDown: b.coolDown}
		}
		return nil
	case BreakerHalfOpen:
		b.trialPending = false
		if success {
			b.state = BreakerClosed
			b.failures = 0
			b.reopenings = 0
			b.coolDown = b.cfg.CoolDown
			b.lastChange = now
			return &transition{From: BreakerHalfOpen, To: BreakerClosed}
		}
		b.reopenings++
		b.coolDown = b.backoffCoolDown()
		b.open(now)
		return &transition{From: BreakerHalfOpen, To: BreakerOpen, RemainingCoolDown: b.coolDown}
	case BreakerOpen:
		// Late outcome report for a call admitted before the breaker
		// opened. Failures still count; successes do not close an open
		// breaker (that is the trial's job).
		if !success {
			b.failures++
		}
		return nil
	}
	return nil
}

// releaseTrial hands back an unused HALF_OPEN trial slot. Admits that clear
// the breaker but are then throttled by a window never execute externally,
// so no outcome will ever arrive to clear trialPending; without the release
// the breaker would wedge with the trial permanently "in flight".
func (b *breaker) releaseTrial() {
	if b.state == BreakerHalfOpen {
		b.trialPending = false
	}
}

func (b *breaker) open(now time.Time) {
	b.state = BreakerOpen
	b.openedAt = now
	b.lastChange = now
	b.trialPending = false
}

// backoffCoolDown grows the cool-down exponentially with each reopening,
// capped at MaxCoolDown.
func (b *breaker) backoffCoolDown() time.Duration {
	multiplier := b.cfg.BackoffMultiplier
	if multiplier <= 1 {
		return b.cfg.CoolDown
	}
	grown := float64(b.cfg.CoolDown) * math.Pow(multiplier, float64(b.reopenings))
	if max := float64(b.cfg.MaxCoolDown); max > 0 && grown > max {
		grown = max
	}
	return time.Duration(grown)
}
