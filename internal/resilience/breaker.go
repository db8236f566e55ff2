// Package resilience wraps remote operations with a timeout tier, bounded
// retry with exponential backoff, per-dependency circuit breaking, and an
// optional fallback value.
package resilience

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/medprep/backend/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker tracks consecutive failures for one dependency class and fails fast
// while the dependency is unhealthy.
//
// Transitions: Closed -> Open after threshold consecutive failures;
// Open -> HalfOpen once the cooldown elapses, admitting exactly one trial
// request; HalfOpen -> Closed on trial success, HalfOpen -> Open on failure.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	clk       clock.Clock
	log       *logger.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	cooldownUntil       time.Time
	trialInFlight       bool
}

func NewBreaker(name string, threshold int, cooldown time.Duration, clk clock.Clock, log *logger.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		clk:       clk,
		log:       log,
		state:     StateClosed,
	}
}

// Allow reports whether a request may proceed. While Open it returns false
// until the cooldown passes, at which point the breaker becomes HalfOpen and
// admits a single trial; further callers are rejected until the trial's
// outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.clk.Now().Before(b.cooldownUntil) {
			return false
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		return true
	default: // HalfOpen
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
}

// RecordSuccess resets the failure count and forces the breaker Closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.trialInFlight = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// RecordFailure increments the consecutive-failure count. Crossing the
// threshold while Closed, or failing the HalfOpen trial, trips the breaker
// Open and starts a fresh cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailureAt = b.clk.Now()

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.threshold {
			b.cooldownUntil = b.clk.Now().Add(b.cooldown)
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.trialInFlight = false
		b.cooldownUntil = b.clk.Now().Add(b.cooldown)
		b.transition(StateOpen)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) CooldownUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cooldownUntil
}

// transition is called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.log != nil {
		b.log.Warn("circuit breaker state change",
			"dependency", b.name, "from", from.String(), "to", to.String(),
			"consecutive_failures", b.consecutiveFailures)
	}
}
