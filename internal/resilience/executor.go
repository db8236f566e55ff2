package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/medprep/backend/internal/apperr"
	"github.com/medprep/backend/internal/logger"
)

// Tier names a fixed timeout budget for a class of remote calls.
type Tier string

const (
	TierFast       Tier = "fast"
	TierStandard   Tier = "standard"
	TierComplex    Tier = "complex"
	TierCritical   Tier = "critical"
	TierBackground Tier = "background"
)

func (t Tier) Budget() time.Duration {
	switch t {
	case TierFast:
		return 8 * time.Second
	case TierComplex:
		return 18 * time.Second
	case TierCritical:
		return 30 * time.Second
	case TierBackground:
		return 45 * time.Second
	default:
		return 12 * time.Second
	}
}

// Dependency classes used by the delivery engine.
const (
	DepDataStore = "data-store"
	DepRemoteRPC = "remote-procedure"
)

// BreakerConfig applies to every breaker the executor lazily creates.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// Executor runs remote operations through a per-dependency circuit breaker,
// a tier timeout, and a retry policy.
type Executor struct {
	clk clock.Clock
	log *logger.Logger
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewExecutor(clk clock.Clock, log *logger.Logger, cfg BreakerConfig) *Executor {
	return &Executor{
		clk:      clk,
		log:      log,
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

func (e *Executor) Clock() clock.Clock { return e.clk }

// Breaker returns the breaker for a dependency class, creating it on first use.
func (e *Executor) Breaker(dependency string) *Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[dependency]
	if !ok {
		b = NewBreaker(dependency, e.cfg.FailureThreshold, e.cfg.Cooldown, e.clk, e.log)
		e.breakers[dependency] = b
	}
	return b
}

// Call describes one remote operation. Fallback, when non-nil, is returned
// after retries are exhausted so the caller degrades instead of failing.
type Call[T any] struct {
	Name       string
	Dependency string
	Tier       Tier
	Policy     Policy
	Fallback   *T
	Run        func(ctx context.Context) (T, error)
}

// Execute races call.Run against the tier budget, reporting each outcome to
// the dependency's breaker. When the breaker is open the call fails
// immediately with a CircuitOpen error and no attempt is made. Failures are
// retried per the policy with exponential backoff; after exhaustion the
// fallback (if any) is returned, otherwise the last classified error.
func Execute[T any](ctx context.Context, e *Executor, call Call[T]) (T, error) {
	var zero T
	if call.Dependency == "" {
		call.Dependency = DepDataStore
	}
	if call.Tier == "" {
		call.Tier = TierStandard
	}
	policy := call.Policy.normalized()
	breaker := e.Breaker(call.Dependency)

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if !breaker.Allow() {
			lastErr = apperr.CircuitOpen(call.Name, call.Dependency, breaker.CooldownUntil())
			// No point retrying before the cooldown elapses.
			break
		}

		val, err := runWithBudget(ctx, call)
		if err == nil {
			breaker.RecordSuccess()
			return val, nil
		}
		breaker.RecordFailure()
		lastErr = classify(call.Name, attempt, err)
		e.log.Warn("operation attempt failed",
			"op", call.Name, "dependency", call.Dependency,
			"attempt", attempt, "max_attempts", policy.MaxAttempts, "error", err)

		if errors.Is(err, context.Canceled) {
			break
		}
		if attempt < policy.MaxAttempts {
			if serr := sleep(ctx, e.clk, policy.Delay(attempt)); serr != nil {
				break
			}
		}
	}

	if call.Fallback != nil {
		e.log.Warn("operation degraded to fallback", "op", call.Name, "error", lastErr)
		return *call.Fallback, nil
	}
	return zero, lastErr
}

// runWithBudget races the operation against the tier budget. An in-flight
// request is not forcibly aborted on timeout; its result is ignored.
func runWithBudget[T any](ctx context.Context, call Call[T]) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, call.Tier.Budget())
	defer cancel()

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := call.Run(cctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-cctx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, apperr.Timeout(call.Name, call.Tier.Budget())
	}
}

func classify(op string, attempt int, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		ae.Attempts = attempt
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t := apperr.Wrap(apperr.KindTimeout, op, err)
		t.Attempts = attempt
		return t
	}
	ne := apperr.Network(op, err)
	ne.Attempts = attempt
	return ne
}
