package resilience

import (
	"context"
	"time"

	"github.com/facebookgo/clock"
)

// Policy parameterizes bounded retry with exponential backoff. It is
// independent of any call site so the same policy can be reused across
// operations.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy suits question and category fetches: more retries, callers
// supply a safe fallback.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

// FailFastPolicy suits critical and authentication calls.
func FailFastPolicy() Policy {
	return Policy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

// Delay returns the backoff before retrying after the given 1-based failed
// attempt: min(BaseDelay * 2^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy().BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy().MaxDelay
	}
	return p
}

// sleep waits d on the injected clock, returning early if ctx is cancelled.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clk.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry runs op until it succeeds or the policy's attempts are exhausted,
// backing off between attempts on the supplied clock. It returns the last
// error when all attempts fail.
func Retry(ctx context.Context, clk clock.Clock, p Policy, op func(context.Context) error) error {
	p = p.normalized()
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt < p.MaxAttempts {
			if err := sleep(ctx, clk, p.Delay(attempt)); err != nil {
				return err
			}
		}
	}
	return lastErr
}
