package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/facebookgo/clock"
)

func TestPolicyDelayExponential(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{6, 10 * time.Second},
	}
	for _, c := range cases {
		if got := p.Delay(c.attempt); got != c.want {
			t.Errorf("Delay(%d) = %s, want %s", c.attempt, got, c.want)
		}
	}
}

func TestRetryFailsTwiceThenSucceeds(t *testing.T) {
	clk := clock.New()
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	calls := 0
	err := Retry(context.Background(), clk, p, func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after 2 retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryExhaustsAndReturnsLastError(t *testing.T) {
	clk := clock.New()
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	boom := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), clk, p, func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	clk := clock.New()
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, clk, p, func(ctx context.Context) error {
			calls++
			return errors.New("transient")
		})
	}()

	// The retrier is waiting out an hour-long backoff; cancel releases it.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("retry did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", calls)
	}
}
