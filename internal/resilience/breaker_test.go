package resilience

import (
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/medprep/backend/internal/logger"
)

func newTestBreaker(clk clock.Clock) *Breaker {
	return NewBreaker("data-store", 5, 30*time.Second, clk, logger.NewNop())
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after 4 failures, got %s", b.State())
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after 5 failures, got %s", b.State())
	}
	if b.Allow() {
		t.Error("expected 6th call to be rejected without being attempted")
	}
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	if b.Allow() {
		t.Fatal("expected rejection while cooling down")
	}

	mock.Add(30 * time.Second)

	if !b.Allow() {
		t.Fatal("expected exactly one trial after cooldown")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", b.State())
	}
	if b.Allow() {
		t.Error("expected second caller rejected while trial in flight")
	}
}

func TestBreakerTrialSuccessCloses(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	mock.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("expected trial allowed")
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after trial success, got %s", b.State())
	}
	if !b.Allow() {
		t.Error("expected requests allowed once closed")
	}
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	mock.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("expected trial allowed")
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after trial failure, got %s", b.State())
	}
	if b.Allow() {
		t.Error("expected rejection during renewed cooldown")
	}

	// Renewed cooldown runs from the trial failure, not the original trip.
	mock.Add(30 * time.Second)
	if !b.Allow() {
		t.Error("expected a new trial after renewed cooldown")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	mock := clock.NewMock()
	b := newTestBreaker(mock)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, failure count should have reset, got %s", b.State())
	}
}
