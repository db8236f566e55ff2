package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/facebookgo/clock"
)

func TestMemoryGetSetEvict(t *testing.T) {
	mock := clock.NewMock()
	m := NewMemory(mock)
	ctx := context.Background()

	if _, err := m.Get(ctx, "missing"); err != ErrMiss {
		t.Fatalf("expected ErrMiss, got %v", err)
	}

	payload := json.RawMessage(`{"a":1}`)
	if err := m.Set(ctx, "k", payload, 5*time.Minute); err != nil {
		t.Fatal(err)
	}

	e, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(e.Payload) != `{"a":1}` {
		t.Errorf("payload mismatch: %s", e.Payload)
	}
	if !e.ExpiresAt.Equal(mock.Now().Add(5 * time.Minute)) {
		t.Errorf("unexpected expiry %s", e.ExpiresAt)
	}

	if err := m.Evict(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "k"); err != ErrMiss {
		t.Errorf("expected ErrMiss after evict, got %v", err)
	}
}

func TestMemoryScanExpired(t *testing.T) {
	mock := clock.NewMock()
	m := NewMemory(mock)
	ctx := context.Background()

	m.Set(ctx, "short", json.RawMessage(`1`), time.Minute)
	m.Set(ctx, "long", json.RawMessage(`2`), time.Hour)

	mock.Add(2 * time.Minute)

	expired, err := m.ScanExpired(ctx, mock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0] != "short" {
		t.Errorf("expected [short], got %v", expired)
	}
}

func TestMemoryOldestOrder(t *testing.T) {
	mock := clock.NewMock()
	m := NewMemory(mock)
	ctx := context.Background()

	m.Set(ctx, "first", json.RawMessage(`1`), time.Hour)
	mock.Add(time.Second)
	m.Set(ctx, "second", json.RawMessage(`2`), time.Hour)
	mock.Add(time.Second)
	m.Set(ctx, "third", json.RawMessage(`3`), time.Hour)

	oldest, err := m.Oldest(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(oldest) != 2 || oldest[0] != "first" || oldest[1] != "second" {
		t.Errorf("expected [first second], got %v", oldest)
	}
}
