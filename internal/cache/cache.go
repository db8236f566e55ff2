// Package cache is the local key-value persistence used for offline question
// caching and short-lived UI state. Entries are plain key -> {payload,
// timestamp, expiry} records so the eviction logic can be unit-tested against
// the in-memory implementation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache miss")

type Entry struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt.Before(now)
}

// Store is the typed cache interface.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error
	Evict(ctx context.Context, key string) error
	// ScanExpired returns the keys of entries whose expiry is before now.
	ScanExpired(ctx context.Context, now time.Time) ([]string, error)
	// Oldest returns up to n keys ordered by CachedAt ascending.
	Oldest(ctx context.Context, n int) ([]string, error)
	Len(ctx context.Context) (int, error)
}

// QuestionSetKey addresses the offline question cache by category/difficulty.
func QuestionSetKey(categoryID, difficulty string) string {
	return fmt.Sprintf("questions:%s:%s", categoryID, difficulty)
}

// UserStateKey addresses cached UI state by page and user.
func UserStateKey(page string, userID int64) string {
	return fmt.Sprintf("uistate:%s:%d", page, userID)
}

// UserStatsKey addresses a user's aggregate statistics, invalidated on
// session completion.
func UserStatsKey(userID int64) string {
	return fmt.Sprintf("stats:%d", userID)
}
