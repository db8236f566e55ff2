package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// Memory is an in-memory Store. It backs unit tests and serves as the
// offline fallback when redis is unreachable.
type Memory struct {
	clk clock.Clock

	mu      sync.Mutex
	entries map[string]*Entry
}

func NewMemory(clk clock.Clock) *Memory {
	return &Memory{clk: clk, entries: make(map[string]*Entry)}
}

func (m *Memory) Get(ctx context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) Set(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error {
	now := m.clk.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &Entry{
		Key:       key,
		Payload:   payload,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	return nil
}

func (m *Memory) Evict(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) ScanExpired(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k, e := range m.entries {
		if e.Expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Oldest(ctx context.Context, n int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CachedAt.Equal(all[j].CachedAt) {
			return all[i].Key < all[j].Key
		}
		return all[i].CachedAt.Before(all[j].CachedAt)
	})
	if n > len(all) {
		n = len(all)
	}
	keys := make([]string, 0, n)
	for _, e := range all[:n] {
		keys = append(keys, e.Key)
	}
	return keys, nil
}

func (m *Memory) Len(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}
