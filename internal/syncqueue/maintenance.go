package syncqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/medprep/backend/internal/cache"
	"github.com/medprep/backend/internal/logger"
)

// Maintainer periodically sweeps the cache: expired entries go first, then
// the oldest entries whenever utilization crosses the threshold.
type Maintainer struct {
	store     cache.Store
	clk       clock.Clock
	log       *logger.Logger
	capacity  int
	threshold float64
	interval  time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewMaintainer(store cache.Store, clk clock.Clock, log *logger.Logger, capacity int, threshold float64, interval time.Duration) *Maintainer {
	if capacity <= 0 {
		capacity = 1000
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Maintainer{
		store:     store,
		clk:       clk,
		log:       log,
		capacity:  capacity,
		threshold: threshold,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Run performs one sweep and returns the number of entries evicted.
func (m *Maintainer) Run(ctx context.Context) (int, error) {
	evicted := 0

	expired, err := m.store.ScanExpired(ctx, m.clk.Now())
	if err != nil {
		return 0, fmt.Errorf("scanning expired cache entries: %w", err)
	}
	for _, key := range expired {
		if err := m.store.Evict(ctx, key); err != nil {
			return evicted, fmt.Errorf("evicting expired entry %q: %w", key, err)
		}
		evicted++
	}

	n, err := m.store.Len(ctx)
	if err != nil {
		return evicted, fmt.Errorf("reading cache size: %w", err)
	}
	limit := int(float64(m.capacity) * m.threshold)
	if n < limit {
		if evicted > 0 {
			m.log.Debug("cache sweep complete", "expired_evicted", evicted, "size", n)
		}
		return evicted, nil
	}

	// Over threshold: shed the oldest entries until back under it.
	oldest, err := m.store.Oldest(ctx, n-limit+1)
	if err != nil {
		return evicted, fmt.Errorf("listing oldest cache entries: %w", err)
	}
	for _, key := range oldest {
		if err := m.store.Evict(ctx, key); err != nil {
			return evicted, fmt.Errorf("evicting old entry %q: %w", key, err)
		}
		evicted++
	}

	m.log.Info("cache over utilization threshold, evicted oldest entries",
		"size_before", n, "limit", limit, "evicted", evicted)
	return evicted, nil
}

// Start begins periodic sweeps on the maintainer's interval.
func (m *Maintainer) Start() {
	m.startOnce.Do(func() {
		ticker := m.clk.Ticker(m.interval)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					if _, err := m.Run(ctx); err != nil {
						m.log.Error("cache maintenance sweep failed", "error", err)
					}
					cancel()
				case <-m.stopCh:
					return
				}
			}
		}()
	})
}

// Stop halts periodic sweeps.
func (m *Maintainer) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}
