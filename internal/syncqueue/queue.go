// Package syncqueue is a priority-ordered queue of deferred operations,
// drained opportunistically when connectivity allows. Each item runs through
// the resilient execution layer; queue-level retries are spaced linearly,
// distinct from the execution layer's own per-call exponential backoff.
package syncqueue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/medprep/backend/internal/logger"
	"github.com/medprep/backend/internal/models"
	"github.com/medprep/backend/internal/resilience"
)

// HandlerFunc executes one queued operation.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

type Config struct {
	BatchSize     int
	MaxRetries    int
	RetrySpacing  time.Duration
	DrainInterval time.Duration
	ItemPolicy    resilience.Policy
}

func DefaultConfig() Config {
	return Config{
		BatchSize:     5,
		MaxRetries:    3,
		RetrySpacing:  30 * time.Second,
		DrainInterval: 5 * time.Minute,
		ItemPolicy:    resilience.FailFastPolicy(),
	}
}

type queuedItem struct {
	models.SyncQueueItem
	seq int64 // insertion order tiebreak within equal priority and time
}

// Queue is constructed once by the process entry point and injected into
// producers; Start/Stop bracket its periodic drain.
type Queue struct {
	exec *resilience.Executor
	clk  clock.Clock
	log  *logger.Logger
	cfg  Config

	mu           sync.Mutex
	items        []*queuedItem
	handlers     map[models.SyncOperation]HandlerFunc
	isProcessing bool
	nextSeq      int64
	dropped      int

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func New(exec *resilience.Executor, clk clock.Clock, log *logger.Logger, cfg Config) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetrySpacing <= 0 {
		cfg.RetrySpacing = 30 * time.Second
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 5 * time.Minute
	}
	if cfg.ItemPolicy.MaxAttempts <= 0 {
		cfg.ItemPolicy = resilience.FailFastPolicy()
	}
	return &Queue{
		exec:     exec,
		clk:      clk,
		log:      log,
		cfg:      cfg,
		handlers: make(map[models.SyncOperation]HandlerFunc),
		stopCh:   make(chan struct{}),
	}
}

// RegisterHandler binds an operation kind to its executor. Items whose kind
// has no handler are dropped at drain time.
func (q *Queue) RegisterHandler(op models.SyncOperation, fn HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[op] = fn
}

// Enqueue appends a deferred operation and returns its id.
func (q *Queue) Enqueue(op models.SyncOperation, payload json.RawMessage, priority models.SyncPriority) string {
	now := q.clk.Now()
	item := &queuedItem{
		SyncQueueItem: models.SyncQueueItem{
			ID:            uuid.NewString(),
			Operation:     op,
			Payload:       payload,
			Priority:      priority,
			EnqueuedAt:    now,
			MaxRetries:    q.cfg.MaxRetries,
			NextAttemptAt: now,
		},
	}

	q.mu.Lock()
	item.seq = q.nextSeq
	q.nextSeq++
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.log.Debug("sync item enqueued", "id", item.ID, "op", op, "priority", priority.String())
	return item.ID
}

// Len reports the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain processes up to BatchSize eligible items in priority order. A drain
// already in progress makes this call a no-op; the flag is a plain
// non-reentrant mutual exclusion, two cycles never overlap.
func (q *Queue) Drain(ctx context.Context) int {
	q.mu.Lock()
	if q.isProcessing {
		q.mu.Unlock()
		return 0
	}
	q.isProcessing = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.isProcessing = false
		q.mu.Unlock()
	}()

	processed := 0
	for processed < q.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		item := q.popNext()
		if item == nil {
			break
		}
		processed++

		if err := q.process(ctx, item); err != nil {
			q.handleFailure(item, err)
		}
	}
	return processed
}

// popNext removes and returns the highest-priority eligible item: high before
// normal before low, earliest enqueue/reschedule time first within a
// priority.
func (q *Queue) popNext() *queuedItem {
	now := q.clk.Now()
	q.mu.Lock()
	defer q.mu.Unlock()

	sort.SliceStable(q.items, func(i, j int) bool {
		a, b := q.items[i], q.items[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		ta, tb := a.NextAttemptAt, b.NextAttemptAt
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a.seq < b.seq
	})

	for i, item := range q.items {
		if item.NextAttemptAt.After(now) {
			continue
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		return item
	}
	return nil
}

func (q *Queue) process(ctx context.Context, item *queuedItem) error {
	q.mu.Lock()
	handler, ok := q.handlers[item.Operation]
	q.mu.Unlock()
	if !ok {
		q.log.Error("no handler for sync operation, dropping item",
			"id", item.ID, "op", item.Operation)
		return nil
	}

	_, err := resilience.Execute(ctx, q.exec, resilience.Call[struct{}]{
		Name:       "sync_" + string(item.Operation),
		Dependency: resilience.DepRemoteRPC,
		Tier:       resilience.TierBackground,
		Policy:     q.cfg.ItemPolicy,
		Run: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, handler(ctx, item.Payload)
		},
	})
	return err
}

// handleFailure re-enqueues with linear spacing, or drops the item once its
// retry budget is spent. Dropped items are reported, never retried again.
func (q *Queue) handleFailure(item *queuedItem, err error) {
	item.RetryCount++
	if item.RetryCount >= item.MaxRetries {
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
		q.log.Error("sync item exceeded retry budget, dropping",
			"id", item.ID, "op", item.Operation,
			"retries", item.RetryCount, "error", err)
		return
	}

	item.NextAttemptAt = q.clk.Now().Add(time.Duration(item.RetryCount) * q.cfg.RetrySpacing)
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.log.Warn("sync item failed, rescheduled",
		"id", item.ID, "op", item.Operation,
		"retry", item.RetryCount, "next_attempt_at", item.NextAttemptAt, "error", err)
}

// Dropped reports how many items were discarded after exhausting retries.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// NotifyOnline is the edge trigger for connectivity recovery.
func (q *Queue) NotifyOnline() {
	q.log.Info("connectivity restored, draining sync queue")
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), resilience.TierBackground.Budget())
		defer cancel()
		q.Drain(ctx)
	}()
}

// Start begins the periodic drain cycle.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		ticker := q.clk.Ticker(q.cfg.DrainInterval)
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), resilience.TierBackground.Budget())
					q.Drain(ctx)
					cancel()
				case <-q.stopCh:
					return
				}
			}
		}()
	})
}

// Stop halts the periodic drain and waits for in-flight work.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})
	q.wg.Wait()
}
