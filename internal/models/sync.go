package models

import (
	"encoding/json"
	"time"
)

type SyncPriority int

const (
	PriorityLow SyncPriority = iota
	PriorityNormal
	PriorityHigh
)

func (p SyncPriority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

type SyncOperation string

const (
	OpCacheQuestionSet SyncOperation = "cache_question_set"
	OpSyncProgress     SyncOperation = "sync_progress"
	OpEvictCache       SyncOperation = "evict_cache"
)

// SyncQueueItem is a deferred operation waiting for connectivity.
// Invariant: RetryCount <= MaxRetries; items that exceed MaxRetries are
// dropped and logged, never silently re-enqueued.
type SyncQueueItem struct {
	ID            string          `json:"id"`
	Operation     SyncOperation   `json:"operation"`
	Payload       json.RawMessage `json:"payload"`
	Priority      SyncPriority    `json:"priority"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
}
