package questions

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/medprep/backend/internal/apperr"
	"github.com/medprep/backend/internal/logger"
	"github.com/medprep/backend/internal/models"
	"github.com/medprep/backend/internal/resilience"
)

// Source is the data-store surface the sampler needs.
type Source interface {
	FetchUnseenQuestions(ctx context.Context, userID int64, categoryID string, difficulty models.Difficulty, limit int) ([]models.Question, error)
	FetchQuestions(ctx context.Context, categoryID string, difficulty models.Difficulty, limit int) ([]models.Question, error)
}

// Sampler selects a non-repeating (where possible) question set for a
// user/category/difficulty. Freshness is best effort: when the unseen pool
// runs short the result is padded with repeats from the unfiltered pool,
// still deduplicated by id within one result.
type Sampler struct {
	source Source
	exec   *resilience.Executor
	log    *logger.Logger
	policy resilience.Policy

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSampler(source Source, exec *resilience.Executor, log *logger.Logger) *Sampler {
	return &Sampler{
		source: source,
		exec:   exec,
		log:    log,
		policy: resilience.DefaultPolicy(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewSamplerWithSeed fixes the shuffle order. Used by tests.
func NewSamplerWithSeed(source Source, exec *resilience.Executor, log *logger.Logger, seed int64) *Sampler {
	s := NewSampler(source, exec, log)
	s.rng = rand.New(rand.NewSource(seed))
	return s
}

// Sample returns count questions with unique ids in randomized order. Fetches
// run through the execution layer with an empty-slice fallback so a flaky
// data store degrades to a short (or empty) result instead of an error.
func (s *Sampler) Sample(ctx context.Context, userID int64, categoryID string, count int, difficulty models.Difficulty) ([]models.Question, error) {
	if count <= 0 {
		return nil, apperr.Validation("sample_questions", "count must be positive")
	}

	empty := []models.Question{}
	unseen, err := resilience.Execute(ctx, s.exec, resilience.Call[[]models.Question]{
		Name:       "fetch_unseen_questions",
		Dependency: resilience.DepDataStore,
		Tier:       resilience.TierStandard,
		Policy:     s.policy,
		Fallback:   &empty,
		Run: func(ctx context.Context) ([]models.Question, error) {
			return s.source.FetchUnseenQuestions(ctx, userID, categoryID, difficulty, 2*count)
		},
	})
	if err != nil {
		// Unreachable with the fallback in place, kept for safety.
		return nil, err
	}

	if len(unseen) >= count {
		return s.shuffled(unseen)[:count], nil
	}

	// Unseen pool is short: allow repeats from the unfiltered pool, keeping
	// ids unique within the result.
	picked := unseen
	seen := make(map[int64]bool, len(picked))
	for _, q := range picked {
		seen[q.ID] = true
	}

	padding, err := resilience.Execute(ctx, s.exec, resilience.Call[[]models.Question]{
		Name:       "fetch_questions",
		Dependency: resilience.DepDataStore,
		Tier:       resilience.TierStandard,
		Policy:     s.policy,
		Fallback:   &empty,
		Run: func(ctx context.Context) ([]models.Question, error) {
			return s.source.FetchQuestions(ctx, categoryID, difficulty, 2*count)
		},
	})
	if err != nil {
		return nil, err
	}

	for _, q := range padding {
		if len(picked) >= count {
			break
		}
		if seen[q.ID] {
			continue
		}
		seen[q.ID] = true
		picked = append(picked, q)
	}

	result := s.shuffled(picked)
	if len(result) < count {
		s.log.Warn("question bank smaller than requested sample",
			"category", categoryID, "requested", count, "available", len(result))
		return result, apperr.InsufficientData("sample_questions",
			fmt.Sprintf("requested %d questions, only %d available", count, len(result)))
	}
	return result, nil
}

func (s *Sampler) shuffled(qs []models.Question) []models.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Shuffle(qs, s.rng)
}
