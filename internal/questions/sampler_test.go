package questions

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/medprep/backend/internal/apperr"
	"github.com/medprep/backend/internal/logger"
	"github.com/medprep/backend/internal/models"
	"github.com/medprep/backend/internal/resilience"
)

type fakeSource struct {
	unseen    []models.Question
	all       []models.Question
	unseenErr error
}

func (f *fakeSource) FetchUnseenQuestions(ctx context.Context, userID int64, categoryID string, difficulty models.Difficulty, limit int) ([]models.Question, error) {
	if f.unseenErr != nil {
		return nil, f.unseenErr
	}
	if limit > len(f.unseen) {
		limit = len(f.unseen)
	}
	return f.unseen[:limit], nil
}

func (f *fakeSource) FetchQuestions(ctx context.Context, categoryID string, difficulty models.Difficulty, limit int) ([]models.Question, error) {
	if limit > len(f.all) {
		limit = len(f.all)
	}
	return f.all[:limit], nil
}

func makeQuestions(startID, n int) []models.Question {
	qs := make([]models.Question, n)
	for i := range qs {
		qs[i] = models.Question{
			ID:         int64(startID + i),
			CategoryID: "cardiology",
			Text:       fmt.Sprintf("question %d", startID+i),
			Difficulty: models.DifficultyMedium,
		}
	}
	return qs
}

func newTestSampler(src Source) *Sampler {
	exec := resilience.NewExecutor(clock.New(), logger.NewNop(), resilience.BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         time.Second,
	})
	s := NewSamplerWithSeed(src, exec, logger.NewNop(), 42)
	s.policy = resilience.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return s
}

func uniqueIDs(t *testing.T, qs []models.Question) map[int64]bool {
	t.Helper()
	ids := make(map[int64]bool)
	for _, q := range qs {
		if ids[q.ID] {
			t.Fatalf("duplicate question id %d in result", q.ID)
		}
		ids[q.ID] = true
	}
	return ids
}

func TestSampleExactCountFromUnseenPool(t *testing.T) {
	src := &fakeSource{unseen: makeQuestions(1, 20)}
	s := newTestSampler(src)

	got, err := s.Sample(context.Background(), 7, "cardiology", 10, models.DifficultyMedium)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 questions, got %d", len(got))
	}
	uniqueIDs(t, got)
}

func TestSamplePadsFromUnfilteredPool(t *testing.T) {
	// Only 3 unseen; the unfiltered pool overlaps them and adds more.
	src := &fakeSource{
		unseen: makeQuestions(1, 3),
		all:    makeQuestions(1, 12),
	}
	s := newTestSampler(src)

	got, err := s.Sample(context.Background(), 7, "cardiology", 8, models.DifficultyMedium)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 8 {
		t.Fatalf("expected 8 questions after padding, got %d", len(got))
	}
	ids := uniqueIDs(t, got)
	for i := int64(1); i <= 3; i++ {
		if !ids[i] {
			t.Errorf("expected unseen question %d in result", i)
		}
	}
}

func TestSampleInsufficientBank(t *testing.T) {
	src := &fakeSource{
		unseen: makeQuestions(1, 2),
		all:    makeQuestions(1, 4),
	}
	s := newTestSampler(src)

	got, err := s.Sample(context.Background(), 7, "cardiology", 10, models.DifficultyMedium)
	if !apperr.IsKind(err, apperr.KindInsufficientData) {
		t.Fatalf("expected insufficient_data error, got %v", err)
	}
	if len(got) != 4 {
		t.Errorf("expected the 4 available questions, got %d", len(got))
	}
	uniqueIDs(t, got)
}

func TestSampleUnseenFetchFailureDegradesToRepeats(t *testing.T) {
	src := &fakeSource{
		unseenErr: errors.New("store down"),
		all:       makeQuestions(1, 10),
	}
	s := newTestSampler(src)

	got, err := s.Sample(context.Background(), 7, "cardiology", 5, models.DifficultyMedium)
	if err != nil {
		t.Fatalf("expected fallback to unfiltered pool, got %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 questions, got %d", len(got))
	}
	uniqueIDs(t, got)
}

func TestSampleRejectsNonPositiveCount(t *testing.T) {
	s := newTestSampler(&fakeSource{})
	if _, err := s.Sample(context.Background(), 7, "cardiology", 0, ""); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestShuffleIsPermutation(t *testing.T) {
	qs := makeQuestions(1, 25)
	rng := rand.New(rand.NewSource(7))

	got := Shuffle(qs, rng)
	if len(got) != len(qs) {
		t.Fatalf("size changed: %d != %d", len(got), len(qs))
	}

	counts := make(map[int64]int)
	for _, q := range got {
		counts[q.ID]++
	}
	for _, q := range qs {
		if counts[q.ID] != 1 {
			t.Fatalf("question %d appears %d times", q.ID, counts[q.ID])
		}
	}

	// Input order untouched.
	for i, q := range qs {
		if q.ID != int64(i+1) {
			t.Fatal("input slice was mutated")
		}
	}
}

func TestShuffleDeterministicWithFixedSeed(t *testing.T) {
	qs := makeQuestions(1, 15)

	a := Shuffle(qs, rand.New(rand.NewSource(99)))
	b := Shuffle(qs, rand.New(rand.NewSource(99)))

	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatalf("same seed produced different orders at index %d", i)
		}
	}
}
