package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/medprep/backend/internal/apperr"
	"github.com/medprep/backend/internal/models"
	"github.com/medprep/backend/internal/resilience"
)

// Manager owns the live engines. It is constructed once by the process entry
// point and injected into the handler layer; there is no package-level state.
type Manager struct {
	deps EngineDeps

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewManager(deps EngineDeps) *Manager {
	return &Manager{
		deps:    deps,
		engines: make(map[string]*Engine),
	}
}

// StartSession samples the question set, persists the session record as
// Created, and immediately activates it.
func (m *Manager) StartSession(ctx context.Context, userID int64, req models.StartSessionRequest) (*Engine, error) {
	if !models.ValidSessionTypes[req.SessionType] {
		return nil, apperr.Validation("start_session", "invalid session_type "+string(req.SessionType))
	}
	if req.Difficulty != "" && !models.ValidDifficulties[req.Difficulty] {
		return nil, apperr.Validation("start_session", "invalid difficulty "+string(req.Difficulty))
	}

	total := req.TotalQuestions
	firstBatch := total
	if req.SessionType == models.SessionBlock {
		if req.QuestionsPerBlock <= 0 || req.NumBlocks <= 0 {
			return nil, apperr.Validation("start_session", "block sessions need questions_per_block and num_blocks")
		}
		total = req.QuestionsPerBlock * req.NumBlocks
		firstBatch = req.QuestionsPerBlock
	}
	if total <= 0 {
		return nil, apperr.Validation("start_session", "total_questions must be positive")
	}

	qs, err := m.deps.Sampler.Sample(ctx, userID, req.CategoryID, firstBatch, req.Difficulty)
	if err != nil && len(qs) == 0 {
		return nil, err
	}
	if err != nil {
		// Short sample: run with what the bank has rather than failing.
		m.deps.Log.Warn("starting session with short question set",
			"requested", firstBatch, "available", len(qs), "error", err)
		if req.SessionType != models.SessionBlock {
			total = len(qs)
		}
	}

	sess := models.QuizSession{
		ID:             uuid.NewString(),
		UserID:         userID,
		SessionType:    req.SessionType,
		TotalQuestions: total,
		Status:         models.StatusCreated,
		Settings: models.SessionSettings{
			CategoryID:         req.CategoryID,
			Difficulty:         req.Difficulty,
			SecondsPerQuestion: req.SecondsPerQuestion,
			QuestionsPerBlock:  req.QuestionsPerBlock,
			NumBlocks:          req.NumBlocks,
		},
		CreatedAt: m.deps.Clock.Now(),
	}

	// Session creation is a critical call: fail fast and surface the error
	// instead of letting the user wait out a long retry ladder.
	_, err = resilience.Execute(ctx, m.deps.Exec, resilience.Call[struct{}]{
		Name:       "create_session",
		Dependency: resilience.DepDataStore,
		Tier:       resilience.TierCritical,
		Policy:     resilience.FailFastPolicy(),
		Run: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.deps.Store.CreateSession(ctx, &sess)
		},
	})
	if err != nil {
		return nil, err
	}

	eng := newEngine(m.deps, sess, qs)
	if err := eng.activate(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.engines[sess.ID] = eng
	m.mu.Unlock()

	m.warmQuestionCache(req.CategoryID, req.Difficulty, qs)

	m.deps.Log.Info("session started",
		"session_id", sess.ID, "user_id", userID,
		"type", req.SessionType, "questions", len(qs))
	return eng, nil
}

// warmQuestionCache defers an answer-stripped copy of the sampled set to the
// offline cache. Low priority: progress writes always go first.
func (m *Manager) warmQuestionCache(categoryID string, difficulty models.Difficulty, qs []models.Question) {
	if len(qs) == 0 {
		return
	}
	stripped := make([]models.DeliveryQuestion, len(qs))
	for i := range qs {
		stripped[i] = qs[i].ToDelivery()
	}
	payload, err := json.Marshal(struct {
		CategoryID string                    `json:"category_id"`
		Difficulty string                    `json:"difficulty"`
		Questions  []models.DeliveryQuestion `json:"questions"`
	}{categoryID, string(difficulty), stripped})
	if err != nil {
		return
	}
	m.deps.Queue.Enqueue(models.OpCacheQuestionSet, payload, models.PriorityLow)
}

// Get returns the live engine for a session id.
func (m *Manager) Get(sessionID string) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	eng, ok := m.engines[sessionID]
	return eng, ok
}

// Release tears down a finished or abandoned engine.
func (m *Manager) Release(sessionID string) {
	m.mu.Lock()
	eng, ok := m.engines[sessionID]
	delete(m.engines, sessionID)
	m.mu.Unlock()
	if ok {
		eng.Teardown()
	}
}

// Stop tears down every live engine. Called on process shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	for _, e := range engines {
		e.Teardown()
	}
}
