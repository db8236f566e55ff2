package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/medprep/backend/internal/apperr"
	"github.com/medprep/backend/internal/logger"
	"github.com/medprep/backend/internal/models"
	"github.com/medprep/backend/internal/resilience"
)

// BlockBonusSeconds is added on top of the per-question budget when a block
// timer is armed.
const BlockBonusSeconds = 300

// Persister is the data-store surface the engine writes through.
type Persister interface {
	CreateSession(ctx context.Context, sess *models.QuizSession) error
	UpdateSession(ctx context.Context, sessionID string, patch models.SessionPatch) error
	CompleteSession(ctx context.Context, sessionID string, summary models.SessionSummary) error
	RecordResponse(ctx context.Context, resp *models.Response) error
}

// HistorySink receives fire-and-forget history upserts after each answer.
type HistorySink interface {
	UpsertUserQuestionHistory(ctx context.Context, userID, questionID int64, correct bool) error
}

// QuestionSampler fills a session's (or block's) question set.
type QuestionSampler interface {
	Sample(ctx context.Context, userID int64, categoryID string, count int, difficulty models.Difficulty) ([]models.Question, error)
}

// Enqueuer defers work that must not block the user flow.
type Enqueuer interface {
	Enqueue(op models.SyncOperation, payload json.RawMessage, priority models.SyncPriority) string
}

// Engine drives one quiz or exam session through
// Created -> Active <-> Paused -> Completed. All mutation happens under one
// mutex; timers are cancelled, not merely ignored, whenever the state they
// were armed for is superseded.
type Engine struct {
	clk     clock.Clock
	exec    *resilience.Executor
	log     *logger.Logger
	store   Persister
	history HistorySink
	sampler QuestionSampler
	queue   Enqueuer

	mu        sync.Mutex
	session   models.QuizSession
	questions []models.Question
	idx       int
	answered  map[int]bool
	responses []models.Response

	questionStartedAt time.Time
	spentBeforePause  time.Duration

	questionTimer    *clock.Timer
	questionDeadline time.Time
	timerGen         int

	blockTimer    *clock.Timer
	blockDeadline time.Time
	blockGen      int

	pausedQuestionRemaining time.Duration
	pausedBlockRemaining    time.Duration
}

type EngineDeps struct {
	Clock   clock.Clock
	Exec    *resilience.Executor
	Log     *logger.Logger
	Store   Persister
	History HistorySink
	Sampler QuestionSampler
	Queue   Enqueuer
}

func newEngine(deps EngineDeps, sess models.QuizSession, questions []models.Question) *Engine {
	return &Engine{
		clk:       deps.Clock,
		exec:      deps.Exec,
		log:       deps.Log.With("session_id", sess.ID),
		store:     deps.Store,
		history:   deps.History,
		sampler:   deps.Sampler,
		queue:     deps.Queue,
		session:   sess,
		questions: questions,
		answered:  make(map[int]bool),
	}
}

// activate moves Created -> Active, arms timers, and starts the first
// question's clock.
func (e *Engine) activate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Status != models.StatusCreated {
		return apperr.SessionState("activate_session", string(e.session.Status), string(models.StatusActive))
	}
	e.session.Status = models.StatusActive
	e.questionStartedAt = e.clk.Now()
	e.armQuestionTimerLocked(e.perQuestionBudget())
	if e.session.SessionType == models.SessionBlock {
		e.armBlockTimerLocked(e.blockBudget())
	}
	e.persistPatchLocked(ctx, models.SessionPatch{Status: &e.session.Status})
	return nil
}

// ── UI-facing accessors ─────────────────────────────────

func (e *Engine) UserID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.UserID
}

func (e *Engine) Status() models.SessionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Status
}

// CurrentQuestion returns the question being presented, stripped of its
// answer, or nil when the session is finished.
func (e *Engine) CurrentQuestion() *models.DeliveryQuestion {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status == models.StatusCompleted || e.idx >= len(e.questions) {
		return nil
	}
	dq := e.questions[e.idx].ToDelivery()
	return &dq
}

// TimeRemaining reports the current question countdown. Zero means no
// per-question limit is in force.
func (e *Engine) TimeRemaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.session.Status {
	case models.StatusPaused:
		return e.pausedQuestionRemaining
	case models.StatusActive:
		if e.questionTimer == nil {
			return 0
		}
		if rem := e.questionDeadline.Sub(e.clk.Now()); rem > 0 {
			return rem
		}
	}
	return 0
}

// State snapshots the session for the UI layer.
func (e *Engine) State() models.SessionStateResponse {
	e.mu.Lock()
	defer e.mu.Unlock()

	resp := models.SessionStateResponse{
		SessionID:      e.session.ID,
		Status:         e.session.Status,
		SessionType:    e.session.SessionType,
		BlockIndex:     e.session.CurrentBlockIndex,
		QuestionNumber: len(e.responses) + 1,
		TotalQuestions: e.session.TotalQuestions,
	}
	if e.session.Status == models.StatusPaused {
		resp.RemainingSeconds = int(e.pausedQuestionRemaining.Seconds())
	} else if e.session.Status == models.StatusActive && e.questionTimer != nil {
		if rem := e.questionDeadline.Sub(e.clk.Now()); rem > 0 {
			resp.RemainingSeconds = int(rem.Seconds())
		}
	}
	if e.session.Status != models.StatusCompleted && e.idx < len(e.questions) {
		dq := e.questions[e.idx].ToDelivery()
		resp.Question = &dq
	}
	return resp
}

// ── Answer submission ───────────────────────────────────

// SubmitAnswer records exactly one response for the current question and
// advances. A second submission for an already-answered question is rejected.
// Recording goes through the execution layer; a persist failure leaves the
// engine on the same question so the user can retry.
func (e *Engine) SubmitAnswer(ctx context.Context, selectedOptionID string) (*models.SubmitAnswerResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Status != models.StatusActive {
		return nil, apperr.SessionState("submit_answer", string(e.session.Status), "answered")
	}
	if selectedOptionID == "" {
		return nil, apperr.Validation("submit_answer", "selected_option_id is required")
	}
	if e.idx >= len(e.questions) {
		return nil, apperr.SessionState("submit_answer", string(e.session.Status), "answered")
	}

	q := e.questions[e.idx]
	// The double-submit guard is positional so a question appearing more
	// than once in a set is still answerable at each occurrence.
	if e.answered[e.idx] {
		return nil, apperr.SessionState("submit_answer", "answered", "answered")
	}
	if !hasOption(q, selectedOptionID) {
		return nil, apperr.Validation("submit_answer", "unknown option id "+selectedOptionID)
	}

	resp, err := e.recordResponseLocked(ctx, &selectedOptionID, false)
	if err != nil {
		return nil, err
	}
	e.advanceLocked(ctx)

	return &models.SubmitAnswerResponse{
		Correct:         resp.IsCorrect,
		CorrectOptionID: q.CorrectOptionID,
		ResponseOrder:   resp.ResponseOrder,
		SessionStatus:   string(e.session.Status),
		Advanced:        true,
		Score:           e.session.Score,
	}, nil
}

// recordResponseLocked creates the response for the current question,
// persists it, and updates local tallies. selected is nil for a timeout.
func (e *Engine) recordResponseLocked(ctx context.Context, selected *string, timedOut bool) (*models.Response, error) {
	q := e.questions[e.idx]
	correct := !timedOut && selected != nil && *selected == q.CorrectOptionID

	spent := e.spentBeforePause
	if !e.questionStartedAt.IsZero() {
		spent += e.clk.Now().Sub(e.questionStartedAt)
	}

	resp := models.Response{
		SessionID:        e.session.ID,
		QuestionID:       q.ID,
		SelectedOptionID: selected,
		IsCorrect:        correct,
		TimedOut:         timedOut,
		TimeSpentSeconds: spent.Seconds(),
		ResponseOrder:    len(e.responses) + 1,
		CreatedAt:        e.clk.Now(),
	}

	_, err := resilience.Execute(ctx, e.exec, resilience.Call[struct{}]{
		Name:       "record_response",
		Dependency: resilience.DepDataStore,
		Tier:       resilience.TierStandard,
		Policy:     resilience.DefaultPolicy(),
		Run: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.store.RecordResponse(ctx, &resp)
		},
	})
	if err != nil {
		if timedOut {
			// A synthesized timeout has no user to re-ask; defer it to the
			// sync queue instead of losing it.
			if payload, merr := json.Marshal(resp); merr == nil {
				e.queue.Enqueue(models.OpSyncProgress, payload, models.PriorityHigh)
			}
		} else {
			return nil, err
		}
	}

	e.responses = append(e.responses, resp)
	e.answered[e.idx] = true
	if correct {
		e.session.CorrectCount++
	}
	if len(e.responses) > 0 {
		e.session.Score = float64(e.session.CorrectCount) / float64(len(e.responses)) * 100
	}

	// History update is fire-and-forget: its failure never blocks advancing.
	go e.upsertHistory(q.ID, correct)

	return &resp, nil
}

func (e *Engine) upsertHistory(questionID int64, correct bool) {
	ctx, cancel := context.WithTimeout(context.Background(), resilience.TierFast.Budget())
	defer cancel()
	_, err := resilience.Execute(ctx, e.exec, resilience.Call[struct{}]{
		Name:       "upsert_question_history",
		Dependency: resilience.DepDataStore,
		Tier:       resilience.TierFast,
		Policy:     resilience.FailFastPolicy(),
		Run: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.history.UpsertUserQuestionHistory(ctx, e.session.UserID, questionID, correct)
		},
	})
	if err != nil {
		e.log.Warn("history upsert failed", "question_id", questionID, "error", err)
	}
}

// ── Advancement ─────────────────────────────────────────

// advanceLocked moves to the next question, next block, or completion.
func (e *Engine) advanceLocked(ctx context.Context) {
	e.idx++
	e.spentBeforePause = 0

	if e.idx < len(e.questions) {
		e.questionStartedAt = e.clk.Now()
		e.armQuestionTimerLocked(e.perQuestionBudget())
		return
	}

	if e.session.SessionType == models.SessionBlock &&
		e.session.CurrentBlockIndex+1 < e.session.Settings.NumBlocks {
		e.advanceBlockLocked(ctx)
		return
	}
	e.completeLocked(ctx)
}

// advanceBlockLocked samples the next block's questions and resets the block
// timer.
func (e *Engine) advanceBlockLocked(ctx context.Context) {
	e.session.CurrentBlockIndex++
	blockIdx := e.session.CurrentBlockIndex

	qs, err := e.sampler.Sample(ctx, e.session.UserID, e.session.Settings.CategoryID,
		e.session.Settings.QuestionsPerBlock, e.session.Settings.Difficulty)
	if err != nil && len(qs) == 0 {
		e.log.Error("failed to fill next block, completing session early",
			"block", blockIdx, "error", err)
		e.completeLocked(ctx)
		return
	}

	e.questions = qs
	e.idx = 0
	e.questionStartedAt = e.clk.Now()
	e.armQuestionTimerLocked(e.perQuestionBudget())
	e.armBlockTimerLocked(e.blockBudget())
	e.persistPatchLocked(ctx, models.SessionPatch{CurrentBlockIndex: &blockIdx})
	e.log.Info("advanced to next block", "block", blockIdx, "questions", len(qs))
}

// CompleteBlock ends the current block early: remaining questions are
// recorded as timed out, then the session advances.
func (e *Engine) CompleteBlock(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Status != models.StatusActive {
		return apperr.SessionState("complete_block", string(e.session.Status), "block_completed")
	}
	e.finishRemainingLocked(ctx)
	return nil
}

// finishRemainingLocked times out every unanswered question left in the
// current block, which naturally advances past the block boundary.
func (e *Engine) finishRemainingLocked(ctx context.Context) {
	block := e.session.CurrentBlockIndex
	for e.session.Status == models.StatusActive &&
		e.session.CurrentBlockIndex == block &&
		e.idx < len(e.questions) {
		if _, err := e.recordResponseLocked(ctx, nil, true); err != nil {
			e.log.Error("failed to record synthesized timeout", "error", err)
		}
		e.advanceLocked(ctx)
	}
}

// ── Pause / Resume ──────────────────────────────────────

// Pause captures remaining time and cancels the running timers. Only legal
// from Active.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Status != models.StatusActive {
		return apperr.SessionState("pause_session", string(e.session.Status), string(models.StatusPaused))
	}

	now := e.clk.Now()
	if e.questionTimer != nil {
		e.pausedQuestionRemaining = e.questionDeadline.Sub(now)
		if e.pausedQuestionRemaining < 0 {
			e.pausedQuestionRemaining = 0
		}
	}
	if e.blockTimer != nil {
		e.pausedBlockRemaining = e.blockDeadline.Sub(now)
		if e.pausedBlockRemaining < 0 {
			e.pausedBlockRemaining = 0
		}
	}
	if !e.questionStartedAt.IsZero() {
		e.spentBeforePause += now.Sub(e.questionStartedAt)
		e.questionStartedAt = time.Time{}
	}
	e.cancelTimersLocked()

	e.session.Status = models.StatusPaused
	remaining := int(e.pausedQuestionRemaining.Seconds())
	e.session.RemainingSeconds = remaining
	e.persistPatchLocked(ctx, models.SessionPatch{
		Status:            &e.session.Status,
		CurrentBlockIndex: &e.session.CurrentBlockIndex,
		RemainingSeconds:  &remaining,
	})
	return nil
}

// Resume restores the countdown from the captured remaining time. Only legal
// from Paused.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Status != models.StatusPaused {
		return apperr.SessionState("resume_session", string(e.session.Status), string(models.StatusActive))
	}

	e.session.Status = models.StatusActive
	e.questionStartedAt = e.clk.Now()
	e.armQuestionTimerLocked(e.pausedQuestionRemaining)
	if e.session.SessionType == models.SessionBlock && e.pausedBlockRemaining > 0 {
		e.armBlockTimerLocked(e.pausedBlockRemaining)
	}
	e.persistPatchLocked(ctx, models.SessionPatch{Status: &e.session.Status})
	return nil
}

// ── Completion ──────────────────────────────────────────

func (e *Engine) completeLocked(ctx context.Context) {
	e.cancelTimersLocked()
	now := e.clk.Now()
	e.session.Status = models.StatusCompleted
	e.session.CompletedAt = &now

	var totalTime float64
	for _, r := range e.responses {
		totalTime += r.TimeSpentSeconds
	}
	summary := models.SessionSummary{
		SessionID:        e.session.ID,
		TotalQuestions:   e.session.TotalQuestions,
		AnsweredCount:    len(e.responses),
		CorrectCount:     e.session.CorrectCount,
		Score:            e.session.Score,
		TotalTimeSeconds: totalTime,
		CompletedAt:      now,
	}

	_, err := resilience.Execute(ctx, e.exec, resilience.Call[struct{}]{
		Name:       "complete_session",
		Dependency: resilience.DepDataStore,
		Tier:       resilience.TierStandard,
		Policy:     resilience.DefaultPolicy(),
		Run: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.store.CompleteSession(ctx, e.session.ID, summary)
		},
	})
	if err != nil {
		e.log.Error("failed to persist completion, deferring to sync queue", "error", err)
		if payload, merr := json.Marshal(summary); merr == nil {
			e.queue.Enqueue(models.OpSyncProgress, payload, models.PriorityHigh)
		}
	}

	// The user's aggregate statistics are now stale.
	if payload, merr := json.Marshal(map[string]int64{"user_id": e.session.UserID}); merr == nil {
		e.queue.Enqueue(models.OpEvictCache, payload, models.PriorityNormal)
	}

	e.log.Info("session completed",
		"answered", summary.AnsweredCount, "correct", summary.CorrectCount, "score", summary.Score)
}

// Summary returns the aggregate for a completed session.
func (e *Engine) Summary() (*models.SessionSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status != models.StatusCompleted {
		return nil, apperr.SessionState("session_summary", string(e.session.Status), string(models.StatusCompleted))
	}
	var totalTime float64
	for _, r := range e.responses {
		totalTime += r.TimeSpentSeconds
	}
	return &models.SessionSummary{
		SessionID:        e.session.ID,
		TotalQuestions:   e.session.TotalQuestions,
		AnsweredCount:    len(e.responses),
		CorrectCount:     e.session.CorrectCount,
		Score:            e.session.Score,
		TotalTimeSeconds: totalTime,
		CompletedAt:      *e.session.CompletedAt,
	}, nil
}

// Teardown cancels timers so no stale timeout fires against a superseded
// engine.
func (e *Engine) Teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelTimersLocked()
}

// ── Timers ──────────────────────────────────────────────

func (e *Engine) perQuestionBudget() time.Duration {
	return time.Duration(e.session.Settings.SecondsPerQuestion) * time.Second
}

func (e *Engine) blockBudget() time.Duration {
	return time.Duration(e.session.Settings.QuestionsPerBlock*60+BlockBonusSeconds) * time.Second
}

// armQuestionTimerLocked replaces any running question timer. A non-positive
// duration leaves the question untimed (self-paced mode).
func (e *Engine) armQuestionTimerLocked(d time.Duration) {
	e.timerGen++
	if e.questionTimer != nil {
		e.questionTimer.Stop()
		e.questionTimer = nil
	}
	if d <= 0 {
		return
	}
	gen := e.timerGen
	e.questionDeadline = e.clk.Now().Add(d)
	e.questionTimer = e.clk.AfterFunc(d, func() { e.onQuestionTimeout(gen) })
}

func (e *Engine) armBlockTimerLocked(d time.Duration) {
	e.blockGen++
	if e.blockTimer != nil {
		e.blockTimer.Stop()
		e.blockTimer = nil
	}
	if d <= 0 {
		return
	}
	gen := e.blockGen
	e.blockDeadline = e.clk.Now().Add(d)
	e.blockTimer = e.clk.AfterFunc(d, func() { e.onBlockTimeout(gen) })
}

func (e *Engine) cancelTimersLocked() {
	e.timerGen++
	e.blockGen++
	if e.questionTimer != nil {
		e.questionTimer.Stop()
		e.questionTimer = nil
	}
	if e.blockTimer != nil {
		e.blockTimer.Stop()
		e.blockTimer = nil
	}
}

// onQuestionTimeout synthesizes a nil-answer response and advances exactly as
// if the user had answered. The generation check drops callbacks from timers
// that were superseded between firing and acquiring the lock.
func (e *Engine) onQuestionTimeout(gen int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.timerGen || e.session.Status != models.StatusActive || e.idx >= len(e.questions) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), resilience.TierStandard.Budget())
	defer cancel()

	e.log.Info("question timed out", "question_id", e.questions[e.idx].ID)
	if _, err := e.recordResponseLocked(ctx, nil, true); err != nil {
		e.log.Error("failed to record timeout response", "error", err)
	}
	e.advanceLocked(ctx)
}

// onBlockTimeout ends the block when its overall budget elapses.
func (e *Engine) onBlockTimeout(gen int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.blockGen || e.session.Status != models.StatusActive {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), resilience.TierStandard.Budget())
	defer cancel()

	e.log.Info("block timed out", "block", e.session.CurrentBlockIndex)
	e.finishRemainingLocked(ctx)
}

// persistPatchLocked flushes a session patch; a failure is deferred to the
// sync queue rather than blocking the user flow.
func (e *Engine) persistPatchLocked(ctx context.Context, patch models.SessionPatch) {
	_, err := resilience.Execute(ctx, e.exec, resilience.Call[struct{}]{
		Name:       "update_session",
		Dependency: resilience.DepDataStore,
		Tier:       resilience.TierStandard,
		Policy:     resilience.FailFastPolicy(),
		Run: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.store.UpdateSession(ctx, e.session.ID, patch)
		},
	})
	if err != nil {
		e.log.Warn("session patch failed, deferring to sync queue", "error", err)
		payload, merr := json.Marshal(struct {
			SessionID string              `json:"session_id"`
			Patch     models.SessionPatch `json:"patch"`
		}{e.session.ID, patch})
		if merr == nil {
			e.queue.Enqueue(models.OpSyncProgress, payload, models.PriorityHigh)
		}
	}
}

func hasOption(q models.Question, optionID string) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}
