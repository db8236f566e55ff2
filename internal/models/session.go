package models

import "time"

type SessionType string

const (
	SessionQuick     SessionType = "quick"
	SessionTimed     SessionType = "timed"
	SessionBlock     SessionType = "block"
	SessionSelfPaced SessionType = "self_paced"
)

var ValidSessionTypes = map[SessionType]bool{
	SessionQuick:     true,
	SessionTimed:     true,
	SessionBlock:     true,
	SessionSelfPaced: true,
}

type SessionStatus string

const (
	StatusCreated   SessionStatus = "created"
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
)

// SessionSettings are fixed at creation time.
type SessionSettings struct {
	CategoryID         string     `json:"category_id"`
	Difficulty         Difficulty `json:"difficulty"`
	SecondsPerQuestion int        `json:"seconds_per_question"`
	QuestionsPerBlock  int        `json:"questions_per_block,omitempty"`
	NumBlocks          int        `json:"num_blocks,omitempty"`
}

// QuizSession is the persisted session record. The copy in the data store is
// authoritative; the in-memory engine flushes state changes to it.
type QuizSession struct {
	ID                string          `json:"id"`
	UserID            int64           `json:"user_id"`
	SessionType       SessionType     `json:"session_type"`
	TotalQuestions    int             `json:"total_questions"`
	Status            SessionStatus   `json:"status"`
	CurrentBlockIndex int             `json:"current_block_index"`
	Settings          SessionSettings `json:"settings"`
	CorrectCount      int             `json:"correct_count"`
	Score             float64         `json:"score"`
	// RemainingSeconds is only meaningful while the session is paused; it is
	// what Resume restores the countdown from.
	RemainingSeconds int        `json:"remaining_seconds,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// SessionPatch carries the mutable subset of a session record for updates.
// Nil fields are left untouched.
type SessionPatch struct {
	Status            *SessionStatus `json:"status,omitempty"`
	CurrentBlockIndex *int           `json:"current_block_index,omitempty"`
	RemainingSeconds  *int           `json:"remaining_seconds,omitempty"`
}

// SessionSummary aggregates a completed session.
type SessionSummary struct {
	SessionID        string    `json:"session_id"`
	TotalQuestions   int       `json:"total_questions"`
	AnsweredCount    int       `json:"answered_count"`
	CorrectCount     int       `json:"correct_count"`
	Score            float64   `json:"score"`
	TotalTimeSeconds float64   `json:"total_time_seconds"`
	CompletedAt      time.Time `json:"completed_at"`
}

// Response records the outcome of exactly one question within one session.
// Immutable once created. SelectedOptionID is nil when the question timed out.
type Response struct {
	ID               int64     `json:"id"`
	SessionID        string    `json:"session_id"`
	QuestionID       int64     `json:"question_id"`
	SelectedOptionID *string   `json:"selected_option_id,omitempty"`
	IsCorrect        bool      `json:"is_correct"`
	TimedOut         bool      `json:"timed_out"`
	TimeSpentSeconds float64   `json:"time_spent_seconds"`
	ResponseOrder    int       `json:"response_order"`
	CreatedAt        time.Time `json:"created_at"`
}

// ── Request/Response Types ───────────────────────────────

type StartSessionRequest struct {
	SessionType        SessionType `json:"session_type"`
	CategoryID         string      `json:"category_id"`
	Difficulty         Difficulty  `json:"difficulty,omitempty"`
	TotalQuestions     int         `json:"total_questions"`
	SecondsPerQuestion int         `json:"seconds_per_question,omitempty"`
	QuestionsPerBlock  int         `json:"questions_per_block,omitempty"`
	NumBlocks          int         `json:"num_blocks,omitempty"`
}

type SubmitAnswerRequest struct {
	SelectedOptionID string `json:"selected_option_id"`
}

type SubmitAnswerResponse struct {
	Correct         bool    `json:"correct"`
	CorrectOptionID string  `json:"correct_option_id"`
	ResponseOrder   int     `json:"response_order"`
	SessionStatus   string  `json:"session_status"`
	Advanced        bool    `json:"advanced"`
	Score           float64 `json:"score,omitempty"`
}

type SessionStateResponse struct {
	SessionID        string            `json:"session_id"`
	Status           SessionStatus     `json:"status"`
	SessionType      SessionType       `json:"session_type"`
	BlockIndex       int               `json:"block_index"`
	QuestionNumber   int               `json:"question_number"`
	TotalQuestions   int               `json:"total_questions"`
	RemainingSeconds int               `json:"remaining_seconds"`
	Question         *DeliveryQuestion `json:"question,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
