package models

import "time"

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyMixed  Difficulty = "mixed"
)

var ValidDifficulties = map[Difficulty]bool{
	DifficultyEasy:   true,
	DifficultyMedium: true,
	DifficultyHard:   true,
	DifficultyMixed:  true,
}

// Option is one answer choice of a question. Option order is presentation
// order and is preserved as fetched.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is immutable once fetched from the data store.
type Question struct {
	ID              int64      `json:"id"`
	CategoryID      string     `json:"category_id"`
	Text            string     `json:"text"`
	Options         []Option   `json:"options"`
	CorrectOptionID string     `json:"correct_option_id"`
	Difficulty      Difficulty `json:"difficulty"`
	Tags            []string   `json:"tags,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// UserQuestionHistory tracks when a user last saw a question, so sampling can
// bias away from recently-seen items.
type UserQuestionHistory struct {
	ID                    int64     `json:"id"`
	UserID                int64     `json:"user_id"`
	QuestionID            int64     `json:"question_id"`
	LastSeenAt            time.Time `json:"last_seen_at"`
	LastAnsweredCorrectly bool      `json:"last_answered_correctly"`
	TimesSeen             int       `json:"times_seen"`
}

// DeliveryQuestion strips the correct answer for serving to the UI layer.
type DeliveryQuestion struct {
	ID         int64      `json:"id"`
	CategoryID string     `json:"category_id"`
	Text       string     `json:"text"`
	Options    []Option   `json:"options"`
	Difficulty Difficulty `json:"difficulty"`
	Tags       []string   `json:"tags,omitempty"`
}

func (q *Question) ToDelivery() DeliveryQuestion {
	return DeliveryQuestion{
		ID:         q.ID,
		CategoryID: q.CategoryID,
		Text:       q.Text,
		Options:    q.Options,
		Difficulty: q.Difficulty,
		Tags:       q.Tags,
	}
}
