package questions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/medprep/backend/internal/models"
)

// FreshnessWindow is how long a question stays "seen" after a user views it.
// Outside the window the question is eligible for sampling again.
const FreshnessWindow = 14 * 24 * time.Hour

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const questionCols = `q.id, q.category_id, q.question_text, q.correct_option_id, q.difficulty, q.tags, q.created_at`

// FetchUnseenQuestions returns up to limit questions the user has not seen
// within the freshness window, matching the optional category/difficulty
// filters, in random order.
func (s *Store) FetchUnseenQuestions(ctx context.Context, userID int64, categoryID string, difficulty models.Difficulty, limit int) ([]models.Question, error) {
	cutoff := time.Now().Add(-FreshnessWindow)

	query := `SELECT ` + questionCols + `
		 FROM questions q
		 LEFT JOIN user_question_history h
		   ON h.question_id = q.id AND h.user_id = $1
		 WHERE (h.id IS NULL OR h.last_seen_at < $2)`
	args := []interface{}{userID, cutoff}

	query, args = appendFilters(query, args, categoryID, difficulty)
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY random() LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch unseen questions: %w", err)
	}
	defer rows.Close()

	return s.scanQuestions(ctx, rows)
}

// FetchQuestions returns up to limit questions with no history filtering.
func (s *Store) FetchQuestions(ctx context.Context, categoryID string, difficulty models.Difficulty, limit int) ([]models.Question, error) {
	query := `SELECT ` + questionCols + ` FROM questions q WHERE 1=1`
	var args []interface{}

	query, args = appendFilters(query, args, categoryID, difficulty)
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY random() LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}
	defer rows.Close()

	return s.scanQuestions(ctx, rows)
}

// UpsertUserQuestionHistory records that the user answered a question.
func (s *Store) UpsertUserQuestionHistory(ctx context.Context, userID, questionID int64, correct bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_question_history (user_id, question_id, last_seen_at, last_answered_correctly, times_seen)
		 VALUES ($1, $2, NOW(), $3, 1)
		 ON CONFLICT (user_id, question_id)
		 DO UPDATE SET last_seen_at = NOW(),
		               last_answered_correctly = EXCLUDED.last_answered_correctly,
		               times_seen = user_question_history.times_seen + 1`,
		userID, questionID, correct,
	)
	if err != nil {
		return fmt.Errorf("upsert question history: %w", err)
	}
	return nil
}

func appendFilters(query string, args []interface{}, categoryID string, difficulty models.Difficulty) (string, []interface{}) {
	if categoryID != "" {
		args = append(args, categoryID)
		query += fmt.Sprintf(" AND q.category_id = $%d", len(args))
	}
	if difficulty != "" && difficulty != models.DifficultyMixed {
		args = append(args, difficulty)
		query += fmt.Sprintf(" AND q.difficulty = $%d", len(args))
	}
	return query, args
}

func (s *Store) scanQuestions(ctx context.Context, rows *sql.Rows) ([]models.Question, error) {
	var qs []models.Question
	var ids []int64
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.CategoryID, &q.Text, &q.CorrectOptionID,
			&q.Difficulty, pq.Array(&q.Tags), &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		qs = append(qs, q)
		ids = append(ids, q.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	if len(qs) == 0 {
		return qs, nil
	}

	options, err := s.fetchOptions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range qs {
		qs[i].Options = options[qs[i].ID]
	}
	return qs, nil
}

func (s *Store) fetchOptions(ctx context.Context, questionIDs []int64) (map[int64][]models.Option, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, option_id, option_text
		 FROM question_options
		 WHERE question_id = ANY($1)
		 ORDER BY question_id, position`,
		pq.Array(questionIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch options: %w", err)
	}
	defer rows.Close()

	byQuestion := make(map[int64][]models.Option)
	for rows.Next() {
		var qid int64
		var opt models.Option
		if err := rows.Scan(&qid, &opt.ID, &opt.Text); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		byQuestion[qid] = append(byQuestion[qid], opt)
	}
	return byQuestion, rows.Err()
}
