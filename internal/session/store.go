package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/medprep/backend/internal/models"
)

// Store persists sessions and responses. The persisted copy of a session is
// authoritative; the in-memory engine flushes every state change here.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateSession(ctx context.Context, sess *models.QuizSession) error {
	settings, err := json.Marshal(sess.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quiz_sessions
		   (id, user_id, session_type, total_questions, status, current_block_index, settings, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		sess.ID, sess.UserID, sess.SessionType, sess.TotalQuestions,
		sess.Status, sess.CurrentBlockIndex, settings,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, sessionID string, patch models.SessionPatch) error {
	query := `UPDATE quiz_sessions SET updated_at = NOW()`
	var args []interface{}

	if patch.Status != nil {
		args = append(args, *patch.Status)
		query += fmt.Sprintf(", status = $%d", len(args))
	}
	if patch.CurrentBlockIndex != nil {
		args = append(args, *patch.CurrentBlockIndex)
		query += fmt.Sprintf(", current_block_index = $%d", len(args))
	}
	if patch.RemainingSeconds != nil {
		args = append(args, *patch.RemainingSeconds)
		query += fmt.Sprintf(", remaining_seconds = $%d", len(args))
	}
	if len(args) == 0 {
		return nil
	}

	args = append(args, sessionID)
	query += fmt.Sprintf(" WHERE id = $%d", len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update session: %s not found", sessionID)
	}
	return nil
}

func (s *Store) CompleteSession(ctx context.Context, sessionID string, summary models.SessionSummary) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE quiz_sessions
		 SET status = $1, correct_count = $2, score = $3, completed_at = $4, updated_at = NOW()
		 WHERE id = $5`,
		models.StatusCompleted, summary.CorrectCount, summary.Score, summary.CompletedAt, sessionID,
	)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

func (s *Store) RecordResponse(ctx context.Context, resp *models.Response) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO responses
		   (session_id, question_id, selected_option_id, is_correct, timed_out,
		    time_spent_seconds, response_order, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 RETURNING id`,
		resp.SessionID, resp.QuestionID, resp.SelectedOptionID, resp.IsCorrect,
		resp.TimedOut, resp.TimeSpentSeconds, resp.ResponseOrder,
	).Scan(&resp.ID)
	if err != nil {
		return fmt.Errorf("record response: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.QuizSession, error) {
	var sess models.QuizSession
	var settings []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, session_type, total_questions, status, current_block_index,
		        settings, correct_count, score, remaining_seconds, created_at, completed_at
		 FROM quiz_sessions WHERE id = $1`,
		sessionID,
	).Scan(&sess.ID, &sess.UserID, &sess.SessionType, &sess.TotalQuestions, &sess.Status,
		&sess.CurrentBlockIndex, &settings, &sess.CorrectCount, &sess.Score,
		&sess.RemainingSeconds, &sess.CreatedAt, &sess.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal(settings, &sess.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &sess, nil
}

func (s *Store) ListResponses(ctx context.Context, sessionID string) ([]models.Response, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, question_id, selected_option_id, is_correct, timed_out,
		        time_spent_seconds, response_order, created_at
		 FROM responses WHERE session_id = $1 ORDER BY response_order`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.ID, &r.SessionID, &r.QuestionID, &r.SelectedOptionID,
			&r.IsCorrect, &r.TimedOut, &r.TimeSpentSeconds, &r.ResponseOrder, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}
