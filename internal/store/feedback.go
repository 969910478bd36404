package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/harrison/opgate/internal/models"
)

// SaveFeedback appends a feedback row, assigning an id and timestamp when missing.
func (s *Store) SaveFeedback(ctx context.Context, uow *UnitOfWork, fb *models.Feedback) error {
	if fb.OperationID == "" || fb.Type == "" {
		return errors.New("feedback requires an operation id and type")
	}
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = s.now()
	}

	var approved sql.NullInt64
	if fb.Approved != nil {
		approved = sql.NullInt64{Int64: int64(boolToInt(*fb.Approved)), Valid: true}
	}
	var fields sql.NullString
	if len(fb.CorrectedFields) > 0 {
		data, err := json.Marshal(fb.CorrectedFields)
		if err != nil {
			return fmt.Errorf("marshal corrected fields: %w", err)
		}
		fields = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.q(uow).ExecContext(ctx, `INSERT INTO feedback
		(id, operation_id, feedback_type, approved, modified, corrected_fields, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fb.ID, fb.OperationID, string(fb.Type), approved, nullString(fb.Modified), fields,
		nullString(fb.Reasoning), formatTime(fb.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert %s feedback for %s: %w", fb.Type, fb.OperationID, err)
	}
	return nil
}

// ListFeedback returns an operation's feedback rows, oldest first.
func (s *Store) ListFeedback(ctx context.Context, uow *UnitOfWork, opID string) ([]*models.Feedback, error) {
	rows, err := s.q(uow).QueryContext(ctx, `SELECT id, operation_id, feedback_type, approved, modified, corrected_fields, reasoning, created_at
		FROM feedback WHERE operation_id = ? ORDER BY created_at, rowid`, opID)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []*models.Feedback
	for rows.Next() {
		var (
			fb                          models.Feedback
			fbType, createdAt           string
			approved                    sql.NullInt64
			modified, fields, reasoning sql.NullString
		)
		if err := rows.Scan(&fb.ID, &fb.OperationID, &fbType, &approved, &modified, &fields, &reasoning, &createdAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		fb.Type = models.FeedbackType(fbType)
		if approved.Valid {
			v := approved.Int64 != 0
			fb.Approved = &v
		}
		fb.Modified = modified.String
		fb.Reasoning = reasoning.String
		if fields.Valid {
			if err := json.Unmarshal([]byte(fields.String), &fb.CorrectedFields); err != nil {
				return nil, fmt.Errorf("decode corrected fields: %w", err)
			}
		}
		fb.CreatedAt = parseTime(createdAt)
		out = append(out, &fb)
	}
	return out, rows.Err()
}

// StorePendingClarification saves c as the user's pending clarification,
// replacing any clarification already pending for that user.
func (s *Store) StorePendingClarification(ctx context.Context, uow *UnitOfWork, c *models.Clarification) error {
	if c.UserID == "" {
		return errors.New("clarification requires a user id")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	options, err := json.Marshal(nonNil(c.Options))
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	q := s.q(uow)
	if _, err := q.ExecContext(ctx,
		`DELETE FROM clarifications WHERE user_id = ? AND resolved_at IS NULL`, c.UserID); err != nil {
		return fmt.Errorf("clear pending clarification for %s: %w", c.UserID, err)
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO clarifications
		(id, user_id, request, source_agent, prompt, options, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Request, c.SourceAgent, c.Prompt, string(options), formatTime(c.CreatedAt)); err != nil {
		return fmt.Errorf("insert clarification for %s: %w", c.UserID, err)
	}
	return nil
}

// GetPendingClarification returns the user's unresolved clarification.
func (s *Store) GetPendingClarification(ctx context.Context, uow *UnitOfWork, userID string) (*models.Clarification, error) {
	var (
		c         models.Clarification
		options   string
		createdAt string
	)
	err := s.q(uow).QueryRowContext(ctx, `SELECT id, user_id, request, source_agent, prompt, options, created_at
		FROM clarifications WHERE user_id = ? AND resolved_at IS NULL`, userID).
		Scan(&c.ID, &c.UserID, &c.Request, &c.SourceAgent, &c.Prompt, &options, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pending clarification for %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load pending clarification for %s: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(options), &c.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

// ResolveClarification marks a pending clarification answered.
func (s *Store) ResolveClarification(ctx context.Context, uow *UnitOfWork, id, answer string) error {
	res, err := s.q(uow).ExecContext(ctx,
		`UPDATE clarifications SET resolved_at = ?, answer = ? WHERE id = ? AND resolved_at IS NULL`,
		formatTime(s.now()), answer, id)
	if err != nil {
		return fmt.Errorf("resolve clarification %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pending clarification %s: %w", id, ErrNotFound)
	}
	return nil
}
