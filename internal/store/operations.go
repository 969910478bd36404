package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/opgate/internal/models"
)

const operationColumns = `id, user_request, user_id, source_agent,
	destination, consumer, semantics, confidence, domain, action_hint, reasoning, alternatives,
	is_decomposed, parent_id, status, approval_required, approved, created_at, completed_at`

// CreateOperation inserts a new operation.
func (s *Store) CreateOperation(ctx context.Context, uow *UnitOfWork, op *models.AtomicOperation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("invalid operation: %w", err)
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = s.now()
	}

	cls, err := classificationArgs(op.Classification)
	if err != nil {
		return err
	}

	args := []any{op.ID, op.UserRequest, op.UserID, op.SourceAgent}
	args = append(args, cls...)
	args = append(args,
		boolToInt(op.IsDecomposed), nullString(op.ParentID), string(op.Status),
		boolToInt(op.ApprovalRequired), boolToInt(op.Approved),
		formatTime(op.CreatedAt), formatTime(s.now()), nullTime(op.CompletedAt),
	)

	query := `INSERT INTO operations (id, user_request, user_id, source_agent,
		destination, consumer, semantics, confidence, domain, action_hint, reasoning, alternatives,
		is_decomposed, parent_id, status, approval_required, approved, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.q(uow).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert operation %s: %w", op.ID, err)
	}
	return nil
}

// GetOperation loads an operation with its child ids and latest execution.
func (s *Store) GetOperation(ctx context.Context, uow *UnitOfWork, id string) (*models.AtomicOperation, error) {
	row := s.q(uow).QueryRowContext(ctx, `SELECT `+operationColumns+` FROM operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load operation %s: %w", id, err)
	}

	if op.IsDecomposed {
		children, err := s.childIDs(ctx, uow, id)
		if err != nil {
			return nil, err
		}
		op.ChildIDs = children
	}

	rec, err := s.LatestExecution(ctx, uow, id)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		op.ExecutionResult = rec.Result
		op.StateBefore = rec.StateBefore
		op.StateAfter = rec.StateAfter
		op.Reversibility = rec.Reversibility
	}
	return op, nil
}

func (s *Store) childIDs(ctx context.Context, uow *UnitOfWork, parentID string) ([]string, error) {
	rows, err := s.q(uow).QueryContext(ctx,
		`SELECT id FROM operations WHERE parent_id = ? ORDER BY created_at, rowid`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query children of %s: %w", parentID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan child id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateStatus moves an operation to a new status, enforcing the state machine.
// Terminal statuses stamp completed_at.
func (s *Store) UpdateStatus(ctx context.Context, uow *UnitOfWork, id string, next models.Status) error {
	q := s.q(uow)

	var current string
	err := q.QueryRowContext(ctx, `SELECT status FROM operations WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load status of %s: %w", id, err)
	}

	from := models.Status(current)
	if !from.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s for operation %s", ErrInvalidTransition, from, next, id)
	}

	now := s.now()
	var completed sql.NullString
	if next.IsTerminal() {
		completed = nullTime(&now)
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE operations SET status = ?, updated_at = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?`,
		string(next), formatTime(now), completed, id); err != nil {
		return fmt.Errorf("update status of %s: %w", id, err)
	}
	return nil
}

// SetApproval records whether approval is required and whether it was granted.
func (s *Store) SetApproval(ctx context.Context, uow *UnitOfWork, id string, required, approved bool) error {
	res, err := s.q(uow).ExecContext(ctx,
		`UPDATE operations SET approval_required = ?, approved = ?, updated_at = ? WHERE id = ?`,
		boolToInt(required), boolToInt(approved), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("update approval of %s: %w", id, err)
	}
	return requireAffected(res, id)
}

// ListFilter narrows ListOperations. Zero values match everything.
type ListFilter struct {
	UserID   string
	Status   models.Status
	ParentID string
	Limit    int
}

// ListOperations returns operations newest first. Execution details are not hydrated.
func (s *Store) ListOperations(ctx context.Context, uow *UnitOfWork, f ListFilter) ([]*models.AtomicOperation, error) {
	var where []string
	var args []any
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ParentID != "" {
		where = append(where, "parent_id = ?")
		args = append(args, f.ParentID)
	}

	query := `SELECT ` + operationColumns + ` FROM operations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.q(uow).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []*models.AtomicOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// ChildOperations returns the children of a decomposed parent in creation order.
func (s *Store) ChildOperations(ctx context.Context, uow *UnitOfWork, parentID string) ([]*models.AtomicOperation, error) {
	ids, err := s.childIDs(ctx, uow, parentID)
	if err != nil {
		return nil, err
	}
	children := make([]*models.AtomicOperation, 0, len(ids))
	for _, id := range ids {
		child, err := s.GetOperation(ctx, uow, id)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// Stats summarizes a user's recent operations for classifier context.
type Stats struct {
	RecentOps   int
	SuccessRate float64 // Over finished operations; 0 when none finished
}

// RecentStats looks at the user's last window operations.
func (s *Store) RecentStats(ctx context.Context, uow *UnitOfWork, userID string, window int) (Stats, error) {
	if window <= 0 {
		window = 50
	}
	rows, err := s.q(uow).QueryContext(ctx,
		`SELECT status FROM operations WHERE user_id = ? AND parent_id IS NULL
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, window)
	if err != nil {
		return Stats{}, fmt.Errorf("query recent operations: %w", err)
	}
	defer rows.Close()

	var st Stats
	var complete, finished int
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return Stats{}, fmt.Errorf("scan status: %w", err)
		}
		st.RecentOps++
		switch models.Status(status) {
		case models.StatusComplete:
			complete++
			finished++
		case models.StatusFailed:
			finished++
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	if finished > 0 {
		st.SuccessRate = float64(complete) / float64(finished)
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*models.AtomicOperation, error) {
	var (
		op                                  models.AtomicOperation
		dest, consumer, semantics           sql.NullString
		confidence                          sql.NullFloat64
		domain, actionHint, reasoning, alts sql.NullString
		isDecomposed, approvalReq, approved int
		parentID                            sql.NullString
		status, createdAt                   string
		completedAt                         sql.NullString
	)
	if err := row.Scan(&op.ID, &op.UserRequest, &op.UserID, &op.SourceAgent,
		&dest, &consumer, &semantics, &confidence, &domain, &actionHint, &reasoning, &alts,
		&isDecomposed, &parentID, &status, &approvalReq, &approved, &createdAt, &completedAt); err != nil {
		return nil, err
	}

	if dest.Valid {
		c := &models.Classification{
			Destination: models.Destination(dest.String),
			Consumer:    models.Consumer(consumer.String),
			Semantics:   models.Semantics(semantics.String),
			Confidence:  confidence.Float64,
			Domain:      domain.String,
			ActionHint:  actionHint.String,
			Reasoning:   reasoning.String,
		}
		if alts.Valid && alts.String != "" {
			if err := json.Unmarshal([]byte(alts.String), &c.Alternatives); err != nil {
				return nil, fmt.Errorf("decode alternatives: %w", err)
			}
		}
		op.Classification = c
	}

	op.IsDecomposed = isDecomposed != 0
	op.ParentID = parentID.String
	op.Status = models.Status(status)
	op.ApprovalRequired = approvalReq != 0
	op.Approved = approved != 0
	op.CreatedAt = parseTime(createdAt)
	op.CompletedAt = parseNullTime(completedAt)
	return &op, nil
}

// classificationArgs returns the eight classification column values.
func classificationArgs(c *models.Classification) ([]any, error) {
	if c == nil {
		return []any{nil, nil, nil, nil, nil, nil, nil, nil}, nil
	}
	alts, err := marshalAlternatives(c.Alternatives)
	if err != nil {
		return nil, err
	}
	return []any{
		string(c.Destination), string(c.Consumer), string(c.Semantics), c.Confidence,
		c.Domain, c.ActionHint, c.Reasoning, alts,
	}, nil
}

func marshalAlternatives(alts []models.Alternative) (string, error) {
	if len(alts) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(alts)
	if err != nil {
		return "", fmt.Errorf("marshal alternatives: %w", err)
	}
	return string(data), nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	return nil
}

// touch is used by writers that only need updated_at bumped.
func (s *Store) touch(ctx context.Context, uow *UnitOfWork, id string, at time.Time) error {
	res, err := s.q(uow).ExecContext(ctx, `UPDATE operations SET updated_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touch operation %s: %w", id, err)
	}
	return requireAffected(res, id)
}
