package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harrison/opgate/internal/models"
)

// RecordExecution appends an execution attempt. A zero Attempt is assigned
// the next attempt number for the operation. Returns the row id.
func (s *Store) RecordExecution(ctx context.Context, uow *UnitOfWork, rec *models.ExecutionRecord) (int64, error) {
	if rec == nil || rec.Result == nil {
		return 0, errors.New("execution record requires a result")
	}
	q := s.q(uow)

	if rec.Attempt == 0 {
		var last sql.NullInt64
		if err := q.QueryRowContext(ctx,
			`SELECT MAX(attempt) FROM executions WHERE operation_id = ?`, rec.OperationID).Scan(&last); err != nil {
			return 0, fmt.Errorf("next attempt for %s: %w", rec.OperationID, err)
		}
		rec.Attempt = int(last.Int64) + 1
	}

	result, err := json.Marshal(rec.Result)
	if err != nil {
		return 0, fmt.Errorf("marshal result: %w", err)
	}
	before, err := marshalSnapshot(rec.StateBefore)
	if err != nil {
		return 0, err
	}
	after, err := marshalSnapshot(rec.StateAfter)
	if err != nil {
		return 0, err
	}
	method, payload, err := models.MarshalReversibility(rec.Reversibility)
	if err != nil {
		return 0, err
	}
	warnings, err := json.Marshal(nonNil(rec.Warnings))
	if err != nil {
		return 0, fmt.Errorf("marshal warnings: %w", err)
	}
	reversible := rec.Reversibility != nil && rec.Reversibility.Reversible()

	res, err := q.ExecContext(ctx, `INSERT INTO executions
		(operation_id, attempt, dry_run, success, exit_code, duration_ms, result, state_before, state_after,
		 reversible, reversibility_method, reversibility, warnings, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OperationID, rec.Attempt, boolToInt(rec.DryRun), boolToInt(rec.Result.Success), rec.Result.ExitCode,
		rec.Result.DurationMs, string(result), before, after,
		boolToInt(reversible), nullString(string(method)), nullString(payload), string(warnings),
		formatTime(rec.StartedAt), formatTime(rec.FinishedAt))
	if err != nil {
		return 0, fmt.Errorf("insert execution for %s: %w", rec.OperationID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("execution id: %w", err)
	}
	rec.ID = id
	return id, nil
}

const executionColumns = `id, operation_id, attempt, dry_run, result, state_before, state_after,
	reversibility_method, reversibility, warnings, started_at, finished_at`

// LatestExecution returns the most recent attempt for an operation.
func (s *Store) LatestExecution(ctx context.Context, uow *UnitOfWork, opID string) (*models.ExecutionRecord, error) {
	row := s.q(uow).QueryRowContext(ctx, `SELECT `+executionColumns+`
		FROM executions WHERE operation_id = ? ORDER BY attempt DESC LIMIT 1`, opID)
	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution for %s: %w", opID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load execution for %s: %w", opID, err)
	}
	return rec, nil
}

// ExecutionHistory returns every attempt for an operation, oldest first.
func (s *Store) ExecutionHistory(ctx context.Context, uow *UnitOfWork, opID string) ([]*models.ExecutionRecord, error) {
	rows, err := s.q(uow).QueryContext(ctx, `SELECT `+executionColumns+`
		FROM executions WHERE operation_id = ? ORDER BY attempt`, opID)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var recs []*models.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanExecution(row rowScanner) (*models.ExecutionRecord, error) {
	var (
		rec                 models.ExecutionRecord
		dryRun              int
		result              string
		before, after       sql.NullString
		method, payload     sql.NullString
		warnings            string
		startedAt, finished string
	)
	if err := row.Scan(&rec.ID, &rec.OperationID, &rec.Attempt, &dryRun, &result, &before, &after,
		&method, &payload, &warnings, &startedAt, &finished); err != nil {
		return nil, err
	}
	rec.DryRun = dryRun != 0

	rec.Result = &models.ExecutionResult{}
	if err := json.Unmarshal([]byte(result), rec.Result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	var err error
	if rec.StateBefore, err = unmarshalSnapshot(before); err != nil {
		return nil, err
	}
	if rec.StateAfter, err = unmarshalSnapshot(after); err != nil {
		return nil, err
	}
	if rec.Reversibility, err = models.UnmarshalReversibility(models.ReversibilityMethod(method.String), payload.String); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(warnings), &rec.Warnings); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	rec.StartedAt = parseTime(startedAt)
	rec.FinishedAt = parseTime(finished)
	return &rec, nil
}

func marshalSnapshot(snap *models.StateSnapshot) (sql.NullString, error) {
	if snap == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalSnapshot(ns sql.NullString) (*models.StateSnapshot, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var snap models.StateSnapshot
	if err := json.Unmarshal([]byte(ns.String), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
