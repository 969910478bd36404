package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harrison/opgate/internal/models"
)

// SaveVerification replaces the stored verification of opID with one row
// per executed layer of result.
func (s *Store) SaveVerification(ctx context.Context, uow *UnitOfWork, opID string, result *models.PipelineResult) error {
	if result == nil {
		return nil
	}
	q := s.q(uow)
	now := formatTime(s.now())
	if _, err := q.ExecContext(ctx, `DELETE FROM verification_results WHERE operation_id = ?`, opID); err != nil {
		return fmt.Errorf("clear verification of %s: %w", opID, err)
	}
	for i, l := range result.Layers {
		issues, err := json.Marshal(nonNil(l.Issues))
		if err != nil {
			return fmt.Errorf("marshal issues: %w", err)
		}
		warnings, err := json.Marshal(nonNil(l.Warnings))
		if err != nil {
			return fmt.Errorf("marshal warnings: %w", err)
		}
		_, err = q.ExecContext(ctx, `INSERT INTO verification_results
			(operation_id, layer, position, mode, passed, recoverable, confidence, issues, warnings, duration_ms, timed_out, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(operation_id, layer) DO UPDATE SET
				position = excluded.position,
				mode = excluded.mode,
				passed = excluded.passed,
				recoverable = excluded.recoverable,
				confidence = excluded.confidence,
				issues = excluded.issues,
				warnings = excluded.warnings,
				duration_ms = excluded.duration_ms,
				timed_out = excluded.timed_out,
				created_at = excluded.created_at`,
			opID, l.Layer, i, string(result.Mode), boolToInt(l.Passed), boolToInt(l.Recoverable), l.Confidence,
			string(issues), string(warnings), l.Duration.Milliseconds(), boolToInt(l.TimedOut), now)
		if err != nil {
			return fmt.Errorf("save %s layer for %s: %w", l.Layer, opID, err)
		}
	}
	return nil
}

// GetVerification returns the stored layer results in pipeline order.
func (s *Store) GetVerification(ctx context.Context, uow *UnitOfWork, opID string) ([]models.LayerResult, error) {
	rows, err := s.q(uow).QueryContext(ctx, `SELECT layer, passed, recoverable, confidence, issues, warnings, duration_ms, timed_out
		FROM verification_results WHERE operation_id = ? ORDER BY position`, opID)
	if err != nil {
		return nil, fmt.Errorf("query verification results: %w", err)
	}
	defer rows.Close()

	var layers []models.LayerResult
	for rows.Next() {
		var (
			l                         models.LayerResult
			passed, recoverable, tout int
			issues, warnings          string
			durationMs                int64
		)
		if err := rows.Scan(&l.Layer, &passed, &recoverable, &l.Confidence, &issues, &warnings, &durationMs, &tout); err != nil {
			return nil, fmt.Errorf("scan verification result: %w", err)
		}
		l.Passed = passed != 0
		l.Recoverable = recoverable != 0
		l.TimedOut = tout != 0
		l.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal([]byte(issues), &l.Issues); err != nil {
			return nil, fmt.Errorf("decode issues: %w", err)
		}
		if err := json.Unmarshal([]byte(warnings), &l.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings: %w", err)
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
