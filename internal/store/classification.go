package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harrison/opgate/internal/models"
)

// ClassificationLogEntry is one append-only classification_log row.
type ClassificationLogEntry struct {
	ID             int64
	OperationID    string
	Classification models.Classification
	Corrected      bool
	CreatedAt      time.Time
}

// LogClassification appends a classification to the log.
func (s *Store) LogClassification(ctx context.Context, uow *UnitOfWork, opID string, c *models.Classification, corrected bool) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid classification: %w", err)
	}
	alts, err := marshalAlternatives(c.Alternatives)
	if err != nil {
		return err
	}
	_, err = s.q(uow).ExecContext(ctx, `INSERT INTO classification_log
		(operation_id, destination, consumer, semantics, confidence, domain, action_hint, reasoning, alternatives, corrected, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		opID, string(c.Destination), string(c.Consumer), string(c.Semantics), c.Confidence,
		c.Domain, c.ActionHint, c.Reasoning, alts, boolToInt(corrected), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("log classification for %s: %w", opID, err)
	}
	return nil
}

// ClassificationHistory returns the log for an operation, oldest first.
func (s *Store) ClassificationHistory(ctx context.Context, uow *UnitOfWork, opID string) ([]ClassificationLogEntry, error) {
	rows, err := s.q(uow).QueryContext(ctx, `SELECT id, operation_id, destination, consumer, semantics, confidence,
		domain, action_hint, reasoning, alternatives, corrected, created_at
		FROM classification_log WHERE operation_id = ? ORDER BY id`, opID)
	if err != nil {
		return nil, fmt.Errorf("query classification log: %w", err)
	}
	defer rows.Close()

	var entries []ClassificationLogEntry
	for rows.Next() {
		var (
			e                             ClassificationLogEntry
			dest, consumer, semantics     string
			domain, hint, reasoning, alts string
			corrected                     int
			createdAt                     string
		)
		if err := rows.Scan(&e.ID, &e.OperationID, &dest, &consumer, &semantics, &e.Classification.Confidence,
			&domain, &hint, &reasoning, &alts, &corrected, &createdAt); err != nil {
			return nil, fmt.Errorf("scan classification log: %w", err)
		}
		e.Classification.Destination = models.Destination(dest)
		e.Classification.Consumer = models.Consumer(consumer)
		e.Classification.Semantics = models.Semantics(semantics)
		e.Classification.Domain = domain
		e.Classification.ActionHint = hint
		e.Classification.Reasoning = reasoning
		if alts != "" && alts != "[]" {
			if err := json.Unmarshal([]byte(alts), &e.Classification.Alternatives); err != nil {
				return nil, fmt.Errorf("decode alternatives: %w", err)
			}
		}
		e.Corrected = corrected != 0
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CorrectClassification replaces an operation's classification with a
// user-supplied one and logs it as a correction. Only operations that have
// not started executing can be corrected.
func (s *Store) CorrectClassification(ctx context.Context, uow *UnitOfWork, opID string, c *models.Classification) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid classification: %w", err)
	}

	op, err := s.GetOperation(ctx, uow, opID)
	if err != nil {
		return err
	}
	switch op.Status {
	case models.StatusClassifying, models.StatusAwaitingVerification, models.StatusAwaitingApproval:
	default:
		return fmt.Errorf("%w: cannot correct classification of %s operation %s", ErrInvalidTransition, op.Status, opID)
	}

	cls, err := classificationArgs(c)
	if err != nil {
		return err
	}
	args := append(cls, opID)
	if _, err := s.q(uow).ExecContext(ctx, `UPDATE operations SET
		destination = ?, consumer = ?, semantics = ?, confidence = ?, domain = ?, action_hint = ?, reasoning = ?, alternatives = ?
		WHERE id = ?`, args...); err != nil {
		return fmt.Errorf("update classification of %s: %w", opID, err)
	}
	if err := s.touch(ctx, uow, opID, s.now()); err != nil {
		return err
	}
	return s.LogClassification(ctx, uow, opID, c, true)
}
