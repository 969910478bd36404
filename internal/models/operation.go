package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// AtomicOperation is one classified, independently executable unit of user intent.
type AtomicOperation struct {
	ID               string
	UserRequest      string
	UserID           string
	SourceAgent      string
	Classification   *Classification
	IsDecomposed     bool
	ParentID         string
	ChildIDs         []string
	Status           Status
	ApprovalRequired bool
	Approved         bool
	CreatedAt        time.Time
	CompletedAt      *time.Time
	ExecutionResult  *ExecutionResult
	StateBefore      *StateSnapshot
	StateAfter       *StateSnapshot
	Reversibility    Reversibility
}

// NewOperation creates an operation in CLASSIFYING state with a fresh id.
func NewOperation(request, userID, sourceAgent string, now time.Time) *AtomicOperation {
	return &AtomicOperation{
		ID:          uuid.New().String(),
		UserRequest: request,
		UserID:      userID,
		SourceAgent: sourceAgent,
		Status:      StatusClassifying,
		CreatedAt:   now,
	}
}

// Validate checks the fields every persisted operation needs.
func (o *AtomicOperation) Validate() error {
	if o.ID == "" {
		return errors.New("operation id is required")
	}
	if o.UserRequest == "" {
		return errors.New("user request is required")
	}
	if !o.Status.Valid() {
		return errors.New("operation status is invalid")
	}
	if o.Classification != nil {
		if err := o.Classification.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsChild reports whether the operation was produced by a decomposition.
func (o *AtomicOperation) IsChild() bool {
	return o.ParentID != ""
}

// Clone returns a copy safe to mutate independently of o.
func (o *AtomicOperation) Clone() *AtomicOperation {
	if o == nil {
		return nil
	}
	out := *o
	out.Classification = o.Classification.Clone()
	if o.ChildIDs != nil {
		out.ChildIDs = append([]string(nil), o.ChildIDs...)
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
