package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotClassified indicates an operation reached the executor without a classification.
	ErrNotClassified = errors.New("operation is not classified")

	// ErrApprovalRequired indicates an operation needs approval it has not received.
	ErrApprovalRequired = errors.New("operation requires approval")

	// ErrDecomposed indicates an attempt to execute a decomposed parent directly.
	ErrDecomposed = errors.New("decomposed operations execute through their children")
)

// PreconditionError reports why an operation was refused before any side effect.
// The operation's status is left unchanged.
type PreconditionError struct {
	OperationID string    // Operation that was refused
	Message     string    // Human-readable reason
	Err         error     // Underlying sentinel (optional)
	Timestamp   time.Time // When the check failed
}

// NewPreconditionError creates a PreconditionError with the current timestamp.
func NewPreconditionError(opID, msg string, err error) *PreconditionError {
	return &PreconditionError{
		OperationID: opID,
		Message:     msg,
		Err:         err,
		Timestamp:   time.Now(),
	}
}

// Error implements the error interface for PreconditionError.
func (e *PreconditionError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("operation %s: %s", e.OperationID, e.Message))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// IsPreconditionError checks if the error is or wraps a PreconditionError.
func IsPreconditionError(err error) bool {
	if err == nil {
		return false
	}
	var pe *PreconditionError
	return errors.As(err, &pe)
}
