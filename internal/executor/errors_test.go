package executor

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestNewPreconditionError verifies PreconditionError creation and Error() formatting.
func TestNewPreconditionError(t *testing.T) {
	tests := []struct {
		name        string
		opID        string
		message     string
		err         error
		wantContain []string
	}{
		{
			name:        "plain message",
			opID:        "op-1",
			message:     "no operation",
			wantContain: []string{"operation op-1", "no operation"},
		},
		{
			name:        "wrapped sentinel",
			opID:        "op-2",
			message:     "cannot execute",
			err:         ErrApprovalRequired,
			wantContain: []string{"op-2", "cannot execute", "requires approval"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := NewPreconditionError(tt.opID, tt.message, tt.err)
			if pe.Timestamp.IsZero() {
				t.Error("Timestamp should be set")
			}
			msg := pe.Error()
			for _, want := range tt.wantContain {
				if !strings.Contains(msg, want) {
					t.Errorf("Error() = %q, want it to contain %q", msg, want)
				}
			}
		})
	}
}

func TestPreconditionErrorWrapping(t *testing.T) {
	pe := NewPreconditionError("op-3", "cannot execute", ErrDecomposed)
	wrapped := fmt.Errorf("execute: %w", pe)

	if !errors.Is(wrapped, ErrDecomposed) {
		t.Error("errors.Is should find the sentinel through the wrapper")
	}
	if errors.Is(wrapped, ErrNotClassified) {
		t.Error("errors.Is matched the wrong sentinel")
	}
	var got *PreconditionError
	if !errors.As(wrapped, &got) || got.OperationID != "op-3" {
		t.Errorf("errors.As failed, got %+v", got)
	}
}

func TestIsPreconditionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"direct", NewPreconditionError("op", "x", nil), true},
		{"wrapped", fmt.Errorf("ctx: %w", NewPreconditionError("op", "x", nil)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPreconditionError(tt.err); got != tt.want {
				t.Errorf("IsPreconditionError() = %v, want %v", got, tt.want)
			}
		})
	}
}
