package models

import "time"

// DryRunPrefix marks the message of every dry-run execution.
const DryRunPrefix = "[DRY RUN]"

// ExecutionResult is the outcome of one execution attempt.
type ExecutionResult struct {
	Success          bool     `json:"success"`
	ExitCode         int      `json:"exit_code"`
	Stdout           string   `json:"stdout"`
	Stderr           string   `json:"stderr"`
	Truncated        bool     `json:"truncated,omitempty"`
	TimedOut         bool     `json:"timed_out,omitempty"`
	DurationMs       int64    `json:"duration_ms"`
	FilesAffected    []string `json:"files_affected,omitempty"`
	ProcessesSpawned []int    `json:"processes_spawned,omitempty"`
	Message          string   `json:"message,omitempty"`
}

// FailedResult builds a failed result carrying msg in Stderr.
func FailedResult(msg string) *ExecutionResult {
	return &ExecutionResult{
		Success:  false,
		ExitCode: -1,
		Stderr:   msg,
	}
}

// ExecutionRecord is one persisted execution attempt: both snapshots,
// the result and the reversibility computed from them.
type ExecutionRecord struct {
	ID            int64
	OperationID   string
	Attempt       int
	DryRun        bool
	StateBefore   *StateSnapshot
	StateAfter    *StateSnapshot
	Result        *ExecutionResult
	Reversibility Reversibility
	Warnings      []string
	StartedAt     time.Time
	FinishedAt    time.Time
}
