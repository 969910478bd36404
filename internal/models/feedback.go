package models

import "time"

// FeedbackType discriminates rows in the feedback table.
type FeedbackType string

const (
	FeedbackSessionStart   FeedbackType = "session_start"
	FeedbackApprovalPrompt FeedbackType = "approval_prompt"
	FeedbackApproval       FeedbackType = "approval"
	FeedbackCorrection     FeedbackType = "correction"
	FeedbackUndo           FeedbackType = "undo"
)

// Feedback is a single heterogeneous feedback row. Only the fields relevant
// to Type are populated.
type Feedback struct {
	ID              string            `json:"id"`
	OperationID     string            `json:"operation_id"`
	Type            FeedbackType      `json:"feedback_type"`
	Approved        *bool             `json:"approved,omitempty"`
	Modified        string            `json:"modified,omitempty"`
	CorrectedFields map[string]string `json:"corrected_fields,omitempty"`
	Reasoning       string            `json:"reasoning,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Clarification is a pending question the classifier needs answered
// before a request can be classified. At most one is pending per user.
type Clarification struct {
	ID          string
	UserID      string
	Request     string
	SourceAgent string
	Prompt      string
	Options     []string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
	Answer      string
}
