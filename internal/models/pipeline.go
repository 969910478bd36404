package models

import (
	"fmt"
	"time"
)

// VerificationMode selects which verification layers run.
type VerificationMode string

const (
	VerificationFast     VerificationMode = "FAST"
	VerificationStandard VerificationMode = "STANDARD"
)

// Verification layer names, in STANDARD order.
const (
	LayerSyntax     = "syntax"
	LayerSemantic   = "semantic"
	LayerBehavioral = "behavioral"
	LayerSafety     = "safety"
	LayerIntent     = "intent"
)

// Pipeline statuses.
const (
	PipelinePassed  = "PASSED"
	PipelineWarning = "PASSED_WITH_WARNINGS"
	PipelineFailed  = "FAILED"
)

// LayerResult is the outcome of a single verification layer.
type LayerResult struct {
	Layer       string        `json:"layer"`
	Passed      bool          `json:"passed"`
	Recoverable bool          `json:"recoverable"`
	Confidence  float64       `json:"confidence"`
	Issues      []string      `json:"issues,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
	Duration    time.Duration `json:"duration"`
	TimedOut    bool          `json:"timed_out,omitempty"`
}

// PipelineResult aggregates the layers that actually ran.
type PipelineResult struct {
	Mode          VerificationMode `json:"mode"`
	Passed        bool             `json:"passed"`
	Status        string           `json:"status"`
	Layers        []LayerResult    `json:"layers"`
	Warnings      []string         `json:"warnings,omitempty"`
	BlockingLayer string           `json:"blocking_layer,omitempty"`
}

// Message returns a human-readable summary naming the blocking layer on failure.
func (r *PipelineResult) Message() string {
	if r == nil {
		return "verification not run"
	}
	if r.Passed {
		if len(r.Warnings) > 0 {
			return fmt.Sprintf("verification passed with %d warning(s)", len(r.Warnings))
		}
		return "verification passed"
	}
	for _, l := range r.Layers {
		if l.Layer == r.BlockingLayer && len(l.Issues) > 0 {
			return fmt.Sprintf("verification failed at %s layer: %s", r.BlockingLayer, l.Issues[0])
		}
	}
	return fmt.Sprintf("verification failed at %s layer", r.BlockingLayer)
}
