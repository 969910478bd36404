package verify

import (
	"github.com/harrison/opgate/internal/config"
	"github.com/harrison/opgate/internal/models"
)

// Decision is the outcome of the approval policy.
type Decision struct {
	// Proceed is false when verification failed; the operation must not run.
	Proceed          bool
	ApprovalRequired bool
	Reason           string
}

// ApprovalPolicy decides deterministically whether an operation that passed
// verification needs a human approval before it executes.
type ApprovalPolicy struct {
	AutoApproveLowRisk  bool
	ConfidenceThreshold float64
	Keywords            *KeywordSet
}

// NewApprovalPolicy builds a policy from the approval config section.
func NewApprovalPolicy(cfg config.ApprovalConfig) ApprovalPolicy {
	return ApprovalPolicy{
		AutoApproveLowRisk:  cfg.AutoApproveLowRisk,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Keywords:            NewKeywordSet(cfg.SafetyKeywords),
	}
}

// Decide applies the rules in order: failed verification never proceeds;
// EXECUTE on FILE or PROCESS always needs approval; so does any warning
// naming a safety keyword and any classification below the confidence
// threshold. Only low-risk confident operations are auto-approved.
func (p ApprovalPolicy) Decide(c *models.Classification, r *models.PipelineResult) Decision {
	if r == nil || !r.Passed {
		return Decision{Reason: r.Message()}
	}
	if c == nil {
		return Decision{Reason: "operation is not classified"}
	}

	if c.IsMutating() {
		return Decision{Proceed: true, ApprovalRequired: true,
			Reason: "EXECUTE on " + string(c.Destination) + " always requires approval"}
	}
	for _, w := range r.Warnings {
		if kws := p.Keywords.Match(w); len(kws) > 0 {
			return Decision{Proceed: true, ApprovalRequired: true,
				Reason: "safety keyword " + kws[0] + " in verification warnings"}
		}
	}
	if !p.confident(c) {
		return Decision{Proceed: true, ApprovalRequired: true, Reason: "classification is not confident"}
	}
	if c.IsLowRisk() {
		if p.AutoApproveLowRisk {
			return Decision{Proceed: true, Reason: "auto-approved low-risk operation"}
		}
		return Decision{Proceed: true, ApprovalRequired: true, Reason: "auto-approval of low-risk operations is disabled"}
	}
	return Decision{Proceed: true, ApprovalRequired: true, Reason: "operation is not low-risk"}
}

func (p ApprovalPolicy) confident(c *models.Classification) bool {
	return c.Confidence >= p.ConfidenceThreshold
}
