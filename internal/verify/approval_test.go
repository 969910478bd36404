package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harrison/opgate/internal/config"
	"github.com/harrison/opgate/internal/models"
)

func passed(warnings ...string) *models.PipelineResult {
	return &models.PipelineResult{Passed: true, Status: models.PipelinePassed, Warnings: warnings}
}

func defaultPolicy() ApprovalPolicy {
	return NewApprovalPolicy(config.DefaultConfig().Approval)
}

func TestMutatingOperationsAlwaysNeedApproval(t *testing.T) {
	policy := defaultPolicy()
	for _, dest := range []models.Destination{models.DestinationFile, models.DestinationProcess} {
		for _, consumer := range []models.Consumer{models.ConsumerHuman, models.ConsumerMachine} {
			for _, conf := range []float64{0, 0.5, 0.7, 0.99, 1} {
				c := classification(dest, consumer, models.SemanticsExecute, conf, "x", "y")
				d := policy.Decide(c, passed())
				assert.True(t, d.Proceed)
				assert.True(t, d.ApprovalRequired, "%s/%s conf=%v", dest, consumer, conf)
			}
		}
	}
}

func TestLowRiskConfidentIsAutoApproved(t *testing.T) {
	policy := defaultPolicy()
	for _, sem := range []models.Semantics{models.SemanticsRead, models.SemanticsInterpret} {
		for _, conf := range []float64{0.7, 0.85, 1} {
			c := classification(models.DestinationStream, models.ConsumerHuman, sem, conf, "calendar", "show")
			d := policy.Decide(c, passed())
			assert.True(t, d.Proceed)
			assert.False(t, d.ApprovalRequired, "%s conf=%v", sem, conf)
		}
	}
}

func TestApprovalDecisions(t *testing.T) {
	lowRisk := classification(models.DestinationStream, models.ConsumerHuman, models.SemanticsRead, 0.9, "calendar", "show")

	tests := []struct {
		name         string
		policy       ApprovalPolicy
		c            *models.Classification
		result       *models.PipelineResult
		wantProceed  bool
		wantApproval bool
	}{
		{
			name:   "failed verification never proceeds",
			policy: defaultPolicy(),
			c:      lowRisk,
			result: &models.PipelineResult{Passed: false, BlockingLayer: models.LayerSafety},
		},
		{
			name:   "nil result never proceeds",
			policy: defaultPolicy(),
			c:      lowRisk,
		},
		{
			name:         "safety keyword warning",
			policy:       defaultPolicy(),
			c:            lowRisk,
			result:       passed(`request mentions safety keyword "kill"`),
			wantProceed:  true,
			wantApproval: true,
		},
		{
			name:         "unrelated warning keeps auto approval",
			policy:       defaultPolicy(),
			c:            lowRisk,
			result:       passed("STREAM output for a MACHINE consumer is not persisted"),
			wantProceed:  true,
			wantApproval: false,
		},
		{
			name:         "not confident",
			policy:       defaultPolicy(),
			c:            classification(models.DestinationStream, models.ConsumerHuman, models.SemanticsRead, 0.4, "calendar", "show"),
			result:       passed(),
			wantProceed:  true,
			wantApproval: true,
		},
		{
			name:         "auto approval disabled",
			policy:       ApprovalPolicy{AutoApproveLowRisk: false, ConfidenceThreshold: 0.7},
			c:            lowRisk,
			result:       passed(),
			wantProceed:  true,
			wantApproval: true,
		},
		{
			name:         "machine consumer is not low risk",
			policy:       defaultPolicy(),
			c:            classification(models.DestinationStream, models.ConsumerMachine, models.SemanticsRead, 0.9, "calendar", "show"),
			result:       passed(),
			wantProceed:  true,
			wantApproval: true,
		},
		{
			name:         "read file is not low risk",
			policy:       defaultPolicy(),
			c:            classification(models.DestinationFile, models.ConsumerHuman, models.SemanticsRead, 0.9, "files", "read"),
			result:       passed(),
			wantProceed:  true,
			wantApproval: true,
		},
		{
			name:   "unclassified",
			policy: defaultPolicy(),
			result: passed(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.policy.Decide(tt.c, tt.result)
			assert.Equal(t, tt.wantProceed, d.Proceed)
			assert.Equal(t, tt.wantApproval, d.ApprovalRequired)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestFailedDecisionNamesBlockingLayer(t *testing.T) {
	c := classification(models.DestinationStream, models.ConsumerHuman, models.SemanticsRead, 0.9, "calendar", "show")
	d := defaultPolicy().Decide(c, &models.PipelineResult{Passed: false, BlockingLayer: models.LayerIntent})

	assert.Equal(t, "verification failed at intent layer", d.Reason)
}
