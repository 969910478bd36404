package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/harrison/opgate/internal/logger"
	"github.com/harrison/opgate/internal/models"
)

// Layer orders per verification mode.
var (
	StandardOrder = []string{models.LayerSyntax, models.LayerSemantic, models.LayerBehavioral, models.LayerSafety, models.LayerIntent}
	FastOrder     = []string{models.LayerSyntax, models.LayerSafety}
)

// Pipeline runs layers in mode order. It holds no per-call state and is safe
// for concurrent use.
type Pipeline struct {
	layers  map[string]Layer
	timeout time.Duration
	log     logger.Logger
}

// NewPipeline indexes layers by name. A zero timeout disables the per-layer bound.
func NewPipeline(layers []Layer, timeout time.Duration, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	p := &Pipeline{
		layers:  make(map[string]Layer, len(layers)),
		timeout: timeout,
		log:     log,
	}
	for _, l := range layers {
		p.layers[l.Name()] = l
	}
	return p
}

// Order returns the layer names mode runs.
func Order(mode models.VerificationMode) []string {
	if mode == models.VerificationFast {
		return FastOrder
	}
	return StandardOrder
}

// Run verifies s. Execution stops at the first failed non-recoverable layer;
// Passed is the AND of the layers that ran. A layer that does not return
// within the timeout fails the pipeline with that layer blocking.
func (p *Pipeline) Run(ctx context.Context, mode models.VerificationMode, s *Subject) *models.PipelineResult {
	if mode != models.VerificationFast {
		mode = models.VerificationStandard
	}
	result := &models.PipelineResult{Mode: mode, Passed: true}

	for _, name := range Order(mode) {
		layer, ok := p.layers[name]
		if !ok {
			p.log.Debugf("verify: layer %s not configured, skipping", name)
			continue
		}

		lr := p.runLayer(ctx, layer, s)
		result.Layers = append(result.Layers, lr)
		result.Warnings = append(result.Warnings, lr.Warnings...)
		p.log.Debugf("verify: %s passed=%v (%s)", name, lr.Passed, lr.Duration)

		if !lr.Passed {
			result.Passed = false
			if result.BlockingLayer == "" {
				result.BlockingLayer = name
			}
			if !lr.Recoverable {
				break
			}
		}
	}

	switch {
	case !result.Passed:
		result.Status = models.PipelineFailed
	case len(result.Warnings) > 0:
		result.Status = models.PipelineWarning
	default:
		result.Status = models.PipelinePassed
	}
	return result
}

type layerOutcome struct {
	result models.LayerResult
	panic  any
}

func (p *Pipeline) runLayer(ctx context.Context, layer Layer, s *Subject) models.LayerResult {
	start := time.Now()
	lctx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	done := make(chan layerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- layerOutcome{panic: r}
			}
		}()
		done <- layerOutcome{result: layer.Check(lctx, s)}
	}()

	select {
	case out := <-done:
		if out.panic != nil {
			lr := fail(layer.Name(), false, fmt.Sprintf("layer panicked: %v", out.panic))
			lr.Duration = time.Since(start)
			return lr
		}
		lr := out.result
		lr.Layer = layer.Name()
		lr.Duration = time.Since(start)
		return lr
	case <-lctx.Done():
		issue := fmt.Sprintf("layer timed out after %s", p.timeout)
		if ctx.Err() != nil {
			issue = "verification cancelled: " + ctx.Err().Error()
		}
		p.log.Warnf("verify: %s %s", layer.Name(), issue)
		lr := fail(layer.Name(), false, issue)
		lr.TimedOut = true
		lr.Duration = time.Since(start)
		return lr
	}
}

// SelectMode picks the verification mode. FAST is only honored for
// low-risk, confident classifications; everything else runs STANDARD.
func SelectMode(hint models.VerificationMode, c *models.Classification, confidenceThreshold float64) models.VerificationMode {
	if hint == models.VerificationFast && c.IsLowRisk() && c.Confidence >= confidenceThreshold {
		return models.VerificationFast
	}
	return models.VerificationStandard
}
