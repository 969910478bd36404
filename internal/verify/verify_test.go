package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/opgate/internal/behavior"
	"github.com/harrison/opgate/internal/config"
	"github.com/harrison/opgate/internal/models"
	"github.com/harrison/opgate/internal/safety"
)

func classification(dest models.Destination, consumer models.Consumer, sem models.Semantics, conf float64, domain, action string) *models.Classification {
	return &models.Classification{
		Destination: dest,
		Consumer:    consumer,
		Semantics:   sem,
		Confidence:  conf,
		Domain:      domain,
		ActionHint:  action,
	}
}

func subject(request string, c *models.Classification) *Subject {
	return NewSubject(request, c, behavior.NewDefaultRegistry().Lookup(c))
}

func defaultPipeline(timeout time.Duration) *Pipeline {
	kws := NewKeywordSet(config.DefaultSafetyKeywords)
	return NewPipeline(DefaultLayers(safety.NewDefaultChecker(), kws, 0.7), timeout, nil)
}

func layerNames(r *models.PipelineResult) []string {
	var names []string
	for _, l := range r.Layers {
		names = append(names, l.Layer)
	}
	return names
}

// slowLayer returns only well after its context is done.
type slowLayer struct{ name string }

func (l slowLayer) Name() string { return l.name }

func (l slowLayer) Check(ctx context.Context, _ *Subject) models.LayerResult {
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	return pass(l.name)
}

// countingLayer records how often it ran.
type countingLayer struct {
	name  string
	calls *int
}

func (l countingLayer) Name() string { return l.name }

func (l countingLayer) Check(context.Context, *Subject) models.LayerResult {
	*l.calls++
	return pass(l.name)
}

type panicLayer struct{}

func (panicLayer) Name() string { return models.LayerSemantic }

func (panicLayer) Check(context.Context, *Subject) models.LayerResult { panic("boom") }

func TestStandardRunsAllLayersInOrder(t *testing.T) {
	c := classification(models.DestinationStream, models.ConsumerHuman, models.SemanticsRead, 0.95, "calendar", "show")
	r := defaultPipeline(time.Second).Run(context.Background(), models.VerificationStandard, subject("show me my calendar", c))

	assert.True(t, r.Passed)
	assert.Equal(t, models.PipelinePassed, r.Status)
	assert.Equal(t, StandardOrder, layerNames(r))
	assert.Empty(t, r.BlockingLayer)
	assert.Equal(t, "verification passed", r.Message())
}

func TestFastRunsSyntaxAndSafety(t *testing.T) {
	c := classification(models.DestinationStream, models.ConsumerHuman, models.SemanticsRead, 0.95, "calendar", "show")
	r := defaultPipeline(time.Second).Run(context.Background(), models.VerificationFast, subject("show me my calendar", c))

	assert.True(t, r.Passed)
	assert.Equal(t, models.VerificationFast, r.Mode)
	assert.Equal(t, FastOrder, layerNames(r))
}

func TestShortCircuitOnNonRecoverableFailure(t *testing.T) {
	calls := 0
	p := NewPipeline([]Layer{
		SyntaxLayer{},
		SemanticLayer{},
		countingLayer{name: models.LayerBehavioral, calls: &calls},
		countingLayer{name: models.LayerSafety, calls: &calls},
		countingLayer{name: models.LayerIntent, calls: &calls},
	}, time.Second, nil)

	c := classification(models.DestinationProcess, models.ConsumerHuman, models.SemanticsRead, 0.9, "system", "status")
	r := p.Run(context.Background(), models.VerificationStandard, subject("read the process list", c))

	assert.False(t, r.Passed)
	assert.Equal(t, models.PipelineFailed, r.Status)
	assert.Equal(t, models.LayerSemantic, r.BlockingLayer)
	assert.Equal(t, 0, calls, "layers after the blocking layer must not run")
	assert.Equal(t, []string{models.LayerSyntax, models.LayerSemantic}, layerNames(r))
	assert.Contains(t, r.Message(), "verification failed at semantic layer")
}

func TestRecoverableFailureContinues(t *testing.T) {
	reg := behavior.NewRegistry([]behavior.Entry{{
		Key:  behavior.Key{Domain: "files", Action: "copy"},
		Mode: behavior.Mode{Name: "copy", VerificationMode: models.VerificationStandard, NeedsTool: true},
	}}, nil, behavior.GenericMode)
	c := classification(models.DestinationFile, models.ConsumerHuman, models.SemanticsExecute, 0.9, "files", "copy")
	s := NewSubject("copy /tmp/a to /tmp/b", c, reg.Lookup(c))

	r := defaultPipeline(time.Second).Run(context.Background(), models.VerificationStandard, s)

	assert.False(t, r.Passed)
	assert.Equal(t, models.LayerBehavioral, r.BlockingLayer)
	assert.Equal(t, StandardOrder, layerNames(r), "recoverable failures do not short-circuit")
}

func TestWarningsAccumulateOnPass(t *testing.T) {
	c := classification(models.DestinationFile, models.ConsumerHuman, models.SemanticsExecute, 0.5, "files", "delete")
	r := defaultPipeline(time.Second).Run(context.Background(), models.VerificationStandard, subject("delete /home/user/report.pdf", c))

	require.True(t, r.Passed)
	assert.Equal(t, models.PipelineWarning, r.Status)
	assert.Contains(t, r.Warnings, `request mentions safety keyword "delete"`)
	assert.Contains(t, r.Warnings, "low confidence (0.50 < 0.70)")
}

func TestProcessWithoutCommandFails(t *testing.T) {
	c := classification(models.DestinationProcess, models.ConsumerHuman, models.SemanticsExecute, 0.9, "system", "restart")
	r := defaultPipeline(time.Second).Run(context.Background(), models.VerificationStandard, subject("restart", c))

	assert.False(t, r.Passed)
	assert.Equal(t, models.LayerBehavioral, r.BlockingLayer)
}

func TestUnsafeCommandBlocksAtSafety(t *testing.T) {
	c := classification(models.DestinationProcess, models.ConsumerHuman, models.SemanticsExecute, 0.9, "system", "run")
	r := defaultPipeline(time.Second).Run(context.Background(), models.VerificationStandard, subject("run `rm -rf /`", c))

	assert.False(t, r.Passed)
	assert.Equal(t, models.LayerSafety, r.BlockingLayer)
	assert.NotContains(t, layerNames(r), models.LayerIntent)
}

func TestEmptyRequestFailsSyntax(t *testing.T) {
	c := classification(models.DestinationStream, models.ConsumerHuman, models.SemanticsRead, 0.9, "calendar", "show")
	r := defaultPipeline(time.Second).Run(context.Background(), models.VerificationStandard, subject("   ", c))

	assert.False(t, r.Passed)
	assert.Equal(t, models.LayerSyntax, r.BlockingLayer)
	assert.Len(t, r.Layers, 1)
}

func TestUnclassifiedSubjectFailsSyntax(t *testing.T) {
	s := NewSubject("do something", nil, behavior.GenericMode)
	r := defaultPipeline(time.Second).Run(context.Background(), models.VerificationStandard, s)

	assert.False(t, r.Passed)
	assert.Equal(t, models.LayerSyntax, r.BlockingLayer)
}

func TestLayerTimeoutFailsPipeline(t *testing.T) {
	p := NewPipeline([]Layer{
		SyntaxLayer{},
		slowLayer{name: models.LayerSafety},
	}, 20*time.Millisecond, nil)

	c := classification(models.DestinationStream, models.ConsumerHuman, models.SemanticsRead, 0.9, "calendar", "show")
	r := p.Run(context.Background(), models.VerificationFast, subject("show me my calendar", c))

	assert.False(t, r.Passed)
	assert.Equal(t, models.LayerSafety, r.BlockingLayer)
	require.Len(t, r.Layers, 2)
	assert.True(t, r.Layers[1].TimedOut)
	assert.Contains(t, r.Layers[1].Issues[0], "timed out")
}

func TestLayerPanicFailsPipeline(t *testing.T) {
	p := NewPipeline([]Layer{SyntaxLayer{}, panicLayer{}}, time.Second, nil)
	c := classification(models.DestinationStream, models.ConsumerHuman, models.SemanticsRead, 0.9, "calendar", "show")
	r := p.Run(context.Background(), models.VerificationStandard, subject("show me my calendar", c))

	assert.False(t, r.Passed)
	assert.Equal(t, models.LayerSemantic, r.BlockingLayer)
	assert.Contains(t, r.Layers[1].Issues[0], "boom")
}

func TestSemanticExecuteOnStreamWarns(t *testing.T) {
	c := classification(models.DestinationStream, models.ConsumerHuman, models.SemanticsExecute, 0.9, "notes", "summarize")
	lr := SemanticLayer{}.Check(context.Background(), subject("summarize my notes", c))

	assert.True(t, lr.Passed)
	assert.NotEmpty(t, lr.Warnings)
}

func TestSelectMode(t *testing.T) {
	lowRisk := classification(models.DestinationStream, models.ConsumerHuman, models.SemanticsRead, 0.9, "calendar", "show")
	unsure := classification(models.DestinationStream, models.ConsumerHuman, models.SemanticsRead, 0.4, "calendar", "show")
	mutating := classification(models.DestinationFile, models.ConsumerHuman, models.SemanticsExecute, 0.99, "files", "delete")

	assert.Equal(t, models.VerificationFast, SelectMode(models.VerificationFast, lowRisk, 0.7))
	assert.Equal(t, models.VerificationStandard, SelectMode(models.VerificationStandard, lowRisk, 0.7))
	assert.Equal(t, models.VerificationStandard, SelectMode(models.VerificationFast, unsure, 0.7))
	assert.Equal(t, models.VerificationStandard, SelectMode(models.VerificationFast, mutating, 0.7))
	assert.Equal(t, models.VerificationStandard, SelectMode(models.VerificationFast, nil, 0.7))
}

func TestKeywordSet(t *testing.T) {
	ks := NewKeywordSet([]string{"delete", "rm ", "format", "", "Delete"})

	assert.Equal(t, []string{"delete"}, ks.Match("Please DELETE the file"))
	assert.Equal(t, []string{"rm"}, ks.Match("run rm -f x"))
	assert.Empty(t, ks.Match("show information"))
	assert.True(t, ks.Any("nothing", "format the disk"))
	assert.False(t, ks.Any())

	var nilSet *KeywordSet
	assert.Nil(t, nilSet.Match("delete"))
}
