// Package verify runs an operation through ordered verification layers and
// decides whether it needs human approval before execution.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrison/opgate/internal/behavior"
	"github.com/harrison/opgate/internal/models"
	"github.com/harrison/opgate/internal/safety"
)

// Subject is what the layers inspect: the request, its classification and
// the behavior mode resolved for it.
type Subject struct {
	Request        string
	Classification *models.Classification
	Mode           behavior.Mode
	Tool           string
	Args           map[string]string
	// Command is the shell command a PROCESS operation would run.
	Command string
}

// NewSubject resolves the mode's tool and arguments for request.
func NewSubject(request string, c *models.Classification, mode behavior.Mode) *Subject {
	bctx := behavior.Context{Request: request, Classification: c}
	args := mode.Args(bctx)
	return &Subject{
		Request:        request,
		Classification: c,
		Mode:           mode,
		Tool:           mode.Tool(bctx),
		Args:           args,
		Command:        args["command"],
	}
}

// Layer is one verification stage.
type Layer interface {
	Name() string
	Check(ctx context.Context, s *Subject) models.LayerResult
}

func pass(name string) models.LayerResult {
	return models.LayerResult{Layer: name, Passed: true, Recoverable: true, Confidence: 1}
}

func fail(name string, recoverable bool, issue string) models.LayerResult {
	return models.LayerResult{Layer: name, Passed: false, Recoverable: recoverable, Issues: []string{issue}}
}

func unclassified(name string) models.LayerResult {
	return fail(name, false, "operation is not classified")
}

// SyntaxLayer checks the request is non-empty and the classification well-formed.
type SyntaxLayer struct{}

func (SyntaxLayer) Name() string { return models.LayerSyntax }

func (SyntaxLayer) Check(_ context.Context, s *Subject) models.LayerResult {
	if strings.TrimSpace(s.Request) == "" {
		return fail(models.LayerSyntax, false, "request is empty")
	}
	if err := s.Classification.Validate(); err != nil {
		return fail(models.LayerSyntax, false, "invalid classification: "+err.Error())
	}
	return pass(models.LayerSyntax)
}

// SemanticLayer checks the classification axes are mutually consistent.
type SemanticLayer struct{}

func (SemanticLayer) Name() string { return models.LayerSemantic }

func (SemanticLayer) Check(_ context.Context, s *Subject) models.LayerResult {
	c := s.Classification
	if c == nil {
		return unclassified(models.LayerSemantic)
	}
	res := pass(models.LayerSemantic)
	switch {
	case c.Semantics == models.SemanticsRead && c.Destination == models.DestinationProcess:
		return fail(models.LayerSemantic, false, "READ semantics cannot target a PROCESS destination")
	case c.Semantics == models.SemanticsExecute && c.Destination == models.DestinationStream:
		res.Warnings = append(res.Warnings, "EXECUTE semantics with a STREAM destination has no side effect")
		res.Confidence = 0.8
	case c.Consumer == models.ConsumerMachine && c.Destination == models.DestinationStream:
		res.Warnings = append(res.Warnings, "STREAM output for a MACHINE consumer is not persisted")
	}
	return res
}

// BehavioralLayer checks the resolved behavior mode can actually satisfy the request.
type BehavioralLayer struct{}

func (BehavioralLayer) Name() string { return models.LayerBehavioral }

func (BehavioralLayer) Check(_ context.Context, s *Subject) models.LayerResult {
	if s.Classification == nil {
		return unclassified(models.LayerBehavioral)
	}
	if s.Mode.Name == "" {
		return fail(models.LayerBehavioral, false, "no behavior mode resolved")
	}
	if s.Classification.Destination == models.DestinationProcess && strings.TrimSpace(s.Command) == "" {
		return fail(models.LayerBehavioral, false,
			fmt.Sprintf("behavior mode %s found no command to run", s.Mode.Name))
	}
	if s.Mode.NeedsTool && s.Tool == "" {
		return fail(models.LayerBehavioral, true,
			fmt.Sprintf("behavior mode %s selected no tool", s.Mode.Name))
	}
	return pass(models.LayerBehavioral)
}

// SafetyLayer gates the command through the safety checker and flags
// safety keywords in the request.
type SafetyLayer struct {
	Checker  safety.Checker
	Keywords *KeywordSet
}

func (SafetyLayer) Name() string { return models.LayerSafety }

func (l SafetyLayer) Check(_ context.Context, s *Subject) models.LayerResult {
	if s.Command != "" && l.Checker != nil {
		if ok, warning := l.Checker.IsCommandSafe(s.Command); !ok {
			return fail(models.LayerSafety, false, warning)
		}
	}
	res := pass(models.LayerSafety)
	for _, kw := range l.Keywords.Match(s.Request) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("request mentions safety keyword %q", kw))
	}
	if s.Command != "" {
		for _, kw := range l.Keywords.Match(s.Command) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("command contains safety keyword %q", kw))
		}
	}
	return res
}

// IntentLayer warns when the classifier was not confident.
type IntentLayer struct {
	Threshold float64
}

func (IntentLayer) Name() string { return models.LayerIntent }

func (l IntentLayer) Check(_ context.Context, s *Subject) models.LayerResult {
	if s.Classification == nil {
		return unclassified(models.LayerIntent)
	}
	res := pass(models.LayerIntent)
	res.Confidence = s.Classification.Confidence
	if s.Classification.Confidence < l.Threshold {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("low confidence (%.2f < %.2f)", s.Classification.Confidence, l.Threshold))
	}
	return res
}

// DefaultLayers returns the five built-in layers in STANDARD order.
func DefaultLayers(checker safety.Checker, keywords *KeywordSet, threshold float64) []Layer {
	return []Layer{
		SyntaxLayer{},
		SemanticLayer{},
		BehavioralLayer{},
		SafetyLayer{Checker: checker, Keywords: keywords},
		IntentLayer{Threshold: threshold},
	}
}
