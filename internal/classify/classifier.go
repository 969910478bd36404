// Package classify turns natural-language requests into classified
// operations.
//
// A Classifier produces exactly one Outcome per request: a classification, a
// decomposition into independently executable children, or a question the
// user must answer first. The Orchestrator binds outcomes to operations in
// the store.
package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/harrison/opgate/internal/models"
)

// Context summarizes the user's recent history for the classifier.
type Context struct {
	RecentOps   int
	SuccessRate float64
}

// Request is one classification input.
type Request struct {
	Text        string
	UserID      string
	SourceAgent string
	// Hint is the user's answer to a clarification, when re-classifying.
	Hint    string
	Context Context
}

// ChildRequest is one part of a decomposed request.
type ChildRequest struct {
	Text           string
	Classification *models.Classification
}

// Decomposition splits a compound request. Parent may be nil.
type Decomposition struct {
	Parent   *models.Classification
	Children []ChildRequest
}

// Clarification asks the user to disambiguate a request.
type Clarification struct {
	Prompt  string
	Options []string
}

// Outcome holds exactly one of its fields.
type Outcome struct {
	Classification *models.Classification
	Decomposition  *Decomposition
	Clarification  *Clarification
}

// Validate checks that exactly one result is set and that it is well formed.
func (o Outcome) Validate() error {
	set := 0
	if o.Classification != nil {
		set++
	}
	if o.Decomposition != nil {
		set++
	}
	if o.Clarification != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("outcome must hold exactly one result, has %d", set)
	}

	switch {
	case o.Classification != nil:
		return o.Classification.Validate()
	case o.Decomposition != nil:
		if len(o.Decomposition.Children) < 2 {
			return errors.New("decomposition needs at least two children")
		}
		if o.Decomposition.Parent != nil {
			if err := o.Decomposition.Parent.Validate(); err != nil {
				return fmt.Errorf("parent: %w", err)
			}
		}
		for i, child := range o.Decomposition.Children {
			if child.Text == "" {
				return fmt.Errorf("child %d: empty request", i)
			}
			if err := child.Classification.Validate(); err != nil {
				return fmt.Errorf("child %d: %w", i, err)
			}
		}
	default:
		if o.Clarification.Prompt == "" {
			return errors.New("clarification needs a prompt")
		}
	}
	return nil
}

// Classifier classifies requests. Implementations may call out to a model;
// they must honor ctx.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Outcome, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, req Request) (Outcome, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, req Request) (Outcome, error) {
	return f(ctx, req)
}
