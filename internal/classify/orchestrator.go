package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/opgate/internal/logger"
	"github.com/harrison/opgate/internal/models"
	"github.com/harrison/opgate/internal/store"
)

var (
	// ErrEmptyRequest is returned for blank request text.
	ErrEmptyRequest = errors.New("request text is empty")
	// ErrNoPendingClarification is returned by Resolve when the user has no open question.
	ErrNoPendingClarification = errors.New("no pending clarification")
)

// DefaultStatsWindow is how many recent operations feed the classifier context.
const DefaultStatsWindow = 50

// Result is what Process stored. Exactly one of Operation or Clarification
// is set; Children is only set for a decomposed Operation.
type Result struct {
	Operation     *models.AtomicOperation
	Children      []*models.AtomicOperation
	Clarification *models.Clarification
}

// NeedsClarification reports whether the request is waiting on the user.
func (r *Result) NeedsClarification() bool {
	return r != nil && r.Clarification != nil
}

// Executable returns the operations that go on to verification: the
// children of a decomposition, or the single operation.
func (r *Result) Executable() []*models.AtomicOperation {
	if r == nil || r.Operation == nil {
		return nil
	}
	if r.Operation.IsDecomposed {
		return r.Children
	}
	return []*models.AtomicOperation{r.Operation}
}

// Orchestrator classifies requests and binds the outcome to the store.
type Orchestrator struct {
	Store       *store.Store
	Classifier  Classifier
	Logger      logger.Logger
	Now         func() time.Time
	StatsWindow int
}

// NewOrchestrator creates an orchestrator with default settings.
func NewOrchestrator(st *store.Store, c Classifier, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Orchestrator{Store: st, Classifier: c, Logger: log, Now: time.Now, StatsWindow: DefaultStatsWindow}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Process classifies text for userID and persists the outcome: a single
// operation awaiting verification, a decomposed parent with its children,
// or the user's pending clarification. Nothing is persisted when
// classification fails.
func (o *Orchestrator) Process(ctx context.Context, text, userID, sourceAgent string) (*Result, error) {
	return o.process(ctx, Request{Text: text, UserID: userID, SourceAgent: sourceAgent})
}

// ProcessClassified binds a caller-supplied classification to a new
// operation without consulting the classifier.
func (o *Orchestrator) ProcessClassified(ctx context.Context, text, userID, sourceAgent string, c *models.Classification) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyRequest
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classification: %w", err)
	}
	c = c.Clone()
	if c.Reasoning == "" {
		c.Reasoning = "supplied with the request"
	}
	return o.storeSingle(ctx, Request{Text: text, UserID: userID, SourceAgent: sourceAgent}, c)
}

// Resolve answers the user's pending clarification and re-classifies the
// original request with the answer as a hint. A new clarification, if
// needed, becomes the pending one.
func (o *Orchestrator) Resolve(ctx context.Context, userID, answer string) (*Result, error) {
	pending, err := o.Store.GetPendingClarification(ctx, nil, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w for %s", ErrNoPendingClarification, userID)
	}
	if err != nil {
		return nil, err
	}
	if err := o.Store.ResolveClarification(ctx, nil, pending.ID, answer); err != nil {
		return nil, err
	}
	o.Logger.Debugf("clarification %s answered: %s", logger.ShortID(pending.ID), answer)
	return o.process(ctx, Request{
		Text:        pending.Request,
		UserID:      userID,
		SourceAgent: pending.SourceAgent,
		Hint:        answer,
	})
}

// PendingClarification returns the user's open question, if any.
func (o *Orchestrator) PendingClarification(ctx context.Context, userID string) (*models.Clarification, error) {
	c, err := o.Store.GetPendingClarification(ctx, nil, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w for %s", ErrNoPendingClarification, userID)
	}
	return c, err
}

func (o *Orchestrator) process(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyRequest
	}
	stats, err := o.Store.RecentStats(ctx, nil, req.UserID, o.StatsWindow)
	if err != nil {
		return nil, fmt.Errorf("load classifier context: %w", err)
	}
	req.Context = Context{RecentOps: stats.RecentOps, SuccessRate: stats.SuccessRate}

	outcome, err := o.Classifier.Classify(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("classify request: %w", err)
	}
	if err := outcome.Validate(); err != nil {
		return nil, fmt.Errorf("classifier returned invalid outcome: %w", err)
	}

	switch {
	case outcome.Clarification != nil:
		return o.storeClarification(ctx, req, outcome.Clarification)
	case outcome.Decomposition != nil:
		return o.storeDecomposition(ctx, req, outcome.Decomposition)
	default:
		return o.storeSingle(ctx, req, outcome.Classification)
	}
}

// bind inserts op with classification c and advances it to awaiting verification.
func (o *Orchestrator) bind(ctx context.Context, uow *store.UnitOfWork, op *models.AtomicOperation, c *models.Classification) error {
	op.Classification = c
	if err := o.Store.CreateOperation(ctx, uow, op); err != nil {
		return err
	}
	if err := o.Store.LogClassification(ctx, uow, op.ID, c, false); err != nil {
		return err
	}
	if err := o.Store.UpdateStatus(ctx, uow, op.ID, models.StatusAwaitingVerification); err != nil {
		return err
	}
	op.Status = models.StatusAwaitingVerification
	return nil
}

func (o *Orchestrator) storeSingle(ctx context.Context, req Request, c *models.Classification) (*Result, error) {
	op := models.NewOperation(req.Text, req.UserID, req.SourceAgent, o.now())
	err := o.Store.InTransaction(ctx, func(uow *store.UnitOfWork) error {
		return o.bind(ctx, uow, op, c)
	})
	if err != nil {
		return nil, fmt.Errorf("store classified operation: %w", err)
	}
	o.Logger.Infof("classified %s as %s (%s/%s, confidence %.2f)",
		logger.ShortID(op.ID), c.Triple(), c.Domain, c.ActionHint, c.Confidence)
	return &Result{Operation: op}, nil
}

func (o *Orchestrator) storeDecomposition(ctx context.Context, req Request, d *Decomposition) (*Result, error) {
	now := o.now()
	parent := models.NewOperation(req.Text, req.UserID, req.SourceAgent, now)
	parent.IsDecomposed = true
	parent.Classification = d.Parent

	children := make([]*models.AtomicOperation, 0, len(d.Children))
	err := o.Store.InTransaction(ctx, func(uow *store.UnitOfWork) error {
		if err := o.Store.CreateOperation(ctx, uow, parent); err != nil {
			return err
		}
		if d.Parent != nil {
			if err := o.Store.LogClassification(ctx, uow, parent.ID, d.Parent, false); err != nil {
				return err
			}
		}
		if err := o.Store.UpdateStatus(ctx, uow, parent.ID, models.StatusDecomposed); err != nil {
			return err
		}
		for i, cr := range d.Children {
			child := models.NewOperation(cr.Text, req.UserID, req.SourceAgent, now)
			child.ParentID = parent.ID
			if err := o.bind(ctx, uow, child, cr.Classification); err != nil {
				return fmt.Errorf("child %d: %w", i, err)
			}
			children = append(children, child)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store decomposition: %w", err)
	}

	parent.Status = models.StatusDecomposed
	for _, c := range children {
		parent.ChildIDs = append(parent.ChildIDs, c.ID)
	}
	o.Logger.Infof("decomposed %s into %d operations", logger.ShortID(parent.ID), len(children))
	return &Result{Operation: parent, Children: children}, nil
}

func (o *Orchestrator) storeClarification(ctx context.Context, req Request, c *Clarification) (*Result, error) {
	pending := &models.Clarification{
		UserID:      req.UserID,
		Request:     req.Text,
		SourceAgent: req.SourceAgent,
		Prompt:      c.Prompt,
		Options:     append([]string(nil), c.Options...),
		CreatedAt:   o.now(),
	}
	if err := o.Store.StorePendingClarification(ctx, nil, pending); err != nil {
		return nil, fmt.Errorf("store clarification: %w", err)
	}
	o.Logger.Infof("clarification needed for %s: %s", req.UserID, c.Prompt)
	return &Result{Clarification: pending}, nil
}
