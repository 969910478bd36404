// Package pipeline drives requests through the full operation lifecycle:
// classification, behavior dispatch, verification, the approval decision,
// execution, and undo.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/harrison/opgate/internal/behavior"
	"github.com/harrison/opgate/internal/classify"
	"github.com/harrison/opgate/internal/config"
	"github.com/harrison/opgate/internal/executor"
	"github.com/harrison/opgate/internal/feedback"
	"github.com/harrison/opgate/internal/logger"
	"github.com/harrison/opgate/internal/models"
	"github.com/harrison/opgate/internal/safety"
	"github.com/harrison/opgate/internal/snapshot"
	"github.com/harrison/opgate/internal/store"
	"github.com/harrison/opgate/internal/verify"
)

// ErrNotAwaitingApproval is returned when approving or rejecting an
// operation that is not waiting for approval.
var ErrNotAwaitingApproval = errors.New("operation is not awaiting approval")

// Outcome is what happened to one operation in a single pass.
type Outcome struct {
	Operation    *models.AtomicOperation
	Mode         string
	Verification *models.PipelineResult
	Decision     verify.Decision
	Execution    *models.ExecutionRecord
}

// AwaitingApproval reports whether the operation stopped at the approval gate.
func (o *Outcome) AwaitingApproval() bool {
	return o.Operation != nil && o.Operation.Status == models.StatusAwaitingApproval
}

// SubmitResult is the result of one request.
type SubmitResult struct {
	// Parent is the decomposed parent, when the request was compound.
	Parent        *models.AtomicOperation
	Outcomes      []*Outcome
	Clarification *models.Clarification
}

// Service wires the pipeline stages together. Fields may be replaced before
// first use; the service holds no per-request state.
type Service struct {
	Store               *store.Store
	Classifier          *classify.Orchestrator
	Registry            *behavior.Registry
	Verifier            *verify.Pipeline
	Policy              verify.ApprovalPolicy
	Executor            *executor.Executor
	Undoer              *executor.Undoer
	Feedback            feedback.Collector
	Logger              logger.Logger
	DefaultMode         models.VerificationMode
	ConfidenceThreshold float64
}

// New builds a Service with the built-in classifier, behavior table, safety
// checker and verification layers.
func New(cfg *config.Config, st *store.Store, fs afero.Fs, paths snapshot.PathExtractor, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	checker := safety.NewDefaultChecker()
	keywords := verify.NewKeywordSet(cfg.Approval.SafetyKeywords)
	exec := executor.NewExecutor(st, fs, cfg, paths, checker, log)

	return &Service{
		Store:               st,
		Classifier:          classify.NewOrchestrator(st, classify.NewRuleClassifier(), log),
		Registry:            behavior.NewDefaultRegistry(),
		Verifier:            verify.NewPipeline(verify.DefaultLayers(checker, keywords, cfg.Approval.ConfidenceThreshold), cfg.Verification.LayerTimeout, log),
		Policy:              verify.NewApprovalPolicy(cfg.Approval),
		Executor:            exec,
		Undoer:              executor.NewUndoer(exec, fs),
		Feedback:            feedback.NewStoreCollector(st, log),
		Logger:              log,
		DefaultMode:         models.VerificationMode(strings.ToUpper(cfg.Verification.DefaultMode)),
		ConfidenceThreshold: cfg.Approval.ConfidenceThreshold,
	}
}

func (s *Service) collector() feedback.Collector {
	if s.Feedback == nil {
		return feedback.NopCollector{}
	}
	return s.Feedback
}

func (s *Service) log() logger.Logger {
	if s.Logger == nil {
		return logger.NewNoOpLogger()
	}
	return s.Logger
}

// Submit classifies text and advances every resulting operation as far as
// it can go without a human: operations that need approval stop at
// AWAITING_APPROVAL, the rest execute.
func (s *Service) Submit(ctx context.Context, text, userID, sourceAgent string) (*SubmitResult, error) {
	res, err := s.Classifier.Process(ctx, text, userID, sourceAgent)
	if err != nil {
		return nil, err
	}
	return s.advanceAll(ctx, res)
}

// SubmitClassified is Submit with the classification supplied by the caller.
func (s *Service) SubmitClassified(ctx context.Context, text, userID, sourceAgent string, c *models.Classification) (*SubmitResult, error) {
	res, err := s.Classifier.ProcessClassified(ctx, text, userID, sourceAgent, c)
	if err != nil {
		return nil, err
	}
	return s.advanceAll(ctx, res)
}

// Clarify answers the user's pending clarification and advances the
// re-classified request.
func (s *Service) Clarify(ctx context.Context, userID, answer string) (*SubmitResult, error) {
	res, err := s.Classifier.Resolve(ctx, userID, answer)
	if err != nil {
		return nil, err
	}
	return s.advanceAll(ctx, res)
}

func (s *Service) advanceAll(ctx context.Context, res *classify.Result) (*SubmitResult, error) {
	out := &SubmitResult{Clarification: res.Clarification}
	if res.NeedsClarification() {
		return out, nil
	}
	if res.Operation.IsDecomposed {
		out.Parent = res.Operation
	}

	var errs []error
	for _, op := range res.Executable() {
		oc, err := s.advance(ctx, op)
		if oc != nil {
			out.Outcomes = append(out.Outcomes, oc)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("operation %s: %w", logger.ShortID(op.ID), err))
		}
	}
	if out.Parent != nil {
		if err := s.refreshParent(ctx, out.Parent.ID); err != nil {
			errs = append(errs, err)
		} else if parent, err := s.Store.GetOperation(ctx, nil, out.Parent.ID); err == nil {
			out.Parent = parent
		}
	}
	return out, errors.Join(errs...)
}

// evaluate runs verification for op's current classification and applies
// the approval policy. Nothing is recorded.
func (s *Service) evaluate(ctx context.Context, op *models.AtomicOperation) (*Outcome, *verify.Subject) {
	mode := s.Registry.Lookup(op.Classification)
	subject := verify.NewSubject(op.UserRequest, op.Classification, mode)
	hint := mode.VerificationMode
	if hint == "" {
		hint = s.DefaultMode
	}
	result := s.Verifier.Run(ctx, verify.SelectMode(hint, op.Classification, s.ConfidenceThreshold), subject)
	decision := s.Policy.Decide(op.Classification, result)
	return &Outcome{Operation: op, Mode: mode.Name, Verification: result, Decision: decision}, subject
}

// advance verifies op, applies the approval policy and executes it when no
// approval is needed.
func (s *Service) advance(ctx context.Context, op *models.AtomicOperation) (*Outcome, error) {
	if err := s.collector().StartSession(ctx, op); err != nil {
		s.log().Warnf("feedback: %v", err)
	}

	oc, subject := s.evaluate(ctx, op)
	result, decision := oc.Verification, oc.Decision

	next := models.StatusExecuting
	switch {
	case !decision.Proceed:
		next = models.StatusFailed
	case decision.ApprovalRequired:
		next = models.StatusAwaitingApproval
	}
	err := s.Store.InTransaction(ctx, func(uow *store.UnitOfWork) error {
		if err := s.Store.SaveVerification(ctx, uow, op.ID, result); err != nil {
			return err
		}
		if err := s.Store.SetApproval(ctx, uow, op.ID, decision.ApprovalRequired, false); err != nil {
			return err
		}
		if next == models.StatusExecuting {
			return nil
		}
		return s.Store.UpdateStatus(ctx, uow, op.ID, next)
	})
	if err != nil {
		return oc, fmt.Errorf("record verification: %w", err)
	}
	op.ApprovalRequired = decision.ApprovalRequired

	switch next {
	case models.StatusFailed:
		op.Status = models.StatusFailed
		s.log().Warnf("op %s: %s", logger.ShortID(op.ID), result.Message())
		return oc, nil
	case models.StatusAwaitingApproval:
		op.Status = models.StatusAwaitingApproval
		s.log().Infof("op %s awaiting approval: %s", logger.ShortID(op.ID), decision.Reason)
		if err := s.collector().PresentForApproval(ctx, op.ID); err != nil {
			s.log().Warnf("feedback: %v", err)
		}
		return oc, nil
	}

	s.log().Infof("op %s: %s", logger.ShortID(op.ID), decision.Reason)
	rec, err := s.Executor.Execute(ctx, op, executor.ExecContext{Command: subject.Command}, nil)
	oc.Execution = rec
	return oc, err
}

// Approve grants approval for an operation awaiting it and executes it.
// modified, when set, replaces the command of a PROCESS operation; the
// executor still safety-checks it.
func (s *Service) Approve(ctx context.Context, opID, modified string) (*Outcome, error) {
	op, err := s.awaitingApproval(ctx, opID)
	if err != nil {
		return nil, err
	}
	if err := s.Store.SetApproval(ctx, nil, op.ID, true, true); err != nil {
		return nil, err
	}
	op.Approved = true
	if err := s.collector().CollectApproval(ctx, op, true, modified); err != nil {
		s.log().Warnf("feedback: %v", err)
	}

	mode := s.Registry.Lookup(op.Classification)
	subject := verify.NewSubject(op.UserRequest, op.Classification, mode)
	command := subject.Command
	if m := strings.TrimSpace(modified); m != "" && op.Classification.Destination == models.DestinationProcess {
		command = m
	}

	rec, err := s.Executor.Execute(ctx, op, executor.ExecContext{ApprovalRequired: true, Command: command}, nil)
	oc := &Outcome{Operation: op, Mode: mode.Name, Execution: rec,
		Decision: verify.Decision{Proceed: true, ApprovalRequired: true, Reason: "approved by user"}}
	if err != nil {
		return oc, err
	}
	return oc, s.settleParent(ctx, op)
}

// Reject declines an operation awaiting approval; it becomes CANCELLED.
func (s *Service) Reject(ctx context.Context, opID string) (*models.AtomicOperation, error) {
	op, err := s.awaitingApproval(ctx, opID)
	if err != nil {
		return nil, err
	}
	err = s.Store.InTransaction(ctx, func(uow *store.UnitOfWork) error {
		if err := s.Store.SetApproval(ctx, uow, op.ID, true, false); err != nil {
			return err
		}
		return s.Store.UpdateStatus(ctx, uow, op.ID, models.StatusCancelled)
	})
	if err != nil {
		return nil, fmt.Errorf("reject %s: %w", opID, err)
	}
	op.Status = models.StatusCancelled
	if err := s.collector().CollectApproval(ctx, op, false, ""); err != nil {
		s.log().Warnf("feedback: %v", err)
	}
	s.log().Infof("op %s rejected", logger.ShortID(op.ID))
	return op, s.settleParent(ctx, op)
}

func (s *Service) awaitingApproval(ctx context.Context, opID string) (*models.AtomicOperation, error) {
	op, err := s.Store.GetOperation(ctx, nil, opID)
	if err != nil {
		return nil, err
	}
	if op.Status != models.StatusAwaitingApproval {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotAwaitingApproval, opID, op.Status)
	}
	return op, nil
}

// Undo reverses an executed operation. A decomposed parent undoes its
// children, last first. Undo never changes any status; every attempt is
// recorded as feedback.
func (s *Service) Undo(ctx context.Context, opID string) ([]*executor.UndoReport, error) {
	op, err := s.Store.GetOperation(ctx, nil, opID)
	if err != nil {
		return nil, err
	}

	targets := []*models.AtomicOperation{op}
	if op.IsDecomposed {
		children, err := s.Store.ChildOperations(ctx, nil, op.ID)
		if err != nil {
			return nil, err
		}
		targets = targets[:0]
		for i := len(children) - 1; i >= 0; i-- {
			targets = append(targets, children[i])
		}
	}

	reports := make([]*executor.UndoReport, 0, len(targets))
	for _, target := range targets {
		report := s.Undoer.Undo(ctx, target)
		reports = append(reports, report)
		if err := s.collector().CollectUndo(ctx, target.ID, report.Method, report.Success, report.Message); err != nil {
			s.log().Warnf("feedback: %v", err)
		}
	}
	return reports, nil
}

// Correction is the result of reclassifying an operation.
type Correction struct {
	Fields map[string]string
	// Outcome is the verification of the corrected classification. It is
	// nil when the operation had not reached verification yet.
	Outcome *Outcome
}

// Correct replaces an operation's classification before it executes and
// records which fields changed. An operation that was already verified is
// verified again under the new classification: it fails when verification
// blocks it, otherwise it waits for an explicit approval.
func (s *Service) Correct(ctx context.Context, opID string, c *models.Classification, reasoning string) (*Correction, error) {
	op, err := s.Store.GetOperation(ctx, nil, opID)
	if err != nil {
		return nil, err
	}
	fields := feedback.DiffClassification(op.Classification, c)
	if len(fields) == 0 {
		return nil, fmt.Errorf("correction of %s changes nothing", opID)
	}

	out := &Correction{Fields: fields}
	reverify := op.Status == models.StatusAwaitingVerification || op.Status == models.StatusAwaitingApproval
	next := op.Status
	if reverify {
		corrected := op.Clone()
		corrected.Classification = c.Clone()
		oc, _ := s.evaluate(ctx, corrected)
		if oc.Decision.Proceed {
			next = models.StatusAwaitingApproval
			if !oc.Decision.ApprovalRequired {
				oc.Decision.ApprovalRequired = true
				oc.Decision.Reason = "corrected classification requires approval"
			}
		} else {
			next = models.StatusFailed
		}
		out.Outcome = oc
	}

	err = s.Store.InTransaction(ctx, func(uow *store.UnitOfWork) error {
		if err := s.Store.CorrectClassification(ctx, uow, opID, c); err != nil {
			return err
		}
		if !reverify {
			return nil
		}
		if err := s.Store.SaveVerification(ctx, uow, opID, out.Outcome.Verification); err != nil {
			return err
		}
		if err := s.Store.SetApproval(ctx, uow, opID, next == models.StatusAwaitingApproval, false); err != nil {
			return err
		}
		if next == op.Status {
			return nil
		}
		return s.Store.UpdateStatus(ctx, uow, opID, next)
	})
	if err != nil {
		return nil, err
	}

	if err := s.collector().CollectCorrection(ctx, op, fields, reasoning); err != nil {
		s.log().Warnf("feedback: %v", err)
	}
	s.log().Infof("op %s reclassified: %s", logger.ShortID(op.ID), strings.Join(feedback.FieldNames(fields), ", "))
	if !reverify {
		return out, nil
	}

	if updated, err := s.Store.GetOperation(ctx, nil, opID); err == nil {
		out.Outcome.Operation = updated
	}
	switch next {
	case models.StatusFailed:
		s.log().Warnf("op %s: %s", logger.ShortID(op.ID), out.Outcome.Verification.Message())
		return out, s.settleParent(ctx, op)
	case op.Status:
		return out, nil
	}
	if err := s.collector().PresentForApproval(ctx, op.ID); err != nil {
		s.log().Warnf("feedback: %v", err)
	}
	return out, nil
}

func (s *Service) settleParent(ctx context.Context, op *models.AtomicOperation) error {
	if op.ParentID == "" {
		return nil
	}
	return s.refreshParent(ctx, op.ParentID)
}

// refreshParent closes out a decomposed parent once every child is
// terminal: COMPLETE when all children completed, FAILED otherwise.
func (s *Service) refreshParent(ctx context.Context, parentID string) error {
	return s.Store.InTransaction(ctx, func(uow *store.UnitOfWork) error {
		parent, err := s.Store.GetOperation(ctx, uow, parentID)
		if err != nil {
			return err
		}
		if parent.Status != models.StatusDecomposed {
			return nil
		}
		children, err := s.Store.ChildOperations(ctx, uow, parentID)
		if err != nil {
			return err
		}
		next := models.StatusComplete
		for _, c := range children {
			if !c.Status.IsTerminal() {
				return nil
			}
			if c.Status != models.StatusComplete {
				next = models.StatusFailed
			}
		}
		s.log().Infof("parent %s settled: %s", logger.ShortID(parentID), next)
		return s.Store.UpdateStatus(ctx, uow, parentID, next)
	})
}
