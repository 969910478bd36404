// Package executor runs approved operations with pre/post state capture and
// automatic backups, computes how each execution can be undone, and performs
// the undo.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/harrison/opgate/internal/backup"
	"github.com/harrison/opgate/internal/config"
	"github.com/harrison/opgate/internal/logger"
	"github.com/harrison/opgate/internal/models"
	"github.com/harrison/opgate/internal/safety"
	"github.com/harrison/opgate/internal/snapshot"
	"github.com/harrison/opgate/internal/store"
)

// ExecContext carries the caller's decisions for one Execute call.
type ExecContext struct {
	// ApprovalRequired is the approval policy's verdict for the operation.
	ApprovalRequired bool
	// Command is the shell command for a PROCESS operation, when already known.
	Command string
}

// CommandGenerator produces the command for a PROCESS operation when the
// ExecContext carries none.
type CommandGenerator func(ctx context.Context, op *models.AtomicOperation) (string, error)

// Executor runs one operation at a time per call. It holds no per-call state.
type Executor struct {
	Store    *store.Store
	Capturer *snapshot.Capturer
	Backups  *backup.Manager
	Paths    snapshot.PathExtractor
	Checker  safety.Checker
	Runner   Runner
	Files    FileHandler
	DryRun   bool
	Logger   logger.Logger
	Now      func() time.Time
}

// NewExecutor wires an Executor from config: snapshots and backups on fs,
// PROCESS commands through a ProcessRunner, FILE actions through FSFileHandler.
func NewExecutor(st *store.Store, fs afero.Fs, cfg *config.Config, paths snapshot.PathExtractor, checker safety.Checker, log logger.Logger) *Executor {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if paths.FS == nil {
		paths.FS = fs
	}
	return &Executor{
		Store:    st,
		Capturer: snapshot.NewCapturer(fs),
		Backups:  backup.NewManager(fs, cfg.Executor.BackupDir, cfg.Executor.MaxBackupBytes, log),
		Paths:    paths,
		Checker:  checker,
		Runner:   NewProcessRunner(cfg.Executor.Shell, cfg.Executor.ProcessTimeout, cfg.Executor.MaxOutputBytes),
		Files:    FSFileHandler{FS: fs},
		DryRun:   cfg.DryRun,
		Logger:   log,
		Now:      time.Now,
	}
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Executor) log() logger.Logger {
	if e.Logger == nil {
		return logger.NewNoOpLogger()
	}
	return e.Logger
}

// checkPreconditions refuses operations that may not run. It has no side effects.
func checkPreconditions(op *models.AtomicOperation, ec ExecContext) error {
	if op == nil {
		return NewPreconditionError("", "no operation", nil)
	}
	if op.Classification == nil {
		return NewPreconditionError(op.ID, "cannot execute", ErrNotClassified)
	}
	if op.IsDecomposed {
		return NewPreconditionError(op.ID, "cannot execute", ErrDecomposed)
	}
	if ec.ApprovalRequired && !op.Approved {
		return NewPreconditionError(op.ID, "cannot execute", ErrApprovalRequired)
	}
	if !op.Status.CanTransition(models.StatusExecuting) {
		return NewPreconditionError(op.ID, fmt.Sprintf("cannot execute from status %s", op.Status), store.ErrInvalidTransition)
	}
	return nil
}

// Execute runs op and persists one execution record. Precondition failures
// are returned as a *PreconditionError with nothing changed. Every other
// failure, panics included, is captured in the record's result; the returned
// error is then only set when persisting the record failed. op is updated
// in place with the new status, snapshots, result and reversibility.
//
// In dry-run mode nothing is captured, backed up or executed, and the
// operation's status is left as it was.
func (e *Executor) Execute(ctx context.Context, op *models.AtomicOperation, ec ExecContext, gen CommandGenerator) (*models.ExecutionRecord, error) {
	if err := checkPreconditions(op, ec); err != nil {
		return nil, err
	}

	if e.DryRun {
		return e.dryRun(ctx, op)
	}

	if err := e.Store.UpdateStatus(ctx, nil, op.ID, models.StatusExecuting); err != nil {
		return nil, fmt.Errorf("mark %s executing: %w", op.ID, err)
	}
	op.Status = models.StatusExecuting
	e.log().Infof("executing %s (%s): %s", logger.ShortID(op.ID), op.Classification.Triple(), op.UserRequest)

	rec := &models.ExecutionRecord{OperationID: op.ID, StartedAt: e.now()}
	st := &execState{}
	e.run(ctx, op, ec, gen, rec, st)
	rec.FinishedAt = e.now()
	if rec.Result.DurationMs == 0 {
		rec.Result.DurationMs = rec.FinishedAt.Sub(rec.StartedAt).Milliseconds()
	}

	final := models.StatusFailed
	if rec.Result.Success {
		final = models.StatusComplete
	}
	// The outcome is persisted even when the caller was cancelled mid-run;
	// an operation never stays EXECUTING after Execute returns.
	pctx := context.WithoutCancel(ctx)
	err := e.Store.InTransaction(pctx, func(uow *store.UnitOfWork) error {
		if err := e.Store.UpdateStatus(pctx, uow, op.ID, final); err != nil {
			return err
		}
		_, err := e.Store.RecordExecution(pctx, uow, rec)
		return err
	})
	if err != nil {
		e.log().Errorf("persist execution of %s: %v", op.ID, err)
		if ferr := e.Store.UpdateStatus(pctx, nil, op.ID, models.StatusFailed); ferr != nil {
			e.log().Errorf("mark %s failed: %v", op.ID, ferr)
		} else {
			op.Status = models.StatusFailed
		}
		return rec, fmt.Errorf("persist execution of %s: %w", op.ID, err)
	}

	completed := rec.FinishedAt
	op.Status = final
	op.CompletedAt = &completed
	op.ExecutionResult = rec.Result
	op.StateBefore = rec.StateBefore
	op.StateAfter = rec.StateAfter
	op.Reversibility = rec.Reversibility

	if rec.Result.Success {
		e.log().Infof("op %s complete; undo: %s", logger.ShortID(op.ID), rec.Reversibility.Describe())
	} else {
		e.log().Warnf("op %s failed: %s", logger.ShortID(op.ID), strings.TrimSpace(rec.Result.Stderr))
	}
	return rec, nil
}

// execState is what run has gathered so far; it survives a panic.
type execState struct {
	paths   []string
	command string
	backups map[string]string
}

// run fills rec. It never panics: a panic becomes a failed result and the
// reversibility is still computed from whatever was captured.
func (e *Executor) run(ctx context.Context, op *models.AtomicOperation, ec ExecContext, gen CommandGenerator, rec *models.ExecutionRecord, st *execState) {
	defer func() {
		if r := recover(); r != nil {
			e.log().Errorf("panic executing %s: %v", op.ID, r)
			rec.Result = models.FailedResult(fmt.Sprintf("panic during execution: %v", r))
		}
		if rec.Result == nil {
			rec.Result = models.FailedResult("execution produced no result")
		}
		if rec.Reversibility == nil {
			rec.Reversibility = DetermineReversibility(ReversibilityInput{
				Destination: op.Classification.Destination,
				Request:     op.UserRequest,
				Command:     st.command,
				Backups:     st.backups,
				Before:      rec.StateBefore,
				After:       rec.StateAfter,
			})
		}
	}()

	st.paths = e.Paths.ExtractPaths(op.UserRequest)

	before, err := e.Capturer.Capture(ctx, st.paths, nil)
	if err != nil {
		rec.Warnings = append(rec.Warnings, "pre-execution snapshot failed: "+err.Error())
		before = models.NewStateSnapshot(e.now())
	}
	rec.StateBefore = before

	st.backups, rec.Warnings = e.backupExisting(before, rec.Warnings)

	result := e.dispatch(ctx, op, ec, gen, st)

	after, err := e.Capturer.Capture(ctx, st.paths, result.ProcessesSpawned)
	if err != nil {
		rec.Warnings = append(rec.Warnings, "post-execution snapshot failed: "+err.Error())
	} else {
		rec.StateAfter = after
		result.FilesAffected = models.ChangedPaths(before, after)
	}
	rec.Result = result
}

// backupExisting backs up every regular file captured as existing and
// records the backup path in the snapshot.
func (e *Executor) backupExisting(before *models.StateSnapshot, warnings []string) (map[string]string, []string) {
	var candidates []string
	for _, p := range before.Paths() {
		if fs := before.Files[p]; fs.Exists && !fs.IsDir {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 || e.Backups == nil {
		return nil, warnings
	}
	files, warns := e.Backups.BackupAll(candidates)
	for orig, bak := range files {
		state := before.Files[orig]
		state.BackupPath = bak
		before.Files[orig] = state
	}
	return files, append(warnings, warns...)
}

// dispatch performs the mutation for the operation's destination.
func (e *Executor) dispatch(ctx context.Context, op *models.AtomicOperation, ec ExecContext, gen CommandGenerator, st *execState) *models.ExecutionResult {
	start := time.Now()
	var result *models.ExecutionResult

	switch op.Classification.Destination {
	case models.DestinationProcess:
		result = e.runProcess(ctx, op, ec, gen, st)
	case models.DestinationFile:
		res, err := e.Files.HandleFile(ctx, op, st.paths)
		switch {
		case err != nil:
			result = models.FailedResult(err.Error())
		case res == nil:
			result = models.FailedResult("file handler returned no result")
		default:
			result = res
		}
	default:
		result = &models.ExecutionResult{Success: true, Message: "no mutation for STREAM operation"}
	}

	if result.DurationMs == 0 {
		result.DurationMs = time.Since(start).Milliseconds()
	}
	return result
}

func (e *Executor) runProcess(ctx context.Context, op *models.AtomicOperation, ec ExecContext, gen CommandGenerator, st *execState) *models.ExecutionResult {
	command := strings.TrimSpace(ec.Command)
	if command == "" && gen != nil {
		generated, err := gen(ctx, op)
		if err != nil {
			return models.FailedResult("generate command: " + err.Error())
		}
		command = strings.TrimSpace(generated)
	}
	if command == "" {
		return models.FailedResult("no command to execute")
	}
	st.command = command

	if e.Checker != nil {
		if ok, warning := e.Checker.IsCommandSafe(command); !ok {
			e.log().Warnf("refused to run %q: %s", command, warning)
			return models.FailedResult(warning)
		}
	}
	e.log().Debugf("running %q", command)
	result := e.Runner.Run(ctx, command)
	if result == nil {
		return models.FailedResult("runner returned no result")
	}
	return result
}

// dryRun records a successful no-op attempt without touching anything else.
func (e *Executor) dryRun(ctx context.Context, op *models.AtomicOperation) (*models.ExecutionRecord, error) {
	now := e.now()
	c := op.Classification
	rec := &models.ExecutionRecord{
		OperationID: op.ID,
		DryRun:      true,
		Result: &models.ExecutionResult{
			Success: true,
			Message: fmt.Sprintf("%s would %s %s operation: %s",
				models.DryRunPrefix, strings.ToLower(string(c.Semantics)), c.Destination, op.UserRequest),
		},
		Reversibility: models.NotReversible{Reason: "dry run made no changes"},
		StartedAt:     now,
		FinishedAt:    now,
	}
	rec.Result.Stdout = rec.Result.Message
	if _, err := e.Store.RecordExecution(ctx, nil, rec); err != nil {
		return rec, fmt.Errorf("record dry run of %s: %w", op.ID, err)
	}
	e.log().Infof("%s", rec.Result.Message)
	return rec, nil
}
