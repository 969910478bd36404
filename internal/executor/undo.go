package executor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/harrison/opgate/internal/backup"
	"github.com/harrison/opgate/internal/logger"
	"github.com/harrison/opgate/internal/models"
	"github.com/harrison/opgate/internal/safety"
)

// UndoStep is the outcome for one path or command of an undo.
type UndoStep struct {
	Target  string `json:"target"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// UndoReport describes an undo attempt. Partial successes are reported,
// never rolled back.
type UndoReport struct {
	OperationID string                     `json:"operation_id"`
	Method      models.ReversibilityMethod `json:"method"`
	Attempted   bool                       `json:"attempted"`
	Success     bool                       `json:"success"`
	Message     string                     `json:"message"`
	Steps       []UndoStep                 `json:"steps,omitempty"`
}

// Failed returns the steps that did not succeed.
func (r *UndoReport) Failed() []UndoStep {
	var out []UndoStep
	for _, s := range r.Steps {
		if !s.Success {
			out = append(out, s)
		}
	}
	return out
}

// Undoer performs the undo plan recorded for an execution. It never changes
// the operation's status.
type Undoer struct {
	FS      afero.Fs
	Backups *backup.Manager
	Checker safety.Checker
	Runner  Runner
	Logger  logger.Logger
}

// NewUndoer shares the executor's filesystem, backups, checker and runner.
func NewUndoer(e *Executor, fs afero.Fs) *Undoer {
	return &Undoer{
		FS:      fs,
		Backups: e.Backups,
		Checker: e.Checker,
		Runner:  e.Runner,
		Logger:  e.Logger,
	}
}

func (u *Undoer) log() logger.Logger {
	if u.Logger == nil {
		return logger.NewNoOpLogger()
	}
	return u.Logger
}

// Undo reverses op according to its stored reversibility. A non-reversible
// operation is a no-op reported as a failure.
func (u *Undoer) Undo(ctx context.Context, op *models.AtomicOperation) *UndoReport {
	report := &UndoReport{OperationID: op.ID, Method: models.MethodNone}

	rev := op.Reversibility
	if rev == nil {
		report.Message = "operation has no recorded execution to undo"
		return report
	}
	report.Method = rev.Method()

	switch r := rev.(type) {
	case models.RestoreBackup:
		report.Attempted = true
		for _, orig := range r.OriginalPaths() {
			report.Steps = append(report.Steps, u.restore(orig, r.Files[orig]))
		}
	case models.DeleteCreated:
		report.Attempted = true
		for _, p := range r.Paths {
			report.Steps = append(report.Steps, u.deletePath(p))
		}
	case models.InverseCommand:
		report.Attempted = true
		for _, cmd := range r.Commands {
			report.Steps = append(report.Steps, u.runInverse(ctx, cmd))
		}
	case models.NotReversible:
		report.Message = "operation is not reversible: " + r.Reason
		return report
	default:
		report.Message = fmt.Sprintf("unsupported reversibility %T", rev)
		return report
	}

	failed := len(report.Failed())
	report.Success = failed == 0 && len(report.Steps) > 0
	switch {
	case len(report.Steps) == 0:
		report.Message = "nothing to undo"
	case failed == 0:
		report.Message = fmt.Sprintf("undo succeeded: %s", rev.Describe())
	default:
		report.Message = fmt.Sprintf("undo partially failed: %d of %d step(s) failed", failed, len(report.Steps))
	}
	u.log().Infof("undo %s (%s): %s", logger.ShortID(op.ID), report.Method, report.Message)
	return report
}

func (u *Undoer) restore(original, bak string) UndoStep {
	step := UndoStep{Target: original}
	if u.Backups == nil {
		step.Error = "no backup manager configured"
		return step
	}
	if err := u.Backups.Restore(original, bak); err != nil {
		step.Error = err.Error()
		return step
	}
	step.Success = true
	return step
}

func (u *Undoer) deletePath(path string) UndoStep {
	step := UndoStep{Target: path}
	info, err := u.FS.Stat(path)
	if os.IsNotExist(err) {
		step.Success = true
		return step
	}
	if err != nil {
		step.Error = err.Error()
		return step
	}
	if info.IsDir() {
		err = u.FS.RemoveAll(path)
	} else {
		err = u.FS.Remove(path)
	}
	if err != nil {
		step.Error = err.Error()
		return step
	}
	step.Success = true
	return step
}

func (u *Undoer) runInverse(ctx context.Context, command string) UndoStep {
	step := UndoStep{Target: command}
	if u.Checker != nil {
		if ok, warning := u.Checker.IsCommandSafe(command); !ok {
			step.Error = warning
			return step
		}
	}
	if u.Runner == nil {
		step.Error = "no command runner configured"
		return step
	}
	res := u.Runner.Run(ctx, command)
	if res == nil {
		step.Error = "runner returned no result"
		return step
	}
	if !res.Success {
		step.Error = strings.TrimSpace(res.Stderr)
		if step.Error == "" {
			step.Error = fmt.Sprintf("exit code %d", res.ExitCode)
		}
		return step
	}
	step.Success = true
	return step
}
