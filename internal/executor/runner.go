package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/harrison/opgate/internal/models"
)

// Runner abstracts shell command execution for testability.
type Runner interface {
	Run(ctx context.Context, command string) *models.ExecutionResult
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, command string) *models.ExecutionResult

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, command string) *models.ExecutionResult {
	return f(ctx, command)
}

// waitDelay bounds how long Wait keeps draining output after a kill.
const waitDelay = 2 * time.Second

// ProcessRunner spawns commands through a shell in their own process group,
// with a wall-clock timeout and size-capped output.
type ProcessRunner struct {
	Shell     string        // Shell binary, invoked as "<shell> -c <command>"
	Timeout   time.Duration // Wall-clock limit; the group is killed when exceeded
	MaxOutput int64         // Per-stream capture limit in bytes
	WorkDir   string        // Working directory (empty = current dir)
}

// NewProcessRunner creates a ProcessRunner.
func NewProcessRunner(shell string, timeout time.Duration, maxOutput int64) *ProcessRunner {
	return &ProcessRunner{Shell: shell, Timeout: timeout, MaxOutput: maxOutput}
}

// Run executes command and never returns nil. A non-zero exit, a start
// failure or a timeout produce Success=false.
func (r *ProcessRunner) Run(ctx context.Context, command string) *models.ExecutionResult {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, shell, "-c", command)
	cmd.Dir = r.WorkDir
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: r.MaxOutput}
	stderr := &limitedWriter{w: &stderrBuf, max: r.MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()

	result := &models.ExecutionResult{
		Stdout:     stdoutBuf.String(),
		Stderr:     stderrBuf.String(),
		Truncated:  stdout.truncated || stderr.truncated,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if cmd.Process != nil {
		result.ProcessesSpawned = []int{cmd.Process.Pid}
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Success = true
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.ExitCode = -1
		result.TimedOut = true
		result.Stderr = appendLine(result.Stderr, fmt.Sprintf("command killed: timeout after %s", r.Timeout))
	case ctx.Err() != nil:
		result.ExitCode = -1
		result.Stderr = appendLine(result.Stderr, "command killed: "+ctx.Err().Error())
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
		result.Stderr = appendLine(result.Stderr, err.Error())
	}
	return result
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	if s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s + line
}

// limitedWriter is an io.Writer that limits total bytes written.
// Writes past the limit are discarded but reported as written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.max <= 0 {
		return lw.w.Write(p)
	}
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
