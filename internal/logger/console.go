package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/harrison/opgate/internal/models"
)

// ConsoleLogger logs to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] timestamps.
// Color output is automatically enabled for terminal output (os.Stdout/os.Stderr).
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
func isTerminal(w io.Writer) bool {
	if w == nil {
		return false
	}
	if w == os.Stdout || w == os.Stderr {
		// color.NoColor already folds in NO_COLOR and TTY detection
		return !color.NoColor
	}
	return false
}

// shouldLog checks if a message at the given level should be logged.
func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

func (cl *ConsoleLogger) Tracef(format string, args ...interface{}) {
	cl.logWithLevel("TRACE", fmt.Sprintf(format, args...))
}

func (cl *ConsoleLogger) Debugf(format string, args ...interface{}) {
	cl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

func (cl *ConsoleLogger) Infof(format string, args ...interface{}) {
	cl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

func (cl *ConsoleLogger) Warnf(format string, args ...interface{}) {
	cl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

func (cl *ConsoleLogger) Errorf(format string, args ...interface{}) {
	cl.logWithLevel("ERROR", fmt.Sprintf(format, args...))
}

// logWithLevel is a helper that logs a message at the specified level if filtering allows it.
func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil {
		return
	}
	if !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	if cl.colorOutput {
		fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, colorLevel(level), message)
		return
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, level, message)
}

// colorLevel wraps a level name in its ANSI color.
func colorLevel(level string) string {
	switch strings.ToUpper(level) {
	case "TRACE":
		return color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(level)
	case "INFO":
		return color.New(color.FgBlue).Sprint(level)
	case "WARN":
		return color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		return color.New(color.FgRed).Sprint(level)
	default:
		return level
	}
}

// LogOperation logs one line summarizing an operation's current state at INFO level.
// Format: "[HH:MM:SS] op <short-id> <STATUS> <DEST/CONSUMER/SEMANTICS> \"request\""
func (cl *ConsoleLogger) LogOperation(op *models.AtomicOperation) {
	if cl.writer == nil || op == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	status := string(op.Status)
	if cl.colorOutput {
		status = statusColor(op.Status).Sprint(status)
	}
	fmt.Fprintf(cl.writer, "[%s] op %s %s %s %q\n",
		timestamp(), ShortID(op.ID), status, op.Classification.Triple(), op.UserRequest)
}

// LogVerification logs each executed layer and the overall verdict at INFO level.
func (cl *ConsoleLogger) LogVerification(opID string, result *models.PipelineResult) {
	if cl.writer == nil || result == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	for _, layer := range result.Layers {
		mark := "pass"
		if !layer.Passed {
			mark = "FAIL"
		}
		if cl.colorOutput {
			if layer.Passed {
				mark = color.New(color.FgGreen).Sprint(mark)
			} else {
				mark = color.New(color.FgRed).Sprint(mark)
			}
		}
		fmt.Fprintf(cl.writer, "[%s]   %-10s %s (%s)\n", ts, layer.Layer, mark, formatDuration(layer.Duration))
		for _, issue := range layer.Issues {
			fmt.Fprintf(cl.writer, "[%s]     issue: %s\n", ts, issue)
		}
	}
	for _, w := range result.Warnings {
		msg := "warning: " + w
		if cl.colorOutput {
			msg = color.New(color.FgYellow).Sprint(msg)
		}
		fmt.Fprintf(cl.writer, "[%s]   %s\n", ts, msg)
	}
	fmt.Fprintf(cl.writer, "[%s] op %s %s\n", ts, ShortID(opID), result.Message())
}

// statusColor picks the display color for an operation status.
func statusColor(s models.Status) *color.Color {
	switch s {
	case models.StatusComplete:
		return color.New(color.FgGreen)
	case models.StatusFailed, models.StatusCancelled:
		return color.New(color.FgRed)
	case models.StatusAwaitingApproval:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

// ShortID truncates an operation id for display.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
