package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harrison/opgate/internal/models"
)

// TestNewConsoleLogger verifies the constructor normalizes levels and tolerates nil writers.
func TestNewConsoleLogger(t *testing.T) {
	t.Run("with valid writer", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewConsoleLogger(buf, "DEBUG")

		if logger.writer != buf {
			t.Error("writer not set correctly")
		}
		if logger.logLevel != "debug" {
			t.Errorf("expected log level %q, got %q", "debug", logger.logLevel)
		}
		if logger.colorOutput {
			t.Error("color output should be disabled for a buffer")
		}
	})

	t.Run("with nil writer", func(t *testing.T) {
		logger := NewConsoleLogger(nil, "bogus")
		if logger.logLevel != "info" {
			t.Errorf("invalid level should default to info, got %q", logger.logLevel)
		}
		logger.Infof("discarded %d", 1)
	})
}

func TestConsoleLoggerLevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"trace", true, true, true},
		{"debug", true, true, true},
		{"info", false, true, true},
		{"warn", false, false, true},
		{"error", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			l := NewConsoleLogger(buf, tt.level)
			l.Debugf("debug-msg")
			l.Infof("info-msg")
			l.Warnf("warn-msg")
			l.Errorf("error-msg")

			out := buf.String()
			if got := strings.Contains(out, "debug-msg"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v", got, tt.wantDebug)
			}
			if got := strings.Contains(out, "info-msg"); got != tt.wantInfo {
				t.Errorf("info logged = %v, want %v", got, tt.wantInfo)
			}
			if got := strings.Contains(out, "warn-msg"); got != tt.wantWarn {
				t.Errorf("warn logged = %v, want %v", got, tt.wantWarn)
			}
			if !strings.Contains(out, "[ERROR] error-msg") {
				t.Errorf("error should always be logged, got %q", out)
			}
		})
	}
}

func TestConsoleLoggerLogOperation(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewConsoleLogger(buf, "info")

	op := &models.AtomicOperation{
		ID:          "0123456789abcdef",
		UserRequest: "show me my calendar",
		Status:      models.StatusComplete,
		Classification: &models.Classification{
			Destination: models.DestinationStream,
			Consumer:    models.ConsumerHuman,
			Semantics:   models.SemanticsRead,
		},
	}
	l.LogOperation(op)

	out := buf.String()
	for _, want := range []string{"op 01234567", "COMPLETE", "STREAM/HUMAN/READ", `"show me my calendar"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestConsoleLoggerLogVerification(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewConsoleLogger(buf, "info")

	l.LogVerification("abcdefghij", &models.PipelineResult{
		Passed:        false,
		BlockingLayer: models.LayerSafety,
		Layers: []models.LayerResult{
			{Layer: models.LayerSyntax, Passed: true, Duration: time.Millisecond},
			{Layer: models.LayerSafety, Passed: false, Issues: []string{"fork bomb"}},
		},
		Warnings: []string{"request mentions delete"},
	})

	out := buf.String()
	for _, want := range []string{"syntax", "pass", "FAIL", "issue: fork bomb", "warning: request mentions delete", "failed at safety layer"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFileLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	fl, err := NewFileLogger(dir, "info")
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	fl.Debugf("hidden")
	fl.Infof("visible %s", "line")
	fl.LogExecution(
		&models.AtomicOperation{ID: "op-1", UserRequest: "restart networking service"},
		&models.ExecutionRecord{
			Attempt:       1,
			Result:        &models.ExecutionResult{Success: false, ExitCode: 1, Stderr: "boom\n"},
			Reversibility: models.NotReversible{Reason: "No undo method available"},
		},
	)
	if err := fl.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(fl.RunFile())
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "hidden") {
		t.Error("debug message should be filtered at info level")
	}
	for _, want := range []string{"visible line", "execution op=op-1", "stderr: boom", "reversibility: none (No undo method available)"} {
		if !strings.Contains(content, want) {
			t.Errorf("run log missing %q", want)
		}
	}

	target, err := os.Readlink(filepath.Join(dir, "latest.log"))
	if err != nil {
		t.Fatalf("latest.log symlink: %v", err)
	}
	if target != filepath.Base(fl.RunFile()) {
		t.Errorf("latest.log -> %q, want %q", target, filepath.Base(fl.RunFile()))
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		450 * time.Millisecond:        "450ms",
		12 * time.Second:              "12s",
		3*time.Minute + 4*time.Second: "3m4s",
		2 * time.Minute:               "2m",
		time.Hour + 2*time.Minute:     "1h2m",
		5 * time.Hour:                 "5h",
	}
	for d, want := range tests {
		if got := formatDuration(d); got != want {
			t.Errorf("formatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestMultiLogger(t *testing.T) {
	a, b := &bytes.Buffer{}, &bytes.Buffer{}
	m := NewMultiLogger(NewConsoleLogger(a, "info"), nil, NewConsoleLogger(b, "warn"))

	m.Infof("hello")
	m.Warnf("careful")

	if !strings.Contains(a.String(), "hello") || !strings.Contains(a.String(), "careful") {
		t.Errorf("first logger output = %q", a.String())
	}
	if strings.Contains(b.String(), "hello") || !strings.Contains(b.String(), "careful") {
		t.Errorf("second logger output = %q", b.String())
	}
}
