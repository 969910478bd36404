package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/harrison/opgate/internal/executor"
	"github.com/harrison/opgate/internal/feedback"
	"github.com/harrison/opgate/internal/logger"
	"github.com/harrison/opgate/internal/models"
	"github.com/harrison/opgate/internal/pipeline"
	"github.com/harrison/opgate/internal/store"
)

// printer formats CLI output, coloring it only on a terminal.
type printer struct {
	w     io.Writer
	color bool
}

func (a *app) printer() *printer {
	return &printer{w: a.out, color: a.color}
}

func (p *printer) paint(c *color.Color, s string) string {
	if !p.color {
		return s
	}
	return c.Sprint(s)
}

func (p *printer) status(s models.Status) string {
	var c *color.Color
	switch s {
	case models.StatusComplete:
		c = color.New(color.FgGreen)
	case models.StatusFailed, models.StatusCancelled:
		c = color.New(color.FgRed)
	case models.StatusAwaitingApproval:
		c = color.New(color.FgYellow)
	default:
		c = color.New(color.FgCyan)
	}
	return p.paint(c, string(s))
}

func (p *printer) printf(format string, args ...interface{}) {
	fmt.Fprintf(p.w, format, args...)
}

// operationLine prints the one-line summary used by submit and list.
func (p *printer) operationLine(op *models.AtomicOperation) {
	triple := op.Classification.Triple()
	if op.IsDecomposed {
		triple = fmt.Sprintf("decomposed into %d", len(op.ChildIDs))
	}
	p.printf("%s  %-22s %-24s %q\n", logger.ShortID(op.ID), p.status(op.Status), triple, op.UserRequest)
}

func (p *printer) submitResult(res *pipeline.SubmitResult) {
	if res.Clarification != nil {
		p.clarification(res.Clarification)
		return
	}
	if res.Parent != nil {
		p.operationLine(res.Parent)
	}
	for _, oc := range res.Outcomes {
		indent := ""
		if res.Parent != nil {
			indent = "  "
		}
		p.printf("%s", indent)
		p.operationLine(oc.Operation)
		p.outcomeDetail(indent+"    ", oc)
	}
}

func (p *printer) outcomeDetail(indent string, oc *pipeline.Outcome) {
	if oc.Mode != "" {
		p.printf("%smode: %s\n", indent, oc.Mode)
	}
	if v := oc.Verification; v != nil {
		p.printf("%sverification (%s): %s\n", indent, v.Mode, v.Message())
		for _, w := range v.Warnings {
			p.printf("%s  %s\n", indent, p.paint(color.New(color.FgYellow), "warning: "+w))
		}
	}
	if oc.Decision.Reason != "" {
		p.printf("%sdecision: %s\n", indent, oc.Decision.Reason)
	}
	if oc.AwaitingApproval() {
		p.printf("%snext: opgate approve %s  |  opgate reject %s\n", indent,
			logger.ShortID(oc.Operation.ID), logger.ShortID(oc.Operation.ID))
	}
	if oc.Execution != nil {
		p.execution(indent, oc.Execution)
	}
}

func (p *printer) execution(indent string, rec *models.ExecutionRecord) {
	r := rec.Result
	if r == nil {
		return
	}
	verdict := p.paint(color.New(color.FgGreen), "success")
	if !r.Success {
		verdict = p.paint(color.New(color.FgRed), "failed")
	}
	p.printf("%sresult: %s exit=%d %dms\n", indent, verdict, r.ExitCode, r.DurationMs)
	if r.Message != "" {
		p.printf("%s  %s\n", indent, r.Message)
	}
	if out := strings.TrimSpace(r.Stdout); out != "" && out != r.Message {
		for _, line := range strings.Split(out, "\n") {
			p.printf("%s  | %s\n", indent, line)
		}
	}
	if errOut := strings.TrimSpace(r.Stderr); errOut != "" {
		for _, line := range strings.Split(errOut, "\n") {
			p.printf("%s  ! %s\n", indent, line)
		}
	}
	if r.Truncated {
		p.printf("%s  (output truncated)\n", indent)
	}
	if len(r.FilesAffected) > 0 {
		p.printf("%s  files: %s\n", indent, strings.Join(r.FilesAffected, ", "))
	}
	if rec.Reversibility != nil {
		p.printf("%sundo: %s\n", indent, rec.Reversibility.Describe())
	}
	for _, w := range rec.Warnings {
		p.printf("%s  %s\n", indent, p.paint(color.New(color.FgYellow), "warning: "+w))
	}
}

func (p *printer) clarification(c *models.Clarification) {
	p.printf("%s %s\n", p.paint(color.New(color.FgYellow), "?"), c.Prompt)
	for _, o := range c.Options {
		p.printf("  - %s\n", o)
	}
	p.printf("answer with: opgate clarify <answer>\n")
}

func (p *printer) undoReports(reports []*executor.UndoReport) {
	for _, r := range reports {
		verdict := p.paint(color.New(color.FgGreen), "undone")
		switch {
		case !r.Attempted:
			verdict = p.paint(color.New(color.FgYellow), "skipped")
		case !r.Success:
			verdict = p.paint(color.New(color.FgRed), "failed")
		}
		p.printf("%s  %s  %s: %s\n", logger.ShortID(r.OperationID), verdict, r.Method, r.Message)
		for _, s := range r.Steps {
			mark := "ok"
			if !s.Success {
				mark = "error: " + s.Error
			}
			p.printf("    %s  %s\n", s.Target, mark)
		}
	}
}

func (p *printer) operationDetail(op *models.AtomicOperation, layers []models.LayerResult, fb []*models.Feedback) {
	p.printf("id:        %s\n", op.ID)
	p.printf("request:   %s\n", op.UserRequest)
	p.printf("user:      %s (via %s)\n", op.UserID, op.SourceAgent)
	p.printf("status:    %s\n", p.status(op.Status))
	p.printf("created:   %s\n", op.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if op.CompletedAt != nil {
		p.printf("completed: %s\n", op.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if op.ParentID != "" {
		p.printf("parent:    %s\n", op.ParentID)
	}
	if c := op.Classification; c != nil {
		p.printf("class:     %s  confidence %.2f  %s/%s\n", c.Triple(), c.Confidence, c.Domain, c.ActionHint)
		if c.Reasoning != "" {
			p.printf("reasoning: %s\n", c.Reasoning)
		}
		for _, alt := range c.Alternatives {
			p.printf("  alt:     %s/%s/%s  %s\n", alt.Destination, alt.Consumer, alt.Semantics, alt.Reason)
		}
	}
	if op.ApprovalRequired {
		p.printf("approval:  required, approved=%v\n", op.Approved)
	}
	for _, id := range op.ChildIDs {
		p.printf("child:     %s\n", id)
	}
	if len(layers) > 0 {
		p.printf("verification:\n")
		for _, l := range layers {
			mark := p.paint(color.New(color.FgGreen), "pass")
			if !l.Passed {
				mark = p.paint(color.New(color.FgRed), "FAIL")
			}
			p.printf("  %-10s %s  %.2f\n", l.Layer, mark, l.Confidence)
			for _, i := range l.Issues {
				p.printf("    issue: %s\n", i)
			}
			for _, w := range l.Warnings {
				p.printf("    warning: %s\n", w)
			}
		}
	}
	if r := op.ExecutionResult; r != nil {
		p.execution("", &models.ExecutionRecord{Result: r, Reversibility: op.Reversibility})
	}
	if len(fb) > 0 {
		p.printf("feedback:\n")
		for _, f := range fb {
			p.printf("  %s  %s\n", f.CreatedAt.Local().Format("15:04:05"), feedbackSummary(f))
		}
	}
}

func feedbackSummary(f *models.Feedback) string {
	parts := []string{string(f.Type)}
	if f.Approved != nil {
		parts = append(parts, fmt.Sprintf("approved=%v", *f.Approved))
	}
	if f.Modified != "" {
		parts = append(parts, "modified="+f.Modified)
	}
	for _, k := range feedback.FieldNames(f.CorrectedFields) {
		parts = append(parts, k+"="+f.CorrectedFields[k])
	}
	if f.Reasoning != "" {
		parts = append(parts, f.Reasoning)
	}
	return strings.Join(parts, " ")
}

func (p *printer) history(execs []*models.ExecutionRecord, classes []store.ClassificationLogEntry) {
	p.printf("classifications:\n")
	for _, e := range classes {
		tag := ""
		if e.Corrected {
			tag = " (corrected)"
		}
		p.printf("  %s  %s %.2f %s/%s%s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Classification.Triple(), e.Classification.Confidence, e.Classification.Domain, e.Classification.ActionHint, tag)
	}
	p.printf("executions:\n")
	if len(execs) == 0 {
		p.printf("  none\n")
	}
	for _, rec := range execs {
		kind := ""
		if rec.DryRun {
			kind = " dry-run"
		}
		p.printf("  attempt %d%s  %s\n", rec.Attempt, kind, rec.StartedAt.Local().Format("2006-01-02 15:04:05"))
		p.execution("    ", rec)
	}
}
