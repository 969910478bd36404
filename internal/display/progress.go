package display

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/fatih/color"
)

// ProgressIndicator prints one numbered line per request of a batch.
type ProgressIndicator struct {
	writer  io.Writer
	total   int
	current int
	color   bool
}

// NewProgressIndicator creates a progress indicator for total requests.
func NewProgressIndicator(w io.Writer, total int, useColor bool) *ProgressIndicator {
	return &ProgressIndicator{
		writer: w,
		total:  total,
		color:  useColor,
	}
}

func (p *ProgressIndicator) paint(attr color.Attribute, s string) string {
	if !p.color {
		return s
	}
	return color.New(attr).Sprint(s)
}

// Start prints the header naming the batch file.
func (p *ProgressIndicator) Start(path string) {
	noun := "requests"
	if p.total == 1 {
		noun = "request"
	}
	fmt.Fprintf(p.writer, "Running %d %s from %s\n", p.total, noun, filepath.Base(path))
}

// Step advances to the next request and prints [N/Total] title.
func (p *ProgressIndicator) Step(title string) {
	p.current++
	fmt.Fprintln(p.writer, p.paint(color.FgCyan, fmt.Sprintf("[%d/%d] %s", p.current, p.total, title)))
}

// Current returns how many steps have been shown.
func (p *ProgressIndicator) Current() int {
	return p.current
}

// Complete prints the closing summary line.
func (p *ProgressIndicator) Complete(summary string) {
	mark := p.paint(color.FgGreen, "✓")
	if p.current < p.total {
		mark = p.paint(color.FgYellow, "!")
		summary = fmt.Sprintf("%s (stopped after %d of %d)", summary, p.current, p.total)
	}
	fmt.Fprintf(p.writer, "\n%s %s\n", mark, summary)
}
