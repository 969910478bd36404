package display

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDisplayWarning_TitleOnly(t *testing.T) {
	var buf bytes.Buffer
	Warning{Title: "Batch incomplete"}.Display(&buf, false)

	if got := buf.String(); got != "Warning: Batch incomplete\n" {
		t.Errorf("Display() = %q", got)
	}
}

func TestDisplayWarning_Complete(t *testing.T) {
	var buf bytes.Buffer
	w := Warning{
		Title:      "2 requests did not finish",
		Message:    "the remaining requests were submitted",
		Items:      []string{"request 2: boom", "request 4: bang"},
		Suggestion: "opgate list --status failed",
	}
	w.Display(&buf, false)

	want := []string{
		"Warning: 2 requests did not finish\n",
		"    the remaining requests were submitted\n",
		"      1. request 2: boom\n",
		"      2. request 4: bang\n",
		"    Suggestion: opgate list --status failed\n",
	}
	out := buf.String()
	for _, line := range want {
		if !strings.Contains(out, line) {
			t.Errorf("output missing %q:\n%s", line, out)
		}
	}
	if strings.Index(out, "1. request 2") > strings.Index(out, "2. request 4") {
		t.Error("items out of order")
	}
}

func TestDisplayWarning_ColorKeepsText(t *testing.T) {
	var buf bytes.Buffer
	Warning{Title: "careful"}.Display(&buf, true)
	if !strings.Contains(buf.String(), "Warning: careful") {
		t.Errorf("colored warning lost its text: %q", buf.String())
	}
}

func TestWarnErrors(t *testing.T) {
	w := WarnErrors("failures", []error{errors.New("a"), errors.New("b")})
	if w.Title != "failures" {
		t.Errorf("Title = %q", w.Title)
	}
	if len(w.Items) != 2 || w.Items[0] != "a" || w.Items[1] != "b" {
		t.Errorf("Items = %v", w.Items)
	}
}
