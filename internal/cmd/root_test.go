package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	if cmd == nil {
		t.Fatal("Root command should not be nil")
	}

	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Logf("Help command returned error (this is ok): %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "opgate") {
		t.Errorf("Help text should contain 'opgate', got: %s", output)
	}
	if !strings.Contains(output, "approval") {
		t.Errorf("Help text should mention approval, got: %s", output)
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	if cmd.Use != "opgate" {
		t.Errorf("Expected Use to be 'opgate', got '%s'", cmd.Use)
	}

	want := []string{"submit", "clarify", "run", "approve", "reject", "undo", "correct", "show", "list", "history"}
	have := map[string]bool{}
	for _, c := range cmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestVersionFlag(t *testing.T) {
	cmd := NewRootCommand()

	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--version"})

	if err := cmd.Execute(); err != nil {
		t.Logf("Version flag returned error (this is ok): %v", err)
	}

	if !strings.Contains(buf.String(), "version") {
		t.Errorf("Version output should contain 'version', got: %s", buf.String())
	}
}
