package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ReversibilityMethod names how an execution can be undone.
type ReversibilityMethod string

const (
	MethodRestoreBackup  ReversibilityMethod = "restore_backup"
	MethodDeleteCreated  ReversibilityMethod = "delete_created"
	MethodInverseCommand ReversibilityMethod = "inverse_command"
	MethodNone           ReversibilityMethod = "none"
)

// Reversibility is the undo plan computed once after an execution.
// It is a closed union: RestoreBackup, DeleteCreated, InverseCommand or NotReversible.
type Reversibility interface {
	Method() ReversibilityMethod
	Reversible() bool
	Describe() string
	sealed()
}

// RestoreBackup restores original files from their backups.
type RestoreBackup struct {
	Files map[string]string `json:"files"` // original path -> backup path
}

// DeleteCreated removes paths the execution created.
type DeleteCreated struct {
	Paths    []string `json:"paths"`
	Commands []string `json:"commands"` // one delete command per created path
}

// InverseCommand runs the registered inverse of the executed command.
type InverseCommand struct {
	Commands []string `json:"commands"`
}

// NotReversible records why no undo method exists.
type NotReversible struct {
	Reason string `json:"reason"`
}

func (RestoreBackup) Method() ReversibilityMethod  { return MethodRestoreBackup }
func (DeleteCreated) Method() ReversibilityMethod  { return MethodDeleteCreated }
func (InverseCommand) Method() ReversibilityMethod { return MethodInverseCommand }
func (NotReversible) Method() ReversibilityMethod  { return MethodNone }

func (RestoreBackup) Reversible() bool  { return true }
func (DeleteCreated) Reversible() bool  { return true }
func (InverseCommand) Reversible() bool { return true }
func (NotReversible) Reversible() bool  { return false }

func (RestoreBackup) sealed()  {}
func (DeleteCreated) sealed()  {}
func (InverseCommand) sealed() {}
func (NotReversible) sealed()  {}

// Describe implements Reversibility.
func (r RestoreBackup) Describe() string {
	return fmt.Sprintf("restore %d file(s) from backup", len(r.Files))
}

// Describe implements Reversibility.
func (r DeleteCreated) Describe() string {
	return fmt.Sprintf("delete %d created path(s)", len(r.Paths))
}

// Describe implements Reversibility.
func (r InverseCommand) Describe() string {
	return fmt.Sprintf("run %d inverse command(s)", len(r.Commands))
}

// Describe implements Reversibility.
func (r NotReversible) Describe() string {
	return r.Reason
}

// OriginalPaths returns the backed-up original paths in sorted order.
func (r RestoreBackup) OriginalPaths() []string {
	paths := make([]string, 0, len(r.Files))
	for p := range r.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// UndoCommands returns the commands that would be run for an undo, if any.
func UndoCommands(r Reversibility) []string {
	switch v := r.(type) {
	case DeleteCreated:
		return v.Commands
	case InverseCommand:
		return v.Commands
	}
	return nil
}

// BackupFiles returns the backup map of a RestoreBackup, or nil.
func BackupFiles(r Reversibility) map[string]string {
	if v, ok := r.(RestoreBackup); ok {
		return v.Files
	}
	return nil
}

// MarshalReversibility encodes r as its method and a JSON payload.
func MarshalReversibility(r Reversibility) (ReversibilityMethod, string, error) {
	if r == nil {
		return "", "", nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", "", fmt.Errorf("marshal reversibility: %w", err)
	}
	return r.Method(), string(data), nil
}

// UnmarshalReversibility decodes a method + payload pair produced by MarshalReversibility.
// An empty method yields nil (not yet determined).
func UnmarshalReversibility(method ReversibilityMethod, payload string) (Reversibility, error) {
	if method == "" {
		return nil, nil
	}
	if payload == "" {
		payload = "{}"
	}
	switch method {
	case MethodRestoreBackup:
		var v RestoreBackup
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		return v, nil
	case MethodDeleteCreated:
		var v DeleteCreated
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		return v, nil
	case MethodInverseCommand:
		var v InverseCommand
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		return v, nil
	case MethodNone:
		var v NotReversible
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown reversibility method %q", method)
	}
}
