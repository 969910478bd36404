package models

import (
	"sort"
	"time"
)

// FileState is the captured state of one candidate path.
type FileState struct {
	Exists     bool      `json:"exists"`
	Hash       string    `json:"hash,omitempty"` // sha256 hex, empty for directories and missing paths
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mtime"`
	IsDir      bool      `json:"is_dir,omitempty"`
	BackupPath string    `json:"backup_path,omitempty"`
}

// ProcessState is the captured state of one process.
type ProcessState struct {
	PID     int    `json:"pid"`
	Cmdline string `json:"cmdline"`
	Running bool   `json:"running"`
}

// SystemMetrics holds best-effort host metrics. Zero values mean unavailable.
type SystemMetrics struct {
	LoadAvg1       float64 `json:"load_avg_1"`
	MemTotalKB     int64   `json:"mem_total_kb"`
	MemAvailableKB int64   `json:"mem_available_kb"`
	NumCPU         int     `json:"num_cpu"`
}

// StateSnapshot is a point-in-time capture of filesystem, process and system state.
// Two snapshots bracket one execution.
type StateSnapshot struct {
	Timestamp time.Time            `json:"timestamp"`
	Files     map[string]FileState `json:"files"`
	Processes []ProcessState       `json:"processes,omitempty"`
	System    SystemMetrics        `json:"system"`
}

// NewStateSnapshot returns an empty snapshot stamped with t.
func NewStateSnapshot(t time.Time) *StateSnapshot {
	return &StateSnapshot{
		Timestamp: t,
		Files:     make(map[string]FileState),
	}
}

// Paths returns the captured file paths in sorted order.
func (s *StateSnapshot) Paths() []string {
	if s == nil {
		return nil
	}
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Exists reports whether path was captured as existing.
func (s *StateSnapshot) Exists(path string) bool {
	if s == nil {
		return false
	}
	return s.Files[path].Exists
}

// CreatedPaths returns the paths that exist in after but did not exist in before, sorted.
func CreatedPaths(before, after *StateSnapshot) []string {
	var created []string
	for _, p := range after.Paths() {
		if after.Exists(p) && !before.Exists(p) {
			created = append(created, p)
		}
	}
	return created
}

// ChangedPaths returns paths whose existence, hash or size differ between snapshots, sorted.
func ChangedPaths(before, after *StateSnapshot) []string {
	seen := make(map[string]struct{})
	var changed []string
	consider := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		var b, a FileState
		if before != nil {
			b = before.Files[p]
		}
		if after != nil {
			a = after.Files[p]
		}
		if b.Exists != a.Exists || b.Hash != a.Hash || b.Size != a.Size {
			changed = append(changed, p)
		}
	}
	for _, p := range before.Paths() {
		consider(p)
	}
	for _, p := range after.Paths() {
		consider(p)
	}
	sort.Strings(changed)
	return changed
}
