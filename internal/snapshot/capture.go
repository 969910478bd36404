// Package snapshot captures the filesystem, process and system state that
// brackets one execution.
package snapshot

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/harrison/opgate/internal/models"
)

// DefaultHashConcurrency bounds concurrent file hashing.
const DefaultHashConcurrency = 4

// Capturer takes StateSnapshots. File state is read through FS; process and
// system metrics are read best-effort from ProcFS rooted at ProcRoot.
type Capturer struct {
	FS          afero.Fs
	ProcFS      afero.Fs
	ProcRoot    string
	Concurrency int
	Now         func() time.Time
}

// NewCapturer returns a Capturer reading files from fs and metrics from the host /proc.
func NewCapturer(fs afero.Fs) *Capturer {
	return &Capturer{
		FS:          fs,
		ProcFS:      afero.NewOsFs(),
		ProcRoot:    "/proc",
		Concurrency: DefaultHashConcurrency,
		Now:         time.Now,
	}
}

// Capture records the state of every path and pid. Paths that fail
// ValidateTarget on FS are skipped. Missing paths are recorded with Exists=false.
// Per-file read errors are recorded as a missing hash, not returned.
func (c *Capturer) Capture(ctx context.Context, paths []string, pids []int) (*models.StateSnapshot, error) {
	snap := models.NewStateSnapshot(c.now())

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	limit := c.Concurrency
	if limit <= 0 {
		limit = DefaultHashConcurrency
	}
	g.SetLimit(limit)

	for _, p := range paths {
		if !ValidateTarget(c.FS, p) {
			continue
		}
		path := p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			state := c.fileState(path)
			mu.Lock()
			snap.Files[path] = state
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}

	for _, pid := range pids {
		snap.Processes = append(snap.Processes, c.processState(pid))
	}
	snap.System = c.systemMetrics()
	return snap, nil
}

func (c *Capturer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Capturer) fileState(path string) models.FileState {
	info, err := c.FS.Stat(path)
	if err != nil {
		return models.FileState{Exists: false}
	}
	state := models.FileState{
		Exists:  true,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}
	if !info.IsDir() {
		if hash, err := HashFile(c.FS, path); err == nil {
			state.Hash = hash
		}
	}
	return state
}

// HashFile returns the sha256 hex digest of the file at path.
func HashFile(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Capturer) processState(pid int) models.ProcessState {
	state := models.ProcessState{PID: pid}
	if c.ProcFS == nil {
		return state
	}
	dir := filepath.Join(c.ProcRoot, strconv.Itoa(pid))
	if _, err := c.ProcFS.Stat(dir); err != nil {
		return state
	}
	state.Running = true
	if data, err := afero.ReadFile(c.ProcFS, filepath.Join(dir, "cmdline")); err == nil {
		state.Cmdline = strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", " "))
	}
	return state
}

func (c *Capturer) systemMetrics() models.SystemMetrics {
	m := models.SystemMetrics{NumCPU: runtime.NumCPU()}
	if c.ProcFS == nil {
		return m
	}

	if data, err := afero.ReadFile(c.ProcFS, filepath.Join(c.ProcRoot, "loadavg")); err == nil {
		if fields := strings.Fields(string(data)); len(fields) > 0 {
			m.LoadAvg1, _ = strconv.ParseFloat(fields[0], 64)
		}
	}

	f, err := c.ProcFS.Open(filepath.Join(c.ProcRoot, "meminfo"))
	if err != nil {
		return m
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			m.MemTotalKB = kb
		case "MemAvailable:":
			m.MemAvailableKB = kb
		}
	}
	return m
}
