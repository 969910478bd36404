// Package backup makes size-bounded copies of files before an execution
// touches them and restores them on undo.
package backup

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"

	"github.com/harrison/opgate/internal/logger"
)

var (
	// ErrTooLarge is returned when a file exceeds the configured backup limit.
	ErrTooLarge = errors.New("file exceeds backup size limit")
	// ErrNotRegular is returned for directories and other non-regular files.
	ErrNotRegular = errors.New("not a regular file")
)

// Manager writes backups into a single directory shared by all operations.
// Backup names carry a ULID so concurrent operations never collide.
type Manager struct {
	fs       afero.Fs
	dir      string
	maxBytes int64
	log      logger.Logger

	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewManager creates a Manager. maxBytes <= 0 disables the size limit.
// A nil logger discards messages.
func NewManager(fs afero.Fs, dir string, maxBytes int64, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Manager{
		fs:       fs,
		dir:      dir,
		maxBytes: maxBytes,
		log:      log,
		entropy:  ulid.Monotonic(rand.Reader, 0),
		now:      time.Now,
	}
}

// Dir returns the backup directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Name returns a fresh backup file name for path: <base>.<ULID>.bak
func (m *Manager) Name(path string) string {
	m.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(m.now()), m.entropy)
	m.mu.Unlock()
	return fmt.Sprintf("%s.%s.bak", filepath.Base(path), id.String())
}

// Backup copies path into the backup directory and returns the backup path.
func (m *Manager) Backup(path string) (string, error) {
	info, err := m.fs.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s: %w", path, ErrNotRegular)
	}
	if m.maxBytes > 0 && info.Size() > m.maxBytes {
		return "", fmt.Errorf("%s is %d bytes, limit %d: %w", path, info.Size(), m.maxBytes, ErrTooLarge)
	}

	if err := m.fs.MkdirAll(m.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory %s: %w", m.dir, err)
	}

	dest := filepath.Join(m.dir, m.Name(path))
	if err := copyFile(m.fs, path, dest, info.Mode().Perm()); err != nil {
		return "", err
	}
	return dest, nil
}

// BackupAll backs up every existing path, best effort. Failures are logged
// and returned as warnings; the returned map holds original -> backup for
// the successes only.
func (m *Manager) BackupAll(paths []string) (map[string]string, []string) {
	files := make(map[string]string)
	var warnings []string

	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	for _, p := range sorted {
		if exists, _ := afero.Exists(m.fs, p); !exists {
			continue
		}
		dest, err := m.Backup(p)
		if err != nil {
			msg := fmt.Sprintf("backup skipped: %v", err)
			m.log.Warnf("%s", msg)
			warnings = append(warnings, msg)
			continue
		}
		m.log.Debugf("backed up %s -> %s", p, dest)
		files[p] = dest
	}
	return files, warnings
}

// Restore copies backup over original. Repeating it yields identical content.
func (m *Manager) Restore(original, backup string) error {
	info, err := m.fs.Stat(backup)
	if err != nil {
		return fmt.Errorf("backup %s unavailable: %w", backup, err)
	}
	if err := m.fs.MkdirAll(filepath.Dir(original), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", original, err)
	}
	return atomicCopy(m.fs, backup, original, info.Mode().Perm())
}

func copyFile(fs afero.Fs, src, dst string, perm os.FileMode) error {
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		fs.Remove(dst)
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		fs.Remove(dst)
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

// atomicCopy writes src into a temp file next to dst and renames it into place.
func atomicCopy(fs afero.Fs, src, dst string, perm os.FileMode) error {
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := afero.TempFile(fs, filepath.Dir(dst), ".restore-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			fs.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := fs.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := fs.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	committed = true
	return nil
}
