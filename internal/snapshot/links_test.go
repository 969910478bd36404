package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func symlink(t *testing.T, target, link string) {
	t.Helper()
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
}

func TestExtractPathsDropsLinksIntoPseudoFilesystems(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0644))
	symlink(t, "/proc/self/environ", filepath.Join(dir, "innocent.txt"))
	symlink(t, "/sys", filepath.Join(dir, "sysdir"))
	symlink(t, plain, filepath.Join(dir, "alias.txt"))

	e := PathExtractor{WorkDir: dir, FS: afero.NewOsFs()}
	got := e.ExtractPaths("read ./innocent.txt ./sysdir/kernel/x ./alias.txt ./plain.txt")

	assert.Equal(t, []string{filepath.Join(dir, "alias.txt"), plain}, got,
		"links into /proc or /sys are dropped, ordinary links keep their own path")
}

func TestResolveLinks(t *testing.T) {
	dir := t.TempDir()
	realDir := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(realDir, 0755))
	symlink(t, "real", filepath.Join(dir, "rel"))
	symlink(t, filepath.Join(dir, "loop-b"), filepath.Join(dir, "loop-a"))
	symlink(t, filepath.Join(dir, "loop-a"), filepath.Join(dir, "loop-b"))

	fs := afero.NewOsFs()
	realResolved, err := ResolveLinks(fs, realDir)
	require.NoError(t, err)

	got, err := ResolveLinks(fs, filepath.Join(dir, "rel", "missing", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(realResolved, "missing", "file.txt"), got)

	_, err = ResolveLinks(fs, filepath.Join(dir, "loop-a", "x"))
	assert.Error(t, err)
	assert.False(t, ValidateTarget(fs, filepath.Join(dir, "loop-a")))
}

func TestResolveLinksWithoutLinkSupport(t *testing.T) {
	got, err := ResolveLinks(afero.NewMemMapFs(), "/home/user/./a.txt")
	require.NoError(t, err)
	assert.Equal(t, "/home/user/a.txt", got)
	assert.True(t, ValidateTarget(nil, "/home/user/a.txt"))
	assert.False(t, ValidateTarget(nil, "/dev/sda"))
}

func TestCaptureSkipsLinksIntoPseudoFilesystems(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "innocent.txt")
	symlink(t, "/proc/self/environ", link)

	c := NewCapturer(afero.NewOsFs())
	c.ProcFS = afero.NewMemMapFs()
	snap, err := c.Capture(context.Background(), []string{link}, nil)
	require.NoError(t, err)
	assert.NotContains(t, snap.Files, link)
}
