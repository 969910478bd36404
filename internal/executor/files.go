package executor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/harrison/opgate/internal/models"
)

// FileHandler performs the mutation of a FILE operation on the candidate paths.
type FileHandler interface {
	HandleFile(ctx context.Context, op *models.AtomicOperation, paths []string) (*models.ExecutionResult, error)
}

// FileHandlerFunc adapts a function to FileHandler.
type FileHandlerFunc func(ctx context.Context, op *models.AtomicOperation, paths []string) (*models.ExecutionResult, error)

// HandleFile implements FileHandler.
func (f FileHandlerFunc) HandleFile(ctx context.Context, op *models.AtomicOperation, paths []string) (*models.ExecutionResult, error) {
	return f(ctx, op, paths)
}

// FSFileHandler handles the simple file actions locally: delete/remove,
// create/touch and mkdir. Any other action is delegated and reported as a
// successful no-op.
type FSFileHandler struct {
	FS afero.Fs
}

// HandleFile implements FileHandler.
func (h FSFileHandler) HandleFile(ctx context.Context, op *models.AtomicOperation, paths []string) (*models.ExecutionResult, error) {
	action := ""
	if op.Classification != nil {
		action = strings.ToLower(op.Classification.ActionHint)
	}

	var apply func(path string) error
	switch action {
	case "delete", "remove":
		apply = h.remove
	case "create", "touch":
		apply = h.create
	case "mkdir":
		apply = func(p string) error { return h.FS.MkdirAll(p, 0755) }
	default:
		return &models.ExecutionResult{
			Success: true,
			Message: fmt.Sprintf("file operation %q delegated; no local handler", action),
		}, nil
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("file %s: no target path in request", action)
	}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := apply(p); err != nil {
			return nil, fmt.Errorf("file %s %s: %w", action, p, err)
		}
	}
	return &models.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("%s %d path(s)", action, len(paths)),
	}, nil
}

func (h FSFileHandler) remove(path string) error {
	info, err := h.FS.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return h.FS.Remove(path)
}

func (h FSFileHandler) create(path string) error {
	f, err := h.FS.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}
