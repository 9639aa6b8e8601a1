// Package workspace scopes the temporary directories created while one file
// is processed, so they can be released together on every exit path.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/feichai0017/vision-ocr/pkg/logger"
)

// Workspace owns a set of temporary directories. It is created by one
// processing call and released by that same call.
type Workspace struct {
	id     string
	root   string
	logger logger.Logger

	mu       sync.Mutex
	dirs     []string
	released bool
}

// New creates an empty workspace. root is the parent for temp directories;
// empty means os.TempDir.
func New(root string, log logger.Logger) *Workspace {
	if log == nil {
		log = logger.NewNop()
	}
	id := uuid.NewString()
	return &Workspace{
		id:     id,
		root:   root,
		logger: log.With(logger.String("workspace", id)),
	}
}

// ID identifies the workspace in directory names and logs.
func (w *Workspace) ID() string {
	return w.id
}

// MkdirTemp creates a directory owned by the workspace. pattern follows
// os.MkdirTemp.
func (w *Workspace) MkdirTemp(pattern string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.released {
		return "", fmt.Errorf("workspace %s already released", w.id)
	}
	dir, err := os.MkdirTemp(w.root, "ocr-"+w.id[:8]+"-"+pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	w.dirs = append(w.dirs, dir)
	w.logger.Debug("Created temp directory", logger.String("path", dir))
	return dir, nil
}

// Dirs returns the directories currently owned by the workspace.
func (w *Workspace) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.dirs...)
}

// Remove deletes a single file inside the workspace right away. Failures are
// logged and otherwise ignored.
func (w *Workspace) Remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("Failed to remove temporary file",
			logger.String("path", path),
			logger.Error(err),
		)
	}
}

// Release removes every directory owned by the workspace. It never fails:
// removal errors are collected, logged and dropped. Calling it more than once
// is a no-op.
func (w *Workspace) Release() {
	w.mu.Lock()
	if w.released {
		w.mu.Unlock()
		return
	}
	w.released = true
	dirs := w.dirs
	w.dirs = nil
	w.mu.Unlock()

	var errs error
	for _, dir := range dirs {
		errs = multierr.Append(errs, os.RemoveAll(dir))
	}
	if errs != nil {
		w.logger.Warn("Workspace cleanup incomplete",
			logger.Int("dirs", len(dirs)),
			logger.Error(errs),
		)
		return
	}
	w.logger.Debug("Workspace released", logger.Int("dirs", len(dirs)))
}
