// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package rollback records every filesystem side effect of a run as an undo
// step so a failed run can return the knowledge base to its pre-run state.
package rollback

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/logging"
	"github.com/pdiddy/kbforge/pkg/types"
)

// FS is the write surface used by every stage that touches the knowledge base.
// Stages never call os write functions directly so that a Journal can observe them.
type FS interface {
	// MkdirAll creates path and any missing parents.
	MkdirAll(path string) error

	// WriteFile replaces the contents of path, creating parents as needed.
	WriteFile(path string, data []byte) error

	// Remove deletes a file or an empty directory.
	Remove(path string) error
}

// ActionKind identifies the side effect an undo step reverses.
type ActionKind string

const (
	ActionMkdir     ActionKind = "mkdir"
	ActionCreate    ActionKind = "create"
	ActionOverwrite ActionKind = "overwrite"
	ActionRemove    ActionKind = "remove"
)

// Action is one recorded side effect with the closure that reverses it.
type Action struct {
	Kind ActionKind
	Path string
	undo func() error
}

// Journal is an FS that applies writes immediately and keeps an undo log.
// It is safe for concurrent use.
type Journal struct {
	mu      sync.Mutex
	actions []Action
	logger  *zap.Logger
}

var _ FS = (*Journal)(nil)

// NewJournal returns an empty journal.
func NewJournal(logger *zap.Logger) *Journal {
	return &Journal{logger: logging.OrNop(logger)}
}

func (j *Journal) record(kind ActionKind, path string, undo func() error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.actions = append(j.actions, Action{Kind: kind, Path: path, undo: undo})
	j.logger.Debug("journal", zap.String("action", string(kind)), zap.String("path", path))
}

// MkdirAll creates each missing directory on the way to path, outermost first,
// recording one undo step per directory actually created.
func (j *Journal) MkdirAll(path string) error {
	path = filepath.Clean(path)
	var missing []string
	for p := path; ; p = filepath.Dir(p) {
		info, err := os.Stat(p)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("%s exists and is not a directory", p)
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		missing = append(missing, p)
		if parent := filepath.Dir(p); parent == p {
			break
		}
	}

	for i := len(missing) - 1; i >= 0; i-- {
		dir := missing[i]
		if err := os.Mkdir(dir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
		j.record(ActionMkdir, dir, func() error { return os.Remove(dir) })
	}
	return nil
}

// WriteFile writes data to path. A new file is recorded as a creation; an
// existing file is recorded as an overwrite holding its previous bytes and
// mode. Writing identical bytes is a no-op and records nothing.
func (j *Journal) WriteFile(path string, data []byte) error {
	orig, err := os.ReadFile(path)
	switch {
	case err == nil:
		if bytes.Equal(orig, data) {
			return nil
		}
		mode := fileMode(path)
		if err := writeAtomic(path, data, mode); err != nil {
			return err
		}
		j.record(ActionOverwrite, path, func() error { return writeAtomic(path, orig, mode) })
		return nil

	case errors.Is(err, fs.ErrNotExist):
		if err := j.MkdirAll(filepath.Dir(path)); err != nil {
			return err
		}
		if err := writeAtomic(path, data, 0o644); err != nil {
			return err
		}
		j.record(ActionCreate, path, func() error { return os.Remove(path) })
		return nil
	}
	return err
}

// Remove deletes a file, keeping its bytes so the removal can be undone, or
// an empty directory.
func (j *Journal) Remove(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := os.Remove(path); err != nil {
			return err
		}
		mode := info.Mode().Perm()
		j.record(ActionRemove, path, func() error { return os.Mkdir(path, mode) })
		return nil
	}

	orig, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return err
	}
	mode := info.Mode().Perm()
	j.record(ActionRemove, path, func() error { return writeAtomic(path, orig, mode) })
	return nil
}

// Actions returns a copy of the recorded steps in the order they happened.
func (j *Journal) Actions() []Action {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Action(nil), j.actions...)
}

// Len returns the number of recorded steps.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.actions)
}

// Commit forgets all recorded steps; the changes become permanent.
func (j *Journal) Commit() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.actions = nil
}

// Rollback runs the undo steps in reverse order. It is best effort: a failing
// step is logged and the remaining steps still run. The returned error joins
// every failure, each wrapping types.ErrRollback; nil means the rollback was
// complete. The journal is empty afterwards.
func (j *Journal) Rollback() error {
	j.mu.Lock()
	actions := j.actions
	j.actions = nil
	j.mu.Unlock()

	j.logger.Info("rolling back", zap.Int("steps", len(actions)))

	var errs []error
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		if err := a.undo(); err != nil {
			j.logger.Error("undo failed",
				zap.String("action", string(a.Kind)),
				zap.String("path", a.Path),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%w: undo %s %s: %w", types.ErrRollback, a.Kind, a.Path, err))
		}
	}
	return errors.Join(errs...)
}

// Direct is an FS that applies writes without recording anything, for
// callers that never roll back, such as test fixtures seeding a knowledge base.
type Direct struct{}

var _ FS = Direct{}

// MkdirAll creates path and any missing parents.
func (Direct) MkdirAll(path string) error { return os.MkdirAll(path, 0o755) }

// WriteFile atomically replaces path, creating parents as needed.
func (Direct) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeAtomic(path, data, fileMode(path))
}

// Remove deletes a file or empty directory.
func (Direct) Remove(path string) error { return os.Remove(path) }

// fileMode returns the permissions of an existing file, or 0644.
func fileMode(path string) fs.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return 0o644
}

// writeAtomic writes to a temp file in the target directory and renames it
// into place so readers never observe a partial file.
func writeAtomic(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
