// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pdiddy/kbforge/pkg/types"
)

// RunError reports a failed run. Stage is the last state the run reached.
// errors.Is sees through to both the cause and, when rollback was
// incomplete, types.ErrRollback.
type RunError struct {
	Source      string
	Stage       State
	Err         error
	RollbackErr error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("run %q failed after %s: %v", e.Source, e.Stage, e.Err)
	if e.RollbackErr != nil {
		msg += fmt.Sprintf("; rollback incomplete: %v", e.RollbackErr)
	}
	return msg
}

// Unwrap returns the cause and the rollback failure, if any.
func (e *RunError) Unwrap() []error {
	if e.RollbackErr == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.RollbackErr}
}

// lockFile is an advisory lock held for the duration of a run. It lives next
// to the output directory, not inside it, so it never appears in the tree.
type lockFile struct {
	path string
}

func lockPath(output string) string {
	return filepath.Clean(output) + ".lock"
}

// acquireLock creates the lock file exclusively. A second run on the same
// output fails with types.ErrLocked. A lock whose recorded process has exited
// is left over from a crashed run and is taken over.
func acquireLock(output string) (*lockFile, error) {
	p := lockPath(output)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	for stale := false; ; stale = true {
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			pid, alive := lockHolder(p)
			if !alive && !stale {
				if err := os.Remove(p); err == nil || errors.Is(err, fs.ErrNotExist) {
					continue
				}
			}
			if pid > 0 {
				return nil, fmt.Errorf("%w: %s is held by pid %d; remove it if that run is gone", types.ErrLocked, p, pid)
			}
			return nil, fmt.Errorf("%w: %s exists; remove it if no run is active", types.ErrLocked, p)
		}
		if err != nil {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}
		_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			os.Remove(p)
			return nil, fmt.Errorf("writing lock file: %w", werr)
		}
		return &lockFile{path: p}, nil
	}
}

// lockHolder returns the PID recorded in the lock file at p and whether that
// process is still running. A lock without a readable PID counts as held,
// since its owner may still be writing it.
func lockHolder(p string) (int, bool) {
	data, err := os.ReadFile(p)
	if err != nil {
		return 0, true
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, true
	}
	return pid, processAlive(pid)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return !errors.Is(proc.Signal(syscall.Signal(0)), os.ErrProcessDone)
}

func (l *lockFile) release() error {
	return os.Remove(l.path)
}
