// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package watch ingests raw exports dropped into a folder. Files are handed
// to a runner one at a time, once they have stopped changing.
package watch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/logging"
)

// DefaultSettle is how long a file must go without events before it is run.
const DefaultSettle = 2 * time.Second

// Runner ingests one file. An error is reported and the watcher moves on.
type Runner func(ctx context.Context, path string) error

// Options tune a Watcher.
type Options struct {
	// Settle is the quiet period after the last event on a file (default 2s).
	Settle time.Duration

	// Existing runs files already in the folder when Watch starts.
	Existing bool
}

// Summary counts the files a Watch call handed to the runner.
type Summary struct {
	Succeeded int
	Failed    int
}

// Watcher feeds files from one folder to a Runner, serially.
type Watcher struct {
	dir    string
	run    Runner
	opts   Options
	logger *zap.Logger
	w      io.Writer
}

// New returns a watcher for dir. Progress lines go to w, which may be nil.
func New(dir string, run Runner, opts Options, logger *zap.Logger, w io.Writer) *Watcher {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if w == nil {
		w = io.Discard
	}
	return &Watcher{dir: dir, run: run, opts: opts, logger: logging.OrNop(logger), w: w}
}

// Watch blocks until ctx is done, running every file created or written in
// the folder. It returns nil on cancellation.
func (w *Watcher) Watch(ctx context.Context) (Summary, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return Summary{}, fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return Summary{}, fmt.Errorf("watching %s: %w", w.dir, err)
	}
	fmt.Fprintf(w.w, "watching %s\n", w.dir)
	w.logger.Info("watching folder", zap.String("dir", w.dir), zap.Duration("settle", w.opts.Settle))

	var sum Summary
	if w.opts.Existing {
		existing, err := w.existing()
		if err != nil {
			return sum, err
		}
		for _, p := range existing {
			if ctx.Err() != nil {
				return sum, nil
			}
			w.runOne(ctx, p, &sum)
		}
	}

	pending := map[string]time.Time{}
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return sum, nil

		case ev, ok := <-fw.Events:
			if !ok {
				return sum, nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !candidate(ev.Name) {
				continue
			}
			pending[ev.Name] = time.Now().Add(w.opts.Settle)
			timer.Reset(w.opts.Settle)

		case err, ok := <-fw.Errors:
			if !ok {
				return sum, nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-timer.C:
			now := time.Now()
			var ready []string
			next := time.Duration(0)
			for p, at := range pending {
				if wait := at.Sub(now); wait > 0 {
					if next == 0 || wait < next {
						next = wait
					}
					continue
				}
				ready = append(ready, p)
			}
			slices.Sort(ready)
			for _, p := range ready {
				delete(pending, p)
				if ctx.Err() != nil {
					return sum, nil
				}
				w.runOne(ctx, p, &sum)
			}
			if next > 0 {
				timer.Reset(next)
			}
		}
	}
}

func (w *Watcher) runOne(ctx context.Context, path string, sum *Summary) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	if err := w.run(ctx, path); err != nil {
		sum.Failed++
		fmt.Fprintf(w.w, "failed  %s: %v\n", filepath.Base(path), err)
		w.logger.Error("watched file failed", zap.String("file", path), zap.Error(err))
		return
	}
	sum.Succeeded++
}

// existing lists the candidate files already in the folder, sorted by name.
func (w *Watcher) existing() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", w.dir, err)
	}
	var out []string
	for _, e := range entries {
		p := filepath.Join(w.dir, e.Name())
		if e.Type().IsRegular() && candidate(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// partialSuffixes mark files still being written by a browser or copy tool.
var partialSuffixes = []string{".tmp", ".part", ".partial", ".crdownload", ".swp", "~"}

// candidate reports whether a file name looks like a finished export.
func candidate(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	for _, s := range partialSuffixes {
		if strings.HasSuffix(name, s) {
			return false
		}
	}
	return true
}
