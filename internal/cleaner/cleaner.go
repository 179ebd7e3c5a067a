// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cleaner removes generated knowledge base content, either every
// entity of one source or the whole generated structure. Removals go
// through a rollback.FS so a failing run can restore them.
package cleaner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/logging"
	"github.com/pdiddy/kbforge/internal/rollback"
	"github.com/pdiddy/kbforge/internal/structure"
	"github.com/pdiddy/kbforge/pkg/types"
)

// Cleaner deletes generated files under one knowledge base root.
type Cleaner struct {
	layout structure.Layout
	logger *zap.Logger
}

// New returns a cleaner for the knowledge base at root.
func New(root string, logger *zap.Logger) *Cleaner {
	return &Cleaner{layout: structure.Layout{Root: root}, logger: logging.OrNop(logger)}
}

// Clean deletes every question, answer and note file whose front matter
// source equals source and returns how many were deleted. Questions of other
// sources that were resolved by a deleted entry lose that link, and become
// open again when no resolving entry is left. Topics, people and the inbox
// are left alone; indices are not refreshed.
func (c *Cleaner) Clean(source string, fsys rollback.FS) (int, error) {
	removed := map[string]bool{}
	var linked []structure.Entity
	for _, kind := range []types.EntityKind{types.KindQuestion, types.KindAnswer, types.KindNote} {
		dir := c.layout.KindDir(kind)
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return len(removed), fmt.Errorf("reading %s: %w", dir, err)
		}
		for _, de := range entries {
			if de.IsDir() || filepath.Ext(de.Name()) != ".md" {
				continue
			}
			p := filepath.Join(dir, de.Name())
			data, err := os.ReadFile(p)
			if err != nil {
				return len(removed), fmt.Errorf("reading %s: %w", p, err)
			}
			e, err := structure.DecodeEntity(data)
			if err != nil {
				c.logger.Warn("leaving unreadable entity file", zap.String("path", p), zap.Error(err))
				continue
			}
			if e.Source != source {
				if e.Kind == types.KindQuestion && len(e.AnsweredBy) > 0 {
					linked = append(linked, e)
				}
				continue
			}
			if err := fsys.Remove(p); err != nil {
				return len(removed), fmt.Errorf("removing %s: %w", p, err)
			}
			removed[e.ID] = true
		}
	}

	unlinked, reopened := 0, 0
	for _, q := range linked {
		kept := slices.DeleteFunc(slices.Clone(q.AnsweredBy), func(id string) bool { return removed[id] })
		if len(kept) == len(q.AnsweredBy) {
			continue
		}
		unlinked++
		q.AnsweredBy = kept
		if len(kept) == 0 {
			q.AnsweredBy = nil
			q.Answered = false
			reopened++
		}
		if err := c.rewrite(q, fsys); err != nil {
			return len(removed), err
		}
	}
	c.logger.Info("source cleaned",
		zap.String("source", source),
		zap.Int("removed", len(removed)),
		zap.Int("unlinked", unlinked),
		zap.Int("reopened", reopened),
	)
	return len(removed), nil
}

func (c *Cleaner) rewrite(e structure.Entity, fsys rollback.FS) error {
	data, err := structure.EncodeEntity(e)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", e.ID, err)
	}
	p := c.layout.EntityPath(e.Kind, e.ID)
	if err := fsys.WriteFile(p, data); err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	return nil
}

// CleanOutput deletes all generated structure: entity, topic and person
// directories and the statistics file. The inbox and source-config.json are
// kept. Files are removed before the directories that held them.
func (c *Cleaner) CleanOutput(fsys rollback.FS) (int, error) {
	var files, dirs []string
	for _, root := range c.layout.GeneratedPaths() {
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && p == root {
					return nil
				}
				return err
			}
			if d.IsDir() {
				dirs = append(dirs, p)
			} else {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("scanning %s: %w", root, err)
		}
	}

	for _, f := range files {
		if err := fsys.Remove(f); err != nil {
			return 0, fmt.Errorf("removing %s: %w", f, err)
		}
	}
	// WalkDir lists parents before children.
	slices.Reverse(dirs)
	for _, d := range dirs {
		if err := fsys.Remove(d); err != nil {
			return 0, fmt.Errorf("removing %s: %w", d, err)
		}
	}
	c.logger.Info("output cleaned", zap.Int("files", len(files)), zap.Int("dirs", len(dirs)))
	return len(files), nil
}
