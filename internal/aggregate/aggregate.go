// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package aggregate writes AI-generated narratives for topics and people.
package aggregate

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/kbforge/internal/logging"
	"github.com/pdiddy/kbforge/internal/rollback"
	"github.com/pdiddy/kbforge/internal/structure"
	"github.com/pdiddy/kbforge/pkg/types"
)

const defaultBatchSize = 10

// Backend abstracts the Generative AI API that writes a narrative for one
// topic or person from the entries that reference it.
type Backend interface {
	Describe(ctx context.Context, kind types.EntityKind, name string, entries []types.EntryBase, instructions string) (string, error)
}

// Stage describes subjects in batches and stores each narrative as the
// subject's *-desc.md file.
type Stage struct {
	backend Backend
	manager *structure.Manager
	cfg     types.AggregationConfig
	logger  *zap.Logger
}

// NewStage returns an aggregation stage writing through manager.
func NewStage(backend Backend, manager *structure.Manager, cfg types.AggregationConfig, logger *zap.Logger) *Stage {
	return &Stage{backend: backend, manager: manager, cfg: cfg, logger: logging.OrNop(logger)}
}

// Batches splits items into consecutive groups of at most size items.
func Batches[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = defaultBatchSize
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}

// Describe generates and writes narratives for subjects using the entries in
// snap. Within a batch up to cfg.Workers backend calls run at once; batches
// run one after another and narratives are written in subject order. The
// first failure stops the stage with an error wrapping types.ErrAggregation.
func (s *Stage) Describe(ctx context.Context, snap *structure.Snapshot, subjects []structure.Subject, instructions string, fsys rollback.FS) (int, error) {
	workers := max(s.cfg.Workers, 1)
	written := 0

	for n, batch := range Batches(subjects, s.cfg.BatchSize) {
		s.logger.Debug("aggregating batch", zap.Int("batch", n), zap.Int("subjects", len(batch)))

		narratives := make([]string, len(batch))
		entries := make([][]structure.Entity, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i, subj := range batch {
			entries[i] = snap.Referencing(subj)
			g.Go(func() error {
				text, err := s.backend.Describe(gctx, subj.Kind, subj.Name, bases(entries[i]), instructions)
				if err != nil {
					return fmt.Errorf("%w: %s %q: %w", types.ErrAggregation, subj.Kind, subj.Name, err)
				}
				narratives[i] = text
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return written, err
		}

		for i, subj := range batch {
			if err := s.manager.WriteNarrative(subj, narratives[i], ids(entries[i]), fsys); err != nil {
				return written, fmt.Errorf("%w: %w", types.ErrAggregation, err)
			}
			written++
		}
	}

	s.logger.Info("aggregation complete", zap.Int("narratives", written))
	return written, nil
}

func bases(entities []structure.Entity) []types.EntryBase {
	out := make([]types.EntryBase, len(entities))
	for i, e := range entities {
		out[i] = e.EntryBase
	}
	return out
}

func ids(entities []structure.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.ID
	}
	return out
}
