// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package analysis extracts questions, answers and notes from chunks through
// an AI backend and merges the per-chunk results into one ordered result
// with knowledge-base-unique identities.
package analysis

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/kbforge/internal/logging"
	"github.com/pdiddy/kbforge/pkg/types"
)

// Backend abstracts the Generative AI API so tests can supply a mock. Each
// call handles one chunk. Entries in the returned result carry chunk-local
// references: a question's LocalRef, and an answer's QuestionRef pointing at
// a LocalRef in the same chunk or at an open question's ID in kb.
type Backend interface {
	Analyze(ctx context.Context, chunk types.Chunk, kb *types.KBContext, instructions string) (types.AnalysisResult, error)
}

// Stage runs analysis for one run.
type Stage struct {
	backend Backend
	source  string
	cfg     types.AnalysisConfig
	logger  *zap.Logger
}

// NewStage returns a stage that tags entries with source.
func NewStage(backend Backend, source string, cfg types.AnalysisConfig, logger *zap.Logger) *Stage {
	return &Stage{backend: backend, source: source, cfg: cfg, logger: logging.OrNop(logger)}
}

// Analyze calls the backend once per chunk and merges the results in chunk
// order. With more than one worker, chunks are analyzed concurrently and
// their results are still merged in chunk order. Any backend failure aborts
// the stage with an error wrapping types.ErrAnalysis.
func (s *Stage) Analyze(ctx context.Context, chunks []types.Chunk, kb *types.KBContext, instructions string) (*types.AnalysisResult, error) {
	ids, err := NewIdentityStrategy(s.cfg.IDScheme, kb)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrAnalysis, err)
	}

	results := make([]types.AnalysisResult, len(chunks))

	if s.cfg.Workers <= 1 {
		for i, c := range chunks {
			r, err := s.analyzeChunk(ctx, c, kb, instructions)
			if err != nil {
				return nil, err
			}
			results[i] = r
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Workers)
		for i, c := range chunks {
			g.Go(func() error {
				r, err := s.analyzeChunk(gctx, c, kb, instructions)
				if err != nil {
					return err
				}
				results[i] = r
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	merged := Merge(chunks, results, kb, ids, s.source, s.logger)
	s.logger.Info("analysis merged",
		zap.Int("chunks", len(chunks)),
		zap.Int("questions", len(merged.Questions)),
		zap.Int("answers", len(merged.Answers)),
		zap.Int("notes", len(merged.Notes)),
	)
	return merged, nil
}

func (s *Stage) analyzeChunk(ctx context.Context, c types.Chunk, kb *types.KBContext, instructions string) (types.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return types.AnalysisResult{}, fmt.Errorf("%w: chunk %d: %w", types.ErrAnalysis, c.Index, err)
	}
	s.logger.Debug("analyzing chunk", zap.Int("chunk", c.Index), zap.Int("chars", len(c.Text)))
	r, err := s.backend.Analyze(ctx, c, kb, instructions)
	if err != nil {
		return types.AnalysisResult{}, fmt.Errorf("%w: chunk %d: %w", types.ErrAnalysis, c.Index, err)
	}
	r.Normalize()
	return r, nil
}
