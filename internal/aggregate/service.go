// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package aggregate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/logging"
	"github.com/pdiddy/kbforge/internal/rollback"
	"github.com/pdiddy/kbforge/internal/structure"
	"github.com/pdiddy/kbforge/pkg/types"
)

// Service aggregates an existing knowledge base without ingesting anything:
// no analysis, validation or mapping, and nothing written to the inbox.
type Service struct {
	stage   *Stage
	manager *structure.Manager
	logger  *zap.Logger
}

// NewService returns a service that aggregates through stage.
func NewService(stage *Stage, manager *structure.Manager, logger *zap.Logger) *Service {
	return &Service{stage: stage, manager: manager, logger: logging.OrNop(logger)}
}

// Run writes a narrative for every topic and person on disk, then refreshes
// the indices. Writes go through fsys so a caller holding a journal can
// undo them. The returned counts are knowledge base totals.
func (s *Service) Run(ctx context.Context, instructions string, fsys rollback.FS) (structure.Counts, error) {
	snap, err := s.manager.Load()
	if err != nil {
		return structure.Counts{}, fmt.Errorf("%w: loading knowledge base: %w", types.ErrAggregation, err)
	}

	subjects := snap.All()
	s.logger.Info("aggregating knowledge base", zap.Int("subjects", len(subjects)))

	if _, err := s.stage.Describe(ctx, snap, subjects, instructions, fsys); err != nil {
		return structure.Counts{}, err
	}
	return s.manager.RegenerateIndexes(fsys)
}
