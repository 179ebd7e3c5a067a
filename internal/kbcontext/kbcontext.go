// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package kbcontext loads the read-only knowledge base snapshot that analysis
// and mapping consult during a run.
package kbcontext

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/logging"
	"github.com/pdiddy/kbforge/internal/structure"
	"github.com/pdiddy/kbforge/pkg/types"
)

// Load reads open questions, known topics, known people and every persisted
// identity from the knowledge base managed by m. A knowledge base that does
// not exist yet yields an empty context.
func Load(m *structure.Manager, logger *zap.Logger) (*types.KBContext, error) {
	snap, err := m.Load()
	if err != nil {
		return nil, fmt.Errorf("loading knowledge base context: %w", err)
	}
	kb := FromSnapshot(snap)
	logging.OrNop(logger).Info("knowledge base context loaded",
		zap.Int("open_questions", len(kb.OpenQuestions)),
		zap.Int("topics", len(kb.Topics)),
		zap.Int("people", len(kb.People)),
		zap.Int("entities", len(snap.Entities)),
	)
	return kb, nil
}

// FromSnapshot builds a context from an already loaded snapshot. Identities
// that entities still refer to are reserved so they are never reissued.
func FromSnapshot(snap *structure.Snapshot) *types.KBContext {
	kb := types.NewKBContext(
		snap.OpenQuestions(),
		snap.Names(types.KindTopic),
		snap.Names(types.KindPerson),
		snap.IDs(),
	)
	kb.Reserve(snap.ReferencedIDs()...)
	return kb
}
