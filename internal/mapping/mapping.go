// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package mapping reconciles new answers and notes with open questions,
// both those already in the knowledge base and those raised in the current
// run.
package mapping

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/logging"
	"github.com/pdiddy/kbforge/pkg/types"
)

// DefaultThreshold is the minimum confidence applied when none is configured.
const DefaultThreshold = 0.7

// Backend abstracts the Generative AI API that proposes question links.
// It receives the open questions and the unlinked answers and notes and
// returns candidate mappings, possibly several per entry.
type Backend interface {
	Map(ctx context.Context, open []types.QuestionEntry, entries []types.EntryBase, instructions string) ([]types.QAMapping, error)
}

// Mapper applies backend proposals to an analysis result.
type Mapper struct {
	backend   Backend
	threshold float64
	logger    *zap.Logger
}

// NewMapper returns a mapper. A non-positive threshold selects DefaultThreshold.
func NewMapper(backend Backend, cfg types.MappingConfig, logger *zap.Logger) *Mapper {
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Mapper{backend: backend, threshold: threshold, logger: logging.OrNop(logger)}
}

// Summary counts what Apply did.
type Summary struct {
	// Linked is the number of answers and notes now pointing at a question.
	Linked int

	// Proposed and Accepted count backend candidates before and after filtering.
	Proposed int
	Accepted int
}

// Apply links answers and notes to questions. Links found during analysis
// are applied first; the remaining entries go to the backend together with
// every still-open question. A candidate is accepted when its confidence
// reaches the threshold and both identities are known; per entry the most
// confident accepted candidate wins.
//
// An accepted link marks the question answered and records the question on
// the entry. Knowledge base questions that become answered are appended to
// result.Resolved. A backend failure is logged as types.ErrMapping and
// treated as no mapping; Apply itself never fails.
func (m *Mapper) Apply(ctx context.Context, result *types.AnalysisResult, kb *types.KBContext, instructions string) Summary {
	result.Normalize()
	st := newState(result, kb)
	var sum Summary

	// Links established by analysis.
	for i := range result.Answers {
		if st.link(result.Answers[i].QuestionID, result.Answers[i].ID) {
			sum.Linked++
		} else {
			result.Answers[i].QuestionID = ""
		}
	}
	for i := range result.Notes {
		if st.link(result.Notes[i].QuestionID, result.Notes[i].ID) {
			sum.Linked++
		} else {
			result.Notes[i].QuestionID = ""
		}
	}

	open := st.openQuestions()
	var entries []types.EntryBase
	for _, a := range result.Answers {
		if a.QuestionID == "" {
			entries = append(entries, a.EntryBase)
		}
	}
	for _, n := range result.Notes {
		if n.QuestionID == "" {
			entries = append(entries, n.EntryBase)
		}
	}
	if len(open) == 0 || len(entries) == 0 {
		m.logger.Debug("nothing to map", zap.Int("open", len(open)), zap.Int("entries", len(entries)))
		return sum
	}

	proposals, err := m.backend.Map(ctx, open, entries, instructions)
	if err != nil {
		m.logger.Warn("mapping skipped", zap.Error(fmt.Errorf("%w: %w", types.ErrMapping, err)))
		return sum
	}
	sum.Proposed = len(proposals)

	openIDs := map[string]bool{}
	for _, q := range open {
		openIDs[q.ID] = true
	}
	entryIDs := map[string]bool{}
	for _, e := range entries {
		entryIDs[e.ID] = true
	}

	best := map[string]types.QAMapping{}
	for _, p := range proposals {
		switch {
		case p.Confidence < m.threshold:
			m.logger.Debug("mapping below threshold",
				zap.String("entry", p.EntryID), zap.String("question", p.QuestionID), zap.Float64("confidence", p.Confidence))
			continue
		case !entryIDs[p.EntryID] || !openIDs[p.QuestionID]:
			m.logger.Debug("mapping refers to unknown identity",
				zap.String("entry", p.EntryID), zap.String("question", p.QuestionID))
			continue
		}
		sum.Accepted++
		if cur, ok := best[p.EntryID]; !ok || p.Confidence > cur.Confidence {
			best[p.EntryID] = p
		}
	}

	for i := range result.Answers {
		if p, ok := best[result.Answers[i].ID]; ok && st.link(p.QuestionID, p.EntryID) {
			result.Answers[i].QuestionID = p.QuestionID
			sum.Linked++
		}
	}
	for i := range result.Notes {
		if p, ok := best[result.Notes[i].ID]; ok && st.link(p.QuestionID, p.EntryID) {
			result.Notes[i].QuestionID = p.QuestionID
			sum.Linked++
		}
	}

	m.logger.Info("mapping applied",
		zap.Int("proposed", sum.Proposed),
		zap.Int("accepted", sum.Accepted),
		zap.Int("linked", sum.Linked),
		zap.Int("resolved", len(result.Resolved)),
	)
	return sum
}

// state tracks where each question lives so links can update it in place.
type state struct {
	result   *types.AnalysisResult
	kb       *types.KBContext
	newIdx   map[string]int
	resolved map[string]int
}

func newState(result *types.AnalysisResult, kb *types.KBContext) *state {
	st := &state{result: result, kb: kb, newIdx: map[string]int{}, resolved: map[string]int{}}
	for i, q := range result.Questions {
		st.newIdx[q.ID] = i
	}
	for i, q := range result.Resolved {
		st.resolved[q.ID] = i
	}
	return st
}

// link marks question qid answered by entryID. It reports false when qid
// names no question of this run or the knowledge base.
func (s *state) link(qid, entryID string) bool {
	if qid == "" {
		return false
	}
	if i, ok := s.newIdx[qid]; ok {
		s.result.Questions[i].MarkAnsweredBy(entryID)
		return true
	}
	if i, ok := s.resolved[qid]; ok {
		s.result.Resolved[i].MarkAnsweredBy(entryID)
		return true
	}
	q, ok := s.kb.OpenQuestion(qid)
	if !ok {
		return false
	}
	q.AnsweredBy = append([]string(nil), q.AnsweredBy...)
	q.MarkAnsweredBy(entryID)
	s.resolved[qid] = len(s.result.Resolved)
	s.result.Resolved = append(s.result.Resolved, q)
	return true
}

// openQuestions lists knowledge base questions not resolved in this run,
// then this run's unanswered questions.
func (s *state) openQuestions() []types.QuestionEntry {
	var out []types.QuestionEntry
	if s.kb != nil {
		for _, q := range s.kb.OpenQuestions {
			if _, ok := s.resolved[q.ID]; !ok {
				out = append(out, q)
			}
		}
	}
	for _, q := range s.result.Questions {
		if !q.Answered {
			out = append(out, q)
		}
	}
	return out
}
