// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analysis

import (
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/logging"
	"github.com/pdiddy/kbforge/pkg/types"
)

// Merge combines per-chunk results into one result. results[i] belongs to
// chunks[i]; both are walked in order so the per-type lists keep chunk order.
//
// A question whose normalized text and author match an open question in kb,
// or a question merged earlier, is dropped; references to it resolve to the
// surviving question. Every kept entry is tagged with source and its chunk
// index and receives an identity from ids. Chunk-local references are
// rewritten to identities, and questions answered within the run are marked.
func Merge(chunks []types.Chunk, results []types.AnalysisResult, kb *types.KBContext, ids IdentityStrategy, source string, logger *zap.Logger) *types.AnalysisResult {
	logger = logging.OrNop(logger)
	out := types.NewAnalysisResult()

	// Question fingerprint to the identity of the question that owns it.
	owners := map[string]string{}
	if kb != nil {
		for _, q := range kb.OpenQuestions {
			owners[questionKey(q.EntryBase)] = q.ID
		}
	}
	position := map[string]int{}

	for i, r := range results {
		chunkIdx := i
		if i < len(chunks) {
			chunkIdx = chunks[i].Index
		}
		local := map[string]string{}

		for _, q := range r.Questions {
			q.EntryBase = prepare(q.EntryBase, source, chunkIdx)
			key := questionKey(q.EntryBase)
			if owner, ok := owners[key]; ok {
				logger.Debug("dropping duplicate question",
					zap.Int("chunk", chunkIdx), zap.String("duplicate_of", owner))
				if q.LocalRef != "" {
					local[q.LocalRef] = owner
				}
				continue
			}
			id, dup := ids.Assign(types.KindQuestion, q.EntryBase)
			if q.LocalRef != "" {
				local[q.LocalRef] = id
			}
			if dup {
				logger.Debug("dropping already persisted question", zap.String("id", id))
				continue
			}
			q.ID = id
			q.LocalRef = ""
			q.Answered = false
			q.AnsweredBy = nil
			owners[key] = id
			position[id] = len(out.Questions)
			out.Questions = append(out.Questions, q)
		}

		resolve := func(ref string) string {
			ref = strings.TrimSpace(ref)
			if ref == "" {
				return ""
			}
			if id, ok := local[ref]; ok {
				return id
			}
			if _, ok := position[ref]; ok {
				return ref
			}
			if _, ok := kb.OpenQuestion(ref); ok {
				return ref
			}
			return ""
		}
		link := func(questionID, entryID string) {
			if p, ok := position[questionID]; ok {
				out.Questions[p].MarkAnsweredBy(entryID)
			}
		}

		for _, a := range r.Answers {
			a.EntryBase = prepare(a.EntryBase, source, chunkIdx)
			id, dup := ids.Assign(types.KindAnswer, a.EntryBase)
			if dup {
				logger.Debug("dropping already persisted answer", zap.String("id", id))
				continue
			}
			a.ID = id
			a.QuestionID = resolve(firstNonEmpty(a.QuestionRef, a.QuestionID))
			a.QuestionRef = ""
			link(a.QuestionID, a.ID)
			out.Answers = append(out.Answers, a)
		}

		for _, n := range r.Notes {
			n.EntryBase = prepare(n.EntryBase, source, chunkIdx)
			id, dup := ids.Assign(types.KindNote, n.EntryBase)
			if dup {
				logger.Debug("dropping already persisted note", zap.String("id", id))
				continue
			}
			n.ID = id
			n.QuestionID = resolve(n.QuestionID)
			link(n.QuestionID, n.ID)
			out.Notes = append(out.Notes, n)
		}
	}
	return out
}

// prepare trims the entry and stamps run metadata on it.
func prepare(e types.EntryBase, source string, chunk int) types.EntryBase {
	e.Text = strings.TrimSpace(e.Text)
	e.Author = strings.TrimSpace(e.Author)
	e.Area = strings.TrimSpace(e.Area)
	e.Source = source
	e.Chunk = chunk
	if !e.Timestamp.IsZero() {
		e.Timestamp = e.Timestamp.UTC()
	}
	return e
}

func questionKey(e types.EntryBase) string {
	return types.NormalizeText(e.Text) + "\x00" + types.NormalizeText(e.Author)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
