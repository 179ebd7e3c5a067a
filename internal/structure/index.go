// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package structure

import (
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/rollback"
	"github.com/pdiddy/kbforge/pkg/types"
)

// RegenerateIndexes rewrites the listing in every topic and person file and
// the statistics summary from the entities currently on disk. It returns
// totals for the whole knowledge base. Running it twice without changes in
// between writes identical bytes.
func (m *Manager) RegenerateIndexes(fsys rollback.FS) (Counts, error) {
	snap, err := m.Load()
	if err != nil {
		return Counts{}, fmt.Errorf("%w: loading knowledge base: %w", types.ErrStructureWrite, err)
	}
	return m.writeIndexes(snap, fsys)
}

// Regenerate rebuilds all derived structure from the question, answer and
// note files alone: topic and person files missing for a referenced name are
// recreated, then every listing and the statistics are rewritten. No AI
// backend is involved.
func (m *Manager) Regenerate(fsys rollback.FS) (Counts, error) {
	snap, err := m.Load()
	if err != nil {
		return Counts{}, fmt.Errorf("%w: loading knowledge base: %w", types.ErrStructureWrite, err)
	}

	// The earliest entity mentioning a subject describes it.
	byCreated := slices.Clone(snap.Entities)
	slices.SortStableFunc(byCreated, func(a, b Entity) int { return a.Created.Compare(b.Created) })

	recreated := 0
	for _, kind := range []types.EntityKind{types.KindTopic, types.KindPerson} {
		known := map[string]bool{}
		for _, s := range snap.Subjects(kind) {
			known[s.Slug()] = true
		}
		for _, s := range subjectsOf(kind, byCreated) {
			if known[s.Slug()] {
				continue
			}
			if err := m.writeSubject(s, nil, fsys); err != nil {
				return Counts{}, err
			}
			recreated++
			if kind == types.KindPerson {
				snap.People = append(snap.People, s)
			} else {
				snap.Topics = append(snap.Topics, s)
			}
		}
	}
	if recreated > 0 {
		m.logger.Info("recreated missing subjects", zap.Int("count", recreated))
	}
	return m.writeIndexes(snap, fsys)
}

func (m *Manager) writeIndexes(snap *Snapshot, fsys rollback.FS) (Counts, error) {
	for _, kind := range []types.EntityKind{types.KindTopic, types.KindPerson} {
		for _, s := range snap.Subjects(kind) {
			if err := m.writeSubject(s, snap.Referencing(s), fsys); err != nil {
				return Counts{}, err
			}
		}
	}

	stats := renderStatistics(snap)
	p := m.layout.StatisticsPath()
	if err := fsys.WriteFile(p, stats); err != nil {
		return Counts{}, fmt.Errorf("%w: writing %s: %w", types.ErrStructureWrite, p, err)
	}

	counts := Totals(snap)
	m.logger.Debug("indexes regenerated",
		zap.Int("topics", len(snap.Topics)),
		zap.Int("people", len(snap.People)),
	)
	return counts, nil
}

// Totals counts everything in the snapshot, including subjects no entity
// references any more.
func Totals(snap *Snapshot) Counts {
	c := countEntities(snap.Entities)
	c.Topics = len(snap.Topics)
	c.People = len(snap.People)
	areas := map[string]bool{}
	for _, e := range snap.Entities {
		if a := strings.TrimSpace(e.Area); a != "" {
			areas[strings.ToLower(a)] = true
		}
	}
	for _, t := range snap.Topics {
		if a := strings.TrimSpace(t.Area); a != "" {
			areas[strings.ToLower(a)] = true
		}
	}
	c.Areas = len(areas)
	return c
}

type sourceCounts struct {
	questions, answers, notes int
}

func renderStatistics(snap *Snapshot) []byte {
	totals := Totals(snap)
	open := len(snap.OpenQuestions())

	bySource := map[string]*sourceCounts{}
	for _, e := range snap.Entities {
		sc := bySource[e.Source]
		if sc == nil {
			sc = &sourceCounts{}
			bySource[e.Source] = sc
		}
		switch e.Kind {
		case types.KindQuestion:
			sc.questions++
		case types.KindAnswer:
			sc.answers++
		case types.KindNote:
			sc.notes++
		}
	}
	sources := make([]string, 0, len(bySource))
	for s := range bySource {
		sources = append(sources, s)
	}
	slices.Sort(sources)

	var b strings.Builder
	b.WriteString("# Knowledge Base Statistics\n\n")
	b.WriteString("| Entity | Count |\n| --- | ---: |\n")
	rows := []struct {
		label string
		n     int
	}{
		{"Questions", totals.Questions},
		{"Open questions", open},
		{"Answered questions", totals.Questions - open},
		{"Answers", totals.Answers},
		{"Notes", totals.Notes},
		{"Topics", totals.Topics},
		{"Areas", totals.Areas},
		{"People", totals.People},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %d |\n", r.label, r.n)
	}

	b.WriteString("\n## Sources\n\n")
	if len(sources) == 0 {
		b.WriteString("_None._\n")
		return []byte(b.String())
	}
	b.WriteString("| Source | Questions | Answers | Notes |\n| --- | ---: | ---: | ---: |\n")
	for _, s := range sources {
		sc := bySource[s]
		name := s
		if name == "" {
			name = "(unknown)"
		}
		fmt.Fprintf(&b, "| %s | %d | %d | %d |\n", name, sc.questions, sc.answers, sc.notes)
	}
	return []byte(b.String())
}
