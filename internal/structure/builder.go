// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package structure

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/rollback"
	"github.com/pdiddy/kbforge/pkg/types"
)

// Counts summarizes entities produced by a run, or held by a knowledge base.
type Counts struct {
	Questions int
	Answers   int
	Notes     int
	Topics    int
	Areas     int
	People    int
}

// Apply copies the counts into a run result.
func (c Counts) Apply(r *types.KBResult) {
	r.Questions = c.Questions
	r.Answers = c.Answers
	r.Notes = c.Notes
	r.Topics = c.Topics
	r.Areas = c.Areas
	r.People = c.People
}

// countEntities counts entries by kind and the distinct topics, areas and
// people they reference.
func countEntities(entities []Entity) Counts {
	var c Counts
	topics, areas, people := map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, e := range entities {
		switch e.Kind {
		case types.KindQuestion:
			c.Questions++
		case types.KindAnswer:
			c.Answers++
		case types.KindNote:
			c.Notes++
		}
		for _, t := range e.Topics {
			if strings.TrimSpace(t) != "" {
				topics[TopicSlug(t)] = true
			}
		}
		if a := strings.TrimSpace(e.Area); a != "" {
			areas[strings.ToLower(a)] = true
		}
		for _, p := range personNames(e) {
			people[Slug(p)] = true
		}
	}
	c.Topics, c.Areas, c.People = len(topics), len(areas), len(people)
	return c
}

// personNames returns the author followed by mentioned people, skipping blanks.
func personNames(e Entity) []string {
	var out []string
	for _, p := range append([]string{e.Author}, e.People...) {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// Build persists a validated analysis result. New questions, answers and
// notes are written to their files; previously persisted questions that the
// run resolved are rewritten with their new answered state; every topic and
// person referenced by a new entry gets a file if none exists under its
// normalized name. created stamps the new entities and subjects.
//
// Build does not refresh listings or statistics; call RegenerateIndexes
// afterwards. Errors wrap types.ErrStructureWrite.
func (m *Manager) Build(result *types.AnalysisResult, created time.Time, fsys rollback.FS) (Counts, error) {
	var entities []Entity
	for _, q := range result.Questions {
		entities = append(entities, QuestionEntity(q, created))
	}
	for _, a := range result.Answers {
		entities = append(entities, AnswerEntity(a, created))
	}
	for _, n := range result.Notes {
		entities = append(entities, NoteEntity(n, created))
	}

	for _, e := range entities {
		if err := m.writeEntity(e, fsys); err != nil {
			return Counts{}, err
		}
	}

	for _, q := range result.Resolved {
		if err := m.markResolved(q, fsys); err != nil {
			return Counts{}, err
		}
	}

	for _, kind := range []types.EntityKind{types.KindTopic, types.KindPerson} {
		for _, s := range subjectsOf(kind, entities) {
			if err := m.ensureSubject(s, fsys); err != nil {
				return Counts{}, err
			}
		}
	}

	counts := countEntities(entities)
	m.logger.Info("structure built",
		zap.Int("questions", counts.Questions),
		zap.Int("answers", counts.Answers),
		zap.Int("notes", counts.Notes),
		zap.Int("resolved", len(result.Resolved)),
		zap.Int("topics", counts.Topics),
		zap.Int("people", counts.People),
	)
	return counts, nil
}

func (m *Manager) writeEntity(e Entity, fsys rollback.FS) error {
	data, err := EncodeEntity(e)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", types.ErrStructureWrite, e.Kind, e.ID, err)
	}
	p := m.layout.EntityPath(e.Kind, e.ID)
	if err := fsys.WriteFile(p, data); err != nil {
		return fmt.Errorf("%w: writing %s: %w", types.ErrStructureWrite, p, err)
	}
	return nil
}

// markResolved rewrites a persisted question with the answered state of q,
// keeping everything else from the file.
func (m *Manager) markResolved(q types.QuestionEntry, fsys rollback.FS) error {
	p := m.layout.EntityPath(types.KindQuestion, q.ID)
	data, err := os.ReadFile(p)
	if err != nil {
		return fmt.Errorf("%w: reading resolved question %s: %w", types.ErrStructureWrite, q.ID, err)
	}
	e, err := DecodeEntity(data)
	if err != nil {
		return fmt.Errorf("%w: parsing %s: %w", types.ErrStructureWrite, p, err)
	}
	e.Answered = true
	for _, id := range q.AnsweredBy {
		if !slices.Contains(e.AnsweredBy, id) {
			e.AnsweredBy = append(e.AnsweredBy, id)
		}
	}
	return m.writeEntity(e, fsys)
}

// subjectsOf returns the distinct topics or people referenced by entities,
// each described by the first entity that mentions it.
func subjectsOf(kind types.EntityKind, entities []Entity) []Subject {
	seen := map[string]bool{}
	var out []Subject
	for _, e := range entities {
		names := e.Topics
		if kind == types.KindPerson {
			names = personNames(e)
		}
		for _, name := range names {
			if strings.TrimSpace(name) == "" {
				continue
			}
			s := subjectFromEntity(kind, name, e)
			if seen[s.Slug()] {
				continue
			}
			seen[s.Slug()] = true
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) subjectPath(s Subject) string {
	if s.Kind == types.KindPerson {
		return m.layout.PersonIndexPath(s.Name)
	}
	return m.layout.TopicPath(s.Name)
}

// ensureSubject writes an empty listing for s unless a file for its
// normalized name already exists.
func (m *Manager) ensureSubject(s Subject, fsys rollback.FS) error {
	p := m.subjectPath(s)
	_, err := os.Stat(p)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", types.ErrStructureWrite, err)
	}
	return m.writeSubject(s, nil, fsys)
}

func (m *Manager) writeSubject(s Subject, entities []Entity, fsys rollback.FS) error {
	data, err := encodeSubject(s, entities)
	if err != nil {
		return fmt.Errorf("%w: %s %q: %w", types.ErrStructureWrite, s.Kind, s.Name, err)
	}
	p := m.subjectPath(s)
	if err := fsys.WriteFile(p, data); err != nil {
		return fmt.Errorf("%w: writing %s: %w", types.ErrStructureWrite, p, err)
	}
	return nil
}
