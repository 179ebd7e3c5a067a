// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package structure

import (
	"fmt"
	"strings"

	"github.com/pdiddy/kbforge/internal/rollback"
	"github.com/pdiddy/kbforge/pkg/types"
)

type narrativeHeader struct {
	Name    string           `yaml:"name"`
	Type    types.EntityKind `yaml:"type"`
	Entries []string         `yaml:"entries,omitempty"`
}

// WriteNarrative stores the aggregation narrative for a topic or person next
// to its listing. entries are the identities the narrative was written from.
func (m *Manager) WriteNarrative(s Subject, narrative string, entries []string, fsys rollback.FS) error {
	h := narrativeHeader{Name: s.Name, Type: s.Kind, Entries: entries}
	data, err := encodeDocument(h, strings.TrimSpace(narrative)+"\n")
	if err != nil {
		return fmt.Errorf("%w: narrative for %q: %w", types.ErrStructureWrite, s.Name, err)
	}
	p := m.layout.DescPath(s.Kind, s.Name)
	if err := fsys.WriteFile(p, data); err != nil {
		return fmt.Errorf("%w: writing %s: %w", types.ErrStructureWrite, p, err)
	}
	return nil
}

// Affected returns the topics and people that reference any of the given
// entity identities, topics first.
func (s *Snapshot) Affected(ids []string) []Subject {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []Subject
	for _, kind := range []types.EntityKind{types.KindTopic, types.KindPerson} {
		for _, subj := range s.Subjects(kind) {
			for _, e := range s.Referencing(subj) {
				if want[e.ID] {
					out = append(out, subj)
					break
				}
			}
		}
	}
	return out
}

// All returns every topic followed by every person.
func (s *Snapshot) All() []Subject {
	out := make([]Subject, 0, len(s.Topics)+len(s.People))
	out = append(out, s.Topics...)
	return append(out, s.People...)
}
