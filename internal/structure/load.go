// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package structure

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/logging"
	"github.com/pdiddy/kbforge/pkg/types"
)

// Manager reads and writes the generated structure under one knowledge base root.
type Manager struct {
	layout Layout
	logger *zap.Logger
}

// NewManager returns a manager for the knowledge base at root.
func NewManager(root string, logger *zap.Logger) *Manager {
	return &Manager{layout: Layout{Root: root}, logger: logging.OrNop(logger)}
}

// Layout returns the path layout of the managed knowledge base.
func (m *Manager) Layout() Layout { return m.layout }

// Snapshot is everything persisted in the knowledge base at one moment.
type Snapshot struct {
	// Entities are questions, then answers, then notes, each in ID order.
	Entities []Entity

	// Topics and People are in slug order.
	Topics []Subject
	People []Subject
}

var entryKinds = []types.EntityKind{types.KindQuestion, types.KindAnswer, types.KindNote}

// Load reads every entity and subject file. Missing directories are empty;
// files that do not parse are logged and skipped.
func (m *Manager) Load() (*Snapshot, error) {
	snap := &Snapshot{}

	for _, kind := range entryKinds {
		files, err := markdownFiles(m.layout.KindDir(kind))
		if err != nil {
			return nil, err
		}
		var group []Entity
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return nil, err
			}
			e, err := DecodeEntity(data)
			if err != nil {
				m.logger.Warn("skipping unreadable entity file", zap.String("path", f), zap.Error(err))
				continue
			}
			if e.Kind != kind {
				m.logger.Warn("entity stored under the wrong directory",
					zap.String("path", f), zap.String("type", string(e.Kind)))
				continue
			}
			group = append(group, e)
		}
		slices.SortFunc(group, func(a, b Entity) int { return CompareIDs(a.ID, b.ID) })
		snap.Entities = append(snap.Entities, group...)
	}

	topicFiles, err := markdownFiles(m.layout.KindDir(types.KindTopic))
	if err != nil {
		return nil, err
	}
	for _, f := range topicFiles {
		if IsDescFile(filepath.Base(f)) {
			continue
		}
		if s, ok := m.loadSubject(f); ok {
			snap.Topics = append(snap.Topics, s)
		}
	}

	personDirs, err := os.ReadDir(m.layout.KindDir(types.KindPerson))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	for _, d := range personDirs {
		if !d.IsDir() {
			continue
		}
		f := filepath.Join(m.layout.KindDir(types.KindPerson), d.Name(), personIndex)
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if s, ok := m.loadSubject(f); ok {
			snap.People = append(snap.People, s)
		}
	}

	bySlug := func(a, b Subject) int { return strings.Compare(a.Slug(), b.Slug()) }
	slices.SortFunc(snap.Topics, bySlug)
	slices.SortFunc(snap.People, bySlug)
	return snap, nil
}

func (m *Manager) loadSubject(path string) (Subject, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		m.logger.Warn("skipping unreadable subject file", zap.String("path", path), zap.Error(err))
		return Subject{}, false
	}
	s, err := decodeSubject(data)
	if err != nil {
		m.logger.Warn("skipping unreadable subject file", zap.String("path", path), zap.Error(err))
		return Subject{}, false
	}
	return s, true
}

// markdownFiles lists the .md files directly inside dir in name order.
func markdownFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

// IDs returns the identity of every entity.
func (s *Snapshot) IDs() []string {
	out := make([]string, 0, len(s.Entities))
	for _, e := range s.Entities {
		out = append(out, e.ID)
	}
	return out
}

// ReferencedIDs returns the identities named in answered_by and question_id
// fields, sorted and without duplicates. They may name deleted entities.
func (s *Snapshot) ReferencedIDs() []string {
	var out []string
	for _, e := range s.Entities {
		out = append(out, e.AnsweredBy...)
		if e.QuestionID != "" {
			out = append(out, e.QuestionID)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Entity finds an entity by kind and identity.
func (s *Snapshot) Entity(kind types.EntityKind, id string) (Entity, bool) {
	for _, e := range s.Entities {
		if e.Kind == kind && e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

// OpenQuestions returns the questions not yet answered, in ID order.
func (s *Snapshot) OpenQuestions() []types.QuestionEntry {
	var out []types.QuestionEntry
	for _, e := range s.Entities {
		if e.Kind == types.KindQuestion && !e.Answered {
			out = append(out, e.Question())
		}
	}
	return out
}

// Referencing returns the entities that point at subj, in snapshot order.
func (s *Snapshot) Referencing(subj Subject) []Entity {
	var out []Entity
	for _, e := range s.Entities {
		if subj.references(e) {
			out = append(out, e)
		}
	}
	return out
}

// Subjects returns the topics or the people.
func (s *Snapshot) Subjects(kind types.EntityKind) []Subject {
	if kind == types.KindPerson {
		return s.People
	}
	return s.Topics
}

// Names returns the display names of the topics or people.
func (s *Snapshot) Names(kind types.EntityKind) []string {
	subjects := s.Subjects(kind)
	out := make([]string, 0, len(subjects))
	for _, subj := range subjects {
		out = append(out, subj.Name)
	}
	return out
}
