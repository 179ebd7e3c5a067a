// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the data shared by kbforge pipeline stages: raw
// inputs and chunks, analysis results, persisted entities, run configuration
// and the error categories a run can fail with.
package types

import (
	"slices"
	"strings"
	"time"
)

// EntityKind categorizes a persisted knowledge base entity.
type EntityKind string

const (
	KindQuestion EntityKind = "question"
	KindAnswer   EntityKind = "answer"
	KindNote     EntityKind = "note"
	KindTopic    EntityKind = "topic"
	KindPerson   EntityKind = "person"
)

// IDPrefix returns the identity prefix for entry kinds (Q, A, N).
func (k EntityKind) IDPrefix() string {
	switch k {
	case KindQuestion:
		return "Q"
	case KindAnswer:
		return "A"
	case KindNote:
		return "N"
	}
	return strings.ToUpper(string(k))
}

// Dir returns the knowledge base subdirectory holding entities of this kind.
func (k EntityKind) Dir() string {
	switch k {
	case KindQuestion:
		return "questions"
	case KindAnswer:
		return "answers"
	case KindNote:
		return "notes"
	case KindTopic:
		return "topics"
	case KindPerson:
		return "people"
	}
	return string(k)
}

// EntryBase holds the fields shared by questions, answers and notes.
type EntryBase struct {
	// ID is the entity identity, unique within a knowledge base.
	ID string `json:"id" yaml:"id"`

	// Text is the question, answer or note content.
	Text string `json:"text" yaml:"text" validate:"notblank"`

	// Author is the person who wrote the message the entry came from.
	Author string `json:"author" yaml:"author" validate:"notblank"`

	// Timestamp is when the underlying message was written, if known.
	Timestamp time.Time `json:"timestamp,omitzero" yaml:"timestamp,omitempty"`

	// Source is the ingestion channel that produced the entry.
	Source string `json:"source" yaml:"source"`

	// Topics are free-form topic names the entry relates to.
	Topics []string `json:"topics,omitempty" yaml:"topics,omitempty"`

	// Area is a coarse grouping above topics (e.g. "infrastructure").
	Area string `json:"area,omitempty" yaml:"area,omitempty"`

	// People lists persons mentioned by the entry besides its author.
	People []string `json:"people,omitempty" yaml:"people,omitempty"`

	// Chunk is the index of the chunk the entry was extracted from.
	Chunk int `json:"chunk" yaml:"-"`
}

// QuestionEntry is a question raised in a conversation.
type QuestionEntry struct {
	EntryBase `yaml:",inline"`

	// LocalRef is the backend's chunk-local handle, used by answers in the same chunk.
	LocalRef string `json:"local_ref,omitempty" yaml:"-"`

	// Answered marks a question closed by an answer or note.
	Answered bool `json:"answered" yaml:"answered"`

	// AnsweredBy lists the answer and note IDs that resolved the question.
	AnsweredBy []string `json:"answered_by,omitempty" yaml:"answered_by,omitempty"`
}

// MarkAnsweredBy flags the question as answered and records entryID once.
func (q *QuestionEntry) MarkAnsweredBy(entryID string) {
	q.Answered = true
	if !slices.Contains(q.AnsweredBy, entryID) {
		q.AnsweredBy = append(q.AnsweredBy, entryID)
	}
}

// AnswerEntry is a reply that resolves, or attempts to resolve, a question.
type AnswerEntry struct {
	EntryBase `yaml:",inline"`

	// QuestionRef is the backend's chunk-local reference to a question.
	QuestionRef string `json:"question_ref,omitempty" yaml:"-"`

	// QuestionID links the answer to the question it resolves.
	QuestionID string `json:"question_id,omitempty" yaml:"question_id,omitempty"`
}

// NoteEntry is a statement worth keeping that is not a question or answer.
type NoteEntry struct {
	EntryBase `yaml:",inline"`

	// QuestionID links the note to a question it turned out to resolve.
	QuestionID string `json:"question_id,omitempty" yaml:"question_id,omitempty"`
}

// AnalysisResult holds the ordered entries extracted from one run's input.
type AnalysisResult struct {
	Questions []QuestionEntry `json:"questions" yaml:"questions"`
	Answers   []AnswerEntry   `json:"answers" yaml:"answers"`
	Notes     []NoteEntry     `json:"notes" yaml:"notes"`

	// Resolved holds previously persisted questions answered during this run.
	Resolved []QuestionEntry `json:"resolved" yaml:"resolved"`
}

// NewAnalysisResult returns a result with empty, non-nil lists.
func NewAnalysisResult() *AnalysisResult {
	return &AnalysisResult{
		Questions: []QuestionEntry{},
		Answers:   []AnswerEntry{},
		Notes:     []NoteEntry{},
		Resolved:  []QuestionEntry{},
	}
}

// Normalize replaces nil lists with empty ones.
func (r *AnalysisResult) Normalize() {
	if r.Questions == nil {
		r.Questions = []QuestionEntry{}
	}
	if r.Answers == nil {
		r.Answers = []AnswerEntry{}
	}
	if r.Notes == nil {
		r.Notes = []NoteEntry{}
	}
	if r.Resolved == nil {
		r.Resolved = []QuestionEntry{}
	}
}

// Bases returns the shared fields of every new entry, questions first.
func (r *AnalysisResult) Bases() []EntryBase {
	out := make([]EntryBase, 0, len(r.Questions)+len(r.Answers)+len(r.Notes))
	for _, q := range r.Questions {
		out = append(out, q.EntryBase)
	}
	for _, a := range r.Answers {
		out = append(out, a.EntryBase)
	}
	for _, n := range r.Notes {
		out = append(out, n.EntryBase)
	}
	return out
}

// KBContext is a read-only snapshot of the knowledge base taken at the start of a run.
type KBContext struct {
	// OpenQuestions are persisted questions not yet marked answered, in ID order.
	OpenQuestions []QuestionEntry `json:"open_questions" yaml:"open_questions"`

	// Topics are the display names of known topics.
	Topics []string `json:"topics" yaml:"topics"`

	// People are the display names of known persons.
	People []string `json:"people" yaml:"people"`

	knownIDs map[string]bool
	reserved map[string]bool
}

// NewKBContext builds a snapshot. ids lists every persisted entity identity.
func NewKBContext(open []QuestionEntry, topics, people, ids []string) *KBContext {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	if open == nil {
		open = []QuestionEntry{}
	}
	return &KBContext{
		OpenQuestions: open,
		Topics:        topics,
		People:        people,
		knownIDs:      known,
	}
}

// HasID reports whether id is already used by a persisted entity.
func (c *KBContext) HasID(id string) bool {
	if c == nil {
		return false
	}
	return c.knownIDs[id]
}

// Reserve marks identities that persisted entities still refer to
// (answered_by, question_id) even though no entity carries them any more.
func (c *KBContext) Reserve(ids ...string) {
	if c.reserved == nil {
		c.reserved = make(map[string]bool, len(ids))
	}
	for _, id := range ids {
		c.reserved[id] = true
	}
}

// IsReserved reports whether id is referenced by a persisted entity.
func (c *KBContext) IsReserved(id string) bool {
	if c == nil {
		return false
	}
	return c.reserved[id]
}

// OpenQuestion returns the open question with the given ID.
func (c *KBContext) OpenQuestion(id string) (QuestionEntry, bool) {
	if c == nil {
		return QuestionEntry{}, false
	}
	for _, q := range c.OpenQuestions {
		if q.ID == id {
			return q, true
		}
	}
	return QuestionEntry{}, false
}

// QAMapping links a new answer or note to a question with a confidence score.
type QAMapping struct {
	EntryID    string  `json:"entry_id" yaml:"entry_id"`
	QuestionID string  `json:"question_id" yaml:"question_id"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// KBResult summarizes a run for the caller. It is never persisted.
type KBResult struct {
	Success   bool   `json:"success" yaml:"success"`
	Message   string `json:"message" yaml:"message"`
	RunID     string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Questions int    `json:"questions" yaml:"questions"`
	Answers   int    `json:"answers" yaml:"answers"`
	Notes     int    `json:"notes" yaml:"notes"`
	Topics    int    `json:"topics" yaml:"topics"`
	Areas     int    `json:"areas" yaml:"areas"`
	People    int    `json:"people" yaml:"people"`
}

// SourceConfig maps source names to their last-synced datetime.
type SourceConfig map[string]time.Time

// NormalizeText folds case and whitespace so equivalent texts compare equal.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
