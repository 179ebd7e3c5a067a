// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package structure

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/kbforge/pkg/types"
)

const frontMatterDelim = "---"

// Entity is the persisted form of a question, answer or note.
type Entity struct {
	Kind types.EntityKind
	types.EntryBase

	// Created is the ingestion datetime of the run that first wrote the entity.
	Created time.Time

	// Answered and AnsweredBy apply to questions only.
	Answered   bool
	AnsweredBy []string

	// QuestionID applies to answers and notes.
	QuestionID string
}

// entityHeader is the YAML front matter of an entity file. Field order here
// is the order on disk.
type entityHeader struct {
	ID         string           `yaml:"id"`
	Type       types.EntityKind `yaml:"type"`
	Author     string           `yaml:"author"`
	Source     string           `yaml:"source"`
	Created    string           `yaml:"created"`
	Timestamp  string           `yaml:"timestamp,omitempty"`
	Area       string           `yaml:"area,omitempty"`
	Topics     []string         `yaml:"topics,omitempty"`
	People     []string         `yaml:"people,omitempty"`
	Answered   *bool            `yaml:"answered,omitempty"`
	AnsweredBy []string         `yaml:"answered_by,omitempty"`
	QuestionID string           `yaml:"question_id,omitempty"`
}

// QuestionEntity converts a question entry.
func QuestionEntity(q types.QuestionEntry, created time.Time) Entity {
	return Entity{
		Kind:       types.KindQuestion,
		EntryBase:  q.EntryBase,
		Created:    created,
		Answered:   q.Answered,
		AnsweredBy: q.AnsweredBy,
	}
}

// AnswerEntity converts an answer entry.
func AnswerEntity(a types.AnswerEntry, created time.Time) Entity {
	return Entity{Kind: types.KindAnswer, EntryBase: a.EntryBase, Created: created, QuestionID: a.QuestionID}
}

// NoteEntity converts a note entry.
func NoteEntity(n types.NoteEntry, created time.Time) Entity {
	return Entity{Kind: types.KindNote, EntryBase: n.EntryBase, Created: created, QuestionID: n.QuestionID}
}

// Question returns the entity as a question entry.
func (e Entity) Question() types.QuestionEntry {
	return types.QuestionEntry{EntryBase: e.EntryBase, Answered: e.Answered, AnsweredBy: e.AnsweredBy}
}

// EncodeEntity renders the entity as Markdown with YAML front matter. The
// output depends only on the entity, so rewriting an unchanged entity
// produces identical bytes.
func EncodeEntity(e Entity) ([]byte, error) {
	h := entityHeader{
		ID:         e.ID,
		Type:       e.Kind,
		Author:     e.Author,
		Source:     e.Source,
		Created:    formatTime(e.Created),
		Timestamp:  formatTime(e.Timestamp),
		Area:       e.Area,
		Topics:     e.Topics,
		People:     e.People,
		QuestionID: e.QuestionID,
	}
	if e.Kind == types.KindQuestion {
		answered := e.Answered
		h.Answered = &answered
		h.AnsweredBy = e.AnsweredBy
	}
	return encodeDocument(h, strings.TrimSpace(e.Text)+"\n")
}

// DecodeEntity parses a file written by EncodeEntity.
func DecodeEntity(data []byte) (Entity, error) {
	var h entityHeader
	body, err := decodeDocument(data, &h)
	if err != nil {
		return Entity{}, err
	}
	if h.ID == "" {
		return Entity{}, errors.New("front matter has no id")
	}
	switch h.Type {
	case types.KindQuestion, types.KindAnswer, types.KindNote:
	default:
		return Entity{}, fmt.Errorf("entity %s has unsupported type %q", h.ID, h.Type)
	}

	e := Entity{
		Kind: h.Type,
		EntryBase: types.EntryBase{
			ID:        h.ID,
			Text:      strings.TrimSpace(body),
			Author:    h.Author,
			Timestamp: parseTime(h.Timestamp),
			Source:    h.Source,
			Topics:    h.Topics,
			Area:      h.Area,
			People:    h.People,
		},
		Created:    parseTime(h.Created),
		AnsweredBy: h.AnsweredBy,
		QuestionID: h.QuestionID,
	}
	if h.Answered != nil {
		e.Answered = *h.Answered
	}
	return e, nil
}

func encodeDocument(header any, body string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(header); err != nil {
		return nil, fmt.Errorf("encoding front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding front matter: %w", err)
	}
	buf.WriteString(frontMatterDelim + "\n\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}

// decodeDocument unmarshals the front matter into header and returns the body.
func decodeDocument(data []byte, header any) (string, error) {
	s := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(s, frontMatterDelim+"\n") {
		return "", errors.New("missing front matter")
	}
	rest := s[len(frontMatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelim+"\n")
	if end < 0 {
		if !strings.HasSuffix(rest, "\n"+frontMatterDelim) {
			return "", errors.New("unterminated front matter")
		}
		end = len(rest) - len(frontMatterDelim) - 1
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), header); err != nil {
		return "", fmt.Errorf("parsing front matter: %w", err)
	}
	body := ""
	if start := end + len(frontMatterDelim) + 2; start < len(rest) {
		body = rest[start:]
	}
	return body, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
