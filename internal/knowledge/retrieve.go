// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/kbforge/pkg/types"
)

// ErrNotFound reports an ID with no indexed entity.
var ErrNotFound = errors.New("entity not found")

// QueryOptions holds parameters for index queries.
type QueryOptions struct {
	// Query is free text matched against entity text and author. Every word
	// must match.
	Query string

	// Type filters by entity kind (question, answer, note).
	Type types.EntityKind

	// Source filters by the source that produced the entity.
	Source string

	// Topic filters by topic name, case-insensitively.
	Topic string

	// OpenOnly keeps only unanswered questions.
	OpenOnly bool

	// MaxResults limits result count. Zero uses the store default.
	MaxResults int
}

// IsEmpty reports whether the query has no search terms or filters.
func (q QueryOptions) IsEmpty() bool {
	return q.Query == "" && q.Type == "" && q.Source == "" && q.Topic == "" && !q.OpenOnly
}

// Result is one indexed entity.
type Result struct {
	ID         string           `json:"id" yaml:"id"`
	Type       types.EntityKind `json:"type" yaml:"type"`
	Source     string           `json:"source" yaml:"source"`
	Author     string           `json:"author" yaml:"author"`
	Text       string           `json:"text" yaml:"text"`
	Area       string           `json:"area,omitempty" yaml:"area,omitempty"`
	Topics     []string         `json:"topics,omitempty" yaml:"topics,omitempty"`
	People     []string         `json:"people,omitempty" yaml:"people,omitempty"`
	Created    time.Time        `json:"created,omitzero" yaml:"created,omitempty"`
	Answered   bool             `json:"answered,omitempty" yaml:"answered,omitempty"`
	AnsweredBy []string         `json:"answered_by,omitempty" yaml:"answered_by,omitempty"`
	QuestionID string           `json:"question_id,omitempty" yaml:"question_id,omitempty"`
}

const selectColumns = `e.id, e.type, e.source, e.author, e.text, e.area, e.topics, e.people,
	e.created, e.answered, e.answered_by, e.question_id`

// kindOrder sorts questions, answers and notes, then IDs naturally.
const kindOrder = `CASE e.type WHEN 'question' THEN 0 WHEN 'answer' THEN 1 ELSE 2 END, length(e.id), e.id`

// Retrieve queries the index with optional full-text search and structured
// filters. Full-text results are ranked by relevance; filter-only results
// are sorted by kind and ID.
func (s *Store) Retrieve(ctx context.Context, opts QueryOptions) ([]Result, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.maxResults
	}

	var (
		qb     strings.Builder
		args   []any
		match  = ftsQuery(opts.Query)
		useFTS = match != ""
	)

	if useFTS {
		qb.WriteString(`SELECT ` + selectColumns + `
			FROM entities_fts
			JOIN entities e ON e.rowid = entities_fts.rowid
			WHERE entities_fts MATCH ?`)
		args = append(args, match)
	} else {
		qb.WriteString(`SELECT ` + selectColumns + ` FROM entities e WHERE 1=1`)
	}

	if opts.Type != "" {
		qb.WriteString(` AND e.type = ?`)
		args = append(args, string(opts.Type))
	}
	if opts.Source != "" {
		qb.WriteString(` AND e.source = ?`)
		args = append(args, opts.Source)
	}
	if opts.Topic != "" {
		qb.WriteString(` AND EXISTS (SELECT 1 FROM json_each(e.topics) WHERE lower(value) = lower(?))`)
		args = append(args, opts.Topic)
	}
	if opts.OpenOnly {
		qb.WriteString(` AND e.type = 'question' AND e.answered = 0`)
	}

	if useFTS {
		qb.WriteString(` ORDER BY entities_fts.rank`)
	} else {
		qb.WriteString(` ORDER BY ` + kindOrder)
	}
	qb.WriteString(` LIMIT ?`)
	args = append(args, maxResults)

	return s.query(ctx, qb.String(), args...)
}

// Thread returns a question followed by the answers and notes linked to it.
func (s *Store) Thread(ctx context.Context, questionID string) ([]Result, error) {
	head, err := s.query(ctx, `SELECT `+selectColumns+` FROM entities e WHERE e.id = ? AND e.type = 'question'`, questionID)
	if err != nil {
		return nil, err
	}
	if len(head) == 0 {
		return nil, fmt.Errorf("%w: question %s", ErrNotFound, questionID)
	}
	linked, err := s.query(ctx, `SELECT `+selectColumns+` FROM entities e WHERE e.question_id = ? ORDER BY `+kindOrder, questionID)
	if err != nil {
		return nil, err
	}
	return append(head, linked...), nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying search index: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r                          Result
			kind                       string
			area, created, questionID  sql.NullString
			topics, people, answeredBy sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &kind, &r.Source, &r.Author, &r.Text, &area, &topics, &people,
			&created, &r.Answered, &answeredBy, &questionID,
		); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.Type = types.EntityKind(kind)
		r.Area = area.String
		r.QuestionID = questionID.String
		if created.Valid && created.String != "" {
			if ts, err := time.Parse(time.RFC3339Nano, created.String); err == nil {
				r.Created = ts
			}
		}
		r.Topics = decodeList(topics)
		r.People = decodeList(people)
		r.AnsweredBy = decodeList(answeredBy)
		results = append(results, r)
	}
	return results, rows.Err()
}

func decodeList(v sql.NullString) []string {
	if !v.Valid {
		return nil
	}
	var out []string
	json.Unmarshal([]byte(v.String), &out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// ftsQuery turns free text into an FTS5 expression: each word becomes a
// quoted phrase, so punctuation in user input cannot break the syntax, and
// the phrases are ANDed.
func ftsQuery(q string) string {
	words := strings.Fields(q)
	for i, w := range words {
		words[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(words, " ")
}
