// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package knowledge maintains a SQLite full-text index over the entity files
// of a knowledge base. The files stay authoritative; the index is rebuilt
// from them incrementally and can be deleted at any time.
package knowledge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/logging"
	"github.com/pdiddy/kbforge/internal/structure"
	"github.com/pdiddy/kbforge/pkg/types"
)

// DefaultMaxResults bounds a query when neither the options nor the store set a limit.
const DefaultMaxResults = 20

// DefaultPath returns the index location for a knowledge base: a sibling of
// the output directory, so the index never shows up inside the tree.
func DefaultPath(output string) string {
	return filepath.Clean(output) + ".search.db"
}

// Store manages the search index database.
type Store struct {
	db         *sql.DB
	maxResults int
	logger     *zap.Logger
}

// Open opens or creates the index at cfg.DBPath and creates the schema if it
// does not exist.
func Open(cfg types.SearchConfig, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	s := &Store{db: db, maxResults: maxResults, logger: logging.OrNop(logger)}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			source TEXT NOT NULL,
			author TEXT NOT NULL,
			text TEXT NOT NULL,
			area TEXT,
			topics TEXT,
			people TEXT,
			created TEXT,
			answered INTEGER NOT NULL DEFAULT 0,
			answered_by TEXT,
			question_id TEXT,
			digest TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_source ON entities(source)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_question ON entities(question_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='entities_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}
	if ftsExists > 0 {
		return nil
	}

	ftsStatements := []string{
		`CREATE VIRTUAL TABLE entities_fts USING fts5(text, author, content=entities, content_rowid=rowid)`,
		`CREATE TRIGGER entities_ai AFTER INSERT ON entities BEGIN
			INSERT INTO entities_fts(rowid, text, author) VALUES (new.rowid, new.text, new.author);
		END`,
		`CREATE TRIGGER entities_ad AFTER DELETE ON entities BEGIN
			INSERT INTO entities_fts(entities_fts, rowid, text, author) VALUES('delete', old.rowid, old.text, old.author);
		END`,
		`CREATE TRIGGER entities_au AFTER UPDATE ON entities BEGIN
			INSERT INTO entities_fts(entities_fts, rowid, text, author) VALUES('delete', old.rowid, old.text, old.author);
			INSERT INTO entities_fts(rowid, text, author) VALUES (new.rowid, new.text, new.author);
		END`,
	}
	for _, stmt := range ftsStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating FTS infrastructure: %w", err)
		}
	}
	return nil
}

// IndexSummary holds counts from one Reindex call.
type IndexSummary struct {
	Indexed int
	Updated int
	Removed int
	Skipped int
}

// Total returns the number of entities in the knowledge base.
func (s IndexSummary) Total() int {
	return s.Indexed + s.Updated + s.Skipped
}

// row is one entity as stored in the index.
type row struct {
	id, kind, source, author, text, area string
	topics, people, answeredBy           string
	created, questionID                  string
	answered                             bool
}

func toRow(e structure.Entity) row {
	r := row{
		id:         e.ID,
		kind:       string(e.Kind),
		source:     e.Source,
		author:     e.Author,
		text:       e.Text,
		area:       e.Area,
		topics:     jsonList(e.Topics),
		people:     jsonList(e.People),
		answeredBy: jsonList(e.AnsweredBy),
		questionID: e.QuestionID,
		answered:   e.Answered,
	}
	if !e.Created.IsZero() {
		r.created = e.Created.UTC().Format(time.RFC3339Nano)
	}
	return r
}

// digest fingerprints every indexed column so unchanged entities are skipped.
func (r row) digest() string {
	h := sha256.New()
	for _, f := range []string{r.id, r.kind, r.source, r.author, r.text, r.area, r.topics, r.people, r.answeredBy, r.created, r.questionID} {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	if r.answered {
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func jsonList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(v)
	return string(data)
}

// Reindex brings the index in line with snap: new entities are inserted,
// changed ones updated and entities no longer on disk removed. It runs in one
// transaction.
func (s *Store) Reindex(ctx context.Context, snap *structure.Snapshot, w io.Writer) (IndexSummary, error) {
	if w == nil {
		w = io.Discard
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return IndexSummary{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	existing := map[string]string{}
	rows, err := tx.QueryContext(ctx, `SELECT id, digest FROM entities`)
	if err != nil {
		return IndexSummary{}, fmt.Errorf("reading index: %w", err)
	}
	for rows.Next() {
		var id, digest string
		if err := rows.Scan(&id, &digest); err != nil {
			rows.Close()
			return IndexSummary{}, fmt.Errorf("scanning index: %w", err)
		}
		existing[id] = digest
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return IndexSummary{}, fmt.Errorf("reading index: %w", err)
	}

	upsert, err := tx.PrepareContext(ctx,
		`INSERT INTO entities (id, type, source, author, text, area, topics, people, created, answered, answered_by, question_id, digest)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			type=excluded.type, source=excluded.source, author=excluded.author, text=excluded.text,
			area=excluded.area, topics=excluded.topics, people=excluded.people, created=excluded.created,
			answered=excluded.answered, answered_by=excluded.answered_by,
			question_id=excluded.question_id, digest=excluded.digest`)
	if err != nil {
		return IndexSummary{}, fmt.Errorf("preparing upsert: %w", err)
	}
	defer upsert.Close()

	var summary IndexSummary
	seen := make(map[string]bool, len(snap.Entities))
	for _, e := range snap.Entities {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		r := toRow(e)
		d := r.digest()
		seen[r.id] = true

		old, ok := existing[r.id]
		if ok && old == d {
			summary.Skipped++
			continue
		}
		if _, err := upsert.ExecContext(ctx,
			r.id, r.kind, r.source, r.author, r.text, r.area, r.topics, r.people,
			r.created, r.answered, r.answeredBy, r.questionID, d,
		); err != nil {
			return summary, fmt.Errorf("indexing %s: %w", r.id, err)
		}
		if ok {
			summary.Updated++
		} else {
			summary.Indexed++
		}
	}

	for id := range existing {
		if seen[id] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id); err != nil {
			return summary, fmt.Errorf("removing %s: %w", id, err)
		}
		summary.Removed++
	}

	if err := tx.Commit(); err != nil {
		return summary, fmt.Errorf("committing index: %w", err)
	}

	fmt.Fprintf(w, "indexed: %d, updated: %d, removed: %d, unchanged: %d\n",
		summary.Indexed, summary.Updated, summary.Removed, summary.Skipped)
	s.logger.Info("search index refreshed",
		zap.Int("indexed", summary.Indexed),
		zap.Int("updated", summary.Updated),
		zap.Int("removed", summary.Removed),
		zap.Int("unchanged", summary.Skipped))
	return summary, nil
}
