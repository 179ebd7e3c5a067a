// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/kbforge/internal/rollback"
	"github.com/pdiddy/kbforge/internal/structure"
	"github.com/pdiddy/kbforge/pkg/types"
)

var created = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// buildKB writes a small knowledge base and returns its loaded snapshot.
func buildKB(t *testing.T, root string) *structure.Snapshot {
	t.Helper()
	m := structure.NewManager(root, nil)
	r := types.NewAnalysisResult()
	r.Questions = append(r.Questions,
		types.QuestionEntry{
			EntryBase:  types.EntryBase{ID: "Q1", Author: "Alice", Text: "How do we deploy the billing service?", Source: "teams_chat", Topics: []string{"Deploy"}},
			Answered:   true,
			AnsweredBy: []string{"A1"},
		},
		types.QuestionEntry{EntryBase: types.EntryBase{ID: "Q2", Author: "Bob", Text: "Who owns the on-call rotation?", Source: "email", Topics: []string{"On-call"}}},
	)
	r.Answers = append(r.Answers, types.AnswerEntry{
		EntryBase:  types.EntryBase{ID: "A1", Author: "Carol", Text: "Billing deploys through the release pipeline.", Source: "teams_chat", Topics: []string{"Deploy"}},
		QuestionID: "Q1",
	})
	r.Notes = append(r.Notes, types.NoteEntry{
		EntryBase:  types.EntryBase{ID: "N1", Author: "Dana", Text: "Deploys freeze on Fridays.", Source: "email", Topics: []string{"deploy"}},
		QuestionID: "Q1",
	})
	_, err := m.Build(r, created, rollback.Direct{})
	require.NoError(t, err)

	snap, err := m.Load()
	require.NoError(t, err)
	return snap
}

func testStore(t *testing.T) (*Store, *structure.Snapshot, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "kb")
	snap := buildKB(t, root)

	s, err := Open(types.SearchConfig{DBPath: DefaultPath(root)}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.Reindex(context.Background(), snap, nil)
	require.NoError(t, err)
	return s, snap, root
}

func ids(results []Result) []string {
	var out []string
	for _, r := range results {
		out = append(out, r.ID)
	}
	return out
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "kb.search.db"), DefaultPath(filepath.Join("data", "kb")+"/"))
}

func TestReindexIsIncremental(t *testing.T) {
	s, snap, root := testStore(t)
	ctx := context.Background()

	var out bytes.Buffer
	sum, err := s.Reindex(ctx, snap, &out)
	require.NoError(t, err)
	assert.Equal(t, IndexSummary{Skipped: 4}, sum)
	assert.Equal(t, "indexed: 0, updated: 0, removed: 0, unchanged: 4\n", out.String())

	// Answer Q2 on disk and drop N1.
	m := structure.NewManager(root, nil)
	r := types.NewAnalysisResult()
	r.Answers = append(r.Answers, types.AnswerEntry{
		EntryBase:  types.EntryBase{ID: "A2", Author: "Erin", Text: "Platform owns on-call.", Source: "email"},
		QuestionID: "Q2",
	})
	q2, ok := snap.Entity(types.KindQuestion, "Q2")
	require.True(t, ok)
	resolved := q2.Question()
	resolved.MarkAnsweredBy("A2")
	r.Resolved = append(r.Resolved, resolved)
	_, err = m.Build(r, created.Add(time.Hour), rollback.Direct{})
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "notes", "N1.md")))

	snap, err = m.Load()
	require.NoError(t, err)
	sum, err = s.Reindex(ctx, snap, nil)
	require.NoError(t, err)
	assert.Equal(t, IndexSummary{Indexed: 1, Updated: 1, Removed: 1, Skipped: 2}, sum)
	assert.Equal(t, 4, sum.Total())

	open, err := s.Retrieve(ctx, QueryOptions{OpenOnly: true})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRetrieve(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		opts QueryOptions
		want []string
	}{
		{"all entities in kind order", QueryOptions{}, []string{"Q1", "Q2", "A1", "N1"}},
		{"full text", QueryOptions{Query: "billing"}, []string{"Q1", "A1"}},
		{"full text ANDs words", QueryOptions{Query: "billing pipeline"}, []string{"A1"}},
		{"punctuation is harmless", QueryOptions{Query: `rotation? "on-call`}, []string{"Q2"}},
		{"author is searchable", QueryOptions{Query: "dana"}, []string{"N1"}},
		{"type filter", QueryOptions{Type: types.KindQuestion}, []string{"Q1", "Q2"}},
		{"source filter", QueryOptions{Source: "email"}, []string{"Q2", "N1"}},
		{"topic filter ignores case", QueryOptions{Topic: "DEPLOY"}, []string{"Q1", "A1", "N1"}},
		{"open questions", QueryOptions{OpenOnly: true}, []string{"Q2"}},
		{"limit", QueryOptions{MaxResults: 1}, []string{"Q1"}},
		{"no match", QueryOptions{Query: "kubernetes"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Retrieve(ctx, tt.opts)
			require.NoError(t, err)
			if tt.opts.Query != "" && len(tt.want) > 1 {
				assert.ElementsMatch(t, tt.want, ids(got))
				return
			}
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestRetrieveFields(t *testing.T) {
	s, _, _ := testStore(t)
	got, err := s.Retrieve(context.Background(), QueryOptions{Query: "deploy billing", Type: types.KindQuestion})
	require.NoError(t, err)
	require.Len(t, got, 1)

	q := got[0]
	assert.Equal(t, types.KindQuestion, q.Type)
	assert.Equal(t, "teams_chat", q.Source)
	assert.Equal(t, "Alice", q.Author)
	assert.Equal(t, []string{"Deploy"}, q.Topics)
	assert.True(t, q.Answered)
	assert.Equal(t, []string{"A1"}, q.AnsweredBy)
	assert.True(t, q.Created.Equal(created))
}

func TestThread(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()

	got, err := s.Thread(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Q1", "A1", "N1"}, ids(got))

	_, err = s.Thread(ctx, "A1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExport(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, s.Export(ctx, &buf, FormatJSON, QueryOptions{Source: "email"}))
		var got []Result
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, []string{"Q2", "N1"}, ids(got))
		assert.Equal(t, "Q1", got[1].QuestionID)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, s.Export(ctx, &buf, FormatYAML, QueryOptions{Type: types.KindAnswer}))
		var got []Result
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, []string{"A1"}, ids(got))
		assert.Contains(t, buf.String(), "question_id: Q1")
	})

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, s.Export(ctx, &buf, FormatJSON, QueryOptions{Query: "kubernetes"}))
		assert.Equal(t, "[]\n", buf.String())
	})
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"json": FormatJSON, "YAML": FormatYAML, " yml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("csv")
	assert.Error(t, err)
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"how" "we"`, ftsQuery("  how   we "))
	assert.Equal(t, `"say""hi"""`, ftsQuery(`say"hi"`))
	assert.Empty(t, ftsQuery("   "))
}
