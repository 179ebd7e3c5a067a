// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cleaner

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/kbforge/internal/kbtest"
	"github.com/pdiddy/kbforge/internal/rollback"
	"github.com/pdiddy/kbforge/internal/structure"
	"github.com/pdiddy/kbforge/pkg/types"
)

func build(t *testing.T, root string) {
	t.Helper()
	m := structure.NewManager(root, nil)
	r := types.NewAnalysisResult()
	r.Questions = append(r.Questions,
		types.QuestionEntry{EntryBase: types.EntryBase{ID: "Q1", Author: "Alice", Text: "Teams question?", Source: "teams_chat", Topics: []string{"Deploy"}}},
		types.QuestionEntry{EntryBase: types.EntryBase{ID: "Q2", Author: "Bob", Text: "Email question?", Source: "email"}},
	)
	r.Answers = append(r.Answers, types.AnswerEntry{EntryBase: types.EntryBase{ID: "A1", Author: "Carol", Text: "Teams answer.", Source: "teams_chat"}})
	r.Notes = append(r.Notes, types.NoteEntry{EntryBase: types.EntryBase{ID: "N1", Author: "Dana", Text: "Email note.", Source: "email"}})
	_, err := m.Build(r, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), rollback.Direct{})
	require.NoError(t, err)
	kbtest.WriteFile(t, filepath.Join(root, "inbox", "raw", "20240301T000000Z_chunk_001.json"), "[]")
	kbtest.WriteFile(t, filepath.Join(root, "source-config.json"), "{}\n")
}

func TestCleanRemovesOnlyTheSource(t *testing.T) {
	root := t.TempDir()
	build(t, root)
	kbtest.WriteFile(t, filepath.Join(root, "notes", "stray.md"), "not an entity")
	before := kbtest.Snapshot(t, root)

	n, err := New(root, nil).Clean("teams_chat", rollback.Direct{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	after := kbtest.Snapshot(t, root)
	for path, content := range before {
		switch path {
		case "questions/Q1.md", "answers/A1.md":
			assert.NotContains(t, after, path)
		default:
			assert.Equal(t, content, after[path], path)
		}
	}
	assert.Len(t, after, len(before)-2)
}

func TestCleanUnlinksQuestionsOfOtherSources(t *testing.T) {
	root := t.TempDir()
	m := structure.NewManager(root, nil)
	r := types.NewAnalysisResult()
	r.Questions = append(r.Questions,
		types.QuestionEntry{
			EntryBase:  types.EntryBase{ID: "Q1", Author: "Alice", Text: "Who owns deploys?", Source: "slack"},
			Answered:   true,
			AnsweredBy: []string{"A1"},
		},
		types.QuestionEntry{
			EntryBase:  types.EntryBase{ID: "Q2", Author: "Bob", Text: "Where are the runbooks?", Source: "slack"},
			Answered:   true,
			AnsweredBy: []string{"A1", "N1"},
		},
	)
	r.Answers = append(r.Answers, types.AnswerEntry{
		EntryBase:  types.EntryBase{ID: "A1", Author: "Carol", Text: "Platform team.", Source: "teams_chat"},
		QuestionID: "Q1",
	})
	r.Notes = append(r.Notes, types.NoteEntry{
		EntryBase:  types.EntryBase{ID: "N1", Author: "Dana", Text: "Runbooks live in the wiki.", Source: "email"},
		QuestionID: "Q2",
	})
	_, err := m.Build(r, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), rollback.Direct{})
	require.NoError(t, err)
	before := kbtest.Snapshot(t, root)

	j := rollback.NewJournal(nil)
	n, err := New(root, nil).Clean("teams_chat", j)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, err := m.Load()
	require.NoError(t, err)
	q1, ok := snap.Entity(types.KindQuestion, "Q1")
	require.True(t, ok)
	assert.False(t, q1.Answered)
	assert.Empty(t, q1.AnsweredBy)
	q2, ok := snap.Entity(types.KindQuestion, "Q2")
	require.True(t, ok)
	assert.True(t, q2.Answered)
	assert.Equal(t, []string{"N1"}, q2.AnsweredBy)

	var open []string
	for _, q := range snap.OpenQuestions() {
		open = append(open, q.ID)
	}
	assert.Equal(t, []string{"Q1"}, open)

	require.NoError(t, j.Rollback())
	assert.Equal(t, before, kbtest.Snapshot(t, root))
}

func TestCleanUnknownSource(t *testing.T) {
	root := t.TempDir()
	build(t, root)
	n, err := New(root, nil).Clean("slack", rollback.Direct{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanOutputKeepsInboxAndSourceConfig(t *testing.T) {
	root := t.TempDir()
	build(t, root)
	_, err := structure.NewManager(root, nil).RegenerateIndexes(rollback.Direct{})
	require.NoError(t, err)
	before := kbtest.Snapshot(t, root)

	j := rollback.NewJournal(nil)
	n, err := New(root, nil).CleanOutput(j)
	require.NoError(t, err)
	assert.Positive(t, n)

	after := kbtest.Snapshot(t, root)
	assert.Equal(t, []string{
		"inbox", "inbox/raw", "inbox/raw/20240301T000000Z_chunk_001.json", "source-config.json",
	}, kbtest.Paths(after, ""))

	require.NoError(t, j.Rollback())
	assert.Equal(t, before, kbtest.Snapshot(t, root))
}
