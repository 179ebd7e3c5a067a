// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package mapping

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pdiddy/kbforge/internal/kbtest"
	"github.com/pdiddy/kbforge/pkg/types"
)

func kbWithOpen(ids ...string) *types.KBContext {
	var open []types.QuestionEntry
	for _, id := range ids {
		open = append(open, types.QuestionEntry{EntryBase: types.EntryBase{ID: id, Author: "Alice", Text: "Question " + id, Source: "teams_chat"}})
	}
	return types.NewKBContext(open, nil, nil, ids)
}

func answer(id string) types.AnswerEntry {
	return types.AnswerEntry{EntryBase: types.EntryBase{ID: id, Author: "Bob", Text: "Answer " + id}}
}

func TestApplyThreshold(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		linked     bool
	}{
		{"above", 0.9, true},
		{"at threshold", 0.7, true},
		{"below", 0.69, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := types.NewAnalysisResult()
			result.Answers = append(result.Answers, answer("A1"))
			backend := &kbtest.Mapper{Mappings: []types.QAMapping{{EntryID: "A1", QuestionID: "Q1", Confidence: tt.confidence}}}

			sum := NewMapper(backend, types.MappingConfig{ConfidenceThreshold: 0.7}, nil).
				Apply(context.Background(), result, kbWithOpen("Q1"), "")

			if tt.linked {
				assert.Equal(t, 1, sum.Linked)
				assert.Equal(t, "Q1", result.Answers[0].QuestionID)
				require.Len(t, result.Resolved, 1)
				assert.True(t, result.Resolved[0].Answered)
				assert.Equal(t, []string{"A1"}, result.Resolved[0].AnsweredBy)
			} else {
				assert.Zero(t, sum.Linked)
				assert.Empty(t, result.Answers[0].QuestionID)
				assert.Empty(t, result.Resolved)
			}
		})
	}
}

func TestApplyPicksMostConfidentKnownCandidate(t *testing.T) {
	result := types.NewAnalysisResult()
	result.Questions = append(result.Questions, types.QuestionEntry{EntryBase: types.EntryBase{ID: "Q3", Author: "Carol", Text: "New?"}})
	result.Answers = append(result.Answers, answer("A1"))
	result.Notes = append(result.Notes, types.NoteEntry{EntryBase: types.EntryBase{ID: "N1", Author: "Dana", Text: "FYI"}})

	backend := &kbtest.Mapper{Mappings: []types.QAMapping{
		{EntryID: "A1", QuestionID: "Q1", Confidence: 0.8},
		{EntryID: "A1", QuestionID: "Q3", Confidence: 0.95},
		{EntryID: "A1", QuestionID: "Q99", Confidence: 0.99},
		{EntryID: "N7", QuestionID: "Q1", Confidence: 0.99},
		{EntryID: "N1", QuestionID: "Q1", Confidence: 0.75},
	}}

	sum := NewMapper(backend, types.MappingConfig{}, nil).Apply(context.Background(), result, kbWithOpen("Q1"), "be strict")

	assert.Equal(t, 5, sum.Proposed)
	assert.Equal(t, 3, sum.Accepted)
	assert.Equal(t, 2, sum.Linked)

	assert.Equal(t, "Q3", result.Answers[0].QuestionID)
	assert.True(t, result.Questions[0].Answered)
	assert.Equal(t, []string{"A1"}, result.Questions[0].AnsweredBy)

	assert.Equal(t, "Q1", result.Notes[0].QuestionID)
	require.Len(t, result.Resolved, 1)
	assert.Equal(t, []string{"N1"}, result.Resolved[0].AnsweredBy)

	// Both knowledge base and new open questions were offered.
	require.Len(t, backend.Open, 1)
	require.Len(t, backend.Open[0], 2)
	assert.Equal(t, "Q1", backend.Open[0][0].ID)
	assert.Equal(t, "Q3", backend.Open[0][1].ID)
}

func TestApplyPreLinkedEntries(t *testing.T) {
	kb := kbWithOpen("Q1")
	result := types.NewAnalysisResult()
	a := answer("A1")
	a.QuestionID = "Q1"
	result.Answers = append(result.Answers, a)

	backend := &kbtest.Mapper{}
	sum := NewMapper(backend, types.MappingConfig{}, nil).Apply(context.Background(), result, kb, "")

	assert.Equal(t, 1, sum.Linked)
	require.Len(t, result.Resolved, 1)
	assert.Equal(t, "Q1", result.Resolved[0].ID)
	assert.Zero(t, backend.Calls, "no unlinked entries and no open questions left")
	assert.False(t, kb.OpenQuestions[0].Answered, "the context snapshot is not modified")
}

func TestApplyBackendFailureIsNotFatal(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	result := types.NewAnalysisResult()
	result.Answers = append(result.Answers, answer("A1"))

	backend := &kbtest.Mapper{Err: errors.New("timeout")}
	sum := NewMapper(backend, types.MappingConfig{}, zap.New(core)).Apply(context.Background(), result, kbWithOpen("Q1"), "")

	assert.Zero(t, sum.Linked)
	assert.Empty(t, result.Answers[0].QuestionID)
	assert.Empty(t, result.Resolved)

	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].ContextMap()["error"], types.ErrMapping.Error())
}

func TestApplyWithoutOpenQuestions(t *testing.T) {
	result := types.NewAnalysisResult()
	result.Answers = append(result.Answers, answer("A1"))
	backend := &kbtest.Mapper{}

	NewMapper(backend, types.MappingConfig{}, nil).Apply(context.Background(), result, types.NewKBContext(nil, nil, nil, nil), "")
	assert.Zero(t, backend.Calls)
}
