// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package claude

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pdiddy/kbforge/pkg/types"
)

// Analyzer extracts questions, answers and notes from a chunk.
type Analyzer struct{ *Client }

// Mapper proposes question-to-entry links.
type Mapper struct{ *Client }

// Describer writes topic and person narratives.
type Describer struct{ *Client }

// aiEntry is one entry as returned by the model. Timestamps arrive as
// strings and may be empty.
type aiEntry struct {
	Ref         string   `json:"ref"`
	Author      string   `json:"author"`
	Text        string   `json:"text"`
	Timestamp   string   `json:"timestamp"`
	Topics      []string `json:"topics"`
	Area        string   `json:"area"`
	People      []string `json:"people"`
	QuestionRef string   `json:"question_ref"`
	QuestionID  string   `json:"question_id"`
}

type analysisResponse struct {
	Questions []aiEntry `json:"questions"`
	Answers   []aiEntry `json:"answers"`
	Notes     []aiEntry `json:"notes"`
}

func (e aiEntry) base() types.EntryBase {
	b := types.EntryBase{
		Author: e.Author,
		Text:   e.Text,
		Topics: e.Topics,
		Area:   e.Area,
		People: e.People,
	}
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Timestamp)); err == nil {
		b.Timestamp = ts
	}
	return b
}

// Analyze sends the chunk with the knowledge base context and returns the
// entries the model found. IDs are left for the analysis stage to assign.
func (a Analyzer) Analyze(ctx context.Context, chunk types.Chunk, kb *types.KBContext, instructions string) (types.AnalysisResult, error) {
	data := struct {
		Text         string
		Topics       []string
		People       []string
		Open         []types.QuestionEntry
		Instructions string
	}{Text: chunk.Text, Instructions: strings.TrimSpace(instructions)}
	if kb != nil {
		data.Topics, data.People, data.Open = kb.Topics, kb.People, kb.OpenQuestions
	}
	prompt, err := render(analysisPromptTmpl, data)
	if err != nil {
		return types.AnalysisResult{}, err
	}

	var resp analysisResponse
	if err := a.completeJSON(ctx, prompt, &resp); err != nil {
		return types.AnalysisResult{}, err
	}

	var out types.AnalysisResult
	for _, e := range resp.Questions {
		out.Questions = append(out.Questions, types.QuestionEntry{EntryBase: e.base(), LocalRef: e.Ref})
	}
	for _, e := range resp.Answers {
		out.Answers = append(out.Answers, types.AnswerEntry{EntryBase: e.base(), QuestionRef: e.QuestionRef, QuestionID: e.QuestionID})
	}
	for _, e := range resp.Notes {
		out.Notes = append(out.Notes, types.NoteEntry{EntryBase: e.base(), QuestionID: e.QuestionID})
	}
	return out, nil
}

type mappingResponse struct {
	Mappings []types.QAMapping `json:"mappings"`
}

// Map asks which open question each entry answers.
func (m Mapper) Map(ctx context.Context, open []types.QuestionEntry, entries []types.EntryBase, instructions string) ([]types.QAMapping, error) {
	prompt, err := render(mappingPromptTmpl, struct {
		Open         []types.QuestionEntry
		Entries      []types.EntryBase
		Instructions string
	}{open, entries, strings.TrimSpace(instructions)})
	if err != nil {
		return nil, err
	}
	var resp mappingResponse
	if err := m.completeJSON(ctx, prompt, &resp); err != nil {
		return nil, err
	}
	return resp.Mappings, nil
}

// Describe returns a Markdown narrative for one topic or person.
func (d Describer) Describe(ctx context.Context, kind types.EntityKind, name string, entries []types.EntryBase, instructions string) (string, error) {
	prompt, err := render(aggregationPromptTmpl, struct {
		Kind         string
		Name         string
		Entries      []types.EntryBase
		Instructions string
	}{string(kind), name, entries, strings.TrimSpace(instructions)})
	if err != nil {
		return "", err
	}
	text, err := d.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty narrative")
	}
	return text, nil
}
