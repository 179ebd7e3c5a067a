// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/kbforge/internal/httputil"
	"github.com/pdiddy/kbforge/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

// fakeAPI serves reply as the text block of every response and records the
// last prompt it received.
func fakeAPI(t *testing.T, reply string, prompt *string) *Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		var req messagesRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "test-model", req.Model)
		if !assert.Len(t, req.Messages, 1) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if prompt != nil {
			*prompt = req.Messages[0].Content
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": reply}},
		})
	}))
	t.Cleanup(ts.Close)
	return newTestClient(t, ts)
}

func newTestClient(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	orig := apiURL
	apiURL = ts.URL
	t.Cleanup(func() { apiURL = orig })

	c, err := New(types.AIConfig{APIKey: "test-key", Model: "test-model", MaxRetries: 2}, ts.Client(), nil)
	require.NoError(t, err)
	return c
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(types.AIConfig{Model: "m"}, nil, nil)
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestStripFence(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"```\n{\"a\": 1}\n```\n", `{"a": 1}`},
		{"  plain text  ", "plain text"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripFence(tt.in))
	}
}

func TestAnalyzerParsesEntries(t *testing.T) {
	reply := "```json\n" + `{
  "questions": [{"ref": "q1", "author": "Alice", "text": "How do we deploy?", "timestamp": "2024-03-01T10:00:00Z", "topics": ["Deploy"]}],
  "answers": [{"author": "Bob", "text": "Use the pipeline.", "timestamp": "", "question_ref": "q1"}],
  "notes": [{"author": "Carol", "text": "Deploys freeze on Fridays.", "question_id": "Q7", "area": "Engineering"}]
}` + "\n```"
	var prompt string
	c := fakeAPI(t, reply, &prompt)

	kb := types.NewKBContext(
		[]types.QuestionEntry{{EntryBase: types.EntryBase{ID: "Q7", Author: "Dana", Text: "When do\ndeploys freeze?"}}},
		[]string{"Deploy"}, []string{"Dana"}, []string{"Q7"},
	)
	res, err := Analyzer{c}.Analyze(context.Background(), types.Chunk{Text: "Alice: How do we deploy?"}, kb, "Prefer short topics.")
	require.NoError(t, err)

	require.Len(t, res.Questions, 1)
	assert.Equal(t, "q1", res.Questions[0].LocalRef)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), res.Questions[0].Timestamp.UTC())
	assert.Equal(t, []string{"Deploy"}, res.Questions[0].Topics)

	require.Len(t, res.Answers, 1)
	assert.Equal(t, "q1", res.Answers[0].QuestionRef)
	assert.True(t, res.Answers[0].Timestamp.IsZero())

	require.Len(t, res.Notes, 1)
	assert.Equal(t, "Q7", res.Notes[0].QuestionID)
	assert.Equal(t, "Engineering", res.Notes[0].Area)

	assert.Contains(t, prompt, "Alice: How do we deploy?")
	assert.Contains(t, prompt, "- Q7 (Dana): When do deploys freeze?")
	assert.Contains(t, prompt, "Existing topics: Deploy")
	assert.Contains(t, prompt, "Prefer short topics.")
}

func TestAnalyzerRejectsProse(t *testing.T) {
	c := fakeAPI(t, "I could not find anything.", nil)
	_, err := Analyzer{c}.Analyze(context.Background(), types.Chunk{Text: "hi"}, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing AI response JSON")
}

func TestMapper(t *testing.T) {
	var prompt string
	c := fakeAPI(t, `{"mappings": [{"entry_id": "A1", "question_id": "Q1", "confidence": 0.9}]}`, &prompt)

	got, err := Mapper{c}.Map(context.Background(),
		[]types.QuestionEntry{{EntryBase: types.EntryBase{ID: "Q1", Author: "Alice", Text: "How do we deploy?"}}},
		[]types.EntryBase{{ID: "A1", Author: "Bob", Text: "Use the pipeline."}},
		"",
	)
	require.NoError(t, err)
	assert.Equal(t, []types.QAMapping{{EntryID: "A1", QuestionID: "Q1", Confidence: 0.9}}, got)
	assert.Contains(t, prompt, "- Q1 (Alice): How do we deploy?")
	assert.Contains(t, prompt, "- A1 (Bob): Use the pipeline.")
	assert.NotContains(t, prompt, "Additional instructions")
}

func TestDescriber(t *testing.T) {
	tests := []struct {
		kind types.EntityKind
		want string
	}{
		{types.KindTopic, "what is still open"},
		{types.KindPerson, "what this person asks about"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			var prompt string
			c := fakeAPI(t, "\n  Deploys go through the pipeline [A1].\n", &prompt)
			got, err := Describer{c}.Describe(context.Background(), tt.kind, "Deploy",
				[]types.EntryBase{{ID: "A1", Author: "Bob", Text: "Use the pipeline."}}, "")
			require.NoError(t, err)
			assert.Equal(t, "Deploys go through the pipeline [A1].", got)
			assert.Contains(t, prompt, fmt.Sprintf("the %s \"Deploy\"", tt.kind))
			assert.Contains(t, prompt, tt.want)
		})
	}
}

func TestDescriberEmptyNarrative(t *testing.T) {
	c := fakeAPI(t, "   ", nil)
	_, err := Describer{c}.Describe(context.Background(), types.KindTopic, "Deploy", nil, "")
	assert.Error(t, err)
}

func TestClientRetriesRateLimit(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"content": [{"type": "text", "text": "ok"}]}`)
	}))
	defer ts.Close()

	got, err := newTestClient(t, ts).complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClientErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts).complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "overloaded")
}

func TestClientNoTextBlock(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"content": [{"type": "tool_use"}]}`)
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts).complete(context.Background(), "hello")
	assert.Error(t, err)
}
