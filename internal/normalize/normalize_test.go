// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/kbforge/pkg/types"
)

func TestFor(t *testing.T) {
	assert.IsType(t, JSONNormalizer{}, For("chunk_001.json"))
	assert.IsType(t, JSONNormalizer{}, For("EXPORT.JSON"))
	assert.IsType(t, TextNormalizer{}, For("meeting.md"))
	assert.IsType(t, TextNormalizer{}, For("notes"))
}

func TestJSONNormalizer(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantDocs  int
		wantMsgs  []int
		wantFirst types.Message
	}{
		{
			name: "message array",
			input: `[
				{"author": "Alice", "text": "How do we deploy?", "timestamp": "2024-03-01T10:00:00Z"},
				{"author": "Bob", "text": "Let me check."},
				{"author": "Carol", "text": "Same question here."}
			]`,
			wantDocs:  1,
			wantMsgs:  []int{3},
			wantFirst: types.Message{Author: "Alice", Text: "How do we deploy?", Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		},
		{
			name:      "messages object with aliases",
			input:     `{"name": "ops", "messages": [{"from": {"user": {"displayName": "Dana"}}, "body": {"content": "Restart the pod."}, "createdDateTime": "2024-03-02 09:30:00"}]}`,
			wantDocs:  1,
			wantMsgs:  []int{1},
			wantFirst: types.Message{Author: "Dana", Text: "Restart the pod.", Timestamp: time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC)},
		},
		{
			name: "conversations",
			input: `{"conversations": [
				{"title": "a", "messages": [{"sender": "Eve", "content": "one"}]},
				{"title": "b", "messages": [{"user": "Finn", "message": "two"}, {"user": "Finn", "message": "three"}]}
			]}`,
			wantDocs:  2,
			wantMsgs:  []int{1, 2},
			wantFirst: types.Message{Author: "Eve", Text: "one"},
		},
		{
			name:     "skips empty messages",
			input:    `[{"author": "A", "text": "  "}, {"author": "B", "text": "kept"}]`,
			wantDocs: 1,
			wantMsgs: []int{1},
			wantFirst: types.Message{Author: "B", Text: "kept"},
		},
		{
			name:     "empty input",
			input:    "  ",
			wantDocs: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := JSONNormalizer{}.Normalize("chat.json", []byte(tt.input))
			require.NoError(t, err)
			require.Len(t, docs, tt.wantDocs)
			for i, n := range tt.wantMsgs {
				assert.Len(t, docs[i].Messages, n)
				assert.True(t, docs[i].Structured())
			}
			if tt.wantDocs > 0 {
				assert.Equal(t, tt.wantFirst, docs[0].Messages[0])
			}
		})
	}
}

func TestJSONNormalizerAttachments(t *testing.T) {
	input := `[{"author": "Ann", "text": "see file", "attachments": ["diagram.png", {"name": "spec.pdf"}]}]`
	docs, err := JSONNormalizer{}.Normalize("a.json", []byte(input))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, []string{"diagram.png", "spec.pdf"}, docs[0].Messages[0].Attachments)
}

func TestNormalizeMalformedJSON(t *testing.T) {
	_, err := Normalize("broken.json", []byte(`[{"author": `))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrInput))

	_, err = Normalize("scalar.json", []byte(`42`))
	require.Error(t, err)
}

func TestTextNormalizer(t *testing.T) {
	docs, err := Normalize("meeting.md", []byte("Line one  \r\n\r\n\r\n\r\nLine two\t\n"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.False(t, docs[0].Structured())
	assert.Equal(t, "Line one\n\nLine two", docs[0].Text)
	assert.Equal(t, "meeting.md", docs[0].Name)

	docs, err = Normalize("blank.txt", []byte("\n \n"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}
