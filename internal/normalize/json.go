// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdiddy/kbforge/pkg/types"
)

// JSONNormalizer handles chat exports. It accepts a top-level message array,
// an object with a "messages" array, or an object with a "conversations"
// array whose elements carry their own "messages".
type JSONNormalizer struct{}

type exportConversation struct {
	Name     string            `json:"name"`
	Title    string            `json:"title"`
	Messages []json.RawMessage `json:"messages"`
}

type exportFile struct {
	exportConversation
	Conversations []exportConversation `json:"conversations"`
}

// Normalize decodes the export and returns one document per conversation.
func (JSONNormalizer) Normalize(name string, data []byte) ([]Document, error) {
	data = bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\ufeff")))
	if len(data) == 0 {
		return nil, nil
	}

	base := filepath.Base(name)
	var convs []exportConversation

	switch data[0] {
	case '[':
		var msgs []json.RawMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("decoding message array: %w", err)
		}
		convs = []exportConversation{{Name: base, Messages: msgs}}
	case '{':
		var f exportFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decoding export object: %w", err)
		}
		if len(f.Conversations) > 0 {
			convs = f.Conversations
		} else {
			if f.Name == "" {
				f.Name = base
			}
			convs = []exportConversation{f.exportConversation}
		}
	default:
		return nil, errors.New("expected a JSON array or object")
	}

	var docs []Document
	for i, c := range convs {
		doc := Document{Name: c.Name}
		if doc.Name == "" {
			doc.Name = c.Title
		}
		if doc.Name == "" {
			doc.Name = fmt.Sprintf("%s#%d", base, i+1)
		}
		for j, raw := range c.Messages {
			m, err := decodeMessage(raw)
			if err != nil {
				return nil, fmt.Errorf("%s message %d: %w", doc.Name, j, err)
			}
			if m.Text == "" && len(m.Attachments) == 0 {
				continue
			}
			doc.Messages = append(doc.Messages, m)
		}
		if len(doc.Messages) > 0 {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// exportMessage lists the field spellings seen across chat exports.
type exportMessage struct {
	Author          string            `json:"author"`
	From            json.RawMessage   `json:"from"`
	Sender          json.RawMessage   `json:"sender"`
	User            json.RawMessage   `json:"user"`
	Text            string            `json:"text"`
	Content         string            `json:"content"`
	Body            json.RawMessage   `json:"body"`
	Message         string            `json:"message"`
	Timestamp       string            `json:"timestamp"`
	CreatedDateTime string            `json:"createdDateTime"`
	Date            string            `json:"date"`
	Attachments     []json.RawMessage `json:"attachments"`
}

func decodeMessage(raw json.RawMessage) (types.Message, error) {
	var em exportMessage
	if err := json.Unmarshal(raw, &em); err != nil {
		return types.Message{}, err
	}

	m := types.Message{
		Author: strings.TrimSpace(firstNonEmpty(em.Author, displayName(em.From), displayName(em.Sender), displayName(em.User))),
		Text:   CleanText(firstNonEmpty(em.Text, em.Content, displayName(em.Body), em.Message)),
	}
	m.Timestamp = parseTimestamp(firstNonEmpty(em.Timestamp, em.CreatedDateTime, em.Date))

	for _, a := range em.Attachments {
		if n := displayName(a); n != "" {
			m.Attachments = append(m.Attachments, n)
		}
	}
	return m, nil
}

// displayName reads a JSON string, or the first name-like field of an object
// such as Teams' {"user": {"displayName": ...}} or {"content": ...}.
func displayName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	for _, key := range []string{"displayName", "name", "filename", "fileName", "content", "user"} {
		if v, ok := obj[key]; ok {
			if n := displayName(v); n != "" {
				return n
			}
		}
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
