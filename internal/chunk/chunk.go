// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package chunk splits normalized documents into ordered, size-bounded
// chunks for AI analysis. It performs no I/O.
package chunk

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pdiddy/kbforge/internal/normalize"
	"github.com/pdiddy/kbforge/pkg/types"
)

// DefaultMaxChars is the chunk budget used when none is configured.
const DefaultMaxChars = 12000

// Prepare splits docs into chunks of at most maxChars characters, numbered
// across all documents in input order. Message documents are split only
// between messages; a single message over budget becomes its own chunk.
// Text documents are split on the paragraph boundary nearest the budget.
func Prepare(docs []normalize.Document, maxChars int) []types.Chunk {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var chunks []types.Chunk
	for src, doc := range docs {
		var parts []types.Chunk
		if doc.Structured() {
			parts = splitMessages(doc.Messages, maxChars)
		} else {
			parts = splitText(doc.Text, maxChars)
		}
		for _, c := range parts {
			c.Index = len(chunks)
			c.SourceIndex = src
			chunks = append(chunks, c)
		}
	}
	return chunks
}

// RenderMessage formats a message the way analysis backends receive it.
func RenderMessage(m types.Message) string {
	var b strings.Builder
	if !m.Timestamp.IsZero() {
		fmt.Fprintf(&b, "[%s] ", m.Timestamp.UTC().Format(time.RFC3339))
	}
	author := m.Author
	if author == "" {
		author = "unknown"
	}
	fmt.Fprintf(&b, "%s: %s", author, m.Text)
	for _, a := range m.Attachments {
		fmt.Fprintf(&b, "\n  attachment: %s", a)
	}
	return b.String()
}

func splitMessages(msgs []types.Message, maxChars int) []types.Chunk {
	var (
		out   []types.Chunk
		cur   []types.Message
		lines []string
		size  int
	)

	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, types.Chunk{
			Text:        strings.Join(lines, "\n"),
			Messages:    cur,
			Attachments: attachments(cur),
		})
		cur, lines, size = nil, nil, 0
	}

	for _, m := range msgs {
		line := RenderMessage(m)
		n := utf8.RuneCountInString(line)
		if len(cur) > 0 && size+1+n > maxChars {
			flush()
		}
		if len(cur) > 0 {
			size++
		}
		cur = append(cur, m)
		lines = append(lines, line)
		size += n
	}
	flush()
	return out
}

func attachments(msgs []types.Message) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range msgs {
		for _, a := range m.Attachments {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out
}

func splitText(text string, maxChars int) []types.Chunk {
	var (
		out  []types.Chunk
		cur  strings.Builder
		size int
	)

	flush := func() {
		if size == 0 {
			return
		}
		out = append(out, types.Chunk{Text: cur.String()})
		cur.Reset()
		size = 0
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := utf8.RuneCountInString(para)

		if n > maxChars {
			flush()
			for _, piece := range splitOversize(para, maxChars) {
				out = append(out, types.Chunk{Text: piece})
			}
			continue
		}

		if size > 0 && size+2+n > maxChars {
			flush()
		}
		if size > 0 {
			cur.WriteString("\n\n")
			size += 2
		}
		cur.WriteString(para)
		size += n
	}
	flush()
	return out
}

// splitOversize cuts a paragraph longer than maxChars at the last line break
// within budget, else the last space, else exactly at the budget.
func splitOversize(s string, maxChars int) []string {
	var out []string
	for utf8.RuneCountInString(s) > maxChars {
		prefix := string([]rune(s)[:maxChars])
		cut := strings.LastIndex(prefix, "\n")
		if cut <= 0 {
			cut = strings.LastIndex(prefix, " ")
		}
		if cut <= 0 {
			cut = len(prefix)
		}
		if piece := strings.TrimSpace(s[:cut]); piece != "" {
			out = append(out, piece)
		}
		s = strings.TrimSpace(s[cut:])
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
