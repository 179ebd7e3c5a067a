// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package normalize turns raw conversational exports into documents the
// chunker can split: either an ordered list of messages or plain text.
package normalize

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pdiddy/kbforge/pkg/types"
)

// Document is one normalized conversation or text blob.
type Document struct {
	// Name identifies the document within its raw file (conversation title or file name).
	Name string

	// Messages holds structured input in conversation order.
	Messages []types.Message

	// Text holds unstructured input when Messages is empty.
	Text string
}

// Structured reports whether the document is a message array.
func (d Document) Structured() bool {
	return len(d.Messages) > 0
}

// Normalizer converts the bytes of one raw file into documents. Different
// export formats implement this interface.
type Normalizer interface {
	Normalize(name string, data []byte) ([]Document, error)
}

// normalizers maps lower-case file extensions to their Normalizer. Anything
// not listed is treated as plain text.
var normalizers = map[string]Normalizer{
	".json": JSONNormalizer{},
}

// For returns the Normalizer for a file name.
func For(name string) Normalizer {
	if n, ok := normalizers[strings.ToLower(filepath.Ext(name))]; ok {
		return n
	}
	return TextNormalizer{}
}

// Normalize picks a Normalizer by file extension and applies it. Malformed
// input is reported as types.ErrInput.
func Normalize(name string, data []byte) ([]Document, error) {
	docs, err := For(name).Normalize(name, data)
	if err != nil {
		return nil, fmt.Errorf("%w: normalizing %s: %w", types.ErrInput, name, err)
	}
	return docs, nil
}

// TextNormalizer handles plain text and Markdown exports.
type TextNormalizer struct{}

// Normalize returns a single text document, or none for blank input.
func (TextNormalizer) Normalize(name string, data []byte) ([]Document, error) {
	text := CleanText(string(data))
	if text == "" {
		return nil, nil
	}
	return []Document{{Name: filepath.Base(name), Text: text}}, nil
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// CleanText normalizes line endings, strips trailing whitespace from every
// line and collapses runs of blank lines to one.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimPrefix(s, "\ufeff")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	s = strings.Join(lines, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
