// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"path/filepath"
	"time"
)

// RawInput is one raw export as handed to a run. It is archived unchanged.
type RawInput struct {
	SourceName string
	Path       string
	IngestedAt time.Time
	Data       []byte
}

// Name returns the export's file name.
func (r RawInput) Name() string { return filepath.Base(r.Path) }

// ArchiveName returns the inbox file name: the ingestion datetime formatted
// with layout, an underscore and the export's file name.
func (r RawInput) ArchiveName(layout string) string {
	return r.IngestedAt.UTC().Format(layout) + "_" + r.Name()
}

// Message is a single chat or meeting message after normalization.
type Message struct {
	Author      string    `json:"author" yaml:"author"`
	Text        string    `json:"text" yaml:"text"`
	Timestamp   time.Time `json:"timestamp,omitzero" yaml:"timestamp,omitempty"`
	Attachments []string  `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

// Chunk is an ordered, size-bounded slice of normalized input sent to one analysis call.
type Chunk struct {
	// Index is the chunk's position across the whole run.
	Index int `json:"index" yaml:"index"`

	// SourceIndex identifies the normalized document the chunk came from.
	SourceIndex int `json:"source_index" yaml:"source_index"`

	// Text is the rendered chunk content.
	Text string `json:"text" yaml:"text"`

	// Messages holds the structured messages for message-array input; empty for plain text.
	Messages []Message `json:"messages,omitempty" yaml:"messages,omitempty"`

	// Attachments lists attachment files referenced by the chunk's messages.
	Attachments []string `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}
