// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package kbtest holds helpers shared by package tests: directory snapshots
// and scripted fakes for the three AI capabilities.
package kbtest

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/pdiddy/kbforge/pkg/types"
)

// Snapshot returns every file and directory under root keyed by slash path
// relative to root. Directories map to "/", files to their contents. A
// missing root yields an empty map.
func Snapshot(t testing.TB, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			out[rel] = "/"
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[rel] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot %s: %v", root, err)
	}
	return out
}

// Paths returns the sorted keys of a snapshot that match prefix.
func Paths(snap map[string]string, prefix string) []string {
	var out []string
	for k := range snap {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// WriteFile creates parents and writes content, failing the test on error.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Analyzer is a scripted analysis backend. Responses are served by chunk
// index; Fn, when set, takes precedence.
type Analyzer struct {
	mu        sync.Mutex
	Responses map[int]types.AnalysisResult
	Err       error
	FailAt    int // chunk index that fails with Err; -1 fails every chunk
	Calls     []types.Chunk
	Contexts  []*types.KBContext
}

// Analyze returns the scripted response for chunk.Index.
func (a *Analyzer) Analyze(_ context.Context, chunk types.Chunk, kb *types.KBContext, _ string) (types.AnalysisResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls = append(a.Calls, chunk)
	a.Contexts = append(a.Contexts, kb)
	if a.Err != nil && (a.FailAt < 0 || a.FailAt == chunk.Index) {
		return types.AnalysisResult{}, a.Err
	}
	return a.Responses[chunk.Index], nil
}

// Mapper is a scripted mapping backend.
type Mapper struct {
	Mappings []types.QAMapping
	Err      error
	Calls    int
	Open     [][]types.QuestionEntry
}

// Map returns the scripted mappings.
func (m *Mapper) Map(_ context.Context, open []types.QuestionEntry, _ []types.EntryBase, _ string) ([]types.QAMapping, error) {
	m.Calls++
	m.Open = append(m.Open, open)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Mappings, nil
}

// Describer is a scripted aggregation backend returning "<kind> <name>" narratives.
type Describer struct {
	mu       sync.Mutex
	Err      error
	FailName string
	Names    []string
}

// Describe returns a deterministic narrative for the subject.
func (d *Describer) Describe(_ context.Context, kind types.EntityKind, name string, entries []types.EntryBase, _ string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Names = append(d.Names, name)
	if d.Err != nil && (d.FailName == "" || d.FailName == name) {
		return "", d.Err
	}
	return "Narrative for " + string(kind) + " " + name + ".", nil
}
