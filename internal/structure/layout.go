// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package structure persists validated entities as Markdown files and
// regenerates the derived topic, person and statistics indices. Nothing in
// this package calls an AI backend; given the same inputs it produces
// byte-identical files.
package structure

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/pdiddy/kbforge/pkg/types"
)

const (
	inboxDir       = "inbox"
	rawDir         = "raw"
	analyzedDir    = "analyzed"
	personIndex    = "index.md"
	personDesc     = "profile-desc.md"
	descSuffix     = "-desc.md"
	statisticsFile = "statistics.md"
	sourceConfig   = "source-config.json"
)

// Layout resolves paths inside a knowledge base root.
type Layout struct {
	Root string
}

// RawDir is where archived raw inputs live.
func (l Layout) RawDir() string { return filepath.Join(l.Root, inboxDir, rawDir) }

// AnalyzedDir is where analyzed snapshots live.
func (l Layout) AnalyzedDir() string { return filepath.Join(l.Root, inboxDir, analyzedDir) }

// KindDir returns the directory for an entity kind.
func (l Layout) KindDir(kind types.EntityKind) string {
	return filepath.Join(l.Root, kind.Dir())
}

// EntityPath returns the file for a question, answer or note identity.
func (l Layout) EntityPath(kind types.EntityKind, id string) string {
	return filepath.Join(l.Root, kind.Dir(), id+".md")
}

// TopicPath returns the topic file for a topic name.
func (l Layout) TopicPath(name string) string {
	return filepath.Join(l.Root, types.KindTopic.Dir(), TopicSlug(name)+".md")
}

// TopicDescPath returns the narrative file for a topic name.
func (l Layout) TopicDescPath(name string) string {
	return filepath.Join(l.Root, types.KindTopic.Dir(), TopicSlug(name)+descSuffix)
}

// PersonDir returns the directory owned by a person.
func (l Layout) PersonDir(name string) string {
	return filepath.Join(l.Root, types.KindPerson.Dir(), Slug(name))
}

// PersonIndexPath returns the person's listing file.
func (l Layout) PersonIndexPath(name string) string {
	return filepath.Join(l.PersonDir(name), personIndex)
}

// PersonDescPath returns the person's narrative file.
func (l Layout) PersonDescPath(name string) string {
	return filepath.Join(l.PersonDir(name), personDesc)
}

// DescPath returns the narrative file for a topic or person.
func (l Layout) DescPath(kind types.EntityKind, name string) string {
	if kind == types.KindPerson {
		return l.PersonDescPath(name)
	}
	return l.TopicDescPath(name)
}

// StatisticsPath returns the summary statistics file.
func (l Layout) StatisticsPath() string { return filepath.Join(l.Root, statisticsFile) }

// SourceConfigPath returns the source sync file.
func (l Layout) SourceConfigPath() string { return filepath.Join(l.Root, sourceConfig) }

// GeneratedPaths lists the top-level paths holding generated structure. The
// inbox and source-config.json are not included.
func (l Layout) GeneratedPaths() []string {
	return []string{
		l.KindDir(types.KindQuestion),
		l.KindDir(types.KindAnswer),
		l.KindDir(types.KindNote),
		l.KindDir(types.KindTopic),
		l.KindDir(types.KindPerson),
		l.StatisticsPath(),
	}
}

// IsDescFile reports whether a file name is an aggregation narrative.
func IsDescFile(name string) bool {
	return strings.HasSuffix(name, descSuffix)
}

// Slug normalizes a display name into a file-system safe key: lower case,
// runs of anything but letters and digits collapsed to a single hyphen.
// Names differing only in case, spacing or punctuation share a slug.
func Slug(name string) string {
	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "unnamed"
	}
	return s
}

// TopicSlug is Slug with a guard so a topic file never looks like a narrative file.
func TopicSlug(name string) string {
	s := Slug(name)
	if strings.HasSuffix(s, "-desc") {
		s += "-topic"
	}
	return s
}

// CompareIDs orders identities naturally so Q2 sorts before Q10.
func CompareIDs(a, b string) int {
	ap, an, aok := splitID(a)
	bp, bn, bok := splitID(b)
	if aok && bok && ap == bp {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

func splitID(id string) (string, int, bool) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) {
		return id, 0, false
	}
	n, err := strconv.Atoi(id[i:])
	if err != nil {
		return id, 0, false
	}
	return id[:i], n, true
}
