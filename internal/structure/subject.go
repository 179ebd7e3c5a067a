// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package structure

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pdiddy/kbforge/pkg/types"
)

// summaryRunes bounds the entry preview shown in listings.
const summaryRunes = 100

// Subject is a topic or person. Its file doubles as the listing of the
// entities that reference it.
type Subject struct {
	Kind    types.EntityKind
	Name    string
	Source  string
	Created time.Time
	Area    string
}

// Slug returns the file-system key for the subject.
func (s Subject) Slug() string {
	if s.Kind == types.KindTopic {
		return TopicSlug(s.Name)
	}
	return Slug(s.Name)
}

type subjectHeader struct {
	Name    string           `yaml:"name"`
	Type    types.EntityKind `yaml:"type"`
	Source  string           `yaml:"source,omitempty"`
	Created string           `yaml:"created,omitempty"`
	Area    string           `yaml:"area,omitempty"`
}

// subjectFromEntity derives the metadata of a subject first seen on e.
func subjectFromEntity(kind types.EntityKind, name string, e Entity) Subject {
	s := Subject{Kind: kind, Name: strings.TrimSpace(name), Source: e.Source, Created: e.Created}
	if kind == types.KindTopic {
		s.Area = e.Area
	}
	return s
}

// references reports whether e points at the subject.
func (s Subject) references(e Entity) bool {
	slug := s.Slug()
	switch s.Kind {
	case types.KindTopic:
		for _, t := range e.Topics {
			if TopicSlug(t) == slug {
				return true
			}
		}
	case types.KindPerson:
		if Slug(e.Author) == slug {
			return true
		}
		for _, p := range e.People {
			if Slug(p) == slug {
				return true
			}
		}
	}
	return false
}

// encodeSubject renders the subject header and a listing of entities, which
// must already be in listing order.
func encodeSubject(s Subject, entities []Entity) ([]byte, error) {
	h := subjectHeader{
		Name:    s.Name,
		Type:    s.Kind,
		Source:  s.Source,
		Created: formatTime(s.Created),
		Area:    s.Area,
	}

	// Topic files sit one level below the root, person indices two.
	up := "../"
	if s.Kind == types.KindPerson {
		up = "../../"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", s.Name)
	if s.Area != "" {
		fmt.Fprintf(&b, "\nArea: %s\n", s.Area)
	}

	sections := []struct {
		title string
		kind  types.EntityKind
	}{
		{"Questions", types.KindQuestion},
		{"Answers", types.KindAnswer},
		{"Notes", types.KindNote},
	}
	for _, sec := range sections {
		fmt.Fprintf(&b, "\n## %s\n\n", sec.title)
		n := 0
		for _, e := range entities {
			if e.Kind != sec.kind {
				continue
			}
			n++
			link := path.Join(up+e.Kind.Dir(), e.ID+".md")
			fmt.Fprintf(&b, "- [%s](%s) %s%s\n", e.ID, link, summarize(e.Text), listingSuffix(s, e))
		}
		if n == 0 {
			b.WriteString("_None._\n")
		}
	}
	return encodeDocument(h, b.String())
}

func listingSuffix(s Subject, e Entity) string {
	var parts []string
	switch e.Kind {
	case types.KindQuestion:
		if e.Answered {
			parts = append(parts, "answered")
		} else {
			parts = append(parts, "open")
		}
	case types.KindAnswer, types.KindNote:
		if e.QuestionID != "" {
			parts = append(parts, "re "+e.QuestionID)
		}
	}
	if s.Kind == types.KindPerson && Slug(e.Author) != s.Slug() {
		parts = append(parts, "mentioned, by "+e.Author)
	}
	if len(parts) == 0 {
		return ""
	}
	return " _(" + strings.Join(parts, "; ") + ")_"
}

// summarize returns the first line of text, truncated for listings.
func summarize(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) <= summaryRunes {
		return line
	}
	return strings.TrimSpace(string([]rune(line)[:summaryRunes])) + "..."
}

func decodeSubject(data []byte) (Subject, error) {
	var h subjectHeader
	if _, err := decodeDocument(data, &h); err != nil {
		return Subject{}, err
	}
	if strings.TrimSpace(h.Name) == "" {
		return Subject{}, errors.New("front matter has no name")
	}
	if h.Type != types.KindTopic && h.Type != types.KindPerson {
		return Subject{}, fmt.Errorf("subject %q has unsupported type %q", h.Name, h.Type)
	}
	return Subject{
		Kind:    h.Type,
		Name:    h.Name,
		Source:  h.Source,
		Created: parseTime(h.Created),
		Area:    h.Area,
	}, nil
}
