// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analysis

import (
	"crypto/sha256"
	"fmt"
	"strconv"

	"github.com/pdiddy/kbforge/pkg/types"
)

// IdentityStrategy assigns identities to new entries during a merge. A
// strategy is used for one run only.
type IdentityStrategy interface {
	// Assign returns the identity for entry. dup reports that an entity with
	// the same identity already exists, in the knowledge base or earlier in
	// this run, and the entry should be dropped.
	Assign(kind types.EntityKind, entry types.EntryBase) (id string, dup bool)
}

// NewIdentityStrategy returns the strategy for scheme. An empty scheme
// selects the counter.
func NewIdentityStrategy(scheme types.IDScheme, kb *types.KBContext) (IdentityStrategy, error) {
	switch scheme {
	case "", types.IDCounter:
		return &counterIDs{kb: kb, next: map[types.EntityKind]int{}, used: map[string]bool{}}, nil
	case types.IDFingerprint:
		return &fingerprintIDs{kb: kb, used: map[string]bool{}}, nil
	}
	return nil, fmt.Errorf("unknown id scheme %q", scheme)
}

// counterIDs numbers entries Q1, Q2, ... per kind, skipping any identity
// already present in the knowledge base or still referenced by it.
type counterIDs struct {
	kb   *types.KBContext
	next map[types.EntityKind]int
	used map[string]bool
}

func (c *counterIDs) Assign(kind types.EntityKind, _ types.EntryBase) (string, bool) {
	for {
		c.next[kind]++
		id := kind.IDPrefix() + strconv.Itoa(c.next[kind])
		if c.kb.HasID(id) || c.kb.IsReserved(id) || c.used[id] {
			continue
		}
		c.used[id] = true
		return id, false
	}
}

// fingerprintIDs derives identities from normalized content so re-ingesting
// the same message yields the same identity.
type fingerprintIDs struct {
	kb   *types.KBContext
	used map[string]bool
}

func (f *fingerprintIDs) Assign(kind types.EntityKind, entry types.EntryBase) (string, bool) {
	id := Fingerprint(kind, entry)
	if f.kb.HasID(id) || f.used[id] {
		return id, true
	}
	f.used[id] = true
	return id, false
}

// Fingerprint returns the content identity of an entry: its kind prefix and
// the first 12 hex digits of a SHA-256 over normalized text, author and source.
func Fingerprint(kind types.EntityKind, entry types.EntryBase) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", types.NormalizeText(entry.Text), types.NormalizeText(entry.Author), entry.Source)
	return fmt.Sprintf("%s-%x", kind.IDPrefix(), h.Sum(nil)[:6])
}
