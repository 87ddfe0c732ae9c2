// Package diff compares two fingerprint maps into a change set.
package diff

import (
	"sort"

	"github.com/fyrsmithlabs/ctxsync/internal/snapshot"
)

// ChangeSet lists the paths that differ between two snapshots. Each list is
// sorted and the three lists are disjoint.
type ChangeSet struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

// Diff compares previous against current. Paths present in both with an
// equal fingerprint appear in no list.
func Diff(previous, current snapshot.Fingerprints) ChangeSet {
	cs := ChangeSet{
		Added:    []string{},
		Removed:  []string{},
		Modified: []string{},
	}

	for path, hash := range current {
		prev, ok := previous[path]
		switch {
		case !ok:
			cs.Added = append(cs.Added, path)
		case prev != hash:
			cs.Modified = append(cs.Modified, path)
		}
	}
	for path := range previous {
		if _, ok := current[path]; !ok {
			cs.Removed = append(cs.Removed, path)
		}
	}

	sort.Strings(cs.Added)
	sort.Strings(cs.Removed)
	sort.Strings(cs.Modified)
	return cs
}

// Empty reports whether nothing changed.
func (c ChangeSet) Empty() bool {
	return c.Len() == 0
}

// Len returns the total number of changed paths.
func (c ChangeSet) Len() int {
	return len(c.Added) + len(c.Removed) + len(c.Modified)
}

// Upserts returns the sorted union of Added and Modified: the paths whose
// content a consumer has to (re)process.
func (c ChangeSet) Upserts() []string {
	out := make([]string, 0, len(c.Added)+len(c.Modified))
	out = append(out, c.Added...)
	out = append(out, c.Modified...)
	sort.Strings(out)
	return out
}
