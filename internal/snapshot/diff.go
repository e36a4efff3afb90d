package snapshot

import (
	"sort"

	"github.com/stackforge-io/stackforge/internal/pkgmgr"
)

// ModifiedUnit pairs the two versions of a unit present on both sides of a
// diff but differing in version or content.
type ModifiedUnit struct {
	Name string      `json:"name"`
	From pkgmgr.Unit `json:"from"`
	To   pkgmgr.Unit `json:"to"`
}

// Diff describes how to get from one unit set to another. All three slices
// are sorted by unit name, so the same pair of states always renders the
// same diff.
type Diff struct {
	Added    []pkgmgr.Unit  `json:"added"`
	Removed  []pkgmgr.Unit  `json:"removed"`
	Modified []ModifiedUnit `json:"modified"`
}

// Empty reports whether the two sides are identical.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// diffUnits joins two unit sets by name. A unit only in to is added, only in
// from is removed, and in both with a differing version or content hash is
// modified.
func diffUnits(from, to []pkgmgr.Unit) Diff {
	fromByName := make(map[string]pkgmgr.Unit, len(from))
	for _, u := range from {
		fromByName[u.Name] = u
	}
	toByName := make(map[string]pkgmgr.Unit, len(to))
	for _, u := range to {
		toByName[u.Name] = u
	}

	var d Diff
	for name, u := range toByName {
		prev, ok := fromByName[name]
		if !ok {
			d.Added = append(d.Added, u)
			continue
		}
		if prev.Version != u.Version || prev.ContentHash != u.ContentHash {
			d.Modified = append(d.Modified, ModifiedUnit{Name: name, From: prev, To: u})
		}
	}
	for name, u := range fromByName {
		if _, ok := toByName[name]; !ok {
			d.Removed = append(d.Removed, u)
		}
	}

	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].Name < d.Added[j].Name })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].Name < d.Removed[j].Name })
	sort.Slice(d.Modified, func(i, j int) bool { return d.Modified[i].Name < d.Modified[j].Name })
	return d
}
