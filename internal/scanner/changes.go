package scanner

import "sort"

// Rename pairs an old and a new path whose fingerprints are identical:
// the file moved, so downstream only updates the path instead of
// re-extracting and re-embedding.
type Rename struct {
	OldPath     string
	NewPath     string
	Fingerprint string
}

// ChangeSet is the diff between a scan and the previously recorded state.
type ChangeSet struct {
	Added     []*FileMeta
	Modified  []*FileMeta
	Renamed   []Rename
	Deleted   []string
	Unchanged int
}

// Empty reports whether the diff carries no work.
func (c *ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 &&
		len(c.Renamed) == 0 && len(c.Deleted) == 0
}

// Total counts the entries that need an action.
func (c *ChangeSet) Total() int {
	return len(c.Added) + len(c.Modified) + len(c.Renamed) + len(c.Deleted)
}

// ComputeChanges diffs the scanned files against previous, a map of
// relative path to fingerprint from the last completed pass. A deleted
// path and an added path with the same fingerprint collapse into a
// rename; when several identical files are in play they pair in path
// order, so repeated runs over the same tree produce the same result.
// Empty fingerprints never pair.
func ComputeChanges(current []*FileMeta, previous map[string]string) *ChangeSet {
	cs := &ChangeSet{}

	seen := make(map[string]struct{}, len(current))
	var added []*FileMeta
	for _, f := range current {
		seen[f.Path] = struct{}{}
		prev, ok := previous[f.Path]
		switch {
		case !ok:
			added = append(added, f)
		case prev != f.Fingerprint:
			cs.Modified = append(cs.Modified, f)
		default:
			cs.Unchanged++
		}
	}

	deletedByFP := make(map[string][]string)
	var deleted []string
	for path, fp := range previous {
		if _, ok := seen[path]; ok {
			continue
		}
		deleted = append(deleted, path)
		if fp != "" {
			deletedByFP[fp] = append(deletedByFP[fp], path)
		}
	}
	sort.Strings(deleted)
	for fp := range deletedByFP {
		sort.Strings(deletedByFP[fp])
	}
	sort.Slice(added, func(i, j int) bool { return added[i].Path < added[j].Path })

	renamedOld := make(map[string]struct{})
	for _, f := range added {
		olds := deletedByFP[f.Fingerprint]
		if f.Fingerprint == "" || len(olds) == 0 {
			cs.Added = append(cs.Added, f)
			continue
		}
		old := olds[0]
		deletedByFP[f.Fingerprint] = olds[1:]
		renamedOld[old] = struct{}{}
		cs.Renamed = append(cs.Renamed, Rename{
			OldPath:     old,
			NewPath:     f.Path,
			Fingerprint: f.Fingerprint,
		})
	}

	for _, path := range deleted {
		if _, ok := renamedOld[path]; !ok {
			cs.Deleted = append(cs.Deleted, path)
		}
	}
	return cs
}
