package tree

import (
	"sort"

	"github.com/solenoidlabs/keel/internal/core"
)

// Merger implements core.TreeMerger over this package's trees. The merge
// is per-path three-way (N-way for merge commits): a path changed on one
// side keeps the change, a path changed on both sides to the same value
// resolves, and a double-changed path becomes part of a conflicted
// MergedTreeID rather than an error.
type Merger struct {
	store *Store
}

// NewMerger builds a Merger over the given tree store.
func NewMerger(store *Store) *Merger {
	return &Merger{store: store}
}

// value is a file state at one path in one merge term; nil means absent.
type value *Entry

func sameValue(a, b value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.FileID == b.FileID && a.Executable == b.Executable
}

// pathMerge is the positive/negative term lists for one path.
// len(adds) == len(removes)+1 at all times.
type pathMerge struct {
	adds    []value
	removes []value
}

// simplify cancels matching add/remove pairs.
func (m *pathMerge) simplify() {
	for i := 0; i < len(m.removes); {
		cancelled := false
		for j := 0; j < len(m.adds); j++ {
			if sameValue(m.removes[i], m.adds[j]) {
				m.removes = append(m.removes[:i], m.removes[i+1:]...)
				m.adds = append(m.adds[:j], m.adds[j+1:]...)
				cancelled = true
				break
			}
		}
		if !cancelled {
			i++
		}
	}
}

func (m *pathMerge) resolved() (value, bool) {
	if len(m.adds) == 1 {
		return m.adds[0], true
	}
	// All adds equal also resolves, regardless of leftover removes.
	first := m.adds[0]
	for _, a := range m.adds[1:] {
		if !sameValue(first, a) {
			return nil, false
		}
	}
	return first, true
}

// MergeTrees computes the tree of a rebased commit: conceptually
// oldTree + (merged newParents - merged oldParents), flattened into
// positive and negative terms so that conflicted inputs pass through.
func (mg *Merger) MergeTrees(oldParents []core.MergedTreeID, oldTree core.MergedTreeID, newParents []core.MergedTreeID) (core.MergedTreeID, error) {
	var addIDs, removeIDs []core.TreeID

	appendTerm := func(t core.MergedTreeID, positive bool) {
		if positive {
			addIDs = append(addIDs, t.Adds()...)
			removeIDs = append(removeIDs, t.Removes()...)
		} else {
			addIDs = append(addIDs, t.Removes()...)
			removeIDs = append(removeIDs, t.Adds()...)
		}
	}

	appendTerm(oldTree, true)
	oldBase, err := mg.foldParentTrees(oldParents)
	if err != nil {
		return core.MergedTreeID{}, err
	}
	appendTerm(oldBase, false)
	newBase, err := mg.foldParentTrees(newParents)
	if err != nil {
		return core.MergedTreeID{}, err
	}
	appendTerm(newBase, true)

	return mg.merge(addIDs, removeIDs)
}

// foldParentTrees combines a commit's parent trees into one merged tree
// value: empty for the root, the single parent's tree in the normal
// case, and an N-way merge term for merge commits (each extra parent
// contributes its content relative to the empty tree).
func (mg *Merger) foldParentTrees(parents []core.MergedTreeID) (core.MergedTreeID, error) {
	switch len(parents) {
	case 0:
		empty, err := mg.store.WriteEmptyTree()
		if err != nil {
			return core.MergedTreeID{}, err
		}
		return core.ResolvedTree(empty), nil
	case 1:
		return parents[0], nil
	default:
		empty, err := mg.store.WriteEmptyTree()
		if err != nil {
			return core.MergedTreeID{}, err
		}
		var adds, removes []core.TreeID
		for i, p := range parents {
			adds = append(adds, p.Adds()...)
			removes = append(removes, p.Removes()...)
			if i > 0 {
				removes = append(removes, empty)
			}
		}
		return interleave(adds, removes)
	}
}

// merge resolves the flattened add/remove term lists into a single
// resolved tree or a conflicted MergedTreeID.
func (mg *Merger) merge(addIDs, removeIDs []core.TreeID) (core.MergedTreeID, error) {
	addTrees, err := mg.loadAll(addIDs)
	if err != nil {
		return core.MergedTreeID{}, err
	}
	removeTrees, err := mg.loadAll(removeIDs)
	if err != nil {
		return core.MergedTreeID{}, err
	}

	paths := map[string]struct{}{}
	for _, t := range addTrees {
		for _, e := range t.Entries {
			paths[e.Path] = struct{}{}
		}
	}
	for _, t := range removeTrees {
		for _, e := range t.Entries {
			paths[e.Path] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	merges := map[string]*pathMerge{}
	maxAdds := 1
	conflicted := false
	for _, p := range sorted {
		pm := &pathMerge{}
		for _, t := range addTrees {
			pm.adds = append(pm.adds, entryValue(t, p))
		}
		for _, t := range removeTrees {
			pm.removes = append(pm.removes, entryValue(t, p))
		}
		pm.simplify()
		merges[p] = pm
		if _, ok := pm.resolved(); !ok {
			conflicted = true
			if len(pm.adds) > maxAdds {
				maxAdds = len(pm.adds)
			}
		}
	}

	if !conflicted {
		t := &Tree{V: 1, Entries: []Entry{}}
		for _, p := range sorted {
			if v, _ := merges[p].resolved(); v != nil {
				t.Entries = append(t.Entries, *(*Entry)(v))
			}
		}
		id, err := mg.store.WriteTree(t)
		if err != nil {
			return core.MergedTreeID{}, err
		}
		return core.ResolvedTree(id), nil
	}

	// Build maxAdds side trees (and maxAdds-1 remove trees). Resolved
	// paths repeat their value on every side so they cancel; conflicted
	// paths with fewer terms pad by repeating their last add.
	sideAdds := make([]*Tree, maxAdds)
	sideRemoves := make([]*Tree, maxAdds-1)
	for i := range sideAdds {
		sideAdds[i] = &Tree{V: 1, Entries: []Entry{}}
	}
	for i := range sideRemoves {
		sideRemoves[i] = &Tree{V: 1, Entries: []Entry{}}
	}
	for _, p := range sorted {
		pm := merges[p]
		adds, removes := pm.adds, pm.removes
		if v, ok := pm.resolved(); ok {
			adds = make([]value, maxAdds)
			removes = make([]value, maxAdds-1)
			for i := range adds {
				adds[i] = v
			}
			for i := range removes {
				removes[i] = v
			}
		} else {
			for len(adds) < maxAdds {
				last := adds[len(adds)-1]
				adds = append(adds, last)
				removes = append(removes, last)
			}
		}
		for i, v := range adds {
			if v != nil {
				sideAdds[i].Entries = append(sideAdds[i].Entries, *(*Entry)(v))
			}
		}
		for i, v := range removes {
			if v != nil {
				sideRemoves[i].Entries = append(sideRemoves[i].Entries, *(*Entry)(v))
			}
		}
	}

	var adds, removes []core.TreeID
	for _, t := range sideAdds {
		id, err := mg.store.WriteTree(t)
		if err != nil {
			return core.MergedTreeID{}, err
		}
		adds = append(adds, id)
	}
	for _, t := range sideRemoves {
		id, err := mg.store.WriteTree(t)
		if err != nil {
			return core.MergedTreeID{}, err
		}
		removes = append(removes, id)
	}
	return interleave(adds, removes)
}

func (mg *Merger) loadAll(ids []core.TreeID) ([]*Tree, error) {
	out := make([]*Tree, 0, len(ids))
	for _, id := range ids {
		t, err := mg.store.GetTree(id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func entryValue(t *Tree, path string) value {
	if e, ok := t.PathValue(path); ok {
		return &e
	}
	return nil
}

// interleave packs add/remove term lists into the alternating side list
// form MergedTreeID requires.
func interleave(adds, removes []core.TreeID) (core.MergedTreeID, error) {
	if len(adds) == 1 && len(removes) == 0 {
		return core.ResolvedTree(adds[0]), nil
	}
	sides := make([]core.TreeID, 0, len(adds)+len(removes))
	for i := range adds {
		sides = append(sides, adds[i])
		if i < len(removes) {
			sides = append(sides, removes[i])
		}
	}
	return core.ConflictedTree(sides)
}
