// Package graph implements pure walk queries over the commit and
// operation DAGs: reachability, ancestor collection, and deterministic
// topological orders. Nothing here mutates state; callers supply a
// source that resolves ids to objects.
package graph

import (
	"sort"

	"github.com/solenoidlabs/keel/internal/core"
)

// CommitSource resolves commit ids to commits.
type CommitSource interface {
	GetCommit(id core.CommitID) (*core.Commit, error)
}

// IsAncestor reports whether ancestor is reachable from descendant via
// parent edges. A commit is considered its own ancestor.
func IsAncestor(src CommitSource, ancestor, descendant core.CommitID) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	seen := map[core.CommitID]struct{}{descendant: {}}
	queue := []core.CommitID{descendant}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		commit, err := src.GetCommit(id)
		if err != nil {
			return false, err
		}
		for _, p := range commit.Parents {
			if p == ancestor {
				return true, nil
			}
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// Ancestors collects every commit reachable from start, keyed by id.
func Ancestors(src CommitSource, start []core.CommitID) (map[core.CommitID]*core.Commit, error) {
	out := map[core.CommitID]*core.Commit{}
	queue := append([]core.CommitID(nil), start...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := out[id]; ok {
			continue
		}
		commit, err := src.GetCommit(id)
		if err != nil {
			return nil, err
		}
		out[id] = commit
		queue = append(queue, commit.Parents...)
	}
	return out, nil
}

// DescendantsTopo returns roots plus every visible descendant of roots,
// in topological order with parents strictly before children. Visibility
// is bounded by heads: only commits reachable from heads are considered.
// Ties are broken by commit id so the order is deterministic.
func DescendantsTopo(src CommitSource, heads, roots []core.CommitID) ([]*core.Commit, error) {
	visible, err := Ancestors(src, heads)
	if err != nil {
		return nil, err
	}
	for _, r := range roots {
		if _, ok := visible[r]; !ok {
			// A root may have already been hidden; include it anyway so
			// its descendants still reattach correctly.
			commit, cerr := src.GetCommit(r)
			if cerr != nil {
				return nil, cerr
			}
			visible[r] = commit
		}
	}

	// Forward closure from roots over child edges.
	children := map[core.CommitID][]core.CommitID{}
	for id, commit := range visible {
		for _, p := range commit.Parents {
			children[p] = append(children[p], id)
		}
	}
	affected := map[core.CommitID]struct{}{}
	queue := append([]core.CommitID(nil), roots...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := affected[id]; ok {
			continue
		}
		affected[id] = struct{}{}
		queue = append(queue, children[id]...)
	}

	// Kahn's algorithm restricted to the affected set, popping the
	// smallest id first.
	pending := map[core.CommitID]int{}
	for id := range affected {
		n := 0
		for _, p := range visible[id].Parents {
			if _, ok := affected[p]; ok {
				n++
			}
		}
		pending[id] = n
	}
	var ready []core.CommitID
	for id, n := range pending {
		if n == 0 {
			ready = append(ready, id)
		}
	}

	var order []*core.Commit
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].Less(ready[j]) })
		id := ready[0]
		ready = ready[1:]
		order = append(order, visible[id])
		for _, child := range children[id] {
			if _, ok := affected[child]; !ok {
				continue
			}
			pending[child]--
			if pending[child] == 0 {
				ready = append(ready, child)
			}
		}
	}
	return order, nil
}

// Maxima drops every id that is an ancestor of another element, leaving
// only the maximal commits of the set.
func Maxima(src CommitSource, ids []core.CommitID) ([]core.CommitID, error) {
	seen := map[core.CommitID]struct{}{}
	uniq := make([]core.CommitID, 0, len(ids))
	for _, c := range ids {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			uniq = append(uniq, c)
		}
	}
	ids = uniq

	var out []core.CommitID
	for _, c := range ids {
		isMax := true
		for _, other := range ids {
			if other == c {
				continue
			}
			anc, err := IsAncestor(src, c, other)
			if err != nil {
				return nil, err
			}
			if anc {
				isMax = false
				break
			}
		}
		if isMax {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

// Oracle adapts a CommitSource to the core.AncestryOracle interface.
type Oracle struct {
	Source CommitSource
}

func (o Oracle) IsAncestor(ancestor, descendant core.CommitID) (bool, error) {
	return IsAncestor(o.Source, ancestor, descendant)
}
