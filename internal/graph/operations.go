package graph

import (
	"errors"
	"sort"

	"github.com/solenoidlabs/keel/internal/core"
)

// ErrNoCommonAncestor means a backward walk over the operation DAG found
// no operation reachable from every head. The graph is corrupted or was
// assembled from foreign repositories; reconciliation must not guess.
var ErrNoCommonAncestor = errors.New("operation graph has no common ancestor")

// OpSource resolves operation ids to operations.
type OpSource interface {
	GetOperation(id core.OperationID) (*core.Operation, error)
}

// OpAncestors collects every operation reachable from start, keyed by id.
func OpAncestors(src OpSource, start []core.OperationID) (map[core.OperationID]*core.Operation, error) {
	out := map[core.OperationID]*core.Operation{}
	queue := append([]core.OperationID(nil), start...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := out[id]; ok {
			continue
		}
		op, err := src.GetOperation(id)
		if err != nil {
			return nil, err
		}
		out[id] = op
		queue = append(queue, op.ParentIDs...)
	}
	return out, nil
}

// ClosestCommonOpAncestor finds the nearest operation reachable from all
// of heads. If several are equally close, the smallest id wins so every
// reader converges on the same base.
func ClosestCommonOpAncestor(src OpSource, heads []core.OperationID) (core.OperationID, error) {
	if len(heads) == 0 {
		return core.OperationID{}, ErrNoCommonAncestor
	}

	common, err := OpAncestors(src, heads[:1])
	if err != nil {
		return core.OperationID{}, err
	}
	for _, head := range heads[1:] {
		ancestors, err := OpAncestors(src, []core.OperationID{head})
		if err != nil {
			return core.OperationID{}, err
		}
		for id := range common {
			if _, ok := ancestors[id]; !ok {
				delete(common, id)
			}
		}
	}
	if len(common) == 0 {
		return core.OperationID{}, ErrNoCommonAncestor
	}

	// Maxima of the common set: drop every member that is a strict
	// ancestor of another member.
	covered := map[core.OperationID]struct{}{}
	for _, op := range common {
		queue := append([]core.OperationID(nil), op.ParentIDs...)
		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			if _, done := covered[p]; done {
				continue
			}
			covered[p] = struct{}{}
			if ancestor, ok := common[p]; ok {
				queue = append(queue, ancestor.ParentIDs...)
			} else if op, err := src.GetOperation(p); err == nil {
				queue = append(queue, op.ParentIDs...)
			}
		}
	}
	var maxima []core.OperationID
	for id := range common {
		if _, ok := covered[id]; !ok {
			maxima = append(maxima, id)
		}
	}
	if len(maxima) == 0 {
		return core.OperationID{}, ErrNoCommonAncestor
	}
	sort.Slice(maxima, func(i, j int) bool { return maxima[i].Less(maxima[j]) })
	return maxima[0], nil
}

// TopoOrderOps returns all operations reachable from heads, newest
// first: every operation appears before all of its ancestors. Ties are
// broken by operation id.
func TopoOrderOps(src OpSource, heads []core.OperationID) ([]*core.Operation, error) {
	all, err := OpAncestors(src, heads)
	if err != nil {
		return nil, err
	}

	childCount := map[core.OperationID]int{}
	for _, op := range all {
		for _, p := range op.ParentIDs {
			childCount[p]++
		}
	}
	var ready []core.OperationID
	for id := range all {
		if childCount[id] == 0 {
			ready = append(ready, id)
		}
	}

	var order []*core.Operation
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].Less(ready[j]) })
		id := ready[0]
		ready = ready[1:]
		op := all[id]
		order = append(order, op)
		for _, p := range op.ParentIDs {
			childCount[p]--
			if childCount[p] == 0 {
				ready = append(ready, p)
			}
		}
	}
	return order, nil
}
