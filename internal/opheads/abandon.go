package opheads

import (
	"fmt"
	"sort"

	"github.com/solenoidlabs/keel/internal/core"
	"github.com/solenoidlabs/keel/internal/graph"
	"github.com/solenoidlabs/keel/internal/store"
)

// AbandonOperations excises the given operations from the operation DAG
// by rewriting every descendant operation onto the abandoned operations'
// ancestors. Views are untouched; only parent links change, so the new
// operations describe the same repository states. Returns the number of
// operations rewritten.
//
// The abandoned objects remain in the store as unreachable orphans,
// exactly like abandoned commits.
func AbandonOperations(s *store.Store, heads *Store, abandon []core.OperationID) (int, error) {
	if len(abandon) == 0 {
		return 0, nil
	}
	abandonSet := map[core.OperationID]struct{}{}
	for _, id := range abandon {
		abandonSet[id] = struct{}{}
	}

	oldHeads, err := heads.Heads()
	if err != nil {
		return 0, err
	}
	if len(oldHeads) == 0 {
		return 0, ErrNoHeads
	}

	// Oldest first so every parent is resolved before its children.
	order, err := graph.TopoOrderOps(s, oldHeads)
	if err != nil {
		return 0, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	// resolve maps an old parent reference to its replacement set:
	// the rewritten id, or for abandoned operations their own resolved
	// parents. Built in topological order, so lookups never recurse.
	resolve := map[core.OperationID][]core.OperationID{}
	rewritten := 0
	for _, op := range order {
		newParents := resolveParents(op.ParentIDs, resolve)
		if _, dropped := abandonSet[op.ID]; dropped {
			resolve[op.ID] = newParents
			continue
		}
		if sameIDs(newParents, op.ParentIDs) {
			continue
		}
		clone := *op
		clone.ID = core.OperationID{}
		clone.ParentIDs = newParents
		newID, err := s.WriteOperation(&clone)
		if err != nil {
			return rewritten, fmt.Errorf("rewrite operation %s: %w", op.ID.Short(), err)
		}
		resolve[op.ID] = []core.OperationID{newID}
		rewritten++
	}

	// Swap the head set to the resolved heads.
	newHeads := map[core.OperationID]struct{}{}
	for _, h := range oldHeads {
		for _, id := range resolveOne(h, resolve) {
			newHeads[id] = struct{}{}
		}
	}
	for _, h := range oldHeads {
		if err := heads.Remove(h); err != nil {
			return rewritten, err
		}
	}
	ids := make([]core.OperationID, 0, len(newHeads))
	for id := range newHeads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	for _, id := range ids {
		if err := heads.Add(id); err != nil {
			return rewritten, err
		}
	}
	return rewritten, nil
}

func resolveParents(parents []core.OperationID, resolve map[core.OperationID][]core.OperationID) []core.OperationID {
	var out []core.OperationID
	seen := map[core.OperationID]struct{}{}
	for _, p := range parents {
		for _, id := range resolveOne(p, resolve) {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}

func resolveOne(id core.OperationID, resolve map[core.OperationID][]core.OperationID) []core.OperationID {
	if mapped, ok := resolve[id]; ok {
		return mapped
	}
	return []core.OperationID{id}
}

func sameIDs(a, b []core.OperationID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
