package repo

import (
	"github.com/solenoidlabs/keel/internal/core"
	"github.com/solenoidlabs/keel/internal/graph"
)

// OpLog returns operations reachable from the current head, newest
// first in topological order. limit <= 0 means no limit. Read-only;
// divergent heads are reconciled first so the log has a single tip.
func (r *Repository) OpLog(limit int) ([]*core.Operation, error) {
	op, err := r.CurrentOperation(true)
	if err != nil {
		return nil, err
	}
	ops, err := graph.TopoOrderOps(r.Store, []core.OperationID{op.ID})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ops) > limit {
		ops = ops[:limit]
	}
	return ops, nil
}

// OpAncestors collects every operation reachable from the given ids.
func (r *Repository) OpAncestors(start []core.OperationID) (map[core.OperationID]*core.Operation, error) {
	return graph.OpAncestors(r.Store, start)
}
