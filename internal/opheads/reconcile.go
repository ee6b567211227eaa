package opheads

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/solenoidlabs/keel/internal/core"
	"github.com/solenoidlabs/keel/internal/graph"
	"github.com/solenoidlabs/keel/internal/store"
)

// ReconcileDescription is the command description stamped on every
// merge operation the reconciler creates.
const ReconcileDescription = "reconcile divergent operations"

// Reconciler folds divergent op heads into a single merge operation.
// Reconciliation is itself an operation, so it is auditable and subject
// to later reconciliation if it races with another writer; any number of
// concurrent writers converges to one head through repeated passes.
type Reconciler struct {
	Store       *store.Store
	Heads       *Store
	Oracle      core.AncestryOracle
	NewMetadata func(description string) core.OperationMetadata
	Logger      *zap.Logger
}

// ResolveHeads returns the single current operation, reconciling first
// if several heads exist. Working-copy merge warnings from the fold are
// returned alongside.
func (r *Reconciler) ResolveHeads() (*core.Operation, []core.WCWarning, error) {
	heads, err := r.Heads.Heads()
	if err != nil {
		return nil, nil, err
	}
	switch len(heads) {
	case 0:
		return nil, nil, ErrNoHeads
	case 1:
		op, err := r.Store.GetOperation(heads[0])
		return op, nil, err
	}

	r.Logger.Info("reconciling divergent operation heads", zap.Int("heads", len(heads)))

	base, err := graph.ClosestCommonOpAncestor(r.Store, heads)
	if err != nil {
		if errors.Is(err, graph.ErrNoCommonAncestor) {
			return nil, nil, fmt.Errorf("%w (heads: %v)", ErrMergeAncestryUnresolvable, heads)
		}
		return nil, nil, err
	}
	baseOp, err := r.Store.GetOperation(base)
	if err != nil {
		return nil, nil, err
	}
	baseView, err := r.Store.GetView(baseOp.ViewID)
	if err != nil {
		return nil, nil, err
	}

	// Fold left to right in ascending operation-id order (Heads returns
	// them sorted), each step a three-way merge against the common base.
	var warnings []core.WCWarning
	firstOp, err := r.Store.GetOperation(heads[0])
	if err != nil {
		return nil, nil, err
	}
	merged, err := r.Store.GetView(firstOp.ViewID)
	if err != nil {
		return nil, nil, err
	}
	for _, headID := range heads[1:] {
		headOp, err := r.Store.GetOperation(headID)
		if err != nil {
			return nil, nil, err
		}
		headView, err := r.Store.GetView(headOp.ViewID)
		if err != nil {
			return nil, nil, err
		}
		merged, warnings, err = mergeStep(baseView, merged, headView, r.Oracle, warnings)
		if err != nil {
			return nil, nil, err
		}
	}

	viewID, err := r.Store.WriteView(merged)
	if err != nil {
		return nil, nil, err
	}
	mergeOp := &core.Operation{
		V:         1,
		ParentIDs: heads,
		ViewID:    viewID,
		Metadata:  r.NewMetadata(ReconcileDescription),
	}
	opID, err := r.Store.WriteOperation(mergeOp)
	if err != nil {
		return nil, nil, err
	}
	if err := r.Heads.Update(heads, opID); err != nil {
		return nil, nil, err
	}

	r.Logger.Info("reconciled operation heads",
		zap.String("operation", opID.Short()),
		zap.Int("merged_heads", len(heads)))
	for _, w := range warnings {
		r.Logger.Warn("working-copy pointer conflict during reconciliation",
			zap.String("workspace", w.Workspace),
			zap.String("kept", w.Kept.Short()),
			zap.String("skipped", w.Skipped.Short()))
	}
	return mergeOp, warnings, nil
}

func mergeStep(base, a, b *core.View, oracle core.AncestryOracle, warnings []core.WCWarning) (*core.View, []core.WCWarning, error) {
	merged, stepWarnings, err := core.MergeViews(base, a, b, oracle)
	if err != nil {
		return nil, nil, err
	}
	return merged, append(warnings, stepWarnings...), nil
}

// RecoverHeads re-derives the head set by scanning every known operation
// for ones with no recorded child, then rewrites the op-heads record.
// This is the repair path for a corrupted op-heads pointer.
func RecoverHeads(s *store.Store, heads *Store) ([]core.OperationID, error) {
	ops, err := s.ListOperations()
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, ErrNoHeads
	}
	hasChild := map[core.OperationID]bool{}
	for _, op := range ops {
		for _, p := range op.ParentIDs {
			hasChild[p] = true
		}
	}

	existing, err := heads.Heads()
	if err != nil {
		return nil, err
	}
	for _, id := range existing {
		if err := heads.Remove(id); err != nil {
			return nil, err
		}
	}
	for _, op := range ops {
		if !hasChild[op.ID] {
			if err := heads.Add(op.ID); err != nil {
				return nil, err
			}
		}
	}
	return heads.Heads()
}
