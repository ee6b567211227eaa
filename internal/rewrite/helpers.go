package rewrite

import (
	"github.com/solenoidlabs/keel/internal/core"
	"github.com/solenoidlabs/keel/internal/repo"
)

// AbandonCommits drops the target commits and reattaches their
// descendants to the targets' parents.
func AbandonCommits(tx *repo.Transaction, targets []core.CommitID) (*Result, error) {
	targetSet := map[core.CommitID]struct{}{}
	for _, id := range targets {
		targetSet[id] = struct{}{}
	}
	return TransformDescendants(tx, targets, func(rw *CommitRewriter) error {
		if _, ok := targetSet[rw.OldCommit().ID]; ok {
			rw.Abandon()
		}
		return nil
	})
}

// SetDescription rewrites a single commit's message; descendants are
// rebased onto the new version.
func SetDescription(tx *repo.Transaction, target core.CommitID, description string) (*Result, error) {
	return TransformDescendants(tx, []core.CommitID{target}, func(rw *CommitRewriter) error {
		if rw.OldCommit().ID == target {
			rw.Reparent()
			rw.SetDescription(description)
		}
		return nil
	})
}

// ClearPredecessors emits new versions of the targets with no
// predecessors set, cutting their evolution history so the superseded
// objects become collectible once unreferenced.
func ClearPredecessors(tx *repo.Transaction, targets []core.CommitID) (*Result, error) {
	targetSet := map[core.CommitID]struct{}{}
	for _, id := range targets {
		targetSet[id] = struct{}{}
	}
	return TransformDescendants(tx, targets, func(rw *CommitRewriter) error {
		if _, ok := targetSet[rw.OldCommit().ID]; ok {
			rw.Reparent()
			rw.ClearPredecessors()
		}
		return nil
	})
}

// Rebase moves the targets (and their descendants) onto newParents.
func Rebase(tx *repo.Transaction, targets []core.CommitID, newParents []core.CommitID) (*Result, error) {
	targetSet := map[core.CommitID]struct{}{}
	for _, id := range targets {
		targetSet[id] = struct{}{}
	}
	return TransformDescendants(tx, targets, func(rw *CommitRewriter) error {
		if _, ok := targetSet[rw.OldCommit().ID]; ok {
			rw.newParents = append([]core.CommitID(nil), newParents...)
		}
		return nil
	})
}
