// Package rewrite recomputes commit subgraphs after an ancestor changes:
// rebases, reparents and abandons, with predecessor chains maintained
// and every view reference (heads, bookmarks, working copies) carried
// through the rewrite.
package rewrite

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/solenoidlabs/keel/internal/core"
	"github.com/solenoidlabs/keel/internal/graph"
	"github.com/solenoidlabs/keel/internal/repo"
)

// Callback is invoked once per commit in topological order, parents
// first. It may redirect the rewrite through the CommitRewriter:
// abandon the commit, force a reparent, or substitute a tree or
// description. A nil callback rebases everything whose parents changed.
type Callback func(rw *CommitRewriter) error

// Options tunes a TransformDescendants run.
type Options struct {
	// IsImmutable overrides the repository's configured immutable set.
	// The root commit stays unconditionally immutable either way.
	IsImmutable func(id core.CommitID) (bool, error)
}

// Result summarizes one rewriter invocation.
type Result struct {
	// Rewritten maps each old commit id to its replacement.
	Rewritten map[core.CommitID]core.CommitID
	// Abandoned lists commits that were dropped; their children were
	// reattached to the abandoned commits' (rewritten) parents.
	Abandoned []core.CommitID
	// WCReplacements records workspaces whose working-copy commit was
	// replaced by a fresh empty child because the rewrite left it on an
	// immutable commit.
	WCReplacements map[string]core.CommitID
}

// CommitRewriter is the per-commit handle passed to the callback.
type CommitRewriter struct {
	old        *core.Commit
	newParents []core.CommitID

	abandoned   bool
	reparent    bool
	customTree  *core.MergedTreeID
	customDesc  *string
	clearPredec bool
}

// OldCommit returns the commit being rewritten.
func (rw *CommitRewriter) OldCommit() *core.Commit { return rw.old }

// NewParents returns the commit's parents after substitution through
// the rewrites performed so far.
func (rw *CommitRewriter) NewParents() []core.CommitID { return rw.newParents }

// ParentsChanged reports whether substitution altered the parent list.
func (rw *CommitRewriter) ParentsChanged() bool {
	return !sameCommitIDs(rw.old.Parents, rw.newParents)
}

// Abandon drops the commit; its children reattach to its new parents.
func (rw *CommitRewriter) Abandon() { rw.abandoned = true }

// Reparent keeps the old tree and only changes parent pointers,
// skipping the tree merge.
func (rw *CommitRewriter) Reparent() { rw.reparent = true }

// SetTree substitutes the commit's tree directly. Implies reparent: no
// merge is performed on top of the supplied tree.
func (rw *CommitRewriter) SetTree(t core.MergedTreeID) { rw.customTree = &t }

// SetDescription replaces the commit message.
func (rw *CommitRewriter) SetDescription(desc string) { rw.customDesc = &desc }

// ClearPredecessors emits the rewritten commit with an empty
// predecessor list, cutting its evolution history.
func (rw *CommitRewriter) ClearPredecessors() { rw.clearPredec = true }

// resolution is the old_to_new entry for one processed commit.
// Unchanged commits have no entry. For a mapped commit ids holds the
// single replacement; for an abandoned commit it holds the resolved
// parents its children reattach to.
type resolution struct {
	abandoned bool
	ids       []core.CommitID
}

// TransformDescendants rewrites the given roots and every visible
// descendant, in topological order, staging all new commits and the
// updated view into tx. The invocation is all-or-nothing with respect
// to the immutability guard: a violation is detected during planning
// and nothing is written.
func TransformDescendants(tx *repo.Transaction, roots []core.CommitID, cb Callback) (*Result, error) {
	return TransformDescendantsWith(tx, roots, cb, Options{})
}

// TransformDescendantsWith is TransformDescendants with options.
func TransformDescendantsWith(tx *repo.Transaction, roots []core.CommitID, cb Callback, opts Options) (*Result, error) {
	r := tx.Repo()
	isImmutable := opts.IsImmutable
	if isImmutable == nil {
		isImmutable = r.IsImmutable
	}

	// Planning: compute the affected set and run the immutability guard
	// before anything is written.
	planned, err := graph.DescendantsTopo(r.Store, tx.View().HeadIDs, roots)
	if err != nil {
		return nil, err
	}
	immutableCount := 0
	var firstImmutable core.CommitID
	for _, c := range planned {
		protected := c.ID == r.RootCommitID
		if !protected {
			protected, err = isImmutable(c.ID)
			if err != nil {
				return nil, err
			}
		}
		if protected {
			if immutableCount == 0 {
				firstImmutable = c.ID
			}
			immutableCount++
		}
	}
	if immutableCount > 0 {
		return nil, &ImmutableCommitError{CommitID: firstImmutable, Count: immutableCount}
	}

	result := &Result{
		Rewritten:      map[core.CommitID]core.CommitID{},
		WCReplacements: map[string]core.CommitID{},
	}
	oldToNew := map[core.CommitID]resolution{}

	for _, old := range planned {
		rw := &CommitRewriter{
			old:        old,
			newParents: resolveParents(old.Parents, oldToNew),
		}
		if cb != nil {
			if err := cb(rw); err != nil {
				return nil, fmt.Errorf("rewrite callback for %s: %w", old.ID.Short(), err)
			}
		}
		if rw.abandoned {
			oldToNew[old.ID] = resolution{abandoned: true, ids: rw.newParents}
			result.Abandoned = append(result.Abandoned, old.ID)
			continue
		}

		newCommit, changed, err := rw.build(tx)
		if err != nil {
			return nil, err
		}
		if !changed {
			continue // no-op, keep the original
		}
		newID, err := tx.WriteCommit(newCommit)
		if err != nil {
			return nil, err
		}
		oldToNew[old.ID] = resolution{ids: []core.CommitID{newID}}
		result.Rewritten[old.ID] = newID
	}

	if err := propagateViewRefs(tx, oldToNew, result, isImmutable); err != nil {
		return nil, err
	}

	r.Logger.Debug("transform descendants complete",
		zap.Int("planned", len(planned)),
		zap.Int("rewritten", len(result.Rewritten)),
		zap.Int("abandoned", len(result.Abandoned)))
	return result, nil
}

// build assembles the replacement commit, reporting changed=false when
// the rewrite would reproduce the old commit exactly.
func (rw *CommitRewriter) build(tx *repo.Transaction) (*core.Commit, bool, error) {
	parentsChanged := rw.ParentsChanged()
	edited := rw.customTree != nil || rw.customDesc != nil || rw.clearPredec
	if !parentsChanged && !edited {
		return nil, false, nil
	}

	newTree := rw.old.Tree
	switch {
	case rw.customTree != nil:
		newTree = *rw.customTree
	case rw.reparent || !parentsChanged:
		// keep the old tree
	default:
		// Rebase: merge the tree across the parent change.
		oldParentTrees, err := parentTrees(tx, rw.old.Parents)
		if err != nil {
			return nil, false, err
		}
		newParentTrees, err := parentTrees(tx, rw.newParents)
		if err != nil {
			return nil, false, err
		}
		newTree, err = tx.Repo().Merger.MergeTrees(oldParentTrees, rw.old.Tree, newParentTrees)
		if err != nil {
			return nil, false, fmt.Errorf("merge trees for %s: %w", rw.old.ID.Short(), err)
		}
	}

	c := rw.old.Clone()
	c.Parents = rw.newParents
	c.Tree = newTree
	c.Predecessors = []core.CommitID{rw.old.ID}
	if rw.clearPredec {
		c.Predecessors = nil
	}
	if rw.customDesc != nil {
		c.Description = *rw.customDesc
	}
	return c, true, nil
}

func parentTrees(tx *repo.Transaction, parents []core.CommitID) ([]core.MergedTreeID, error) {
	out := make([]core.MergedTreeID, 0, len(parents))
	for _, p := range parents {
		c, err := tx.Repo().Store.GetCommit(p)
		if err != nil {
			return nil, err
		}
		out = append(out, c.Tree)
	}
	return out, nil
}

// resolveParents substitutes parents through the resolution map built so
// far. Abandoned parents are replaced by their own resolved parents; the
// map is built in topological order, so the stored entries are already
// fully resolved and no recursion is needed.
func resolveParents(parents []core.CommitID, oldToNew map[core.CommitID]resolution) []core.CommitID {
	var out []core.CommitID
	seen := map[core.CommitID]struct{}{}
	for _, p := range parents {
		ids := []core.CommitID{p}
		if res, ok := oldToNew[p]; ok {
			ids = res.ids
		}
		for _, id := range ids {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}

func sameCommitIDs(a, b []core.CommitID) bool {
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
