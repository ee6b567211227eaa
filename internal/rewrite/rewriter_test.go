package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solenoidlabs/keel/internal/config"
	"github.com/solenoidlabs/keel/internal/core"
	"github.com/solenoidlabs/keel/internal/repo"
	"github.com/solenoidlabs/keel/internal/tree"
)

func initTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	r, err := repo.Init(t.TempDir(), config.Default(), zap.NewNop())
	require.NoError(t, err)
	return r
}

func writeTestTree(t *testing.T, r *repo.Repository, files map[string]string) core.TreeID {
	t.Helper()
	b := tree.NewBuilder(nil)
	for path, content := range files {
		id, err := r.Trees.WriteBlob([]byte(content))
		require.NoError(t, err)
		b.Set(path, id, false)
	}
	id, err := b.Write(r.Trees)
	require.NoError(t, err)
	return id
}

func treeContent(t *testing.T, r *repo.Repository, m core.MergedTreeID) map[string]string {
	t.Helper()
	id, ok := m.Resolved()
	require.True(t, ok, "tree is conflicted")
	tr, err := r.Trees.GetTree(id)
	require.NoError(t, err)
	out := map[string]string{}
	for _, e := range tr.Entries {
		content, err := r.Trees.GetBlob(e.FileID)
		require.NoError(t, err)
		out[e.Path] = string(content)
	}
	return out
}

// buildChain commits a linear history A -> B -> C with distinct trees and
// finishes the transaction.
func buildChain(t *testing.T, r *repo.Repository) (a, b, c *core.Commit) {
	t.Helper()
	tx, err := r.StartTransaction()
	require.NoError(t, err)

	a, err = tx.NewCommit([]core.CommitID{r.RootCommitID},
		core.ResolvedTree(writeTestTree(t, r, map[string]string{"f": "1"})), "A")
	require.NoError(t, err)
	b, err = tx.NewCommit([]core.CommitID{a.ID},
		core.ResolvedTree(writeTestTree(t, r, map[string]string{"f": "1", "g": "1"})), "B")
	require.NoError(t, err)
	c, err = tx.NewCommit([]core.CommitID{b.ID},
		core.ResolvedTree(writeTestTree(t, r, map[string]string{"f": "1", "g": "1", "h": "1"})), "C")
	require.NoError(t, err)

	_, _, err = tx.Finish("build chain")
	require.NoError(t, err)
	return a, b, c
}

func TestTransformDescendants_TreeChangePropagates(t *testing.T) {
	r := initTestRepo(t)
	a, b, c := buildChain(t, r)

	newATree := writeTestTree(t, r, map[string]string{"f": "2"})

	tx, err := r.StartTransaction()
	require.NoError(t, err)
	res, err := TransformDescendants(tx, []core.CommitID{a.ID}, func(rw *CommitRewriter) error {
		if rw.OldCommit().ID == a.ID {
			rw.SetTree(core.ResolvedTree(newATree))
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, res.Rewritten, 3)

	// The f change flows through B and C; their own g/h changes survive.
	newB, err := r.Store.GetCommit(res.Rewritten[b.ID])
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f": "2", "g": "1"}, treeContent(t, r, newB.Tree))

	newC, err := r.Store.GetCommit(res.Rewritten[c.ID])
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f": "2", "g": "1", "h": "1"}, treeContent(t, r, newC.Tree))

	// Parent links follow the rewrite.
	assert.Equal(t, []core.CommitID{res.Rewritten[a.ID]}, newB.Parents)
	assert.Equal(t, []core.CommitID{res.Rewritten[b.ID]}, newC.Parents)

	// Change ids survive; predecessors point at the replaced versions.
	assert.Equal(t, b.ChangeID, newB.ChangeID)
	assert.Equal(t, c.ChangeID, newC.ChangeID)
	assert.Equal(t, []core.CommitID{b.ID}, newB.Predecessors)
	assert.Equal(t, []core.CommitID{c.ID}, newC.Predecessors)

	// The old tip is no longer a visible head.
	_, _, err = tx.Finish("rewrite A")
	require.NoError(t, err)
	op, err := r.CurrentOperation(false)
	require.NoError(t, err)
	view, err := r.Store.GetView(op.ViewID)
	require.NoError(t, err)
	assert.False(t, view.HasHead(c.ID))
	assert.True(t, view.HasHead(res.Rewritten[c.ID]))
}

func TestSetDescription(t *testing.T) {
	r := initTestRepo(t)
	a, b, _ := buildChain(t, r)

	tx, err := r.StartTransaction()
	require.NoError(t, err)
	res, err := SetDescription(tx, a.ID, "A, reworded")
	require.NoError(t, err)

	newA, err := r.Store.GetCommit(res.Rewritten[a.ID])
	require.NoError(t, err)
	assert.Equal(t, "A, reworded", newA.Description)
	assert.Equal(t, a.ChangeID, newA.ChangeID)
	assert.True(t, newA.Tree.Equal(a.Tree), "describe must not touch the tree")

	// Descendants were rewritten onto the new version but keep their
	// content.
	newB, err := r.Store.GetCommit(res.Rewritten[b.ID])
	require.NoError(t, err)
	assert.Equal(t, "B", newB.Description)
	assert.True(t, newB.Tree.Equal(b.Tree))
}

func TestAbandonCommits_ReattachesDescendants(t *testing.T) {
	r := initTestRepo(t)
	a, b, c := buildChain(t, r)

	tx, err := r.StartTransaction()
	require.NoError(t, err)
	res, err := AbandonCommits(tx, []core.CommitID{b.ID})
	require.NoError(t, err)

	assert.Equal(t, []core.CommitID{b.ID}, res.Abandoned)
	_, bRewritten := res.Rewritten[b.ID]
	assert.False(t, bRewritten, "abandoned commits are not rewritten")

	// C hangs off A now. Its own h change survives; the g file vanished
	// with B, since C never changed it relative to B.
	newC, err := r.Store.GetCommit(res.Rewritten[c.ID])
	require.NoError(t, err)
	assert.Equal(t, []core.CommitID{a.ID}, newC.Parents)
	assert.Equal(t, []core.CommitID{c.ID}, newC.Predecessors)
	assert.Equal(t, map[string]string{"f": "1", "h": "1"}, treeContent(t, r, newC.Tree))
}

func TestAbandonLeaf_ParentBecomesHead(t *testing.T) {
	r := initTestRepo(t)
	_, b, c := buildChain(t, r)

	tx, err := r.StartTransaction()
	require.NoError(t, err)
	_, err = AbandonCommits(tx, []core.CommitID{c.ID})
	require.NoError(t, err)
	_, _, err = tx.Finish("abandon tip")
	require.NoError(t, err)

	op, err := r.CurrentOperation(false)
	require.NoError(t, err)
	view, err := r.Store.GetView(op.ViewID)
	require.NoError(t, err)
	assert.False(t, view.HasHead(c.ID))
	assert.True(t, view.HasHead(b.ID), "abandoned tip's parent becomes a head")
}

func TestRebase_MovesSubgraph(t *testing.T) {
	r := initTestRepo(t)

	tx, err := r.StartTransaction()
	require.NoError(t, err)
	trunk, err := tx.NewCommit([]core.CommitID{r.RootCommitID},
		core.ResolvedTree(writeTestTree(t, r, map[string]string{"trunk": "v"})), "trunk")
	require.NoError(t, err)
	feature, err := tx.NewCommit([]core.CommitID{r.RootCommitID},
		core.ResolvedTree(writeTestTree(t, r, map[string]string{"feat": "v"})), "feature")
	require.NoError(t, err)
	_, _, err = tx.Finish("setup")
	require.NoError(t, err)

	tx, err = r.StartTransaction()
	require.NoError(t, err)
	res, err := Rebase(tx, []core.CommitID{feature.ID}, []core.CommitID{trunk.ID})
	require.NoError(t, err)

	moved, err := r.Store.GetCommit(res.Rewritten[feature.ID])
	require.NoError(t, err)
	assert.Equal(t, []core.CommitID{trunk.ID}, moved.Parents)
	assert.Equal(t, map[string]string{"trunk": "v", "feat": "v"}, treeContent(t, r, moved.Tree))
}

func TestImmutability_AllOrNothing(t *testing.T) {
	r := initTestRepo(t)
	a, b, _ := buildChain(t, r)

	tx, err := r.StartTransaction()
	require.NoError(t, err)
	headsBefore := append([]core.CommitID(nil), tx.View().HeadIDs...)

	immutable := map[core.CommitID]bool{a.ID: true, b.ID: true}
	_, err = TransformDescendantsWith(tx, []core.CommitID{a.ID}, nil, Options{
		IsImmutable: func(id core.CommitID) (bool, error) { return immutable[id], nil },
	})
	var ice *ImmutableCommitError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, a.ID, ice.CommitID, "topologically first violation is reported")
	assert.Equal(t, 2, ice.Count)

	// Nothing was staged: the view is untouched and finishing the
	// transaction is a no-op, leaving the op head where it was.
	assert.Equal(t, headsBefore, tx.View().HeadIDs)
	base := tx.BaseOperation().ID
	opID, changed, err := tx.Finish("rejected rewrite")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, base, opID)
}

func TestRootCommit_AlwaysImmutable(t *testing.T) {
	r := initTestRepo(t)

	tx, err := r.StartTransaction()
	require.NoError(t, err)
	_, err = TransformDescendantsWith(tx, []core.CommitID{r.RootCommitID}, nil, Options{
		IsImmutable: func(core.CommitID) (bool, error) { return false, nil },
	})
	var ice *ImmutableCommitError
	require.ErrorAs(t, err, &ice, "the root must be protected even with a permissive predicate")
}

func TestBookmarksFollowRewrite(t *testing.T) {
	r := initTestRepo(t)
	a, b, _ := buildChain(t, r)

	tx, err := r.StartTransaction()
	require.NoError(t, err)
	tx.View().SetLocalBookmark("work", core.NewRefTarget(b.ID))
	res, err := SetDescription(tx, a.ID, "rewritten")
	require.NoError(t, err)

	got := tx.View().LocalBookmarks["work"]
	assert.True(t, got.Equal(core.NewRefTarget(res.Rewritten[b.ID])),
		"bookmark should follow its commit through the rewrite")
}

func TestBookmarkOnAbandonedCommitMovesToParent(t *testing.T) {
	r := initTestRepo(t)
	a, b, _ := buildChain(t, r)

	tx, err := r.StartTransaction()
	require.NoError(t, err)
	tx.View().SetLocalBookmark("work", core.NewRefTarget(b.ID))
	_, err = AbandonCommits(tx, []core.CommitID{b.ID})
	require.NoError(t, err)

	got := tx.View().LocalBookmarks["work"]
	assert.True(t, got.Equal(core.NewRefTarget(a.ID)),
		"bookmark on an abandoned commit falls back to its parent")
}

func TestAbandonWorkingCopy_FreshChildCreated(t *testing.T) {
	r := initTestRepo(t)

	op, err := r.CurrentOperation(false)
	require.NoError(t, err)
	view, err := r.Store.GetView(op.ViewID)
	require.NoError(t, err)
	wcID := view.WCCommitIDs[repo.DefaultWorkspace]

	tx, err := r.StartTransaction()
	require.NoError(t, err)
	res, err := AbandonCommits(tx, []core.CommitID{wcID})
	require.NoError(t, err)

	// The pointer would land on the root, which is immutable, so a fresh
	// empty child is created instead.
	newWC, ok := res.WCReplacements[repo.DefaultWorkspace]
	require.True(t, ok, "expected a working-copy replacement")
	assert.Equal(t, newWC, tx.View().WCCommitIDs[repo.DefaultWorkspace])
	assert.NotEqual(t, r.RootCommitID, newWC)

	child, err := r.Store.GetCommit(newWC)
	require.NoError(t, err)
	assert.Equal(t, []core.CommitID{r.RootCommitID}, child.Parents)
	assert.NotEqual(t, wcID, child.ID, "replacement is a new commit, not the old one")
}

func TestClearPredecessors(t *testing.T) {
	r := initTestRepo(t)
	a, _, _ := buildChain(t, r)

	tx, err := r.StartTransaction()
	require.NoError(t, err)
	res1, err := SetDescription(tx, a.ID, "v2")
	require.NoError(t, err)
	rewrittenA := res1.Rewritten[a.ID]

	res2, err := ClearPredecessors(tx, []core.CommitID{rewrittenA})
	require.NoError(t, err)
	final, err := r.Store.GetCommit(res2.Rewritten[rewrittenA])
	require.NoError(t, err)
	assert.Empty(t, final.Predecessors, "predecessor chain cut")
	assert.Equal(t, a.ChangeID, final.ChangeID)
}

func TestTransformDescendants_NilCallbackNoChange(t *testing.T) {
	r := initTestRepo(t)
	a, _, _ := buildChain(t, r)

	tx, err := r.StartTransaction()
	require.NoError(t, err)
	res, err := TransformDescendants(tx, []core.CommitID{a.ID}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Rewritten, "no parent changed, nothing to rewrite")
	assert.Empty(t, res.Abandoned)
}
