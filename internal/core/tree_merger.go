package core

// TreeMerger is the external tree-merge capability. The rewriter calls
// it as an opaque function and only relies on this contract: the merge
// is deterministic, pure, and never fails a merge by erroring — an
// unmergeable input comes back as a conflicted MergedTreeID instead.
// Errors are reserved for store-level failures.
type TreeMerger interface {
	MergeTrees(oldParents []MergedTreeID, oldTree MergedTreeID, newParents []MergedTreeID) (MergedTreeID, error)
}
