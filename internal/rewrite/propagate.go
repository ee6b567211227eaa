package rewrite

import (
	"sort"

	"go.uber.org/zap"

	"github.com/solenoidlabs/keel/internal/core"
	"github.com/solenoidlabs/keel/internal/repo"
)

// propagateViewRefs rewrites every view reference to a changed or
// abandoned commit through the resolution map: heads, local and remote
// bookmark targets, and working-copy pointers. Abandoned entries resolve
// to their nearest surviving ancestors.
func propagateViewRefs(tx *repo.Transaction, oldToNew map[core.CommitID]resolution, result *Result, isImmutable func(core.CommitID) (bool, error)) error {
	if len(oldToNew) == 0 {
		return nil
	}
	view := tx.View()

	resolve := func(id core.CommitID) []core.CommitID {
		if res, ok := oldToNew[id]; ok {
			return res.ids
		}
		return []core.CommitID{id}
	}

	// Heads. Maxima pruning happens at transaction finish.
	var newHeads []core.CommitID
	seen := map[core.CommitID]struct{}{}
	for _, h := range view.HeadIDs {
		for _, id := range resolve(h) {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				newHeads = append(newHeads, id)
			}
		}
	}
	sort.Slice(newHeads, func(i, j int) bool { return newHeads[i].Less(newHeads[j]) })
	view.HeadIDs = newHeads

	// Bookmarks.
	for name, target := range view.LocalBookmarks {
		if updated, changed := resolveTarget(target, resolve); changed {
			view.SetLocalBookmark(name, updated)
		}
	}
	for name, remotes := range view.RemoteBookmarks {
		for remote, ref := range remotes {
			if updated, changed := resolveTarget(ref.Target, resolve); changed {
				view.SetRemoteBookmark(name, remote, core.RemoteRef{Target: updated, Tracked: ref.Tracked})
			}
		}
	}

	// Working copies. A pointer that lands on an immutable commit (for
	// example because its commit was abandoned and it resolved to the
	// root) gets a fresh empty child instead: the working copy must
	// never sit directly on an immutable commit.
	for ws, wcID := range view.WCCommitIDs {
		resolved := resolve(wcID)
		if len(resolved) == 0 {
			resolved = []core.CommitID{tx.Repo().RootCommitID}
		}
		newID := resolved[0]
		if newID == wcID {
			continue
		}
		protected := newID == tx.Repo().RootCommitID
		if !protected {
			var err error
			protected, err = isImmutable(newID)
			if err != nil {
				return err
			}
		}
		if protected {
			parent, err := tx.Repo().Store.GetCommit(newID)
			if err != nil {
				return err
			}
			child, err := tx.NewCommit([]core.CommitID{newID}, parent.Tree, "")
			if err != nil {
				return err
			}
			tx.Repo().Logger.Warn("working copy landed on an immutable commit; created a fresh child",
				zap.String("workspace", ws),
				zap.String("immutable", newID.Short()),
				zap.String("new_wc", child.ID.Short()))
			result.WCReplacements[ws] = child.ID
			newID = child.ID
		}
		view.SetWCCommit(ws, newID)
	}
	return nil
}

func resolveTarget(target core.RefTarget, resolve func(core.CommitID) []core.CommitID) (core.RefTarget, bool) {
	var ids []core.CommitID
	changed := false
	for _, id := range target.IDs {
		mapped := resolve(id)
		if len(mapped) != 1 || mapped[0] != id {
			changed = true
		}
		ids = append(ids, mapped...)
	}
	if !changed {
		return target, false
	}
	return core.NewRefTarget(ids...), true
}
