package core

import (
	"sort"

	"github.com/samber/lo"
)

// RefTarget is a conflict-capable bookmark target: one commit id in the
// steady state, several when the bookmark is divergent.
type RefTarget struct {
	IDs []CommitID `json:"ids"`
}

// NewRefTarget builds a target from the given ids, deduplicated and
// sorted so that equal targets serialize identically.
func NewRefTarget(ids ...CommitID) RefTarget {
	uniq := lo.Uniq(ids)
	sort.Slice(uniq, func(i, j int) bool { return uniq[i].Less(uniq[j]) })
	return RefTarget{IDs: uniq}
}

// IsDivergent reports whether the target holds more than one commit.
func (t RefTarget) IsDivergent() bool { return len(t.IDs) > 1 }

// Equal compares id lists.
func (t RefTarget) Equal(other RefTarget) bool {
	if len(t.IDs) != len(other.IDs) {
		return false
	}
	for i := range t.IDs {
		if t.IDs[i] != other.IDs[i] {
			return false
		}
	}
	return true
}

// RemoteRef is a remote bookmark target plus its tracking flag.
type RemoteRef struct {
	Target  RefTarget `json:"target"`
	Tracked bool      `json:"tracked"`
}

// View is a content-addressed snapshot of all mutable repository
// pointers: visible heads, bookmarks, and per-workspace working-copy
// commits. A view is a pure function of the operation that produced it.
type View struct {
	ID ViewID `json:"-"`

	V int `json:"v"`
	// HeadIDs holds the maximal visible commits, sorted. No element is
	// an ancestor of another; all commits reachable from them are
	// retained.
	HeadIDs         []CommitID                      `json:"head_ids"`
	LocalBookmarks  map[string]RefTarget            `json:"local_bookmarks"`
	RemoteBookmarks map[string]map[string]RemoteRef `json:"remote_bookmarks"` // name -> remote -> ref
	WCCommitIDs     map[string]CommitID             `json:"wc_commit_ids"`    // workspace -> commit
}

// NewView returns an empty view.
func NewView() *View {
	return &View{
		V:               1,
		LocalBookmarks:  map[string]RefTarget{},
		RemoteBookmarks: map[string]map[string]RemoteRef{},
		WCCommitIDs:     map[string]CommitID{},
	}
}

// Clone returns a deep copy with the ID cleared.
func (v *View) Clone() *View {
	cp := NewView()
	cp.HeadIDs = append([]CommitID(nil), v.HeadIDs...)
	for name, t := range v.LocalBookmarks {
		cp.LocalBookmarks[name] = NewRefTarget(t.IDs...)
	}
	for name, remotes := range v.RemoteBookmarks {
		m := map[string]RemoteRef{}
		for remote, ref := range remotes {
			m[remote] = RemoteRef{Target: NewRefTarget(ref.Target.IDs...), Tracked: ref.Tracked}
		}
		cp.RemoteBookmarks[name] = m
	}
	for ws, id := range v.WCCommitIDs {
		cp.WCCommitIDs[ws] = id
	}
	return cp
}

// AddHead inserts a head id, keeping HeadIDs sorted and unique. Ancestor
// pruning happens when the view is sealed, not on every insert.
func (v *View) AddHead(id CommitID) {
	i := sort.Search(len(v.HeadIDs), func(i int) bool { return !v.HeadIDs[i].Less(id) })
	if i < len(v.HeadIDs) && v.HeadIDs[i] == id {
		return
	}
	v.HeadIDs = append(v.HeadIDs, CommitID{})
	copy(v.HeadIDs[i+1:], v.HeadIDs[i:])
	v.HeadIDs[i] = id
}

// RemoveHead deletes a head id if present.
func (v *View) RemoveHead(id CommitID) {
	v.HeadIDs = lo.Without(v.HeadIDs, id)
}

// HasHead reports whether id is currently a head.
func (v *View) HasHead(id CommitID) bool {
	return lo.Contains(v.HeadIDs, id)
}

// SetLocalBookmark points name at target; an empty target deletes it.
func (v *View) SetLocalBookmark(name string, target RefTarget) {
	if len(target.IDs) == 0 {
		delete(v.LocalBookmarks, name)
		return
	}
	v.LocalBookmarks[name] = target
}

// RemoveLocalBookmark deletes a bookmark.
func (v *View) RemoveLocalBookmark(name string) {
	delete(v.LocalBookmarks, name)
}

// SetRemoteBookmark records the target of name on the given remote.
func (v *View) SetRemoteBookmark(name, remote string, ref RemoteRef) {
	remotes, ok := v.RemoteBookmarks[name]
	if !ok {
		remotes = map[string]RemoteRef{}
		v.RemoteBookmarks[name] = remotes
	}
	remotes[remote] = ref
}

// SetWCCommit points a workspace's working copy at the given commit.
func (v *View) SetWCCommit(workspace string, id CommitID) {
	v.WCCommitIDs[workspace] = id
}

// RemoveWCCommit forgets a workspace.
func (v *View) RemoveWCCommit(workspace string) {
	delete(v.WCCommitIDs, workspace)
}
