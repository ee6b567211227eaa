package core

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// AncestryOracle answers reachability queries over the commit graph.
// The concrete implementation walks the store; the merge itself stays a
// pure function of its inputs.
type AncestryOracle interface {
	// IsAncestor reports whether ancestor is reachable from descendant
	// by following parent edges. A commit is its own ancestor.
	IsAncestor(ancestor, descendant CommitID) (bool, error)
}

// WCWarning reports a working-copy pointer that could not be merged
// cleanly: both sides moved it to unrelated commits, one was kept and
// the other left reachable only through the head set.
type WCWarning struct {
	Workspace string
	Kept      CommitID
	Skipped   CommitID
}

func (w WCWarning) String() string {
	return fmt.Sprintf("workspace %q: kept working-copy commit %s, demoted %s to a head",
		w.Workspace, w.Kept.Short(), w.Skipped.Short())
}

// MergeViews three-way merges two views against their common base, field
// by field. It is deterministic and pure given the same three views and
// oracle, which is required because any reader may trigger
// reconciliation and all readers must converge on the same result.
//
// Side order matters only for the working-copy tie-break: when both
// sides moved a workspace to unrelated commits, side A wins. Callers
// fold divergent heads in ascending operation-id order, which makes the
// tie-break an arbitrary-but-stable policy.
func MergeViews(base, sideA, sideB *View, oracle AncestryOracle) (*View, []WCWarning, error) {
	out := NewView()
	var warnings []WCWarning

	// Working copies first: losers of the tie-break must stay reachable,
	// so they feed into the head candidates below.
	extraHeads, wcWarnings, err := mergeWorkingCopies(base, sideA, sideB, out, oracle)
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, wcWarnings...)

	// Heads: union of both sides, then keep only the maxima.
	candidates := lo.Uniq(append(append(append([]CommitID{}, sideA.HeadIDs...), sideB.HeadIDs...), extraHeads...))
	heads, err := pruneToMaxima(candidates, oracle)
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i].Less(heads[j]) })
	out.HeadIDs = heads

	// Local bookmarks.
	for _, name := range unionKeys(base.LocalBookmarks, sideA.LocalBookmarks, sideB.LocalBookmarks) {
		merged := mergeRefTargets(
			lookupTarget(base.LocalBookmarks, name),
			lookupTarget(sideA.LocalBookmarks, name),
			lookupTarget(sideB.LocalBookmarks, name),
		)
		out.SetLocalBookmark(name, merged)
	}

	// Remote bookmarks, keyed by (name, remote).
	for _, name := range unionKeys(base.RemoteBookmarks, sideA.RemoteBookmarks, sideB.RemoteBookmarks) {
		for _, remote := range unionKeys(base.RemoteBookmarks[name], sideA.RemoteBookmarks[name], sideB.RemoteBookmarks[name]) {
			merged := mergeRefTargets(
				lookupRemoteTarget(base, name, remote),
				lookupRemoteTarget(sideA, name, remote),
				lookupRemoteTarget(sideB, name, remote),
			)
			if len(merged.IDs) == 0 {
				continue
			}
			out.SetRemoteBookmark(name, remote, RemoteRef{
				Target:  merged,
				Tracked: mergeBool(remoteTracked(base, name, remote), remoteTracked(sideA, name, remote), remoteTracked(sideB, name, remote)),
			})
		}
	}

	return out, warnings, nil
}

// mergeRefTargets merges one bookmark. If both sides agree, that value
// wins; if only one side changed it from base, the change wins; if both
// changed it to different targets, the result is the union of the new
// targets, i.e. a divergent bookmark.
func mergeRefTargets(base, a, b RefTarget) RefTarget {
	switch {
	case a.Equal(b):
		return a
	case a.Equal(base):
		return b
	case b.Equal(base):
		return a
	default:
		return NewRefTarget(append(append([]CommitID{}, a.IDs...), b.IDs...)...)
	}
}

func mergeWorkingCopies(base, sideA, sideB, out *View, oracle AncestryOracle) ([]CommitID, []WCWarning, error) {
	var extraHeads []CommitID
	var warnings []WCWarning

	for _, ws := range unionKeys(base.WCCommitIDs, sideA.WCCommitIDs, sideB.WCCommitIDs) {
		baseID, hasBase := base.WCCommitIDs[ws]
		aID, hasA := sideA.WCCommitIDs[ws]
		bID, hasB := sideB.WCCommitIDs[ws]

		switch {
		case hasA && hasB && aID == bID:
			out.SetWCCommit(ws, aID)
		case hasA == hasBase && (!hasA || aID == baseID):
			// Side A untouched; take side B's state, whatever it is.
			if hasB {
				out.SetWCCommit(ws, bID)
			}
		case hasB == hasBase && (!hasB || bID == baseID):
			if hasA {
				out.SetWCCommit(ws, aID)
			}
		case hasA && hasB:
			// Both moved it. Prefer the side that made forward progress
			// from the base value; on a tie, side A wins and the other
			// commit is kept reachable through the heads.
			kept, skipped := aID, bID
			if hasBase {
				aForward, err := oracle.IsAncestor(baseID, aID)
				if err != nil {
					return nil, nil, err
				}
				bForward, err := oracle.IsAncestor(baseID, bID)
				if err != nil {
					return nil, nil, err
				}
				if bForward && !aForward {
					kept, skipped = bID, aID
				}
			}
			out.SetWCCommit(ws, kept)
			extraHeads = append(extraHeads, skipped)
			warnings = append(warnings, WCWarning{Workspace: ws, Kept: kept, Skipped: skipped})
		case hasA:
			out.SetWCCommit(ws, aID)
		case hasB:
			out.SetWCCommit(ws, bID)
		}
	}
	return extraHeads, warnings, nil
}

// pruneToMaxima drops every candidate that is an ancestor of another.
func pruneToMaxima(candidates []CommitID, oracle AncestryOracle) ([]CommitID, error) {
	var heads []CommitID
	for _, c := range candidates {
		isMax := true
		for _, other := range candidates {
			if other == c {
				continue
			}
			anc, err := oracle.IsAncestor(c, other)
			if err != nil {
				return nil, err
			}
			if anc {
				isMax = false
				break
			}
		}
		if isMax {
			heads = append(heads, c)
		}
	}
	return heads, nil
}

func lookupTarget(m map[string]RefTarget, name string) RefTarget {
	if t, ok := m[name]; ok {
		return t
	}
	return RefTarget{}
}

func lookupRemoteTarget(v *View, name, remote string) RefTarget {
	if remotes, ok := v.RemoteBookmarks[name]; ok {
		if ref, ok := remotes[remote]; ok {
			return ref.Target
		}
	}
	return RefTarget{}
}

func remoteTracked(v *View, name, remote string) bool {
	if remotes, ok := v.RemoteBookmarks[name]; ok {
		if ref, ok := remotes[remote]; ok {
			return ref.Tracked
		}
	}
	return false
}

func mergeBool(base, a, b bool) bool {
	if a == b {
		return a
	}
	if a == base {
		return b
	}
	return a
}

func unionKeys[V any](maps ...map[string]V) []string {
	keys := map[string]struct{}{}
	for _, m := range maps {
		for k := range m {
			keys[k] = struct{}{}
		}
	}
	out := lo.Keys(keys)
	sort.Strings(out)
	return out
}
