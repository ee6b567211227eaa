package tree

import (
	"testing"

	"github.com/solenoidlabs/keel/internal/core"
)

// writeSimpleTree stores a tree mapping each path to a blob of the given
// content.
func writeSimpleTree(t *testing.T, s *Store, files map[string]string) core.TreeID {
	t.Helper()
	tr := &Tree{Entries: []Entry{}}
	for path, content := range files {
		tr.Entries = append(tr.Entries, Entry{Path: path, FileID: writeBlob(t, s, content)})
	}
	id, err := s.WriteTree(tr)
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	return id
}

func mustResolved(t *testing.T, m core.MergedTreeID) core.TreeID {
	t.Helper()
	id, ok := m.Resolved()
	if !ok {
		t.Fatalf("merge result %v is conflicted, want resolved", m)
	}
	return id
}

func TestMergeTrees_RebaseCarriesChange(t *testing.T) {
	s := openTestStore(t)
	mg := NewMerger(s)

	oldBase := writeSimpleTree(t, s, map[string]string{"a.txt": "base"})
	// Child changed b.txt on top of oldBase.
	childTree := writeSimpleTree(t, s, map[string]string{"a.txt": "base", "b.txt": "child"})
	// New base changed a.txt.
	newBase := writeSimpleTree(t, s, map[string]string{"a.txt": "rewritten"})

	merged, err := mg.MergeTrees(
		[]core.MergedTreeID{core.ResolvedTree(oldBase)},
		core.ResolvedTree(childTree),
		[]core.MergedTreeID{core.ResolvedTree(newBase)},
	)
	if err != nil {
		t.Fatalf("MergeTrees: %v", err)
	}
	got, err := s.GetTree(mustResolved(t, merged))
	if err != nil {
		t.Fatal(err)
	}

	// a.txt takes the new base's value, b.txt keeps the child's change.
	want := writeSimpleTree(t, s, map[string]string{"a.txt": "rewritten", "b.txt": "child"})
	if got.ID != want {
		t.Errorf("merged tree = %s, want %s", got.ID, want)
	}
}

func TestMergeTrees_BothSidesSameChangeResolves(t *testing.T) {
	s := openTestStore(t)
	mg := NewMerger(s)

	oldBase := writeSimpleTree(t, s, map[string]string{"f": "v0"})
	child := writeSimpleTree(t, s, map[string]string{"f": "v1"})
	newBase := writeSimpleTree(t, s, map[string]string{"f": "v1"})

	merged, err := mg.MergeTrees(
		[]core.MergedTreeID{core.ResolvedTree(oldBase)},
		core.ResolvedTree(child),
		[]core.MergedTreeID{core.ResolvedTree(newBase)},
	)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTree(mustResolved(t, merged))
	if err != nil {
		t.Fatal(err)
	}
	e, ok := got.PathValue("f")
	if !ok {
		t.Fatal("f missing from merge result")
	}
	content, err := s.GetBlob(e.FileID)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "v1" {
		t.Errorf("f = %q, want %q", content, "v1")
	}
}

func TestMergeTrees_ConflictingChangeProducesConflict(t *testing.T) {
	s := openTestStore(t)
	mg := NewMerger(s)

	oldBase := writeSimpleTree(t, s, map[string]string{"f": "v0"})
	child := writeSimpleTree(t, s, map[string]string{"f": "child"})
	newBase := writeSimpleTree(t, s, map[string]string{"f": "other"})

	merged, err := mg.MergeTrees(
		[]core.MergedTreeID{core.ResolvedTree(oldBase)},
		core.ResolvedTree(child),
		[]core.MergedTreeID{core.ResolvedTree(newBase)},
	)
	if err != nil {
		t.Fatal(err)
	}
	if merged.IsResolved() {
		t.Fatal("double-changed path resolved, want a conflict")
	}
	sides := merged.Sides()
	if len(sides) != 3 {
		t.Errorf("conflict has %d sides, want 3", len(sides))
	}
}

func TestMergeTrees_DeletionCarried(t *testing.T) {
	s := openTestStore(t)
	mg := NewMerger(s)

	oldBase := writeSimpleTree(t, s, map[string]string{"a": "x", "b": "y"})
	// Child deleted b.
	child := writeSimpleTree(t, s, map[string]string{"a": "x"})
	// New base left b alone but changed a.
	newBase := writeSimpleTree(t, s, map[string]string{"a": "x2", "b": "y"})

	merged, err := mg.MergeTrees(
		[]core.MergedTreeID{core.ResolvedTree(oldBase)},
		core.ResolvedTree(child),
		[]core.MergedTreeID{core.ResolvedTree(newBase)},
	)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTree(mustResolved(t, merged))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got.PathValue("b"); ok {
		t.Error("deleted path b reappeared after rebase")
	}
	e, ok := got.PathValue("a")
	if !ok {
		t.Fatal("a missing")
	}
	content, _ := s.GetBlob(e.FileID)
	if string(content) != "x2" {
		t.Errorf("a = %q, want %q", content, "x2")
	}
}

func TestMergeTrees_ConflictedInputPassesThrough(t *testing.T) {
	s := openTestStore(t)
	mg := NewMerger(s)

	// The commit's own tree is already conflicted; reparenting onto the
	// same base must not resolve or corrupt it.
	base := writeSimpleTree(t, s, map[string]string{"f": "v0"})
	sideA := writeSimpleTree(t, s, map[string]string{"f": "a"})
	sideB := writeSimpleTree(t, s, map[string]string{"f": "b"})
	conflicted, err := core.ConflictedTree([]core.TreeID{sideA, base, sideB})
	if err != nil {
		t.Fatal(err)
	}

	merged, err := mg.MergeTrees(
		[]core.MergedTreeID{core.ResolvedTree(base)},
		conflicted,
		[]core.MergedTreeID{core.ResolvedTree(base)},
	)
	if err != nil {
		t.Fatal(err)
	}
	if merged.IsResolved() {
		t.Error("conflicted tree resolved by a no-op rebase")
	}
}

func TestMergeTrees_RootParents(t *testing.T) {
	s := openTestStore(t)
	mg := NewMerger(s)

	// Rebasing a commit with no parents (other than conceptually the
	// empty tree) onto a base with content.
	child := writeSimpleTree(t, s, map[string]string{"new": "file"})
	newBase := writeSimpleTree(t, s, map[string]string{"existing": "stuff"})

	merged, err := mg.MergeTrees(
		nil,
		core.ResolvedTree(child),
		[]core.MergedTreeID{core.ResolvedTree(newBase)},
	)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTree(mustResolved(t, merged))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got.PathValue("new"); !ok {
		t.Error("child's file missing after rebase")
	}
	if _, ok := got.PathValue("existing"); !ok {
		t.Error("new base's file missing after rebase")
	}
}
