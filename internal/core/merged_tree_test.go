package core

import (
	"encoding/json"
	"testing"

	"github.com/solenoidlabs/keel/internal/object"
)

func testTreeID(t *testing.T, seed string) TreeID {
	t.Helper()
	c, err := object.ComputeCID([]byte(seed))
	if err != nil {
		t.Fatalf("ComputeCID: %v", err)
	}
	return NewTreeID(c)
}

func TestResolvedTree(t *testing.T) {
	id := testTreeID(t, "t1")
	m := ResolvedTree(id)

	if !m.IsResolved() {
		t.Error("IsResolved = false")
	}
	got, ok := m.Resolved()
	if !ok || got != id {
		t.Errorf("Resolved = %v, %v; want %v, true", got, ok, id)
	}
}

func TestConflictedTree_RejectsBadSideCounts(t *testing.T) {
	a := testTreeID(t, "a")
	b := testTreeID(t, "b")
	c := testTreeID(t, "c")

	for _, sides := range [][]TreeID{
		nil,
		{a},
		{a, b},
		{a, b, c, a},
	} {
		if _, err := ConflictedTree(sides); err == nil {
			t.Errorf("ConflictedTree(%d sides) succeeded, want error", len(sides))
		}
	}

	m, err := ConflictedTree([]TreeID{a, b, c})
	if err != nil {
		t.Fatalf("ConflictedTree(3 sides): %v", err)
	}
	if m.IsResolved() {
		t.Error("3-sided tree reports resolved")
	}
	if _, ok := m.Resolved(); ok {
		t.Error("Resolved returned ok for a conflict")
	}
}

func TestMergedTree_AddsRemoves(t *testing.T) {
	a := testTreeID(t, "a")
	b := testTreeID(t, "b")
	c := testTreeID(t, "c")
	d := testTreeID(t, "d")
	e := testTreeID(t, "e")

	m, err := ConflictedTree([]TreeID{a, b, c, d, e})
	if err != nil {
		t.Fatal(err)
	}
	adds := m.Adds()
	if len(adds) != 3 || adds[0] != a || adds[1] != c || adds[2] != e {
		t.Errorf("Adds = %v, want [a c e]", adds)
	}
	removes := m.Removes()
	if len(removes) != 2 || removes[0] != b || removes[1] != d {
		t.Errorf("Removes = %v, want [b d]", removes)
	}
}

func TestMergedTree_JSONRejectsEvenSides(t *testing.T) {
	a := testTreeID(t, "a")
	b := testTreeID(t, "b")
	data, err := json.Marshal([]TreeID{a, b})
	if err != nil {
		t.Fatal(err)
	}
	var m MergedTreeID
	if err := json.Unmarshal(data, &m); err == nil {
		t.Error("unmarshal of 2 sides succeeded, want error")
	}
}

func TestMergedTree_JSONRoundtrip(t *testing.T) {
	m, err := ConflictedTree([]TreeID{testTreeID(t, "a"), testTreeID(t, "b"), testTreeID(t, "c")})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var back MergedTreeID
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !m.Equal(back) {
		t.Errorf("roundtrip = %v, want %v", back, m)
	}
}
