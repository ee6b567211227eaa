package core

import (
	"encoding/json"
	"fmt"
)

// MergedTreeID names the tree content of a commit. It is either a single
// resolved tree, or an odd number (>= 3) of tree sides encoding an
// unresolved multi-way conflict. Sides alternate add/remove starting and
// ending with an add: [add0, remove0, add1, remove1, ..., addN].
//
// The odd-length invariant is enforced by the constructors; there is no
// way to build a Conflicted value with an even side count.
type MergedTreeID struct {
	sides []TreeID
}

// ResolvedTree wraps a single tree id.
func ResolvedTree(id TreeID) MergedTreeID {
	return MergedTreeID{sides: []TreeID{id}}
}

// ConflictedTree builds a conflicted merged tree from alternating
// add/remove sides. len(sides) must be odd and >= 3.
func ConflictedTree(sides []TreeID) (MergedTreeID, error) {
	if len(sides) < 3 || len(sides)%2 == 0 {
		return MergedTreeID{}, fmt.Errorf("conflicted tree needs an odd side count >= 3, got %d", len(sides))
	}
	cp := make([]TreeID, len(sides))
	copy(cp, sides)
	return MergedTreeID{sides: cp}, nil
}

// IsResolved reports whether the tree has exactly one side.
func (m MergedTreeID) IsResolved() bool { return len(m.sides) == 1 }

// IsZero reports whether the value is uninitialized.
func (m MergedTreeID) IsZero() bool { return len(m.sides) == 0 }

// Resolved returns the single tree id, or false for a conflict.
func (m MergedTreeID) Resolved() (TreeID, bool) {
	if len(m.sides) == 1 {
		return m.sides[0], true
	}
	return TreeID{}, false
}

// Sides returns all sides: the single resolved tree, or the alternating
// add/remove conflict terms. Callers must not mutate the result.
func (m MergedTreeID) Sides() []TreeID { return m.sides }

// Adds returns the add terms (indices 0, 2, 4, ...).
func (m MergedTreeID) Adds() []TreeID {
	adds := make([]TreeID, 0, len(m.sides)/2+1)
	for i := 0; i < len(m.sides); i += 2 {
		adds = append(adds, m.sides[i])
	}
	return adds
}

// Removes returns the remove terms (indices 1, 3, 5, ...).
func (m MergedTreeID) Removes() []TreeID {
	removes := make([]TreeID, 0, len(m.sides)/2)
	for i := 1; i < len(m.sides); i += 2 {
		removes = append(removes, m.sides[i])
	}
	return removes
}

// Equal compares side lists.
func (m MergedTreeID) Equal(other MergedTreeID) bool {
	if len(m.sides) != len(other.sides) {
		return false
	}
	for i := range m.sides {
		if m.sides[i] != other.sides[i] {
			return false
		}
	}
	return true
}

func (m MergedTreeID) String() string {
	if id, ok := m.Resolved(); ok {
		return id.String()
	}
	return fmt.Sprintf("conflict(%d sides)", len(m.sides))
}

func (m MergedTreeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.sides)
}

func (m *MergedTreeID) UnmarshalJSON(data []byte) error {
	var sides []TreeID
	if err := json.Unmarshal(data, &sides); err != nil {
		return err
	}
	if len(sides) == 0 || len(sides)%2 == 0 {
		return fmt.Errorf("merged tree id must have an odd side count, got %d", len(sides))
	}
	m.sides = sides
	return nil
}
