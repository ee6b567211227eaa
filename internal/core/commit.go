package core

import "time"

// Signature is an identity plus timestamp, recorded for author and committer.
type Signature struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
}

// Commit is an immutable snapshot of a file tree plus parentage and
// metadata. It is content-addressed: the ID is the hash of the canonical
// serialization and is filled in by the store on read/write, never
// serialized itself.
//
// "Deleting" a commit means making it unreachable from any view; the
// object itself is never erased.
type Commit struct {
	ID CommitID `json:"-"`

	V            int          `json:"v"`
	ChangeID     ChangeID     `json:"change_id"`
	Parents      []CommitID   `json:"parents"`
	Tree         MergedTreeID `json:"tree"`
	Predecessors []CommitID   `json:"predecessors,omitempty"`
	Description  string       `json:"description"`
	Author       Signature    `json:"author"`
	Committer    Signature    `json:"committer"`
}

// IsRoot reports whether this is the root commit (the only commit with
// no parents).
func (c *Commit) IsRoot() bool { return len(c.Parents) == 0 }

// Clone returns a deep copy with the ID cleared, ready to be modified
// and written as a new object.
func (c *Commit) Clone() *Commit {
	cp := *c
	cp.ID = CommitID{}
	cp.Parents = append([]CommitID(nil), c.Parents...)
	cp.Predecessors = append([]CommitID(nil), c.Predecessors...)
	return &cp
}
