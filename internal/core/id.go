package core

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	gocid "github.com/ipfs/go-cid"

	"github.com/solenoidlabs/keel/internal/object"
)

// CommitID identifies an immutable commit object.
type CommitID struct{ c gocid.Cid }

// TreeID identifies an immutable tree object.
type TreeID struct{ c gocid.Cid }

// ViewID identifies an immutable view object.
type ViewID struct{ c gocid.Cid }

// OperationID identifies an immutable operation object.
type OperationID struct{ c gocid.Cid }

func NewCommitID(c gocid.Cid) CommitID       { return CommitID{c} }
func NewTreeID(c gocid.Cid) TreeID           { return TreeID{c} }
func NewViewID(c gocid.Cid) ViewID           { return ViewID{c} }
func NewOperationID(c gocid.Cid) OperationID { return OperationID{c} }

func (id CommitID) CID() gocid.Cid    { return id.c }
func (id TreeID) CID() gocid.Cid      { return id.c }
func (id ViewID) CID() gocid.Cid      { return id.c }
func (id OperationID) CID() gocid.Cid { return id.c }

func (id CommitID) IsZero() bool    { return !id.c.Defined() }
func (id TreeID) IsZero() bool      { return !id.c.Defined() }
func (id ViewID) IsZero() bool      { return !id.c.Defined() }
func (id OperationID) IsZero() bool { return !id.c.Defined() }

func (id CommitID) String() string    { return object.CIDToFilename(id.c) }
func (id TreeID) String() string      { return object.CIDToFilename(id.c) }
func (id ViewID) String() string      { return object.CIDToFilename(id.c) }
func (id OperationID) String() string { return object.CIDToFilename(id.c) }

// Short returns a truncated form for log lines and CLI output.
func (id CommitID) Short() string    { return shorten(id.String()) }
func (id OperationID) Short() string { return shorten(id.String()) }

func shorten(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// Less gives the total order used for deterministic tie-breaks.
func (id CommitID) Less(other CommitID) bool       { return id.String() < other.String() }
func (id OperationID) Less(other OperationID) bool { return id.String() < other.String() }

func (id CommitID) MarshalJSON() ([]byte, error)    { return marshalID(id.c) }
func (id TreeID) MarshalJSON() ([]byte, error)      { return marshalID(id.c) }
func (id ViewID) MarshalJSON() ([]byte, error)      { return marshalID(id.c) }
func (id OperationID) MarshalJSON() ([]byte, error) { return marshalID(id.c) }

func (id *CommitID) UnmarshalJSON(data []byte) error    { return unmarshalID(&id.c, data) }
func (id *TreeID) UnmarshalJSON(data []byte) error      { return unmarshalID(&id.c, data) }
func (id *ViewID) UnmarshalJSON(data []byte) error      { return unmarshalID(&id.c, data) }
func (id *OperationID) UnmarshalJSON(data []byte) error { return unmarshalID(&id.c, data) }

func marshalID(c gocid.Cid) ([]byte, error) {
	if !c.Defined() {
		return []byte(`""`), nil
	}
	return []byte(fmt.Sprintf("%q", object.CIDToFilename(c))), nil
}

func unmarshalID(c *gocid.Cid, data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid id literal: %s", data)
	}
	s := string(data[1 : len(data)-1])
	if s == "" {
		*c = gocid.Undef
		return nil
	}
	parsed, err := object.ParseCID(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCommitID parses the base32 string form of a commit id.
func ParseCommitID(s string) (CommitID, error) {
	c, err := object.ParseCID(s)
	if err != nil {
		return CommitID{}, err
	}
	return CommitID{c}, nil
}

// ParseOperationID parses the base32 string form of an operation id.
func ParseOperationID(s string) (OperationID, error) {
	c, err := object.ParseCID(s)
	if err != nil {
		return OperationID{}, err
	}
	return OperationID{c}, nil
}

// ChangeID is the identifier that survives rewrites: every rewritten
// version of a logical commit carries the change id of the original.
type ChangeID [16]byte

// NewChangeID returns a fresh random change id.
func NewChangeID() ChangeID {
	return ChangeID(uuid.New())
}

func (id ChangeID) String() string { return hex.EncodeToString(id[:]) }

func (id ChangeID) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", id.String())), nil
}

func (id *ChangeID) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' {
		return fmt.Errorf("invalid change id literal: %s", data)
	}
	raw, err := hex.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return fmt.Errorf("decode change id: %w", err)
	}
	if len(raw) != len(id) {
		return fmt.Errorf("change id must be %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return nil
}
