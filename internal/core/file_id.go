package core

import (
	gocid "github.com/ipfs/go-cid"

	"github.com/solenoidlabs/keel/internal/object"
)

// FileID identifies a file blob within the tree namespace.
type FileID struct{ c gocid.Cid }

func NewFileID(c gocid.Cid) FileID { return FileID{c} }

func (id FileID) CID() gocid.Cid { return id.c }
func (id FileID) IsZero() bool   { return !id.c.Defined() }
func (id FileID) String() string { return object.CIDToFilename(id.c) }

func (id FileID) MarshalJSON() ([]byte, error)    { return marshalID(id.c) }
func (id *FileID) UnmarshalJSON(data []byte) error { return unmarshalID(&id.c, data) }
