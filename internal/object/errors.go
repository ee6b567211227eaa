package object

import (
	"errors"
	"fmt"

	gocid "github.com/ipfs/go-cid"
)

// ErrNotFound means an object referenced by CID does not exist in the store.
var ErrNotFound = errors.New("object not found")

// ErrCorrupt means an object exists but its content does not hash to its CID.
var ErrCorrupt = errors.New("object corrupt")

// LookupError is a failed object read. Kind names the object kind
// ("commit", "tree", "view", "operation", or "object" when unknown) so
// callers can report which reference was broken. It unwraps to
// ErrNotFound or ErrCorrupt.
type LookupError struct {
	Kind string
	ID   gocid.Cid
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, CIDToFilename(e.ID), e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// WithKind retags a LookupError found in err's chain with a concrete
// object kind. Typed stores use this to turn "object not found" into
// "commit not found" without re-wrapping.
func WithKind(err error, kind string) error {
	var le *LookupError
	if errors.As(err, &le) {
		le.Kind = kind
	}
	return err
}
