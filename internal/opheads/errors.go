package opheads

import (
	"errors"
	"fmt"
	"strings"

	"github.com/solenoidlabs/keel/internal/core"
)

// ErrMergeAncestryUnresolvable means the heads share no common ancestor
// operation. The operation graph is corrupted or mixes unrelated
// repositories; reconciliation refuses to guess, and repair requires
// abandoning operations or rebuilding the head set out of band.
var ErrMergeAncestryUnresolvable = errors.New("operation heads have no common ancestor")

// ErrNoHeads means the op-heads record is empty or missing. Heads can be
// re-derived from the operation namespace with RecoverHeads.
var ErrNoHeads = errors.New("no operation heads recorded")

// DivergentOperationError is returned when a caller asks for "the"
// current operation while more than one head exists and reconciliation
// was not requested. Recoverable by naming a head explicitly or by
// reconciling.
type DivergentOperationError struct {
	Heads []core.OperationID
}

func (e *DivergentOperationError) Error() string {
	short := make([]string, len(e.Heads))
	for i, h := range e.Heads {
		short[i] = h.Short()
	}
	return fmt.Sprintf("operation is divergent: %d heads (%s)", len(e.Heads), strings.Join(short, ", "))
}
