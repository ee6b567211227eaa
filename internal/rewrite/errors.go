package rewrite

import (
	"fmt"

	"github.com/solenoidlabs/keel/internal/core"
)

// ImmutableCommitError rejects a rewrite that would touch protected
// commits. It names one violating commit and counts how many immutable
// commits the operation would have rewritten, so the caller can decide
// to adjust scope or override without re-running. The rejection is
// all-or-nothing: nothing has been written when this is returned.
type ImmutableCommitError struct {
	CommitID core.CommitID
	Count    int
}

func (e *ImmutableCommitError) Error() string {
	return fmt.Sprintf("commit %s is immutable (%d immutable commits would be rewritten)",
		e.CommitID.Short(), e.Count)
}
