package gc

import (
	"errors"
	"fmt"
)

// ErrMissingDependency is returned by NewOrchestrator when a collaborator is nil.
var ErrMissingDependency = errors.New("gc: missing dependency")

// RunError is returned by Run when at least one deletion failed. It unwraps
// to the failure submitted first, a *artifact.DeletionError.
type RunError struct {
	Failed         int
	Total          int
	Representative error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("gc: %d of %d deletions failed, first: %v", e.Failed, e.Total, e.Representative)
}

func (e *RunError) Unwrap() error {
	return e.Representative
}
