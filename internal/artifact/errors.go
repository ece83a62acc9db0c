package artifact

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means the artifact no longer exists. Deleting a missing
	// artifact is treated as success.
	ErrNotFound = errors.New("artifact: not found")

	// ErrLockTimeout means the named resource lock was not granted in time.
	ErrLockTimeout = errors.New("artifact: lock timeout")

	// ErrInUse means a deployment still references the artifact.
	ErrInUse = errors.New("artifact: in use by a deployment")
)

// LockTimeoutError reports which lock could not be acquired.
type LockTimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("artifact: timed out after %s waiting for lock %q", e.Timeout, e.Name)
}

func (e *LockTimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}

// DeletionError wraps a failure to delete one artifact.
type DeletionError struct {
	Ref Ref
	Err error
}

func (e *DeletionError) Error() string {
	return fmt.Sprintf("deleting %s: %v", e.Ref, e.Err)
}

func (e *DeletionError) Unwrap() error {
	return e.Err
}

// NotFound wraps ErrNotFound with the reference that was missing.
func NotFound(ref Ref) error {
	return fmt.Errorf("%s: %w", ref, ErrNotFound)
}

// IsNotFound reports whether err means the artifact is already gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
