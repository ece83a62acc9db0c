// Package cloud defines the IaaS operations the garbage collector needs:
// deleting persistent disks, their snapshots, and stemcell images.
package cloud

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the IaaS no longer knows the resource.
	ErrNotFound = errors.New("cloud: resource not found")

	// ErrInUse means the resource is still attached or referenced.
	ErrInUse = errors.New("cloud: resource in use")
)

// ResourceError wraps a failed IaaS call.
type ResourceError struct {
	Op  string
	CID string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("cloud: %s %s: %v", e.Op, e.CID, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// Cloud deletes IaaS resources by their cloud ID.
type Cloud interface {
	DeleteDisk(ctx context.Context, cid string) error
	DeleteSnapshot(ctx context.Context, cid string) error
	DeleteStemcell(ctx context.Context, cid string) error
}

// None is a Cloud for directors whose IaaS resources are reclaimed by other
// means. Every call succeeds without doing anything.
type None struct{}

func (None) DeleteDisk(context.Context, string) error     { return nil }
func (None) DeleteSnapshot(context.Context, string) error { return nil }
func (None) DeleteStemcell(context.Context, string) error { return nil }

var _ Cloud = None{}
