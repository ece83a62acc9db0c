// Package objectstore defines the blobstore interface used to hold release
// job/package blobs, compiled packages and archived event logs.
//
// The interface is deliberately small: the garbage collector only needs to
// write event-log archives, check existence, and delete blobs.
//
//	store, err := s3.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if err := store.Delete(ctx, "packages/9f2c..."); err != nil {
//	    return err
//	}
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Common errors returned by Store implementations.
var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied is returned when the credentials lack permission for the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("store closed")
)

// ObjectError wraps an error with the object key for context.
type ObjectError struct {
	Op  string // Put, Get, Delete, List
	Key string
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// ObjectMeta describes a listed object.
type ObjectMeta struct {
	Key  string
	Size int64
}

// Store is the interface for blobstore operations. Implementations must be
// safe for concurrent use.
type Store interface {
	// Put stores size bytes read from reader at key.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Get retrieves an object. The caller closes the returned reader.
	// Returns ErrNotFound (possibly wrapped) if the object does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object succeeds.
	Delete(ctx context.Context, key string) error

	// List returns objects under prefix in lexicographic key order.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)

	// Close releases resources. Later calls fail.
	Close() error
}
