// Package metadata defines the MetadataStore interface used to persist the
// artifact catalog, job records and named resource leases. The default
// implementation uses Oxia (see package oxia).
//
// The store offers versioned key-value operations with compare-and-set,
// ordered prefix listing, and ephemeral keys that disappear when the
// writer's session ends. Leases built on ephemeral keys are released
// automatically if a reclaimd process crashes mid-run.
package metadata

import (
	"context"
	"errors"
)

// Common errors returned by MetadataStore operations.
var (
	// ErrKeyNotFound is returned when a key does not exist.
	ErrKeyNotFound = errors.New("metadata: key not found")

	// ErrVersionMismatch is returned when a compare-and-set precondition fails.
	ErrVersionMismatch = errors.New("metadata: version mismatch")

	// ErrSessionExpired is returned when an ephemeral key's session has expired.
	ErrSessionExpired = errors.New("metadata: session expired")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("metadata: store closed")
)

// Version is a key's version in the metadata store. Zero means the key has
// never been written; versions are assigned by the store on each write.
type Version int64

// NoVersion is a sentinel value indicating no version constraint.
const NoVersion Version = -1

// KV is a key-value pair with its version.
type KV struct {
	Key     string
	Value   []byte
	Version Version
}

// GetResult is the result of a Get operation.
type GetResult struct {
	Value   []byte
	Version Version
	Exists  bool
}

// PutOption configures a Put operation.
type PutOption func(*putOptions)

type putOptions struct {
	expectedVersion *Version
}

// WithExpectedVersion makes Put fail with ErrVersionMismatch unless the key
// is currently at v. Version 0 means the key must not exist.
func WithExpectedVersion(v Version) PutOption {
	return func(o *putOptions) {
		o.expectedVersion = &v
	}
}

// DeleteOption configures a Delete operation.
type DeleteOption func(*deleteOptions)

type deleteOptions struct {
	expectedVersion *Version
}

// WithDeleteExpectedVersion makes Delete fail with ErrVersionMismatch unless
// the key is currently at v.
func WithDeleteExpectedVersion(v Version) DeleteOption {
	return func(o *deleteOptions) {
		o.expectedVersion = &v
	}
}

// ExtractExpectedVersion returns the expected version set by opts, or nil.
func ExtractExpectedVersion(opts []PutOption) *Version {
	var o putOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.expectedVersion
}

// ExtractDeleteExpectedVersion returns the expected version set by opts, or nil.
func ExtractDeleteExpectedVersion(opts []DeleteOption) *Version {
	var o deleteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.expectedVersion
}

// EphemeralOption configures a PutEphemeral operation.
type EphemeralOption func(*ephemeralOptions)

type ephemeralOptions struct {
	expectNotExists bool
	expectedVersion *Version
}

// WithEphemeralExpectNotExists makes PutEphemeral fail with
// ErrVersionMismatch if the key already exists. Used to take a new lease.
func WithEphemeralExpectNotExists() EphemeralOption {
	return func(o *ephemeralOptions) {
		o.expectNotExists = true
	}
}

// WithEphemeralExpectedVersion makes PutEphemeral fail with
// ErrVersionMismatch unless the key is at v. Used to renew a held lease.
func WithEphemeralExpectedVersion(v Version) EphemeralOption {
	return func(o *ephemeralOptions) {
		o.expectedVersion = &v
	}
}

// ExtractEphemeralOptions returns the preconditions set by opts.
func ExtractEphemeralOptions(opts []EphemeralOption) (expectNotExists bool, expectedVersion *Version) {
	var o ephemeralOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.expectNotExists, o.expectedVersion
}

// MetadataStore is the interface for metadata storage operations.
//
// All operations accept a context.Context for cancellation and timeouts.
// Implementations must be safe for concurrent use.
type MetadataStore interface {
	// Get retrieves a value by key. A missing key yields Exists=false and no error.
	Get(ctx context.Context, key string) (GetResult, error)

	// Put stores a value and returns the new version.
	Put(ctx context.Context, key string, value []byte, opts ...PutOption) (Version, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string, opts ...DeleteOption) error

	// List returns keys in [startKey, endKey) in lexicographic order. An empty
	// endKey lists every key with the prefix startKey; when startKey ends in
	// '/' only its direct children are returned, matching the hierarchical
	// key order of Oxia. limit <= 0 means no limit.
	List(ctx context.Context, startKey, endKey string, limit int) ([]KV, error)

	// PutEphemeral stores a value that is deleted automatically when the
	// client session ends.
	PutEphemeral(ctx context.Context, key string, value []byte, opts ...EphemeralOption) (Version, error)

	// Close releases resources held by the store. Later calls return ErrStoreClosed.
	Close() error
}
