package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dray-io/reclaim/internal/logging"
	"github.com/dray-io/reclaim/internal/metadata"
	"github.com/dray-io/reclaim/internal/metadata/keys"
)

// ErrInvalidName is returned for an empty scope or lock name.
var ErrInvalidName = errors.New("lock: invalid lock name")

// Lease is the record stored at /reclaim/v1/locks/<scope>/<name>. Deploys
// running elsewhere in the control plane take the same key, which is what
// makes a cleanup deletion exclusive against them.
type Lease struct {
	Scope        string `json:"scope"`
	Name         string `json:"name"`
	HolderID     string `json:"holderId"`
	AcquiredAtMs int64  `json:"acquiredAtMs"`

	// JobID is the correlation ID of the run holding the lease, if any.
	JobID string `json:"jobId,omitempty"`
}

// AcquireResult is the outcome of a single acquisition attempt.
type AcquireResult struct {
	Acquired bool

	// Lease is ours when Acquired, otherwise the current holder's.
	Lease *Lease
}

type heldLease struct {
	lease   Lease
	version metadata.Version
}

// LeaseManager takes named leases as ephemeral keys in the metadata store.
// A lease disappears with the holder's session, so a crashed process never
// leaves a release locked.
type LeaseManager struct {
	meta     metadata.MetadataStore
	holderID string

	mu   sync.Mutex
	held map[string]heldLease
}

// NewLeaseManager creates a lease manager identified by holderID.
func NewLeaseManager(meta metadata.MetadataStore, holderID string) *LeaseManager {
	return &LeaseManager{
		meta:     meta,
		holderID: holderID,
		held:     make(map[string]heldLease),
	}
}

// HolderID returns the identity written into leases taken by this manager.
func (lm *LeaseManager) HolderID() string {
	return lm.holderID
}

// TryAcquire makes one attempt to take the lease. It never waits: when the
// lease is held elsewhere the result has Acquired=false and the holder.
func (lm *LeaseManager) TryAcquire(ctx context.Context, scope, name string) (*AcquireResult, error) {
	if scope == "" || name == "" {
		return nil, ErrInvalidName
	}
	key := keys.LockKeyPath(scope, name)

	lease := Lease{
		Scope:        scope,
		Name:         name,
		HolderID:     lm.holderID,
		AcquiredAtMs: time.Now().UnixMilli(),
		JobID:        logging.CorrelationIDFromCtx(ctx),
	}
	data, err := json.Marshal(lease)
	if err != nil {
		return nil, fmt.Errorf("lock: marshal lease: %w", err)
	}

	version, err := lm.meta.PutEphemeral(ctx, key, data, metadata.WithEphemeralExpectNotExists())
	if err != nil {
		if errors.Is(err, metadata.ErrVersionMismatch) {
			return lm.currentHolder(ctx, key)
		}
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}

	lm.mu.Lock()
	lm.held[key] = heldLease{lease: lease, version: version}
	lm.mu.Unlock()
	return &AcquireResult{Acquired: true, Lease: &lease}, nil
}

// currentHolder re-reads the lease after a conflict. If the lease vanished in
// between, the attempt still counts as not acquired; the caller retries.
func (lm *LeaseManager) currentHolder(ctx context.Context, key string) (*AcquireResult, error) {
	result, err := lm.meta.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock: get lease after conflict: %w", err)
	}
	if !result.Exists {
		return &AcquireResult{Acquired: false}, nil
	}
	var existing Lease
	if err := json.Unmarshal(result.Value, &existing); err != nil {
		return nil, fmt.Errorf("lock: unmarshal lease: %w", err)
	}
	return &AcquireResult{Acquired: false, Lease: &existing}, nil
}

// Release gives up a lease taken by this manager. Releasing a lease we do
// not hold, or one already taken over, is a no-op.
func (lm *LeaseManager) Release(ctx context.Context, scope, name string) error {
	if scope == "" || name == "" {
		return ErrInvalidName
	}
	key := keys.LockKeyPath(scope, name)

	lm.mu.Lock()
	h, ok := lm.held[key]
	delete(lm.held, key)
	lm.mu.Unlock()
	if !ok {
		return nil
	}

	// The versioned delete cannot clobber a lease someone else took after
	// our session lapsed.
	err := lm.meta.Delete(ctx, key, metadata.WithDeleteExpectedVersion(h.version))
	if err != nil && !errors.Is(err, metadata.ErrVersionMismatch) {
		return fmt.Errorf("lock: release %s: %w", key, err)
	}
	return nil
}

// Get returns the current lease for a name, or nil if it is free.
func (lm *LeaseManager) Get(ctx context.Context, scope, name string) (*Lease, error) {
	if scope == "" || name == "" {
		return nil, ErrInvalidName
	}
	result, err := lm.meta.Get(ctx, keys.LockKeyPath(scope, name))
	if err != nil {
		return nil, fmt.Errorf("lock: get lease: %w", err)
	}
	if !result.Exists {
		return nil, nil
	}
	var lease Lease
	if err := json.Unmarshal(result.Value, &lease); err != nil {
		return nil, fmt.Errorf("lock: unmarshal lease: %w", err)
	}
	return &lease, nil
}

// Holds reports from local state whether this manager holds the lease.
func (lm *LeaseManager) Holds(scope, name string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	_, ok := lm.held[keys.LockKeyPath(scope, name)]
	return ok
}

// ReleaseAll releases every lease still held. Called during shutdown.
func (lm *LeaseManager) ReleaseAll(ctx context.Context) error {
	lm.mu.Lock()
	held := make([]Lease, 0, len(lm.held))
	for _, h := range lm.held {
		held = append(held, h.lease)
	}
	lm.mu.Unlock()

	var errs []error
	for _, l := range held {
		if err := lm.Release(ctx, l.Scope, l.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
