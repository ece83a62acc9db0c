// Package lock provides named resource locks for artifact deletion.
//
// A lock is exclusive per name within the process (Registry) and, when a
// LeaseManager is configured, across every process sharing the metadata
// store (Lease). Acquisition is bounded by a timeout; a caller that does
// not get the lock in time receives *artifact.LockTimeoutError.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dray-io/reclaim/internal/artifact"
	"github.com/dray-io/reclaim/internal/logging"
	"github.com/dray-io/reclaim/internal/metadata"
)

const (
	// ScopeRelease is the lease scope used for release names.
	ScopeRelease = "release"

	// DefaultReleaseTimeout bounds how long a release deletion waits for its lock.
	DefaultReleaseTimeout = 10 * time.Second
)

var errLeaseHeld = errors.New("lock: lease held elsewhere")

// MetricsRecorder receives lock wait and timeout observations.
type MetricsRecorder interface {
	RecordLockWait(seconds float64, acquired bool)
	RecordLockTimeout()
}

// Config configures a Provider.
type Config struct {
	// Scope namespaces lease keys, e.g. "release".
	Scope string

	// RetryInitialInterval and RetryMaxInterval shape the backoff between
	// lease attempts while another holder has the lease.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	// UnlockTimeout bounds the lease delete after the body returns.
	UnlockTimeout time.Duration
}

// DefaultConfig returns the provider defaults for release locks.
func DefaultConfig() Config {
	return Config{
		Scope:                ScopeRelease,
		RetryInitialInterval: 50 * time.Millisecond,
		RetryMaxInterval:     time.Second,
		UnlockTimeout:        5 * time.Second,
	}
}

// Provider runs functions while holding a named lock.
type Provider struct {
	cfg      Config
	registry *Registry
	leases   *LeaseManager
	metrics  MetricsRecorder
	logger   *logging.Logger
}

// NewProvider creates a Provider. leases may be nil for process-local
// locking only; metrics may be nil.
func NewProvider(cfg Config, leases *LeaseManager, metrics MetricsRecorder, logger *logging.Logger) *Provider {
	def := DefaultConfig()
	if cfg.Scope == "" {
		cfg.Scope = def.Scope
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = def.RetryInitialInterval
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = def.RetryMaxInterval
	}
	if cfg.UnlockTimeout <= 0 {
		cfg.UnlockTimeout = def.UnlockTimeout
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &Provider{
		cfg:      cfg,
		registry: NewRegistry(),
		leases:   leases,
		metrics:  metrics,
		logger:   logger.Named("lock"),
	}
}

// WithLock runs fn while holding the lock for name. The lock must be
// granted within timeout; after that fn runs to completion under the lock,
// however long it takes.
func (p *Provider) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if name == "" {
		return ErrInvalidName
	}
	if timeout <= 0 {
		timeout = DefaultReleaseTimeout
	}
	start := time.Now()
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	release, err := p.registry.Acquire(lockCtx, name)
	if err != nil {
		return p.acquireFailed(ctx, name, timeout, start, err)
	}
	defer release()

	if p.leases != nil {
		if err := p.acquireLease(lockCtx, name); err != nil {
			return p.acquireFailed(ctx, name, timeout, start, err)
		}
		defer p.releaseLease(ctx, name)
	}

	wait := time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordLockWait(wait.Seconds(), true)
	}
	if wait > time.Second {
		logging.ContextLogger(ctx, p.logger).Debugf("lock acquired after wait", map[string]any{
			"name":   name,
			"waitMs": wait.Milliseconds(),
		})
	}
	return fn(ctx)
}

func (p *Provider) acquireLease(ctx context.Context, name string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryInitialInterval
	b.MaxInterval = p.cfg.RetryMaxInterval
	b.MaxElapsedTime = 0

	op := func() error {
		res, err := p.leases.TryAcquire(ctx, p.cfg.Scope, name)
		if err != nil {
			if errors.Is(err, metadata.ErrStoreClosed) || errors.Is(err, ErrInvalidName) {
				return backoff.Permanent(err)
			}
			return err
		}
		if !res.Acquired {
			return errLeaseHeld
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func (p *Provider) releaseLease(ctx context.Context, name string) {
	unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.UnlockTimeout)
	defer cancel()
	if err := p.leases.Release(unlockCtx, p.cfg.Scope, name); err != nil {
		// the ephemeral key still goes away with the session
		logging.ContextLogger(ctx, p.logger).Warnf("failed to release lease", map[string]any{
			"name":  name,
			"error": err.Error(),
		})
	}
}

func (p *Provider) acquireFailed(ctx context.Context, name string, timeout time.Duration, start time.Time, err error) error {
	if p.metrics != nil {
		p.metrics.RecordLockWait(time.Since(start).Seconds(), false)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("lock: acquire %q: %w", name, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if p.metrics != nil {
			p.metrics.RecordLockTimeout()
		}
		return &artifact.LockTimeoutError{Name: name, Timeout: timeout}
	}
	return fmt.Errorf("lock: acquire %q: %w", name, err)
}

// Registry exposes the in-process registry, mainly for tests.
func (p *Provider) Registry() *Registry {
	return p.registry
}
