package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/reclaim/internal/artifact"
	"github.com/dray-io/reclaim/internal/logging"
	"github.com/dray-io/reclaim/internal/metadata"
)

type fakeRecorder struct {
	mu       sync.Mutex
	waits    int
	failed   int
	timeouts int
}

func (r *fakeRecorder) RecordLockWait(_ float64, acquired bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits++
	if !acquired {
		r.failed++
	}
}

func (r *fakeRecorder) RecordLockTimeout() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts++
}

// intervalRecorder captures the hold interval of each body per name.
type intervalRecorder struct {
	mu        sync.Mutex
	intervals map[string][][2]time.Time
}

func (r *intervalRecorder) record(name string, start, end time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.intervals == nil {
		r.intervals = make(map[string][][2]time.Time)
	}
	r.intervals[name] = append(r.intervals[name], [2]time.Time{start, end})
}

func (r *intervalRecorder) overlaps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, iv := range r.intervals {
		sort.Slice(iv, func(i, j int) bool { return iv[i][0].Before(iv[j][0]) })
		for i := 1; i < len(iv); i++ {
			if iv[i][0].Before(iv[i-1][1]) {
				n++
			}
		}
	}
	return n
}

func testProvider(leases *LeaseManager, rec MetricsRecorder) *Provider {
	cfg := DefaultConfig()
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 5 * time.Millisecond
	return NewProvider(cfg, leases, rec, logging.Discard())
}

func TestWithLock_RunsBody(t *testing.T) {
	store := metadata.NewMockStore()
	leases := NewLeaseManager(store, "reclaimd-a")
	rec := &fakeRecorder{}
	p := testProvider(leases, rec)

	ran := false
	err := p.WithLock(context.Background(), "nginx", time.Second, func(ctx context.Context) error {
		ran = true
		assert.True(t, leases.Holds(ScopeRelease, "nginx"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, leases.Holds(ScopeRelease, "nginx"))
	assert.Equal(t, 0, p.Registry().Len())
	assert.Equal(t, 1, rec.waits)
}

func TestWithLock_ReturnsBodyError(t *testing.T) {
	p := testProvider(nil, nil)
	boom := errors.New("boom")
	err := p.WithLock(context.Background(), "nginx", time.Second, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, p.Registry().Len())
}

func TestWithLock_SameNameNeverOverlaps(t *testing.T) {
	store := metadata.NewMockStore()
	p := testProvider(NewLeaseManager(store, "reclaimd-a"), nil)
	rec := &intervalRecorder{}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		name := []string{"a", "b", "c"}[i%3]
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.WithLock(context.Background(), name, 5*time.Second, func(context.Context) error {
				start := time.Now()
				time.Sleep(200 * time.Microsecond)
				rec.record(name, start, time.Now())
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, rec.overlaps())
	assert.Len(t, rec.intervals["a"], 14)
}

func TestWithLock_TimeoutInProcess(t *testing.T) {
	rec := &fakeRecorder{}
	p := testProvider(nil, rec)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = p.WithLock(context.Background(), "nginx", time.Second, func(context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	ran := false
	err := p.WithLock(context.Background(), "nginx", 20*time.Millisecond, func(context.Context) error {
		ran = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, ran)
	assert.ErrorIs(t, err, artifact.ErrLockTimeout)

	var lte *artifact.LockTimeoutError
	require.ErrorAs(t, err, &lte)
	assert.Equal(t, "nginx", lte.Name)
	assert.Equal(t, 20*time.Millisecond, lte.Timeout)
	assert.Equal(t, 1, rec.timeouts)
}

func TestWithLock_TimeoutAgainstExternalHolder(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMockStore()
	deployer := NewLeaseManager(store, "deployer")
	res, err := deployer.TryAcquire(ctx, ScopeRelease, "nginx")
	require.NoError(t, err)
	require.True(t, res.Acquired)

	p := testProvider(NewLeaseManager(store, "reclaimd-a"), nil)
	err = p.WithLock(ctx, "nginx", 30*time.Millisecond, func(context.Context) error {
		t.Fatal("body must not run while the deployer holds the lease")
		return nil
	})
	assert.ErrorIs(t, err, artifact.ErrLockTimeout)
	assert.Equal(t, 0, p.Registry().Len())
}

func TestWithLock_WaitsForExternalRelease(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMockStore()
	deployer := NewLeaseManager(store, "deployer")
	_, err := deployer.TryAcquire(ctx, ScopeRelease, "nginx")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = deployer.Release(ctx, ScopeRelease, "nginx")
	}()

	p := testProvider(NewLeaseManager(store, "reclaimd-a"), nil)
	ran := false
	err = p.WithLock(ctx, "nginx", 2*time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestWithLock_ParentCancelledIsNotTimeout(t *testing.T) {
	p := testProvider(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = p.WithLock(context.Background(), "nginx", time.Second, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := p.WithLock(ctx, "nginx", time.Second, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, artifact.ErrLockTimeout)
}

func TestWithLock_ClosedStoreFailsFast(t *testing.T) {
	store := metadata.NewMockStore()
	require.NoError(t, store.Close())
	p := testProvider(NewLeaseManager(store, "reclaimd-a"), nil)

	start := time.Now()
	err := p.WithLock(context.Background(), "nginx", 5*time.Second, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, metadata.ErrStoreClosed)
	assert.Less(t, time.Since(start), time.Second)
}
