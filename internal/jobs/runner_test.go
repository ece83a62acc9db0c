package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/reclaim/internal/eventlog"
	"github.com/dray-io/reclaim/internal/logging"
	"github.com/dray-io/reclaim/internal/metadata"
	"github.com/dray-io/reclaim/internal/objectstore"
)

func newTestRunner(t *testing.T, cfg RunnerConfig) (*Runner, *Store, *objectstore.MockStore) {
	t.Helper()
	store := NewStore(metadata.NewMockStore())
	blobs := objectstore.NewMockStore()
	return NewRunner(cfg, store, blobs, logging.Discard()), store, blobs
}

func TestRunner_UnknownType(t *testing.T) {
	r, store, _ := newTestRunner(t, DefaultRunnerConfig())

	_, err := r.Run(context.Background(), Request{ID: "j1", Type: "delete_everything"})
	require.ErrorIs(t, err, ErrUnknownJobType)

	_, err = store.Get(context.Background(), "j1")
	assert.ErrorIs(t, err, ErrJobNotFound, "no record is written for an unknown type")
}

func TestRunner_SuccessPersistsResult(t *testing.T) {
	r, store, _ := newTestRunner(t, DefaultRunnerConfig())

	var seenState State
	var seenCorrelation string
	r.Register(TypeDeleteArtifacts, HandlerFunc(func(ctx context.Context, rec Record, _ *eventlog.Log) (string, error) {
		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		seenState = got.State
		seenCorrelation = logging.CorrelationIDFromCtx(ctx)
		return "stemcell(s) deleted: none; release(s) deleted: a/1", nil
	}))

	rec, err := r.Run(context.Background(), NewDeleteArtifactsRequest("admin", DeleteArtifactsConfig{}))
	require.NoError(t, err)

	_, parseErr := uuid.Parse(rec.ID)
	assert.NoError(t, parseErr, "job IDs are UUIDs")
	assert.Equal(t, StateProcessing, seenState)
	assert.Equal(t, rec.ID, seenCorrelation)

	stored, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDone, stored.State)
	assert.Equal(t, "stemcell(s) deleted: none; release(s) deleted: a/1", stored.Result)
	assert.Equal(t, "admin", stored.User)
	assert.Empty(t, stored.Error)
	assert.NotZero(t, stored.StartedAtMs)
	assert.GreaterOrEqual(t, stored.FinishedAtMs, stored.StartedAtMs)
}

func TestRunner_FailureKeepsPartialResult(t *testing.T) {
	r, store, _ := newTestRunner(t, DefaultRunnerConfig())
	runErr := errors.New("deleting release a/1: blobstore unavailable")
	r.Register(TypeDeleteArtifacts, HandlerFunc(func(context.Context, Record, *eventlog.Log) (string, error) {
		return "stemcell(s) deleted: s/1; release(s) deleted: none", runErr
	}))

	rec, err := r.Run(context.Background(), Request{ID: "j2", Type: TypeDeleteArtifacts})
	require.ErrorIs(t, err, runErr)
	assert.Equal(t, StateError, rec.State)

	stored, err := store.Get(context.Background(), "j2")
	require.NoError(t, err)
	assert.Equal(t, StateError, stored.State)
	assert.Equal(t, runErr.Error(), stored.Error)
	assert.Equal(t, "stemcell(s) deleted: s/1; release(s) deleted: none", stored.Result)
}

func TestRunner_DuplicateID(t *testing.T) {
	r, _, _ := newTestRunner(t, DefaultRunnerConfig())
	r.Register(TypeDeleteArtifacts, HandlerFunc(func(context.Context, Record, *eventlog.Log) (string, error) {
		return "", nil
	}))

	_, err := r.Run(context.Background(), Request{ID: "same", Type: TypeDeleteArtifacts})
	require.NoError(t, err)
	_, err = r.Run(context.Background(), Request{ID: "same", Type: TypeDeleteArtifacts})
	assert.ErrorIs(t, err, ErrJobExists)
}

func TestRunner_CancelledDuringRunStillFinalizes(t *testing.T) {
	r, store, _ := newTestRunner(t, DefaultRunnerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	r.Register(TypeDeleteArtifacts, HandlerFunc(func(context.Context, Record, *eventlog.Log) (string, error) {
		cancel()
		return "stemcell(s) deleted: none; release(s) deleted: none", nil
	}))

	rec, err := r.Run(ctx, Request{ID: "j3", Type: TypeDeleteArtifacts})
	require.NoError(t, err)

	stored, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDone, stored.State)
}

func TestRunner_ArchivesEventLog(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.Archive = true
	r, store, blobs := newTestRunner(t, cfg)
	r.Register(TypeDeleteArtifacts, HandlerFunc(func(ctx context.Context, _ Record, progress *eventlog.Log) (string, error) {
		stage := progress.BeginStage("Deleting releases", 1)
		return "done", stage.Track(ctx, "Deleting release a/1", func(context.Context) error { return nil })
	}))

	rec, err := r.Run(context.Background(), Request{ID: "j4", Type: TypeDeleteArtifacts})
	require.NoError(t, err)

	wantKey := eventlog.ArchiveKey(cfg.ArchivePrefix, "j4")
	assert.Equal(t, wantKey, rec.EventLogKey)
	assert.True(t, blobs.Has(wantKey))

	events, err := eventlog.ReadArchive(context.Background(), blobs, wantKey)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, eventlog.StateStarted, events[0].State)
	assert.Equal(t, eventlog.StateFinished, events[1].State)

	stored, err := store.Get(context.Background(), "j4")
	require.NoError(t, err)
	assert.Equal(t, wantKey, stored.EventLogKey)
}

func TestRunner_ArchiveFailureDoesNotFailJob(t *testing.T) {
	cfg := DefaultRunnerConfig()
	cfg.Archive = true
	r, _, blobs := newTestRunner(t, cfg)
	blobs.FailKey(eventlog.ArchiveKey(cfg.ArchivePrefix, "j5"), objectstore.ErrAccessDenied)
	r.Register(TypeDeleteArtifacts, HandlerFunc(func(context.Context, Record, *eventlog.Log) (string, error) {
		return "done", nil
	}))

	rec, err := r.Run(context.Background(), Request{ID: "j5", Type: TypeDeleteArtifacts})
	require.NoError(t, err)
	assert.Equal(t, StateDone, rec.State)
	assert.Empty(t, rec.EventLogKey)
}

func TestRunner_WaitBlocksForInflight(t *testing.T) {
	r, _, _ := newTestRunner(t, DefaultRunnerConfig())
	started := make(chan struct{})
	release := make(chan struct{})
	r.Register(TypeDeleteArtifacts, HandlerFunc(func(context.Context, Record, *eventlog.Log) (string, error) {
		close(started)
		<-release
		return "", nil
	}))

	go r.Run(context.Background(), Request{Type: TypeDeleteArtifacts})
	<-started

	waited := make(chan struct{})
	go func() {
		r.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while a job was running")
	default:
	}
	close(release)
	<-waited
}
