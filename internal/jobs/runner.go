package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dray-io/reclaim/internal/eventlog"
	"github.com/dray-io/reclaim/internal/logging"
	"github.com/dray-io/reclaim/internal/objectstore"
)

// Handler executes one job type. It returns the job's result string, which
// is persisted even when err is non-nil.
type Handler interface {
	Handle(ctx context.Context, rec Record, progress *eventlog.Log) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, rec Record, progress *eventlog.Log) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, rec Record, progress *eventlog.Log) (string, error) {
	return f(ctx, rec, progress)
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Archive uploads each job's event log to the blobstore when set.
	Archive bool

	// ArchivePrefix is the blobstore prefix for archived event logs.
	ArchivePrefix string

	// EventOutput receives event log lines as they happen. May be nil.
	EventOutput io.Writer

	// FinalizeTimeout bounds the writes that record a job's final state.
	FinalizeTimeout time.Duration
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		ArchivePrefix:   "event-logs",
		FinalizeTimeout: 10 * time.Second,
	}
}

// Runner persists and executes job requests.
type Runner struct {
	cfg    RunnerConfig
	store  *Store
	blobs  objectstore.Store
	logger *logging.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	inflight sync.WaitGroup
}

// NewRunner creates a Runner. blobs is only used for event log archival and
// may be nil when archival is off.
func NewRunner(cfg RunnerConfig, store *Store, blobs objectstore.Store, logger *logging.Logger) *Runner {
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = DefaultRunnerConfig().FinalizeTimeout
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &Runner{
		cfg:      cfg,
		store:    store,
		blobs:    blobs,
		logger:   logger.Named("jobs"),
		handlers: make(map[string]Handler),
	}
}

// Register installs the handler for jobType, replacing any previous one.
func (r *Runner) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

func (r *Runner) handler(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Run executes req to completion and returns its final record. The returned
// error is the handler's error, or a persistence error; in both cases the
// record carries whatever result the handler produced.
func (r *Runner) Run(ctx context.Context, req Request) (Record, error) {
	h, ok := r.handler(req.Type)
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownJobType, req.Type)
	}

	r.inflight.Add(1)
	defer r.inflight.Done()

	rec := Record{
		ID:          req.ID,
		Type:        req.Type,
		State:       StateQueued,
		User:        req.User,
		Description: req.Description,
		Config:      req.Config,
		QueuedAtMs:  time.Now().UnixMilli(),
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := r.store.Create(ctx, rec); err != nil {
		return rec, err
	}

	ctx = logging.WithCorrelationIDCtx(ctx, rec.ID)
	log := logging.ContextLogger(ctx, r.logger)

	rec.State = StateProcessing
	rec.StartedAtMs = time.Now().UnixMilli()
	if err := r.store.Update(ctx, rec); err != nil {
		return rec, err
	}
	log.Infof("job started", map[string]any{
		"type": rec.Type,
		"user": rec.User,
	})

	progress := eventlog.New(r.cfg.EventOutput)
	result, runErr := h.Handle(ctx, rec, progress)

	// Final writes must land even if ctx was cancelled during the run.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.FinalizeTimeout)
	defer cancel()

	if r.cfg.Archive && r.blobs != nil {
		key := eventlog.ArchiveKey(r.cfg.ArchivePrefix, rec.ID)
		if err := progress.Archive(fctx, r.blobs, key); err != nil {
			log.Warnf("failed to archive event log", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
		} else {
			rec.EventLogKey = key
		}
	}

	rec.Result = result
	rec.FinishedAtMs = time.Now().UnixMilli()
	rec.State = StateDone
	if runErr != nil {
		rec.State = StateError
		rec.Error = runErr.Error()
	}
	saveErr := r.store.Update(fctx, rec)

	fields := map[string]any{
		"state":      string(rec.State),
		"result":     rec.Result,
		"durationMs": rec.Duration().Milliseconds(),
	}
	if runErr != nil {
		fields["error"] = runErr.Error()
		log.Errorf("job failed", fields)
	} else {
		log.Infof("job finished", fields)
	}

	if saveErr != nil {
		return rec, errors.Join(runErr, saveErr)
	}
	return rec, runErr
}

// Wait blocks until every in-flight Run has returned.
func (r *Runner) Wait() {
	r.inflight.Wait()
}
