package gc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dray-io/reclaim/internal/artifact"
	"github.com/dray-io/reclaim/internal/catalog"
	"github.com/dray-io/reclaim/internal/eventlog"
	"github.com/dray-io/reclaim/internal/lock"
	"github.com/dray-io/reclaim/internal/logging"
	"github.com/dray-io/reclaim/internal/pool"
)

const (
	// KeepCount is the number of newest versions per name a normal run keeps.
	KeepCount = 2

	// DefaultMaxThreads bounds concurrent deletions when unset.
	DefaultMaxThreads = 32

	StageReleases  = "Deleting releases"
	StageStemcells = "Deleting stemcells"
	StageDisks     = "Deleting orphaned disks"
)

// Deletion results reported to the metrics recorder.
const (
	ResultDeleted  = "deleted"
	ResultNotFound = "not_found"
	ResultFailed   = "failed"
)

// Picker returns deletion candidates for a retention count.
type Picker interface {
	Pick(ctx context.Context, keepCount int) ([]artifact.Ref, error)
}

// StemcellLookup resolves a stemcell candidate to its record.
type StemcellLookup interface {
	FindByNameAndVersion(ctx context.Context, name, version string) (catalog.Stemcell, error)
}

type ReleaseDeleter interface {
	DeleteByNameVersion(ctx context.Context, name, version string, force bool) error
}

type StemcellDeleter interface {
	Delete(ctx context.Context, s catalog.Stemcell) error
}

type DiskLister interface {
	ListOrphanDisks(ctx context.Context) ([]catalog.OrphanDisk, error)
}

type DiskDeleter interface {
	DeleteOrphanDisk(ctx context.Context, cid string) error
}

// LockProvider runs fn while holding the named lock, failing with
// *artifact.LockTimeoutError if the lock is not granted within timeout.
type LockProvider interface {
	WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error
}

// MetricsRecorder receives per-run and per-deletion observations.
type MetricsRecorder interface {
	pool.MetricsRecorder
	RecordCandidates(kind string, n int)
	RecordDeletion(kind, result string)
	RecordRun(seconds float64, success bool)
}

// Config configures an Orchestrator.
type Config struct {
	// MaxThreads is the deletion parallelism shared by all artifact kinds.
	MaxThreads int

	// ReleaseLockTimeout bounds the wait for a release's named lock.
	ReleaseLockTimeout time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		MaxThreads:         DefaultMaxThreads,
		ReleaseLockTimeout: lock.DefaultReleaseTimeout,
	}
}

// Deps holds the orchestrator's collaborators. Metrics and Logger are optional.
type Deps struct {
	ReleasePicker   Picker
	StemcellPicker  Picker
	Stemcells       StemcellLookup
	ReleaseDeleter  ReleaseDeleter
	StemcellDeleter StemcellDeleter
	Disks           DiskLister
	DiskDeleter     DiskDeleter
	Locks           LockProvider
	Metrics         MetricsRecorder
	Logger          *logging.Logger
}

// RunOptions configures a single run.
type RunOptions struct {
	// RemoveAll deletes every unused release and stemcell version and every
	// orphaned disk.
	RemoveAll bool

	// Progress receives stage and task events. A private log is used when nil.
	Progress *eventlog.Log
}

// Orchestrator executes cleanup runs.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *logging.Logger
}

// NewOrchestrator validates deps and applies config defaults.
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	required := []struct {
		name string
		dep  any
	}{
		{"ReleasePicker", deps.ReleasePicker},
		{"StemcellPicker", deps.StemcellPicker},
		{"Stemcells", deps.Stemcells},
		{"ReleaseDeleter", deps.ReleaseDeleter},
		{"StemcellDeleter", deps.StemcellDeleter},
		{"Disks", deps.Disks},
		{"DiskDeleter", deps.DiskDeleter},
		{"Locks", deps.Locks},
	}
	for _, r := range required {
		if r.dep == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingDependency, r.name)
		}
	}
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = DefaultMaxThreads
	}
	if cfg.ReleaseLockTimeout <= 0 {
		cfg.ReleaseLockTimeout = lock.DefaultReleaseTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Global()
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: logger.Named("gc")}, nil
}

// run holds the state of one Run call.
type run struct {
	*Orchestrator
	ctx      context.Context
	log      *logging.Logger
	progress *eventlog.Log
	outcomes OutcomeLog
	next     int
}

// Run performs one cleanup run and returns the report string. The report is
// returned even when err is non-nil; it lists every artifact deleted before
// the failure.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (string, error) {
	start := time.Now()
	keepCount := KeepCount
	if opts.RemoveAll {
		keepCount = 0
	}

	r := &run{
		Orchestrator: o,
		ctx:          ctx,
		log:          logging.ContextLogger(ctx, o.logger),
		progress:     opts.Progress,
	}
	if r.progress == nil {
		r.progress = eventlog.New(nil)
	}

	r.log.Infof("starting artifact cleanup", map[string]any{
		"removeAll":  opts.RemoveAll,
		"keepCount":  keepCount,
		"maxThreads": o.cfg.MaxThreads,
	})

	var poolMetrics pool.MetricsRecorder
	if o.deps.Metrics != nil {
		poolMetrics = o.deps.Metrics
	}
	wrapErr := pool.Wrap(o.cfg.MaxThreads, poolMetrics, func(p *pool.Pool) error {
		if err := r.submitReleases(p, keepCount); err != nil {
			return err
		}
		if err := r.submitStemcells(p, keepCount); err != nil {
			return err
		}
		if opts.RemoveAll {
			return r.submitDisks(p)
		}
		return nil
	})

	outcomes := r.outcomes.Outcomes()
	report := BuildReport(outcomes, opts.RemoveAll).String()

	var failed []artifact.Outcome
	for _, oc := range outcomes {
		if !oc.Succeeded() {
			failed = append(failed, oc)
		}
	}

	var runErr error
	if len(failed) > 0 {
		runErr = &RunError{Failed: len(failed), Total: len(outcomes), Representative: failed[0].Err}
	}
	var taskErr *pool.TaskError
	if wrapErr != nil && !errors.As(wrapErr, &taskErr) {
		// the body itself failed, e.g. a picker or the disk listing
		runErr = errors.Join(wrapErr, runErr)
	}

	elapsed := time.Since(start)
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordRun(elapsed.Seconds(), runErr == nil)
	}
	fields := map[string]any{
		"report":     report,
		"deletions":  len(outcomes),
		"failed":     len(failed),
		"durationMs": elapsed.Milliseconds(),
	}
	if runErr != nil {
		fields["error"] = runErr.Error()
		r.log.Errorf("artifact cleanup finished with failures", fields)
	} else {
		r.log.Infof("artifact cleanup finished", fields)
	}
	return report, runErr
}

func (r *run) submitReleases(p *pool.Pool, keepCount int) error {
	refs, err := r.deps.ReleasePicker.Pick(r.ctx, keepCount)
	if err != nil {
		return fmt.Errorf("gc: pick releases: %w", err)
	}
	r.candidates(artifact.KindRelease, len(refs))

	stage := r.progress.BeginStage(StageReleases, len(refs))
	for _, ref := range refs {
		ref := ref
		err := r.submit(p, stage, ref, "Deleting release "+ref.Label(), func(ctx context.Context) error {
			return r.deps.Locks.WithLock(ctx, ref.Name, r.cfg.ReleaseLockTimeout, func(ctx context.Context) error {
				return r.deps.ReleaseDeleter.DeleteByNameVersion(ctx, ref.Name, ref.Version, false)
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// submitStemcells deletes stemcells without a lock.
func (r *run) submitStemcells(p *pool.Pool, keepCount int) error {
	refs, err := r.deps.StemcellPicker.Pick(r.ctx, keepCount)
	if err != nil {
		return fmt.Errorf("gc: pick stemcells: %w", err)
	}
	r.candidates(artifact.KindStemcell, len(refs))

	stage := r.progress.BeginStage(StageStemcells, len(refs))
	for _, ref := range refs {
		ref := ref
		err := r.submit(p, stage, ref, "Deleting stemcell "+ref.Label(), func(ctx context.Context) error {
			s, err := r.deps.Stemcells.FindByNameAndVersion(ctx, ref.Name, ref.Version)
			if err != nil {
				return err
			}
			return r.deps.StemcellDeleter.Delete(ctx, s)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *run) submitDisks(p *pool.Pool) error {
	disks, err := r.deps.Disks.ListOrphanDisks(r.ctx)
	if err != nil {
		return fmt.Errorf("gc: list orphan disks: %w", err)
	}
	r.candidates(artifact.KindDisk, len(disks))

	stage := r.progress.BeginStage(StageDisks, len(disks))
	for _, d := range disks {
		ref := artifact.Disk(d.CID)
		err := r.submit(p, stage, ref, "Deleting orphaned disk "+d.CID, func(ctx context.Context) error {
			return r.deps.DiskDeleter.DeleteOrphanDisk(ctx, ref.ID)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *run) candidates(kind artifact.Kind, n int) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordCandidates(kind.String(), n)
	}
	r.log.Infof("picked deletion candidates", map[string]any{
		"kind":  kind.String(),
		"count": n,
	})
}

// submit queues one deletion. Whatever the task does, including panicking,
// it records exactly one outcome.
func (r *run) submit(p *pool.Pool, stage *eventlog.Stage, ref artifact.Ref, label string, del func(ctx context.Context) error) error {
	index := r.next
	r.next++

	_, err := p.Submit(func() error {
		gone := false
		// the inner Guard lets Track close the task as failed on a panic
		err := pool.Guard(func() error {
			return stage.Track(r.ctx, label, func(ctx context.Context) error {
				return pool.Guard(func() error {
					err := del(ctx)
					if artifact.IsNotFound(err) {
						gone = true
						return nil
					}
					return err
				})
			})
		})
		if err != nil {
			err = &artifact.DeletionError{Ref: ref, Err: err}
		}
		r.outcomes.Record(artifact.Outcome{Ref: ref, Index: index, Err: err, AlreadyGone: gone})
		r.observe(ref, err, gone)
		return err
	})
	return err
}

func (r *run) observe(ref artifact.Ref, err error, gone bool) {
	result := ResultDeleted
	switch {
	case err != nil:
		result = ResultFailed
		r.log.Warnf("artifact deletion failed", map[string]any{
			"artifact": ref.String(),
			"error":    err.Error(),
		})
	case gone:
		result = ResultNotFound
		r.log.Debugf("artifact already gone", map[string]any{"artifact": ref.String()})
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordDeletion(ref.Kind.String(), result)
	}
}
