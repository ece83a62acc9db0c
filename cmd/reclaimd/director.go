package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dray-io/reclaim/internal/catalog"
	"github.com/dray-io/reclaim/internal/cloud"
	"github.com/dray-io/reclaim/internal/cloud/ec2"
	"github.com/dray-io/reclaim/internal/config"
	"github.com/dray-io/reclaim/internal/deleter"
	"github.com/dray-io/reclaim/internal/gc"
	"github.com/dray-io/reclaim/internal/jobs"
	"github.com/dray-io/reclaim/internal/lock"
	"github.com/dray-io/reclaim/internal/logging"
	"github.com/dray-io/reclaim/internal/metadata"
	"github.com/dray-io/reclaim/internal/metadata/oxia"
	"github.com/dray-io/reclaim/internal/metrics"
	"github.com/dray-io/reclaim/internal/objectstore"
	"github.com/dray-io/reclaim/internal/objectstore/s3"
	"github.com/dray-io/reclaim/internal/picker"
)

// Backends are the external systems a Director works against.
type Backends struct {
	Meta  metadata.MetadataStore
	Blobs objectstore.Store
	Cloud cloud.Cloud
}

// Close closes the stores.
func (b Backends) Close() error {
	var errs []error
	if b.Meta != nil {
		errs = append(errs, b.Meta.Close())
	}
	if b.Blobs != nil {
		errs = append(errs, b.Blobs.Close())
	}
	return errors.Join(errs...)
}

// ConnectBackends opens the stores and cloud client named by cfg.
func ConnectBackends(ctx context.Context, cfg *config.Config) (Backends, error) {
	var b Backends

	meta, err := oxia.New(ctx, oxia.Config{
		ServiceAddress: cfg.Metadata.OxiaEndpoint,
		Namespace:      cfg.Metadata.Namespace,
	})
	if err != nil {
		return b, fmt.Errorf("connect metadata store: %w", err)
	}
	b.Meta = meta

	blobs, err := s3.New(ctx, s3.Config{
		Bucket:          cfg.Blobstore.Bucket,
		Region:          cfg.Blobstore.Region,
		Endpoint:        cfg.Blobstore.Endpoint,
		AccessKeyID:     cfg.Blobstore.AccessKey,
		SecretAccessKey: cfg.Blobstore.SecretKey,
		UsePathStyle:    cfg.Blobstore.PathStyle,
	})
	if err != nil {
		b.Close()
		return Backends{}, fmt.Errorf("connect blobstore: %w", err)
	}
	b.Blobs = blobs

	switch cfg.Cloud.Provider {
	case config.CloudProviderEC2:
		iaas, err := ec2.New(ctx, ec2.Config{
			Region:          cfg.Cloud.Region,
			Endpoint:        cfg.Cloud.Endpoint,
			AccessKeyID:     cfg.Cloud.AccessKey,
			SecretAccessKey: cfg.Cloud.SecretKey,
		})
		if err != nil {
			b.Close()
			return Backends{}, fmt.Errorf("connect cloud: %w", err)
		}
		b.Cloud = iaas
	default:
		b.Cloud = cloud.None{}
	}
	return b, nil
}

// DirectorOptions contains what a Director is built from.
type DirectorOptions struct {
	Config   *config.Config
	Logger   *logging.Logger
	Backends Backends

	// Registerer receives the director's metrics. Defaults to the global registry.
	Registerer prometheus.Registerer

	// EventOutput receives event log lines while jobs run. May be nil.
	EventOutput io.Writer

	// HolderID identifies this process in lock leases. Defaults to a new UUID.
	HolderID string
}

// Director owns the cleanup pipeline and the job runner that drives it.
type Director struct {
	meta     metadata.MetadataStore
	blobs    objectstore.Store
	leases   *lock.LeaseManager
	runner   *jobs.Runner
	jobStore *jobs.Store

	closeOnce sync.Once
}

// NewDirector wires the pipeline over opts.Backends. The stores are wrapped
// with metrics recorders; the Director closes them in Close.
func NewDirector(opts DirectorOptions) (*Director, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Backends.Meta == nil || opts.Backends.Blobs == nil {
		return nil, errors.New("metadata store and blobstore are required")
	}
	if opts.Backends.Cloud == nil {
		opts.Backends.Cloud = cloud.None{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Global()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.HolderID == "" {
		opts.HolderID = uuid.NewString()
	}
	cfg := opts.Config
	logger := opts.Logger

	cleanupMetrics := metrics.NewCleanupMetricsWithRegistry(opts.Registerer)
	meta := metadata.NewInstrumentedStore(opts.Backends.Meta, metrics.NewMetadataMetricsWithRegistry(opts.Registerer))
	blobs := objectstore.NewInstrumentedStore(opts.Backends.Blobs, metrics.NewObjectStoreMetricsWithRegistry(opts.Registerer))

	cat := catalog.New(meta)
	blobDeleter := deleter.NewBlobs(blobs, logger)
	disks := deleter.NewDiskManager(cat, opts.Backends.Cloud, logger)
	leases := lock.NewLeaseManager(meta, opts.HolderID)

	orch, err := gc.NewOrchestrator(gc.Config{
		MaxThreads:         cfg.Director.MaxThreads,
		ReleaseLockTimeout: cfg.Cleanup.ReleaseLockTimeout(),
	}, gc.Deps{
		ReleasePicker:   picker.NewReleasePicker(cat),
		StemcellPicker:  picker.NewStemcellPicker(cat),
		Stemcells:       cat,
		ReleaseDeleter:  deleter.NewReleaseDeleter(cat, blobDeleter, logger),
		StemcellDeleter: deleter.NewStemcellDeleter(cat, blobDeleter, opts.Backends.Cloud, logger),
		Disks:           disks,
		DiskDeleter:     disks,
		Locks:           lock.NewProvider(lock.DefaultConfig(), leases, cleanupMetrics, logger),
		Metrics:         cleanupMetrics,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	jobStore := jobs.NewStore(meta)
	runner := jobs.NewRunner(jobs.RunnerConfig{
		Archive:       cfg.EventLog.Archive,
		ArchivePrefix: cfg.EventLog.Prefix,
		EventOutput:   opts.EventOutput,
	}, jobStore, blobs, logger)
	runner.Register(jobs.TypeDeleteArtifacts, jobs.NewDeleteArtifacts(orch))

	return &Director{
		meta:     meta,
		blobs:    blobs,
		leases:   leases,
		runner:   runner,
		jobStore: jobStore,
	}, nil
}

// Runner returns the job runner.
func (d *Director) Runner() *jobs.Runner { return d.runner }

// Jobs returns the job record store.
func (d *Director) Jobs() *jobs.Store { return d.jobStore }

// Cleanup runs one delete_artifacts job and waits for it.
func (d *Director) Cleanup(ctx context.Context, user string, removeAll bool) (jobs.Record, error) {
	return d.runner.Run(ctx, jobs.NewDeleteArtifactsRequest(user, jobs.DeleteArtifactsConfig{RemoveAll: removeAll}))
}

// Close waits for in-flight jobs, releases any leases still held, and closes
// the stores.
func (d *Director) Close(ctx context.Context) error {
	var err error
	d.closeOnce.Do(func() {
		d.runner.Wait()
		errs := []error{d.leases.ReleaseAll(ctx)}
		errs = append(errs, d.meta.Close(), d.blobs.Close())
		err = errors.Join(errs...)
	})
	return err
}
