package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dray-io/reclaim/internal/config"
	"github.com/dray-io/reclaim/internal/jobs"
	"github.com/dray-io/reclaim/internal/logging"
	"github.com/dray-io/reclaim/internal/server"
)

const (
	workerScheduler  = "scheduler"
	workerDispatcher = "kafka-dispatcher"
)

// ServiceOptions contains configuration for serve mode.
type ServiceOptions struct {
	Config   *config.Config
	Logger   *logging.Logger
	Director *Director

	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer

	// Dispatcher overrides the Kafka dispatcher built from Config.Jobs.
	Dispatcher *jobs.KafkaDispatcher

	Version   string
	GitCommit string
	BuildTime string
}

// Service runs the director in the background: health and metrics
// endpoints, the cleanup schedule, and the Kafka job consumer.
type Service struct {
	opts         ServiceOptions
	logger       *logging.Logger
	healthServer *server.HealthServer
	scheduler    *jobs.Scheduler
	dispatcher   *jobs.KafkaDispatcher

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
	errCh   chan error
}

// NewService builds a Service. Nothing is started until Start.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Config == nil || opts.Director == nil {
		return nil, errors.New("config and director are required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Global()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	cfg := opts.Config
	logger := opts.Logger

	s := &Service{
		opts:       opts,
		logger:     logger,
		dispatcher: opts.Dispatcher,
		errCh:      make(chan error, 1),
	}

	s.healthServer = server.NewHealthServer(cfg.Observability.MetricsAddr, logger)
	s.healthServer.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	s.healthServer.AddReadinessCheck(server.NewMetadataStoreChecker(opts.Director.meta))
	s.healthServer.AddReadinessCheck(server.NewObjectStoreChecker(opts.Director.blobs))

	if cfg.Cleanup.Schedule != "" {
		if err := jobs.ValidateSchedule(cfg.Cleanup.Schedule); err != nil {
			return nil, err
		}
		req := jobs.NewDeleteArtifactsRequest("scheduler", jobs.DeleteArtifactsConfig{RemoveAll: cfg.Cleanup.ScheduleRemoveAll})
		sched, err := jobs.NewScheduler(cfg.Cleanup.Schedule, req, opts.Director.Runner(), logger)
		if err != nil {
			return nil, err
		}
		s.scheduler = sched
	}

	if s.dispatcher == nil && len(cfg.Jobs.Brokers) > 0 {
		kcfg := jobs.DefaultKafkaConfig()
		kcfg.Brokers = cfg.Jobs.Brokers
		kcfg.RequestTopic = cfg.Jobs.RequestTopic
		kcfg.ResultTopic = cfg.Jobs.ResultTopic
		kcfg.ConsumerGroup = cfg.Jobs.ConsumerGroup
		d, err := jobs.NewKafkaDispatcher(kcfg, opts.Director.Runner(), logger)
		if err != nil {
			return nil, err
		}
		s.dispatcher = d
	}

	return s, nil
}

// Start starts the health server and the background workers, then blocks
// until ctx is done or a worker fails.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("service already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.healthServer.Start(); err != nil {
		return fmt.Errorf("start health server: %w", err)
	}

	if s.dispatcher != nil {
		if s.opts.Config.Jobs.CreateTopics {
			if err := s.dispatcher.EnsureTopics(ctx); err != nil {
				return err
			}
		}
		s.healthServer.WorkerStarted(workerDispatcher)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			err := s.dispatcher.Run(ctx)
			s.healthServer.WorkerStopped(workerDispatcher)
			if err != nil {
				select {
				case s.errCh <- err:
				default:
				}
			}
		}()
	}

	if s.scheduler != nil {
		s.scheduler.Start()
		s.healthServer.WorkerStarted(workerScheduler)
	}

	s.logger.Infof("reclaimd started", map[string]any{
		"director":   s.opts.Config.Director.Name,
		"healthAddr": s.healthServer.Addr(),
		"schedule":   s.opts.Config.Cleanup.Schedule,
		"kafka":      s.dispatcher != nil,
		"version":    s.opts.Version,
		"gitCommit":  s.opts.GitCommit,
		"buildTime":  s.opts.BuildTime,
	})

	select {
	case <-ctx.Done():
		return nil
	case err := <-s.errCh:
		return err
	}
}

// HealthAddr returns the bound health server address.
func (s *Service) HealthAddr() string {
	return s.healthServer.Addr()
}

// Shutdown stops accepting work, waits for in-flight jobs, and closes the
// director.
func (s *Service) Shutdown(ctx context.Context) error {
	s.healthServer.SetShuttingDown()

	var errs []error
	if s.scheduler != nil {
		if err := s.scheduler.Stop(ctx); err != nil {
			s.logger.Warnf("error stopping scheduler", map[string]any{"error": err.Error()})
			errs = append(errs, err)
		}
		s.healthServer.WorkerStopped(workerScheduler)
	}
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	s.wg.Wait()

	if err := s.opts.Director.Close(ctx); err != nil {
		s.logger.Warnf("error closing director", map[string]any{"error": err.Error()})
		errs = append(errs, err)
	}
	if err := s.healthServer.Shutdown(ctx); err != nil {
		s.logger.Warnf("error closing health server", map[string]any{"error": err.Error()})
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
