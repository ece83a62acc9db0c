package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/dray-io/reclaim/internal/logging"
)

// scheduleParser accepts standard five-field specs, an optional leading
// seconds field, and descriptors such as @daily or @every 6h.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule checks a cron spec.
func ValidateSchedule(spec string) error {
	if _, err := scheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return nil
}

// Scheduler submits a job request on a cron schedule. A tick that fires
// while the previous run is still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	runner JobRunner
	logger *logging.Logger
}

// NewScheduler creates a Scheduler that runs req on spec.
func NewScheduler(spec string, req Request, runner JobRunner, logger *logging.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logging.Global()
	}
	logger = logger.Named("jobs.scheduler")
	cl := cronLogger{logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(scheduleParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.fire(req) }); err != nil {
		return nil, fmt.Errorf("jobs: schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) fire(req Request) {
	rec, err := s.runner.Run(context.Background(), req)
	if err != nil {
		s.logger.Warnf("scheduled job failed", map[string]any{
			"job":   rec.ID,
			"type":  req.Type,
			"error": err.Error(),
		})
	}
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing and waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts the house logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugf("cron: "+msg, kvFields(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := kvFields(keysAndValues)
	fields["error"] = err.Error()
	c.l.Errorf("cron: "+msg, fields)
}

func kvFields(kv []any) map[string]any {
	fields := make(map[string]any, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
