package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CleanupMetrics holds metrics for artifact cleanup runs.
type CleanupMetrics struct {
	// DeletionsTotal counts finished deletion tasks.
	// Labels: kind (release, stemcell, disk), result (deleted, not_found, failed)
	DeletionsTotal *prometheus.CounterVec

	// RunDuration tracks the wall time of whole runs.
	// Labels: outcome (success, failure)
	RunDuration *prometheus.HistogramVec

	// Candidates is the number of candidates picked by the last run, per kind.
	Candidates *prometheus.GaugeVec

	// PoolInFlight is the number of deletion tasks currently executing.
	PoolInFlight prometheus.Gauge

	// LockWait tracks how long release deletions waited for their named lock.
	// Labels: outcome (acquired, timeout)
	LockWait *prometheus.HistogramVec

	// LockTimeoutsTotal counts lock acquisitions that gave up.
	LockTimeoutsTotal prometheus.Counter
}

// Lock wait outcome label values.
const (
	LockAcquired = "acquired"
	LockTimedOut = "timeout"
)

// DefaultRunDurationBuckets covers runs from under a second to an hour.
var DefaultRunDurationBuckets = []float64{
	0.1,    // 100ms
	0.5,    // 500ms
	1.0,    // 1s
	5.0,    // 5s
	15.0,   // 15s
	30.0,   // 30s
	60.0,   // 1m
	300.0,  // 5m
	900.0,  // 15m
	1800.0, // 30m
	3600.0, // 1h
}

// DefaultLockWaitBuckets covers lock waits up to past the default 10s timeout.
var DefaultLockWaitBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
	15.0,  // 15s
}

// NewCleanupMetrics creates and registers cleanup metrics with the default registry.
func NewCleanupMetrics() *CleanupMetrics {
	return newCleanupMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewCleanupMetricsWithRegistry creates cleanup metrics registered with reg.
// Useful for testing to avoid conflicts with the default registry.
func NewCleanupMetricsWithRegistry(reg prometheus.Registerer) *CleanupMetrics {
	return newCleanupMetrics(promauto.With(reg))
}

func newCleanupMetrics(f promauto.Factory) *CleanupMetrics {
	return &CleanupMetrics{
		DeletionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "deletions_total",
				Help:      "Total number of artifact deletion tasks, broken down by artifact kind and result.",
			},
			[]string{"kind", "result"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "run_duration_seconds",
				Help:      "Duration of artifact cleanup runs in seconds, broken down by outcome.",
				Buckets:   DefaultRunDurationBuckets,
			},
			[]string{"outcome"},
		),
		Candidates: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "candidates",
				Help:      "Number of deletion candidates picked by the most recent run, per artifact kind.",
			},
			[]string{"kind"},
		),
		PoolInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "pool_inflight",
				Help:      "Number of deletion tasks currently executing.",
			},
		),
		LockWait: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting for release locks in seconds, broken down by outcome.",
				Buckets:   DefaultLockWaitBuckets,
			},
			[]string{"outcome"},
		),
		LockTimeoutsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "lock_timeouts_total",
				Help:      "Total number of release lock acquisitions that timed out.",
			},
		),
	}
}

// RecordDeletion counts one finished deletion task.
func (m *CleanupMetrics) RecordDeletion(kind, result string) {
	m.DeletionsTotal.WithLabelValues(kind, result).Inc()
}

// RecordRun records a finished run.
func (m *CleanupMetrics) RecordRun(seconds float64, success bool) {
	m.RunDuration.WithLabelValues(status(success)).Observe(seconds)
}

// RecordCandidates sets the candidate count for kind.
func (m *CleanupMetrics) RecordCandidates(kind string, n int) {
	m.Candidates.WithLabelValues(kind).Set(float64(n))
}

// SetInFlight sets the number of executing deletion tasks.
func (m *CleanupMetrics) SetInFlight(n int) {
	m.PoolInFlight.Set(float64(n))
}

// RecordLockWait records the time spent waiting for a release lock.
func (m *CleanupMetrics) RecordLockWait(seconds float64, acquired bool) {
	outcome := LockAcquired
	if !acquired {
		outcome = LockTimedOut
	}
	m.LockWait.WithLabelValues(outcome).Observe(seconds)
}

// RecordLockTimeout counts a lock acquisition that timed out.
func (m *CleanupMetrics) RecordLockTimeout() {
	m.LockTimeoutsTotal.Inc()
}
