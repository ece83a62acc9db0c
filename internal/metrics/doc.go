// Package metrics provides Prometheus metrics for reclaim.
//
// Three groups of metrics are exported:
//   - cleanup runs: deletions by kind and result, run duration, candidate
//     counts, in-flight pool tasks, lock waits and lock timeouts
//   - metadata store operations: latency and count by operation and status
//   - blobstore operations: latency, count and bytes transferred
//
// Each group has a constructor that registers with the default registry and
// a WithRegistry variant for tests. The recorder methods satisfy the small
// MetricsRecorder interfaces declared by the gc, lock, pool, metadata and
// objectstore packages, so those packages never import this one.
//
// Usage:
//
//	cleanup := metrics.NewCleanupMetrics()
//	meta := metadata.NewInstrumentedStore(store, metrics.NewMetadataMetrics())
//	locks := lock.NewProvider(lock.DefaultConfig(), leases, cleanup, logger)
//	orch, _ := gc.NewOrchestrator(cfg, gc.Deps{..., Metrics: cleanup})
package metrics

// namespace prefixes every metric name.
const namespace = "reclaim"

// StatusSuccess is the status label value for successful operations.
const StatusSuccess = "success"

// StatusFailure is the status label value for failed operations.
const StatusFailure = "failure"

func status(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}
