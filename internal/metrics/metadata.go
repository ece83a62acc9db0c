package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetadataMetrics holds metrics related to metadata store operations.
type MetadataMetrics struct {
	// LatencyHistogram tracks operation latencies broken down by operation type and status.
	// Labels: operation (get, put, delete, list, put_ephemeral), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total operations by operation type and status.
	RequestsTotal *prometheus.CounterVec
}

// Metadata operation label values.
const (
	OpGet          = "get"
	OpPut          = "put"
	OpDelete       = "delete"
	OpList         = "list"
	OpPutEphemeral = "put_ephemeral"
)

// DefaultMetadataLatencyBuckets are latency buckets for metadata operations,
// which are typically sub-millisecond to tens of milliseconds.
var DefaultMetadataLatencyBuckets = []float64{
	0.0001, // 0.1ms
	0.0005, // 0.5ms
	0.001,  // 1ms
	0.002,  // 2ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	2.5,    // 2.5s
	5.0,    // 5s
}

// NewMetadataMetrics creates and registers metadata metrics with the default registry.
func NewMetadataMetrics() *MetadataMetrics {
	return newMetadataMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewMetadataMetricsWithRegistry creates metadata metrics registered with reg.
func NewMetadataMetricsWithRegistry(reg prometheus.Registerer) *MetadataMetrics {
	return newMetadataMetrics(promauto.With(reg))
}

func newMetadataMetrics(f promauto.Factory) *MetadataMetrics {
	return &MetadataMetrics{
		LatencyHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "metadata",
				Name:      "operation_latency_seconds",
				Help:      "Metadata store operation latency in seconds, broken down by operation type and status.",
				Buckets:   DefaultMetadataLatencyBuckets,
			},
			[]string{"operation", "status"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "metadata",
				Name:      "operations_total",
				Help:      "Total number of metadata store operations, broken down by operation type and status.",
			},
			[]string{"operation", "status"},
		),
	}
}

// RecordOperation records a metadata operation with its latency and outcome.
func (m *MetadataMetrics) RecordOperation(operation string, durationSeconds float64, success bool) {
	s := status(success)
	m.LatencyHistogram.WithLabelValues(operation, s).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(operation, s).Inc()
}

func (m *MetadataMetrics) RecordGet(durationSeconds float64, success bool) {
	m.RecordOperation(OpGet, durationSeconds, success)
}

func (m *MetadataMetrics) RecordPut(durationSeconds float64, success bool) {
	m.RecordOperation(OpPut, durationSeconds, success)
}

func (m *MetadataMetrics) RecordDelete(durationSeconds float64, success bool) {
	m.RecordOperation(OpDelete, durationSeconds, success)
}

func (m *MetadataMetrics) RecordList(durationSeconds float64, success bool) {
	m.RecordOperation(OpList, durationSeconds, success)
}

func (m *MetadataMetrics) RecordPutEphemeral(durationSeconds float64, success bool) {
	m.RecordOperation(OpPutEphemeral, durationSeconds, success)
}
