package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dray-io/reclaim/internal/gc"
	"github.com/dray-io/reclaim/internal/lock"
)

var (
	_ gc.MetricsRecorder   = (*CleanupMetrics)(nil)
	_ lock.MetricsRecorder = (*CleanupMetrics)(nil)
)

func TestCleanupMetrics_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCleanupMetricsWithRegistry(reg)

	m.RecordDeletion("release", gc.ResultDeleted)
	m.RecordRun(1.5, true)
	m.RecordCandidates("release", 3)
	m.SetInFlight(2)
	m.RecordLockWait(0.01, true)
	m.RecordLockTimeout()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expectedMetrics := map[string]bool{
		"reclaim_gc_deletions_total":      false,
		"reclaim_gc_run_duration_seconds": false,
		"reclaim_gc_candidates":           false,
		"reclaim_gc_pool_inflight":        false,
		"reclaim_gc_lock_wait_seconds":    false,
		"reclaim_gc_lock_timeouts_total":  false,
	}
	for _, mf := range mfs {
		if _, ok := expectedMetrics[mf.GetName()]; ok {
			expectedMetrics[mf.GetName()] = true
		}
	}
	for name, found := range expectedMetrics {
		if !found {
			t.Errorf("expected metric %s not found", name)
		}
	}
}

func TestCleanupMetrics_RecordDeletion(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCleanupMetricsWithRegistry(reg)

	m.RecordDeletion("release", gc.ResultDeleted)
	m.RecordDeletion("release", gc.ResultDeleted)
	m.RecordDeletion("stemcell", gc.ResultNotFound)
	m.RecordDeletion("disk", gc.ResultFailed)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	mf := findMetricFamily(mfs, "reclaim_gc_deletions_total")
	if mf == nil {
		t.Fatal("reclaim_gc_deletions_total not found")
	}

	tests := []struct {
		kind, result string
		want         float64
	}{
		{"release", gc.ResultDeleted, 2},
		{"stemcell", gc.ResultNotFound, 1},
		{"disk", gc.ResultFailed, 1},
		{"release", gc.ResultFailed, 0},
	}
	for _, tt := range tests {
		got := getCounterValue(mf, map[string]string{"kind": tt.kind, "result": tt.result})
		if got != tt.want {
			t.Errorf("deletions{kind=%s,result=%s} = %v, want %v", tt.kind, tt.result, got, tt.want)
		}
	}
}

func TestCleanupMetrics_Gauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCleanupMetricsWithRegistry(reg)

	m.SetInFlight(5)
	m.SetInFlight(3)
	m.RecordCandidates("stemcell", 7)
	m.RecordCandidates("stemcell", 4)

	if v := getGaugeValue(t, reg, "reclaim_gc_pool_inflight"); v != 3 {
		t.Errorf("expected in-flight 3, got %v", v)
	}
	if v := getGaugeValue(t, reg, "reclaim_gc_candidates"); v != 4 {
		t.Errorf("expected candidates 4 after overwrite, got %v", v)
	}
}

func TestCleanupMetrics_RunAndLockOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCleanupMetricsWithRegistry(reg)

	m.RecordRun(2, true)
	m.RecordRun(3, false)
	m.RecordRun(4, false)
	m.RecordLockWait(0.5, true)
	m.RecordLockWait(10, false)
	m.RecordLockTimeout()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	runs := findMetricFamily(mfs, "reclaim_gc_run_duration_seconds")
	if got := getHistogramCount(runs, map[string]string{"outcome": StatusSuccess}); got != 1 {
		t.Errorf("expected 1 successful run, got %d", got)
	}
	if got := getHistogramCount(runs, map[string]string{"outcome": StatusFailure}); got != 2 {
		t.Errorf("expected 2 failed runs, got %d", got)
	}

	waits := findMetricFamily(mfs, "reclaim_gc_lock_wait_seconds")
	if got := getHistogramCount(waits, map[string]string{"outcome": LockAcquired}); got != 1 {
		t.Errorf("expected 1 acquired wait, got %d", got)
	}
	if got := getHistogramCount(waits, map[string]string{"outcome": LockTimedOut}); got != 1 {
		t.Errorf("expected 1 timed out wait, got %d", got)
	}

	timeouts := findMetricFamily(mfs, "reclaim_gc_lock_timeouts_total")
	if got := getCounterValue(timeouts, map[string]string{}); got != 1 {
		t.Errorf("expected 1 lock timeout, got %v", got)
	}
}

// getGaugeValue extracts the value of the first series of a gauge from the registry.
func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, family := range families {
		if family.GetName() == name {
			metrics := family.GetMetric()
			if len(metrics) > 0 {
				return metrics[0].GetGauge().GetValue()
			}
		}
	}

	t.Fatalf("metric %s not found", name)
	return 0
}
