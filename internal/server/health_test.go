package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dray-io/reclaim/internal/logging"
	"github.com/dray-io/reclaim/internal/metadata"
	"github.com/dray-io/reclaim/internal/objectstore"
)

func get(t *testing.T, h *HealthServer, method, path string) (*httptest.ResponseRecorder, HealthStatus) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.Handler().ServeHTTP(w, req)

	var status HealthStatus
	if method == http.MethodGet && w.Code != http.StatusMethodNotAllowed {
		if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return w, status
}

func TestHealthz_OK(t *testing.T) {
	h := NewHealthServer(":0", logging.Discard())

	w, status := get(t, h, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if status.Status != StatusOK {
		t.Errorf("expected status %q, got %q", StatusOK, status.Status)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
}

func TestHealthz_ShuttingDown(t *testing.T) {
	h := NewHealthServer(":0", logging.Discard())
	h.SetShuttingDown()

	for _, path := range []string{"/healthz", "/readyz"} {
		w, status := get(t, h, http.MethodGet, path)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusServiceUnavailable, w.Code)
		}
		if status.Status != StatusShuttingDown {
			t.Errorf("%s: expected status %q, got %q", path, StatusShuttingDown, status.Status)
		}
		if check, ok := status.Checks["shutdown"]; !ok || check.Healthy {
			t.Errorf("%s: expected shutdown check to be unhealthy", path)
		}
	}
}

func TestHealthz_Workers(t *testing.T) {
	h := NewHealthServer(":0", logging.Discard())
	h.WorkerStarted("scheduler")
	h.WorkerStarted("kafka-dispatcher")

	w, status := get(t, h, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !status.Workers["scheduler"] || !status.Workers["kafka-dispatcher"] {
		t.Errorf("expected both workers running, got %v", status.Workers)
	}

	h.WorkerStopped("kafka-dispatcher")
	h.WorkerStopped("never-registered")

	w, status = get(t, h, http.MethodGet, "/healthz")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	if status.Status != StatusDegraded {
		t.Errorf("expected status %q, got %q", StatusDegraded, status.Status)
	}
	if _, ok := status.Workers["never-registered"]; ok {
		t.Error("stopping an unknown worker should not register it")
	}
	if msg := status.Checks["workers"].Message; !strings.Contains(msg, "kafka-dispatcher") {
		t.Errorf("expected stopped worker in message, got %q", msg)
	}
}

func TestHealthz_MethodNotAllowed(t *testing.T) {
	h := NewHealthServer(":0", logging.Discard())

	w, _ := get(t, h, http.MethodPost, "/healthz")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}

func TestHealthz_HeadHasNoBody(t *testing.T) {
	h := NewHealthServer(":0", logging.Discard())

	w, _ := get(t, h, http.MethodHead, "/healthz")
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", w.Body.String())
	}
}

func TestReadyz_ChecksDependencies(t *testing.T) {
	meta := metadata.NewMockStore()
	blobs := objectstore.NewMockStore()

	h := NewHealthServer(":0", logging.Discard())
	h.AddReadinessCheck(NewMetadataStoreChecker(meta))
	h.AddReadinessCheck(NewObjectStoreChecker(blobs))

	w, status := get(t, h, http.MethodGet, "/readyz")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %+v", http.StatusOK, w.Code, status)
	}
	for _, name := range []string{"metadata_store", "blobstore"} {
		if !status.Checks[name].Healthy {
			t.Errorf("expected %s healthy, got %+v", name, status.Checks[name])
		}
	}

	blobs.Close()

	w, status = get(t, h, http.MethodGet, "/readyz")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	if status.Status != StatusNotReady {
		t.Errorf("expected status %q, got %q", StatusNotReady, status.Status)
	}
	if status.Checks["blobstore"].Healthy {
		t.Error("expected blobstore unhealthy after close")
	}
	if !status.Checks["metadata_store"].Healthy {
		t.Error("expected metadata store still healthy")
	}
}

func TestReadyz_MetadataStoreClosed(t *testing.T) {
	meta := metadata.NewMockStore()
	meta.Close()

	err := NewMetadataStoreChecker(meta).CheckReady(context.Background())
	if !errors.Is(err, metadata.ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}

func TestReadyz_NotConfigured(t *testing.T) {
	if err := NewMetadataStoreChecker(nil).CheckReady(context.Background()); err == nil {
		t.Error("expected error for nil metadata store")
	}
	if err := NewObjectStoreChecker(nil).CheckReady(context.Background()); err == nil {
		t.Error("expected error for nil blobstore")
	}
}

func TestReadyz_TimeoutApplied(t *testing.T) {
	h := NewHealthServer(":0", logging.Discard())
	h.SetReadinessTimeout(20 * time.Millisecond)
	h.AddReadinessCheck(NewFuncChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	status := h.CheckReadiness(context.Background())
	if time.Since(start) > time.Second {
		t.Errorf("readiness check was not bounded by the timeout")
	}
	if status.Checks["slow"].Healthy {
		t.Error("expected slow check to fail")
	}
}

func TestFuncChecker_NilFunc(t *testing.T) {
	if err := NewFuncChecker("noop", nil).CheckReady(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestHealthServer_StartServesExtraHandlers(t *testing.T) {
	h := NewHealthServer("127.0.0.1:0", logging.Discard())
	h.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "reclaim_gc_pool_inflight 0\n")
	}))
	if err := h.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Shutdown(context.Background())

	resp, err := http.Get("http://" + h.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "reclaim_gc_pool_inflight") {
		t.Errorf("unexpected /metrics body %q", body)
	}

	resp, err = http.Get("http://" + h.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
}

func TestHealthServer_ShutdownBeforeStart(t *testing.T) {
	h := NewHealthServer(":0", logging.Discard())
	if err := h.Shutdown(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
