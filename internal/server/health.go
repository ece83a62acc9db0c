// Package server serves reclaimd's operational HTTP endpoints: /healthz for
// liveness, /readyz for readiness of the metadata store and blobstore, and
// any extra handlers mounted by the daemon such as /metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dray-io/reclaim/internal/logging"
)

// ReadinessChecker is implemented by dependencies that take part in /readyz.
type ReadinessChecker interface {
	Name() string

	// CheckReady returns nil if the dependency is usable.
	CheckReady(ctx context.Context) error
}

// Status values reported in HealthStatus.Status.
const (
	StatusOK           = "ok"
	StatusDegraded     = "degraded"
	StatusNotReady     = "not_ready"
	StatusShuttingDown = "shutting_down"
)

// HealthStatus is the JSON body of /healthz and /readyz.
type HealthStatus struct {
	Status  string                 `json:"status"`
	Workers map[string]bool        `json:"workers,omitempty"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// DefaultReadinessTimeout bounds each readiness check.
const DefaultReadinessTimeout = 5 * time.Second

// HealthServer serves health endpoints.
type HealthServer struct {
	mu               sync.RWMutex
	addr             string
	boundAddr        string
	server           *http.Server
	logger           *logging.Logger
	shutDown         atomic.Bool
	workers          map[string]bool
	readinessChecks  []ReadinessChecker
	readinessTimeout time.Duration
	handlers         map[string]http.Handler
}

// NewHealthServer creates a HealthServer listening on addr once started.
func NewHealthServer(addr string, logger *logging.Logger) *HealthServer {
	if logger == nil {
		logger = logging.Global()
	}
	return &HealthServer{
		addr:             addr,
		logger:           logger.Named("server"),
		workers:          make(map[string]bool),
		readinessTimeout: DefaultReadinessTimeout,
		handlers:         make(map[string]http.Handler),
	}
}

// Handle mounts an extra handler. Call before Start.
func (h *HealthServer) Handle(pattern string, handler http.Handler) {
	if pattern == "" || handler == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[pattern] = handler
}

// AddReadinessCheck registers a dependency checked on every /readyz request.
func (h *HealthServer) AddReadinessCheck(c ReadinessChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessChecks = append(h.readinessChecks, c)
}

// SetReadinessTimeout sets the per-check timeout.
func (h *HealthServer) SetReadinessTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessTimeout = d
}

// WorkerStarted marks a background worker, such as the scheduler or the
// Kafka dispatcher, as running.
func (h *HealthServer) WorkerStarted(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers[name] = true
}

// WorkerStopped marks a worker as no longer running. /healthz reports
// degraded until the process shuts down.
func (h *HealthServer) WorkerStopped(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.workers[name]; ok {
		h.workers[name] = false
	}
}

// SetShuttingDown makes both endpoints return 503.
func (h *HealthServer) SetShuttingDown() {
	h.shutDown.Store(true)
}

// Handler returns the server's mux.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for pattern, handler := range h.handlers {
		mux.Handle(pattern, handler)
	}
	return mux
}

// Start listens and serves in the background.
func (h *HealthServer) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	h.mu.Lock()
	h.server = srv
	h.boundAddr = ln.Addr().String()
	h.mu.Unlock()

	h.logger.Infof("health server listening", map[string]any{"addr": ln.Addr().String()})

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Errorf("health server error", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (h *HealthServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.boundAddr != "" {
		return h.boundAddr
	}
	return h.addr
}

// Shutdown stops the server, waiting for active requests until ctx ends.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	srv := h.server
	h.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (h *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.serveStatus(w, r, func(context.Context) HealthStatus { return h.CheckHealth() })
}

func (h *HealthServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	h.serveStatus(w, r, h.CheckReadiness)
}

func (h *HealthServer) serveStatus(w http.ResponseWriter, r *http.Request, check func(context.Context) HealthStatus) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Status != StatusOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(status)
	}
}

// CheckHealth reports liveness: the process is not shutting down and every
// registered worker is running.
func (h *HealthServer) CheckHealth() HealthStatus {
	if h.shutDown.Load() {
		return shuttingDown()
	}

	status := HealthStatus{
		Status:  StatusOK,
		Workers: make(map[string]bool),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var stopped []string
	for name, running := range h.workers {
		status.Workers[name] = running
		if !running {
			stopped = append(stopped, name)
		}
	}
	if len(stopped) > 0 {
		sort.Strings(stopped)
		status.Status = StatusDegraded
		status.Checks = map[string]CheckResult{
			"workers": {Healthy: false, Message: "stopped: " + strings.Join(stopped, ", ")},
		}
	}
	return status
}

// CheckReadiness runs every readiness check, each bounded by the readiness
// timeout.
func (h *HealthServer) CheckReadiness(ctx context.Context) HealthStatus {
	if h.shutDown.Load() {
		return shuttingDown()
	}

	h.mu.RLock()
	checks := append([]ReadinessChecker(nil), h.readinessChecks...)
	timeout := h.readinessTimeout
	h.mu.RUnlock()

	status := HealthStatus{
		Status: StatusOK,
		Checks: make(map[string]CheckResult, len(checks)),
	}
	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := c.CheckReady(checkCtx)
		cancel()

		if err != nil {
			status.Status = StatusNotReady
			status.Checks[c.Name()] = CheckResult{Healthy: false, Message: err.Error()}
			continue
		}
		status.Checks[c.Name()] = CheckResult{Healthy: true, Message: "healthy"}
	}
	return status
}

func shuttingDown() HealthStatus {
	return HealthStatus{
		Status: StatusShuttingDown,
		Checks: map[string]CheckResult{
			"shutdown": {Healthy: false, Message: "reclaimd is shutting down"},
		},
	}
}
