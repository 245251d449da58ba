package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/types/common"
)

// healthCheck probes one dependency for /readyz.
type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

type readiness struct {
	Status     common.HealthStatus      `json:"status"`
	Components []common.ComponentHealth `json:"components"`
}

// healthServer serves /healthz, /readyz and, when metrics is non-nil,
// /metrics.
type healthServer struct {
	checks  []healthCheck
	ready   atomic.Bool
	timeout time.Duration
	logger  logging.Logger
	srv     *http.Server
}

func newHealthServer(addr string, checks []healthCheck, metrics http.Handler, logger logging.Logger) *healthServer {
	h := &healthServer{checks: checks, timeout: 2 * time.Second, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", h.handleReady)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	h.srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return h
}

// SetReady flips /readyz once the consumers are running.
func (h *healthServer) SetReady(ready bool) { h.ready.Store(ready) }

func (h *healthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	out := readiness{Status: common.HealthStatusUp}
	if !h.ready.Load() {
		out.Status = common.HealthStatusDown
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	for _, c := range h.checks {
		start := time.Now()
		comp := common.ComponentHealth{Name: c.name, Status: common.HealthStatusUp}
		if err := c.check(ctx); err != nil {
			comp.Status = common.HealthStatusDown
			comp.Message = err.Error()
			out.Status = common.HealthStatusDown
		}
		comp.Latency = time.Since(start)
		comp.CheckedAt = time.Now().UTC()
		out.Components = append(out.Components, comp)
	}

	code := http.StatusOK
	if out.Status != common.HealthStatusUp {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(out)
}

func (h *healthServer) Start() {
	go func() {
		h.logger.Info("health server listening", logging.String("addr", h.srv.Addr))
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("health server error", logging.Err(err))
		}
	}()
}

func (h *healthServer) Shutdown(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}
