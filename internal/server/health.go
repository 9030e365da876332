package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	healthOK            = "ok"
	healthNotReady      = "not ready"
	healthNotConfigured = "not configured"
	healthShuttingDown  = "shutting down"
)

// HealthResponse is the JSON body served by the health endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthChecker serves liveness and readiness probes. Liveness only
// confirms the process is up; readiness also requires that at least one
// backend (mail or calendar) has credentials and that shutdown has not
// begun.
type HealthChecker struct {
	sc      *ServerContext
	started time.Time
	ready   atomic.Bool
}

// NewHealthChecker returns a checker that reports ready until SetReady
// or server shutdown says otherwise.
func NewHealthChecker(sc *ServerContext) *HealthChecker {
	h := &HealthChecker{sc: sc, started: time.Now()}
	h.ready.Store(true)
	return h
}

// SetReady flips the readiness state, e.g. during drain before shutdown.
func (h *HealthChecker) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports the current readiness state.
func (h *HealthChecker) IsReady() bool { return h.ready.Load() }

// RegisterHealthEndpoints mounts the probe endpoints on mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}

func (h *HealthChecker) shuttingDown() bool {
	return h.sc != nil && h.sc.IsShutdown()
}

func writeHealth(w http.ResponseWriter, code int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// LivenessHandler answers /healthz. It always reports ok while the
// process can serve HTTP at all.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, HealthResponse{Status: healthOK})
	})
}

// ReadinessHandler answers /readyz with per-check detail. A backend
// without credentials shows as "not configured"; that alone does not
// fail readiness unless both backends are missing.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		checks := map[string]string{
			"ready":    healthOK,
			"shutdown": healthOK,
		}
		ok := true

		if !h.ready.Load() {
			checks["ready"] = healthNotReady
			ok = false
		}
		if h.shuttingDown() {
			checks["shutdown"] = healthShuttingDown
			ok = false
		}
		if h.sc != nil {
			mail := h.sc.MailConfigured()
			cal := h.sc.CalendarConfigured()
			checks["mail"] = configuredStatus(mail)
			checks["calendar"] = configuredStatus(cal)
			if !mail && !cal {
				ok = false
			}
		}

		resp := HealthResponse{Status: healthOK, Checks: checks}
		code := http.StatusOK
		if !ok {
			resp.Status = healthNotReady
			code = http.StatusServiceUnavailable
		}
		writeHealth(w, code, resp)
	})
}

// DetailedHealthHandler answers /healthz/detailed with uptime included.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status: healthOK,
			Uptime: time.Since(h.started).Truncate(time.Second).String(),
		}
		code := http.StatusOK
		switch {
		case h.shuttingDown():
			resp.Status = healthShuttingDown
			code = http.StatusServiceUnavailable
		case !h.ready.Load():
			resp.Status = healthNotReady
			code = http.StatusServiceUnavailable
		}
		writeHealth(w, code, resp)
	})
}

func configuredStatus(ok bool) string {
	if ok {
		return healthOK
	}
	return healthNotConfigured
}
