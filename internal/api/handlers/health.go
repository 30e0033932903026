package handlers

import (
	"context"
	"net/http"

	"github.com/drfirst/visitdesk/pkg/circuitbreaker"
)

// Pinger checks a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness checks
type HealthHandler struct {
	service  string
	db       Pinger
	breakers *circuitbreaker.Manager
	checks   map[string]func(ctx context.Context) error
}

// NewHealthHandler creates a new handler; db and breakers may be nil
func NewHealthHandler(service string, db Pinger, breakers *circuitbreaker.Manager) *HealthHandler {
	return &HealthHandler{service: service, db: db, breakers: breakers, checks: map[string]func(context.Context) error{}}
}

// AddCheck registers an extra readiness check reported under name
func (h *HealthHandler) AddCheck(name string, fn func(ctx context.Context) error) {
	h.checks[name] = fn
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": h.service})
}

// ReadyResponse is the body of GET /ready
type ReadyResponse struct {
	Status   string                        `json:"status"`
	Database string                        `json:"database,omitempty"`
	Breakers []circuitbreaker.HealthStatus `json:"breakers"`
	Checks   map[string]string             `json:"checks,omitempty"`
}

// Ready handles GET /ready: the database answers, no breaker is open and every
// registered check passes
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ready", Breakers: []circuitbreaker.HealthStatus{}}

	if h.db != nil {
		resp.Database = "ok"
		if err := h.db.Ping(r.Context()); err != nil {
			resp.Status, resp.Database = "not ready", err.Error()
		}
	}
	if h.breakers != nil {
		resp.Breakers = h.breakers.GetHealthStatus()
		for _, b := range resp.Breakers {
			if !b.Healthy {
				resp.Status = "not ready"
			}
		}
	}

	for name, check := range h.checks {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(h.checks))
		}
		resp.Checks[name] = "ok"
		if err := check(r.Context()); err != nil {
			resp.Status, resp.Checks[name] = "not ready", err.Error()
		}
	}

	code := http.StatusOK
	if resp.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
