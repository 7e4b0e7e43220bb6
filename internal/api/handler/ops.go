// Package handler provides HTTP handlers for the Cyclick API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/cyclick/cyclick/internal/api/models"
	"github.com/cyclick/cyclick/internal/api/response"
	"github.com/cyclick/cyclick/internal/provider/resilience"
)

// ReadinessCheck probes one dependency. A nil error means ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	upstreams *resilience.Registry
	checks    []ReadinessCheck
	timeout   time.Duration
}

// NewOpsHandler creates an OpsHandler. upstreams may be nil.
func NewOpsHandler(version, buildTime string, upstreams *resilience.Registry, checks ...ReadinessCheck) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		upstreams: upstreams,
		checks:    checks,
		timeout:   2 * time.Second,
	}
}

// HealthCheck handles GET /v1/ops/health.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   time.Now().UTC(),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. A failing store makes the
// service unready; an open upstream circuit only degrades it, since rides
// can still be tracked while the ledger is unreachable.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ready := models.Readiness{
		Status:       models.HealthStatusOK,
		Time:         time.Now().UTC(),
		Dependencies: []models.DependencyStatus{},
	}

	for _, c := range h.checks {
		dep := models.DependencyStatus{Name: c.Name, Status: models.HealthStatusOK}
		if err := c.Check(ctx); err != nil {
			dep.Status = models.HealthStatusFail
			dep.Message = err.Error()
			ready.Status = models.HealthStatusFail
		}
		ready.Dependencies = append(ready.Dependencies, dep)
	}

	if h.upstreams != nil {
		for _, u := range h.upstreams.Snapshot() {
			dep := models.DependencyStatus{
				Name:          u.Name,
				Status:        models.HealthStatusOK,
				Circuit:       u.State,
				LastSuccessAt: u.LastSuccessAt,
				LastFailureAt: u.LastFailureAt,
				Message:       u.LastError,
			}
			if !u.Healthy() {
				dep.Status = models.HealthStatusDegraded
				if ready.Status == models.HealthStatusOK {
					ready.Status = models.HealthStatusDegraded
				}
			}
			ready.Dependencies = append(ready.Dependencies, dep)
		}
	}

	status := http.StatusOK
	if ready.Status == models.HealthStatusFail {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, ready)
}
