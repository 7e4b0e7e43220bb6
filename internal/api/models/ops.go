package models

import "time"

// HealthStatus represents the health status of a service.
type HealthStatus string

// Health states.
const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)

// Health is the liveness response.
type Health struct {
	Status  HealthStatus   `json:"status"`
	Time    time.Time      `json:"time"`
	Details map[string]any `json:"details,omitempty"`
}

// Readiness is the readiness response.
type Readiness struct {
	Status       HealthStatus       `json:"status"`
	Time         time.Time          `json:"time"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// DependencyStatus reports one upstream or store.
type DependencyStatus struct {
	Name          string       `json:"name"`
	Status        HealthStatus `json:"status"`
	Circuit       string       `json:"circuit,omitempty"`
	LastSuccessAt *time.Time   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *time.Time   `json:"lastFailureAt,omitempty"`
	Message       string       `json:"message,omitempty"`
}
