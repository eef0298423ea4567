package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health status of the service or a dependency
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// Pinger is anything whose reachability can be checked
type Pinger interface {
	Ping(ctx context.Context) error
}

type dependency struct {
	name     string
	target   Pinger
	optional bool
}

// DependencyStatus is the outcome of pinging one dependency
type DependencyStatus struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Optional  bool         `json:"optional"`
	Error     string       `json:"error,omitempty"`
	LatencyMs int64        `json:"latency_ms"`
}

// HealthReport is the body served on the health endpoint
type HealthReport struct {
	Status       HealthStatus       `json:"status"`
	Service      string             `json:"service"`
	Version      string             `json:"version"`
	Timestamp    time.Time          `json:"timestamp"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// HealthManager pings the service's dependencies. A failed required
// dependency makes the service unhealthy; a failed optional one degrades it.
// Dependencies are registered before the manager is served.
type HealthManager struct {
	serviceName    string
	serviceVersion string
	timeout        time.Duration
	deps           []dependency
}

// NewHealthManager creates a health manager whose pings give up after timeout
func NewHealthManager(serviceName, serviceVersion string, timeout time.Duration) *HealthManager {
	return &HealthManager{
		serviceName:    serviceName,
		serviceVersion: serviceVersion,
		timeout:        timeout,
	}
}

// Require adds a dependency the service cannot run without
func (hm *HealthManager) Require(name string, target Pinger) {
	hm.deps = append(hm.deps, dependency{name: name, target: target})
}

// Optional adds a dependency whose outage only degrades the service
func (hm *HealthManager) Optional(name string, target Pinger) {
	hm.deps = append(hm.deps, dependency{name: name, target: target, optional: true})
}

// Check pings every dependency concurrently. Results keep registration order.
func (hm *HealthManager) Check(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:       HealthStatusHealthy,
		Service:      hm.serviceName,
		Version:      hm.serviceVersion,
		Timestamp:    time.Now(),
		Dependencies: make([]DependencyStatus, len(hm.deps)),
	}

	var wg sync.WaitGroup
	for i, dep := range hm.deps {
		wg.Add(1)
		go func(i int, dep dependency) {
			defer wg.Done()
			report.Dependencies[i] = hm.ping(ctx, dep)
		}(i, dep)
	}
	wg.Wait()

	for _, dep := range report.Dependencies {
		switch dep.Status {
		case HealthStatusUnhealthy:
			report.Status = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if report.Status == HealthStatusHealthy {
				report.Status = HealthStatusDegraded
			}
		}
	}
	return report
}

func (hm *HealthManager) ping(ctx context.Context, dep dependency) DependencyStatus {
	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	start := time.Now()
	err := dep.target.Ping(ctx)
	status := DependencyStatus{
		Name:      dep.name,
		Status:    HealthStatusHealthy,
		Optional:  dep.optional,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		status.Error = err.Error()
		status.Status = HealthStatusUnhealthy
		if dep.optional {
			status.Status = HealthStatusDegraded
		}
	}
	return status
}

// ServeHTTP writes the report. Degraded still answers 200.
func (hm *HealthManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := hm.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if report.Status == HealthStatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(report)
}
