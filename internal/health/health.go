// SPDX-License-Identifier: MIT

// Package health provides liveness and readiness probes with per-component
// status, suitable for Docker HEALTHCHECK and Kubernetes probes.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/larderhq/larder/internal/log"
)

// Status is a component or overall probe status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse reports whether a is a more severe status than b.
func worse(a, b Status) bool {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	return rank[a] > rank[b]
}

// CheckResult is one component's verdict.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Check probes a single component.
type Check func(ctx context.Context) CheckResult

// Report is the liveness probe body.
type Report struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadyReport is the readiness probe body.
type ReadyReport struct {
	Ready bool `json:"ready"`
	Report
}

type namedCheck struct {
	name  string
	check Check
}

// Manager runs registered checks and serves the probe endpoints.
type Manager struct {
	version string
	checks  []namedCheck
}

func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// Register adds a named component check. Not safe for concurrent use;
// register everything during wiring, before the server starts.
func (m *Manager) Register(name string, check Check) {
	m.checks = append(m.checks, namedCheck{name: name, check: check})
}

// Health is the liveness probe: the process is alive, so the status is
// healthy unless verbose component checks say otherwise. Liveness never
// gates on dependencies; a dead Redis must not get the process restarted.
func (m *Manager) Health(ctx context.Context, verbose bool) Report {
	report := Report{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}
	if verbose && len(m.checks) > 0 {
		report.Checks, report.Status = m.run(ctx)
	}
	return report
}

// Ready is the readiness probe: unhealthy components make the process
// unready, degraded ones keep it serving.
func (m *Manager) Ready(ctx context.Context) ReadyReport {
	report := ReadyReport{
		Ready:  true,
		Report: Report{Status: StatusHealthy, Timestamp: time.Now()},
	}
	if len(m.checks) == 0 {
		return report
	}
	report.Checks, report.Status = m.run(ctx)
	report.Ready = report.Status != StatusUnhealthy
	return report
}

func (m *Manager) run(ctx context.Context) (map[string]CheckResult, Status) {
	results := make(map[string]CheckResult, len(m.checks))
	status := StatusHealthy
	for _, c := range m.checks {
		result := c.check(ctx)
		results[c.name] = result
		if worse(result.Status, status) {
			status = result.Status
		}
	}
	return results, status
}

// ServeHealth handles the liveness endpoint. Always 200; pass ?verbose=true
// to include component checks in the body.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	report := m.Health(r.Context(), r.URL.Query().Get("verbose") == "true")
	writeProbe(w, r, http.StatusOK, report)
}

// ServeReady handles the readiness endpoint: 200 when ready, 503 otherwise.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	report := m.Ready(r.Context())
	code := http.StatusOK
	if !report.Ready {
		code = http.StatusServiceUnavailable
		log.WithComponentFromContext(r.Context(), "health").Warn().
			Str("event", "health.not_ready").
			Interface("checks", report.Checks).
			Msg("readiness probe failing")
	}
	writeProbe(w, r, code, report)
}

func writeProbe(w http.ResponseWriter, r *http.Request, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithComponentFromContext(r.Context(), "health").Error().
			Err(err).Str("event", "health.encode_error").Msg("probe response write failed")
	}
}

// PingCheck wraps a dependency ping, such as the Redis medium or the
// resource index. The ping is bounded so a hung dependency cannot stall
// the probe.
func PingCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy, Message: "ok"}
	}
}

// WritableDir verifies the directory exists and accepts writes.
func WritableDir(path string) Check {
	return func(context.Context) CheckResult {
		info, err := os.Stat(path)
		switch {
		case os.IsNotExist(err):
			return CheckResult{Status: StatusUnhealthy, Error: "directory not found", Message: path}
		case err != nil:
			return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
		case !info.IsDir():
			return CheckResult{Status: StatusUnhealthy, Error: "expected directory, got file", Message: path}
		}

		probe := filepath.Join(path, ".write_probe")
		if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
			return CheckResult{Status: StatusUnhealthy, Error: fmt.Sprintf("not writable: %v", err)}
		}
		_ = os.Remove(probe)

		return CheckResult{Status: StatusHealthy, Message: "writable"}
	}
}

// QueueCheck watches job queue saturation. A full queue rejects
// admissions, so it is unhealthy; a nearly full one is degraded.
func QueueCheck(stats func() (depth, capacity int)) Check {
	return func(context.Context) CheckResult {
		depth, capacity := stats()
		if capacity <= 0 {
			return CheckResult{Status: StatusUnhealthy, Error: "queue not running"}
		}
		msg := fmt.Sprintf("%d/%d", depth, capacity)
		switch {
		case depth >= capacity:
			return CheckResult{Status: StatusUnhealthy, Error: "queue full", Message: msg}
		case depth*10 >= capacity*8:
			return CheckResult{Status: StatusDegraded, Message: msg}
		default:
			return CheckResult{Status: StatusHealthy, Message: msg}
		}
	}
}
