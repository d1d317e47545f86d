// SPDX-License-Identifier: MIT

// Package health provides liveness and readiness checks for both services.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/hgraven/wavegate/internal/log"
	"github.com/hgraven/wavegate/internal/web"
)

// Status represents the overall health/readiness status.
type Status string

const (
	StatusHealthy   Status = "ok"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component health check.
type CheckResult struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Checker is a named component health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a function into a Checker.
type CheckerFunc struct {
	CheckerName string
	Fn          func(ctx context.Context) error
}

func (c CheckerFunc) Name() string { return c.CheckerName }

func (c CheckerFunc) Check(ctx context.Context) CheckResult {
	if err := c.Fn(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// Manager aggregates checkers and serves probe endpoints.
type Manager struct {
	checkers []Checker
}

// NewManager creates an empty health check manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a checker.
func (m *Manager) Register(c Checker) {
	m.checkers = append(m.checkers, c)
}

// ServeHealth is the liveness probe: 200 whenever the process is up.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	web.WriteJSON(w, http.StatusOK, map[string]string{"status": string(StatusHealthy)})
}

// ServeReady is the readiness probe: 200 only when all checkers pass.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]CheckResult, len(m.checkers))
	status := StatusHealthy
	for _, c := range m.checkers {
		res := c.Check(ctx)
		checks[c.Name()] = res
		if res.Status == StatusUnhealthy {
			status = StatusUnhealthy
		}
	}

	code := http.StatusOK
	if status != StatusHealthy {
		code = http.StatusServiceUnavailable
		logger := log.FromContext(r.Context())
		logger.Warn().
			Str("event", "health.not_ready").
			Interface("checks", checks).
			Msg("readiness check failed")
	}
	web.WriteJSON(w, code, map[string]any{"status": status, "checks": checks})
}
