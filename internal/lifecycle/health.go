package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Proton-105/reflect-bot/internal/health"
)

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// ErrNotReady is returned by Readiness when a component check fails.
var ErrNotReady = errors.New("not ready")

// Probes answers liveness from the process itself and readiness from component checks.
type Probes struct {
	checker *health.Checker
	timeout time.Duration
	log     *slog.Logger
}

// NewProbes creates a new Probes instance. A nil checker makes readiness always pass.
func NewProbes(checker *health.Checker, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{checker: checker, timeout: 3 * time.Second, log: log}
}

// Liveness reports success while the process serves requests.
func (p *Probes) Liveness(ctx context.Context) error {
	p.log.Debug("liveness probe called")
	return nil
}

// Readiness fails when any component check fails.
func (p *Probes) Readiness(ctx context.Context) error {
	if health.Healthy(p.results(ctx)) {
		return nil
	}
	return ErrNotReady
}

func (p *Probes) results(ctx context.Context) map[string]string {
	if p.checker == nil {
		return map[string]string{}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.checker.Check(ctx)
}

// LivenessHandler serves /healthz.
func (p *Probes) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = p.Liveness(r.Context())
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	})
}

// ReadinessHandler serves /readyz with per-component results.
func (p *Probes) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results := p.results(r.Context())

		status, code := "ok", http.StatusOK
		if !health.Healthy(results) {
			status, code = "unavailable", http.StatusServiceUnavailable
		}

		writeJSON(w, code, map[string]interface{}{
			"status":     status,
			"components": results,
		})
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
