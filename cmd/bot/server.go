package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Proton-105/reflect-bot/internal/health"
	"github.com/Proton-105/reflect-bot/internal/lifecycle"
	"github.com/Proton-105/reflect-bot/internal/middleware"
	"github.com/Proton-105/reflect-bot/pkg/config"
	"github.com/Proton-105/reflect-bot/pkg/graceful"
	"github.com/Proton-105/reflect-bot/pkg/logger"
)

// newHTTPServer serves probes and, when enabled, prometheus metrics.
func newHTTPServer(cfg *config.Config, checker *health.Checker, log *slog.Logger) *graceful.Server {
	probes := lifecycle.NewProbes(checker, log)

	mux := http.NewServeMux()
	mux.Handle("/healthz", probes.LivenessHandler())
	mux.Handle("/readyz", probes.ReadinessHandler())
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, promhttp.Handler())
	}

	handler := logger.Middleware(middleware.New(log)(mux))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return graceful.NewServer(log, srv, cfg.Server.ShutdownTimeout)
}
