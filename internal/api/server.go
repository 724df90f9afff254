// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

// Package api is the operational HTTP surface: liveness, readiness and
// Prometheus metrics. Devices never talk to it; the fleet's only channel
// is MQTT. It exists for probes and scrapers.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/arborlink/internal/config"
	"github.com/tomtom215/arborlink/internal/logging"
	"github.com/tomtom215/arborlink/internal/metrics"
)

const defaultTimeout = 30 * time.Second

// Check probes one dependency for the readiness endpoint.
type Check func(ctx context.Context) error

// Server serves the operational endpoints.
type Server struct {
	cfg       config.ServerConfig
	checks    map[string]Check
	startTime time.Time
}

// New builds the server. Checks are named probes run by /readyz; a nil or
// empty map makes readiness equal liveness.
func New(cfg config.ServerConfig, checks map[string]Check) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Server{
		cfg:       cfg,
		checks:    checks,
		startTime: time.Now(),
	}
}

// Routes assembles the router. Split from Serve so tests can drive the
// handler without a listener.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// Serve listens until the context is canceled, then drains in-flight
// requests within the configured timeout.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.Timeout,
		WriteTimeout: s.cfg.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("Operational HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *Server) String() string {
	return "http-server"
}

type healthResponse struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime_seconds"`
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]string, len(s.checks))
	ready := true

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.checks[name](r.Context()); err != nil {
			results[name] = err.Error()
			ready = false
			continue
		}
		results[name] = "ok"
	}

	if !ready {
		respondJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "degraded", Checks: results})
		return
	}
	respondJSON(w, http.StatusOK, readyResponse{Status: "ready", Checks: results})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Response encoding failed")
	}
}

// instrument records request metrics and logs completions.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.TrackActiveRequest(true)
		defer metrics.TrackActiveRequest(false)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		metrics.RecordAPIRequest(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start))
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}
