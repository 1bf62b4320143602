// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pqkeys.
//
// go-pqkeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"github.com/jeremyhahn/go-pqkeys/pkg/health"
	"github.com/jeremyhahn/go-pqkeys/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse is the body of the probe endpoints.
type HealthResponse struct {
	Status  health.Status        `json:"status"`
	Message string               `json:"message,omitempty"`
	Checks  []health.CheckResult `json:"checks,omitempty"`
}

// Handler returns the operational HTTP surface. Key material is never
// served; only metadata, statistics, events and probes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.HTTPMiddleware)

	r.Get("/healthz", s.handleLive)
	r.Get("/readyz", s.handleReady)
	r.Get("/startupz", s.handleStartup)
	if s.config.Metrics.Enabled {
		r.Handle(s.config.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(ratelimit.Middleware(s.limiter, func(w http.ResponseWriter, _ *http.Request, err error) {
				s.reporter.Report(err, "http")
				s.writeError(w, err)
			}))
		}
		r.Get("/stats", s.handleStats)
		r.Get("/events", s.handleEvents)
		r.Get("/keys", s.handleListKeys)
		r.Get("/keys/{id}", s.handleGetKey)
		r.Get("/users/{user}/keys", s.handleUserKeys)
		r.Post("/sweep", s.handleSweep)
	})
	return r
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	result := s.health.Live(r.Context())
	writeJSON(w, HealthResponse{Status: result.Status, Message: result.Message}, probeCode(result.Status))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	results := s.health.Ready(r.Context())
	status := health.AggregateStatus(results)
	writeJSON(w, HealthResponse{Status: status, Checks: results}, probeCode(status))
}

func (s *Server) handleStartup(w http.ResponseWriter, r *http.Request) {
	result := s.health.Startup(r.Context())
	writeJSON(w, HealthResponse{Status: result.Status, Message: result.Message}, probeCode(result.Status))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.manager.Statistics(), http.StatusOK)
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.events.Events(), http.StatusOK)
}

func (s *Server) handleListKeys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.manager.AllKeys(), http.StatusOK)
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	meta, err := s.manager.GetKey(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, meta, http.StatusOK)
}

func (s *Server) handleUserKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.manager.UserKeys(chi.URLParam(r, "user")), http.StatusOK)
}

func (s *Server) handleSweep(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.Sweep(), http.StatusOK)
}

func probeCode(status health.Status) int {
	if status == health.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// statusCode maps a crypto error kind to an HTTP status code.
func statusCode(err error) int {
	switch {
	case errors.Is(err, cryptoerr.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, cryptoerr.ErrRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, cryptoerr.ErrInvalidKeyState),
		errors.Is(err, cryptoerr.ErrKeyRevoked),
		errors.Is(err, cryptoerr.ErrKeyExpired):
		return http.StatusConflict
	case errors.Is(err, cryptoerr.ErrUnsupportedAlgorithm),
		errors.Is(err, cryptoerr.ErrInvalidKeyFormat):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, ErrorResponse{Error: err.Error(), Code: cryptoerr.As(err).Code()}, statusCode(err))
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", slog.Any("error", err))
	}
}
