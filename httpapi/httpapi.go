// Package httpapi wires the webhook and health/metrics surfaces of spec §6
// with github.com/go-chi/chi/v5 and github.com/go-chi/cors, the same router
// stack the teacher uses for its REST control plane
// (cmd/polybot/main.go's chi.NewRouter wiring).
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tradesignal/alertcore/apierr"
	"github.com/tradesignal/alertcore/ingestion"
	"github.com/tradesignal/alertcore/metrics"
)

// Accepter is the slice of ingestion.Pipeline the webhook route needs.
type Accepter interface {
	Accept(ctx context.Context, body []byte, signatureHeader, sourceIP string) (ingestion.Response, error)
}

// Server assembles the chi router for the webhook and ops endpoints.
type Server struct {
	router   chi.Router
	pipeline Accepter
}

// New builds a Server. shuttingDown is polled on every webhook request so
// in-flight shutdown returns 503 per spec §6 rather than racing the queue.
func New(pipeline Accepter, shuttingDown func() bool) *Server {
	s := &Server{pipeline: pipeline}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodGet},
	}))

	r.Post("/webhook", s.handleWebhook(shuttingDown))
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleWebhook(shuttingDown func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if shuttingDown != nil && shuttingDown() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "shutting down"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "failed to read body"})
			return
		}

		sig := r.Header.Get("X-TradingView-Signature")
		sourceIP := r.RemoteAddr

		resp, err := s.pipeline.Accept(r.Context(), body, sig, sourceIP)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleHealth is liveness: it only reflects whether the process itself is
// running, never external dependency state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReady is readiness: it reports non-ready once metrics.Healthy flips,
// i.e. once a fatal internal invariant violation has been recorded (spec §7).
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !metrics.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// writeError maps an apierr.Kind to the HTTP status codes of spec §6.
// Queue saturation is surfaced as KindRateLimited (429); shutdown is handled
// separately in handleWebhook as a direct 503. This resolves an apparent
// tension in spec §5's generic "on deadline, return 503" phrasing versus
// §6's explicit status table, in favor of §6's more specific wording (see
// DESIGN.md).
func writeError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apierr.KindAuth:
		status = http.StatusUnauthorized
	case apierr.KindValidation:
		status = http.StatusBadRequest
	case apierr.KindRateLimited:
		status = http.StatusTooManyRequests
	case apierr.KindConflict:
		status = http.StatusConflict
	case apierr.KindNotFound:
		status = http.StatusNotFound
	case apierr.KindExternalUnavailable:
		status = http.StatusServiceUnavailable
	}

	body := map[string]any{"success": false, "error": err.Error()}
	var apiErr *apierr.Error
	if e, ok := err.(*apierr.Error); ok {
		apiErr = e
	}
	if apiErr != nil && len(apiErr.Fields) > 0 {
		body["fields"] = apiErr.Fields
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("httpapi: internal error handling webhook")
		body["error"] = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
