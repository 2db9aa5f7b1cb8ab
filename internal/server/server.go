package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"glucose-alerts/internal/config"
	"glucose-alerts/internal/model"
	"glucose-alerts/internal/service"
	"glucose-alerts/internal/storage"
)

const (
	defaultWindowHours = 24
	maxWindowHours     = 24 * 90

	defaultAlertLimit = 50
	maxAlertLimit     = 500

	shutdownTimeout = 5 * time.Second
)

// Server exposes monitor state, history, and snooze control over HTTP.
type Server struct {
	svc    *service.Service
	store  storage.Store
	logger zerolog.Logger
	addr   string

	// Base thresholds used for time-in-range statistics. Schedule overrides
	// deliberately do not apply here; historical stats need a fixed yardstick.
	low  decimal.Decimal
	high decimal.Decimal
}

// New constructs the HTTP server.
func New(cfg config.ServerConfig, alerts config.AlertsConfig, svc *service.Service, store storage.Store, logger zerolog.Logger) *Server {
	return &Server{
		svc:    svc,
		store:  store,
		logger: logger.With().Str("component", "server").Logger(),
		addr:   cfg.Addr,
		low:    decimal.NewFromFloat(alerts.LowThreshold),
		high:   decimal.NewFromFloat(alerts.HighThreshold),
	}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info().Str("addr", s.addr).Msg("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("http server shutdown failed")
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.StripSlashes)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/readings", s.handleReadings)
		r.Get("/stats", s.handleStats)
		r.Get("/alerts", s.handleAlerts)
		r.Post("/snooze", s.handleSnooze)
		r.Delete("/snooze", s.handleCancelSnooze)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	hours, err := windowHours(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	readings, err := s.store.ListReadingsSince(r.Context(), since)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list readings")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"since":    since,
		"count":    len(readings),
		"readings": readings,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hours, err := windowHours(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	readings, err := s.store.ListReadingsSince(r.Context(), since)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list readings")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"since": since,
		"stats": model.ComputeStats(readings, s.low, s.high),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	events, err := s.store.ListRecentAlertEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list alert events")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"alerts": events,
	})
}

type snoozeRequest struct {
	Duration string `json:"duration"`
	Reason   string `json:"reason"`
}

func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request) {
	var req snoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		http.Error(w, "invalid duration", http.StatusBadRequest)
		return
	}
	if d <= 0 {
		http.Error(w, "duration must be positive", http.StatusBadRequest)
		return
	}

	event, err := s.svc.Snooze(r.Context(), d, req.Reason)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"snoozed_until": event.EndsAt(),
		"snooze":        event,
	})
}

func (s *Server) handleCancelSnooze(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.CancelSnooze(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("failed to cancel snooze")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func windowHours(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("hours")
	if raw == "" {
		return defaultWindowHours, nil
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 {
		return 0, errors.New("hours must be a positive integer")
	}
	if hours > maxWindowHours {
		hours = maxWindowHours
	}
	return hours, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}
