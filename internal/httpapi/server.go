// Package httpapi serves the REST and websocket surface of the assistant.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/hrdesk/internal/config"
	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/logging"
	"github.com/ent0n29/hrdesk/internal/nlu"
	"github.com/ent0n29/hrdesk/internal/observability"
	"github.com/ent0n29/hrdesk/internal/schema"
	"github.com/ent0n29/hrdesk/internal/taskruntime"
)

type Server struct {
	cfg      config.Config
	runtime  *taskruntime.Service
	metrics  *observability.Metrics
	log      logging.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, runtime *taskruntime.Service, metrics *observability.Metrics, log logging.Logger) *Server {
	return &Server{
		cfg:     cfg,
		runtime: runtime,
		metrics: metrics,
		log:     logging.OrNop(log).With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless
				// configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/ws", s.handleSessionWS)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/turns", s.handleTurn)
	r.Get("/v1/sessions/{id}/messages", s.handleListMessages)
	r.Get("/v1/sessions/{id}/actions", s.handleListActions)
	r.Post("/v1/sessions/{id}/flush", s.handleFlush)
	r.Get("/v1/tasks", s.handleListTasks)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handleResetPerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"nlu_mode": s.cfg.NLUMode,
		"actions":  s.cfg.ActionMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.runtime.Ping(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"store":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"tasks":  len(s.runtime.Registry().Intents()),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondErr maps domain sentinels onto status codes.
func respondErr(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	respondError(w, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, dialogue.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, dialogue.ErrEmptyUtterance):
		return http.StatusBadRequest, "empty_utterance"
	case errors.Is(err, dialogue.ErrUnknownIntent):
		return http.StatusBadRequest, "unknown_intent"
	case errors.Is(err, nlu.ErrInvalidValue):
		return http.StatusBadRequest, "invalid_value"
	case errors.Is(err, schema.ErrInvalidRegistry):
		return http.StatusInternalServerError, "invalid_registry"
	case errors.Is(err, dialogue.ErrSessionNotPersisted):
		return http.StatusConflict, "session_not_persisted"
	case errors.Is(err, dialogue.ErrStorageFailure):
		return http.StatusServiceUnavailable, "storage_failure"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
