package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/hrdesk/internal/dialogue"
)

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

type createSessionResponse struct {
	SessionID string                 `json:"session_id"`
	UserID    string                 `json:"user_id"`
	Status    dialogue.SessionStatus `json:"status"`
}

type turnRequest struct {
	TurnID    string `json:"turn_id"`
	UserID    string `json:"user_id"`
	Utterance string `json:"utterance"`
}

type sessionResponse struct {
	Status  dialogue.SessionStatus `json:"status"`
	Session *dialogue.Session      `json:"session"`
	Pending bool                   `json:"pending"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	sess, err := s.runtime.CreateSession(r.Context(), req.UserID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Status:    sess.Status(),
	})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.TurnID) == "" {
		req.TurnID = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	res, err := s.runtime.Turn(r.Context(), dialogue.TurnRequest{
		SessionID: sessionID,
		UserID:    req.UserID,
		TurnID:    req.TurnID,
		Utterance: req.Utterance,
	})
	if err != nil {
		if errors.Is(err, dialogue.ErrStorageFailure) && len(res.Directives) > 0 {
			// The turn ran; the client still gets its directives with
			// persisted=false and a storage_failure directive.
			s.log.Warn("turn not persisted", "session_id", sessionID, "error", err)
			respondJSON(w, http.StatusOK, res)
			return
		}
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	sess, err := s.runtime.Session(r.Context(), sessionID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse{
		Status:  sess.Status(),
		Session: sess,
		Pending: s.runtime.Pending(sessionID),
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	limit, ok := limitParam(w, r, 50, 500)
	if !ok {
		return
	}
	msgs, err := s.runtime.Messages(r.Context(), sessionID, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   msgs,
	})
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	limit, ok := limitParam(w, r, 20, 200)
	if !ok {
		return
	}
	execs, err := s.runtime.Actions(r.Context(), sessionID, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"actions":    execs,
	})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	flushed, err := s.runtime.Flush(r.Context(), sessionID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"flushed":    flushed,
	})
}

func sessionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return "", false
	}
	return id, true
}

func limitParam(w http.ResponseWriter, r *http.Request, def, max int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}
