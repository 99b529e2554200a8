package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alfredjeanlab/verifyd/internal/metrics"
	"github.com/alfredjeanlab/verifyd/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /v1/sessions/{id}/progress", s.handleGetProgress)
	mux.HandleFunc("POST /v1/sessions/{id}/transfer", s.handleTransfer)
	mux.HandleFunc("GET /v1/sessions/{id}/stream", s.handleSessionStream)
	mux.HandleFunc("PATCH /v1/items/{id}/value", s.handleUpdateValue)
	mux.HandleFunc("PATCH /v1/items/{id}/verified", s.handleToggleVerified)
	mux.HandleFunc("GET /v1/leads/{submission_id}/info", s.handleLeadInfo)
	mux.HandleFunc("GET /v1/leads/{submission_id}/audit", s.handleLeadAudit)
	mux.HandleFunc("GET /v1/agents/roster", s.handleAgentRoster)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return AuthMiddleware(authToken, mux)
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps err to a status code and writes it. Gate
// rejections carry their reasons so callers can explain the refusal.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}

	var ge *model.GateError
	if errors.As(err, &ge) {
		writeJSON(w, code, map[string]any{
			"error":     err.Error(),
			"progress":  ge.Progress,
			"threshold": ge.Threshold,
			"reasons":   ge.Reasons,
		})
		return
	}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, code, map[string]any{"error": err.Error(), "fields": ve.Errors})
		return
	}
	writeError(w, code, err.Error())
}

// decodeBody decodes a JSON request body into dst, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// requireActor writes a 401 and returns false when the request carries no actor.
func requireActor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	a, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return a, false
	}
	return a, true
}

func logRequest(r *http.Request, msg string, args ...any) {
	slog.Debug(msg, append([]any{"method", r.Method, "path", r.URL.Path}, args...)...)
}
