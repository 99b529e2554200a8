package server

import (
	"net/http"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/verify"
)

type createSessionRequest struct {
	SubmissionID    string      `json:"submission_id"`
	LicensedAgentID string      `json:"licensed_agent_id"`
	BufferAgentID   string      `json:"buffer_agent_id,omitempty"`
	LeadSnapshot    *model.Lead `json:"lead_snapshot,omitempty"`
}

// handleCreateSession handles POST /v1/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	detail, err := s.svc.CreateSession(r.Context(), actor, verify.CreateInput{
		SubmissionID:    req.SubmissionID,
		LicensedAgentID: req.LicensedAgentID,
		BufferAgentID:   req.BufferAgentID,
		Lead:            req.LeadSnapshot,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	logRequest(r, "session created", "session_id", detail.Session.ID)
	writeJSON(w, http.StatusCreated, detail)
}

// handleGetSession handles GET /v1/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	detail, err := s.svc.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleGetProgress handles GET /v1/sessions/{id}/progress.
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Progress(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleTransfer handles POST /v1/sessions/{id}/transfer.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	res, err := s.svc.TransferToLicensed(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type updateValueRequest struct {
	Value *string `json:"value"`
}

// handleUpdateValue handles PATCH /v1/items/{id}/value.
func (s *Server) handleUpdateValue(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req updateValueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	it, err := s.svc.UpdateValue(r.Context(), actor, r.PathValue("id"), *req.Value)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

type toggleVerifiedRequest struct {
	Checked *bool `json:"checked"`
}

// handleToggleVerified handles PATCH /v1/items/{id}/verified.
func (s *Server) handleToggleVerified(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req toggleVerifiedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Checked == nil {
		writeError(w, http.StatusBadRequest, "checked is required")
		return
	}
	it, err := s.svc.ToggleVerified(r.Context(), actor, r.PathValue("id"), *req.Checked)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// handleLeadInfo handles GET /v1/leads/{submission_id}/info.
func (s *Server) handleLeadInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.Audit().GetLeadInfo(r.Context(), r.PathValue("submission_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleLeadAudit handles GET /v1/leads/{submission_id}/audit.
func (s *Server) handleLeadAudit(w http.ResponseWriter, r *http.Request) {
	updates, err := s.svc.Audit().History(r.Context(), r.PathValue("submission_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if updates == nil {
		updates = []*model.CallUpdate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"updates": updates})
}
