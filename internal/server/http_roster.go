package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/presence"
)

// handleAgentRoster handles GET /v1/agents/roster.
// Returns the live agent roster from the presence tracker, with the progress
// of each on-call agent's session.
func (s *Server) handleAgentRoster(w http.ResponseWriter, r *http.Request) {
	if s.Presence == nil {
		writeJSON(w, http.StatusOK, map[string]any{"agents": []any{}})
		return
	}

	// Parse optional stale_threshold_secs query param (default: 30 min).
	staleThreshold := 30 * time.Minute
	if v := r.URL.Query().Get("stale_threshold_secs"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			staleThreshold = time.Duration(secs) * time.Second
		}
	}

	entries := s.Presence.Roster(staleThreshold)

	type rosterEntry struct {
		presence.Entry
		SessionStatus string `json:"session_status,omitempty"`
		Progress      *int   `json:"progress,omitempty"`
		CanTransfer   bool   `json:"can_transfer,omitempty"`
	}

	agents := make([]rosterEntry, 0, len(entries))
	for _, e := range entries {
		re := rosterEntry{Entry: e}
		if e.Status == presence.StatusOnCall && e.SessionID != "" {
			if d, err := s.svc.GetSession(r.Context(), e.SessionID); err == nil {
				p := d.Progress
				re.SessionStatus = string(d.Session.Status)
				re.Progress = &p
				re.CanTransfer = d.CanTransfer
			}
		}
		agents = append(agents, re)
	}

	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}
