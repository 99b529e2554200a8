// Package client provides a transport-agnostic interface for the verification
// service and HTTP/JSON and gRPC implementations of it.
package client

import (
	"context"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/verify"
)

// Client is the interface the vd CLI uses to talk to the verification
// server. Every write is attributed to the actor the client was built with.
type Client interface {
	CreateSession(ctx context.Context, req *CreateSessionRequest) (*model.SessionDetail, error)
	GetSession(ctx context.Context, id string) (*model.SessionDetail, error)
	UpdateValue(ctx context.Context, itemID, value string) (*model.Item, error)
	ToggleVerified(ctx context.Context, itemID string, checked bool) (*model.Item, error)
	Transfer(ctx context.Context, sessionID string) (*verify.TransferResult, error)
	Health(ctx context.Context) (string, error)
	Close() error
}

// CreateSessionRequest holds parameters for starting a verification session.
type CreateSessionRequest struct {
	SubmissionID    string      `json:"submission_id,omitempty"`
	LicensedAgentID string      `json:"licensed_agent_id"`
	BufferAgentID   string      `json:"buffer_agent_id,omitempty"`
	LeadSnapshot    *model.Lead `json:"lead_snapshot,omitempty"`
}

// RosterEntry is one agent on the live roster.
type RosterEntry struct {
	AgentID       string  `json:"agent_id"`
	Status        string  `json:"status"`
	SessionID     string  `json:"session_id,omitempty"`
	IdleSecs      float64 `json:"idle_secs"`
	SessionStatus string  `json:"session_status,omitempty"`
	Progress      *int    `json:"progress,omitempty"`
	CanTransfer   bool    `json:"can_transfer,omitempty"`
}
