package model

import (
	"encoding/json"
	"time"
)

// Audit event types recorded against a submission.
const (
	AuditVerificationStarted = "verification_started"
	AuditTransferredToLA     = "transferred_to_la"
)

// CallUpdate is an append-only audit record of a lifecycle event on a lead.
type CallUpdate struct {
	ID           int64           `json:"id"`
	SubmissionID string          `json:"submission_id"`
	ActorID      string          `json:"actor_id"`
	ActorType    ActorType       `json:"actor_type"`
	ActorName    string          `json:"actor_name,omitempty"`
	EventType    string          `json:"event_type"`
	EventDetails json.RawMessage `json:"event_details,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
