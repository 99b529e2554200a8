package model

import (
	"encoding/json"
	"time"
)

// Outbox message kinds. Each kind has one handler in the dispatcher.
const (
	OutboxPresenceOnCall   = "presence.on_call"
	OutboxNotifyLeadVendor = "notify.lead_vendor"
	OutboxNotifyTransfer   = "notify.transfer"
)

// OutboxMessage is a side effect recorded in the same transaction as the
// primary write and delivered later by the dispatcher.
type OutboxMessage struct {
	ID            int64           `json:"id"`
	Key           string          `json:"key"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
	DeadAt        *time.Time      `json:"dead_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PresencePayload is carried by presence.on_call messages.
type PresencePayload struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// NotificationPayload is carried by notify.* messages.
type NotificationPayload struct {
	Type      string   `json:"notification_type"`
	SessionID string   `json:"session_id"`
	Lead      LeadInfo `json:"lead"`
	AgentName string   `json:"agent_name,omitempty"`
}
