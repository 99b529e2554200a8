package model

import "time"

// Status represents the lifecycle state of a verification session.
type Status string

const (
	StatusInProgress  Status = "in_progress"
	StatusTransferred Status = "transferred"
	StatusCompleted   Status = "completed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusInProgress, StatusTransferred, StatusCompleted:
		return true
	}
	return false
}

// rank orders statuses along the only permitted direction of travel.
func (s Status) rank() int {
	switch s {
	case StatusInProgress:
		return 0
	case StatusTransferred:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether a session may move from s to next.
// Transitions are forward-only and move one step at a time.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	return next.rank() == s.rank()+1
}

// Session is one verification call: the field-by-field review of a submitted
// order by a licensed agent.
type Session struct {
	ID              string     `json:"id"`
	SubmissionID    string     `json:"submission_id"`
	BufferAgentID   string     `json:"buffer_agent_id,omitempty"`
	LicensedAgentID string     `json:"licensed_agent_id"`
	Status          Status     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	TotalFields     int        `json:"total_fields"`
	TransferredAt   *time.Time `json:"transferred_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasBufferAgent reports whether a buffer agent is attached to the session.
func (s *Session) HasBufferAgent() bool {
	return s.BufferAgentID != ""
}

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	Status        []Status
	SubmissionID  string
	StartedBefore *time.Time
	Limit         int
}

// SessionDetail is a session together with its items and derived progress,
// the shape served to observers on attach.
type SessionDetail struct {
	Session     *Session `json:"session"`
	Items       []*Item  `json:"items"`
	Progress    int      `json:"progress"`
	CanTransfer bool     `json:"can_transfer"`
}
