package events

import (
	"strings"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/model"
)

// TopicRoot prefixes every session change topic.
const TopicRoot = "verify.session"

// Change kinds, used as the last topic segment.
const (
	KindCreated     = "created"
	KindItemUpdated = "item_updated"
	KindTransferred = "transferred"
)

// Item operations carried by KindItemUpdated changes.
const (
	OpValue    = "value"
	OpVerified = "verified"
)

// SessionTopic returns the subject for one kind of change on a session,
// e.g. "verify.session.vs-abc.item_updated".
func SessionTopic(sessionID, kind string) string {
	return TopicRoot + "." + sessionID + "." + kind
}

// SessionWildcard returns a subject pattern matching every change on a session.
func SessionWildcard(sessionID string) string {
	return TopicRoot + "." + sessionID + ".>"
}

// AllSessions matches every session change.
const AllSessions = TopicRoot + ".>"

// ParseTopic splits a session topic into its session id and kind.
func ParseTopic(topic string) (sessionID, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicRoot+".")
	if !found {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, '.')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// Change is the payload published for every session or item mutation.
// Subscribers receive raw payloads without the subject, so the kind and
// session id travel in the body.
type Change struct {
	Kind      string         `json:"kind"`
	SessionID string         `json:"session_id"`
	Session   *model.Session `json:"session,omitempty"`
	Item      *model.Item    `json:"item,omitempty"`
	Op        string         `json:"op,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`

	// BufferAgentName is set on transferred changes.
	BufferAgentName string    `json:"buffer_agent_name,omitempty"`
	At              time.Time `json:"at"`
}

// Topic returns the subject this change is published on.
func (c Change) Topic() string {
	return SessionTopic(c.SessionID, c.Kind)
}
