// Package presence tracks which agents are on a verification call.
//
// The Tracker keeps an in-memory roster keyed by agent id. The outbox
// dispatcher marks a licensed agent on_call when a session starts, and a
// background reaper marks agents idle once they stop reporting activity.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Agent presence states.
const (
	StatusOnCall    = "on_call"
	StatusAvailable = "available"
	StatusIdle      = "idle"
)

// Entry represents a single agent's live presence state.
type Entry struct {
	AgentID     string    `json:"agent_id"`
	Status      string    `json:"status"`
	SessionID   string    `json:"session_id,omitempty"` // session the agent is on a call for
	LastSeen    time.Time `json:"last_seen"`
	FirstSeen   time.Time `json:"first_seen"`
	IdleSecs    float64   `json:"idle_secs"`
	UpdateCount int64     `json:"update_count"`
	Reaped      bool      `json:"reaped,omitempty"`
	ReapedAt    time.Time `json:"reaped_at,omitempty"`
}

// Update is one presence report for an agent.
type Update struct {
	AgentID   string
	Status    string
	SessionID string
}

// ReaperConfig configures the background idle-agent reaper.
type ReaperConfig struct {
	// IdleThreshold is how long an agent may go without an update before
	// being marked idle. Default: 30 minutes.
	IdleThreshold time.Duration

	// EvictAfter is how long after being reaped before an agent is removed
	// from the roster. Default: 2 hours.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper scans the roster.
	// Default: 60 seconds.
	SweepInterval time.Duration

	// OnIdle is called for each agent newly marked idle, outside the lock.
	OnIdle func(agentID, sessionID string)
}

// Tracker maintains an in-memory roster of agents.
type Tracker struct {
	mu     sync.RWMutex
	agents map[string]*agentState

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type agentState struct {
	firstSeen   time.Time
	lastSeen    time.Time
	status      string
	sessionID   string
	updateCount int64
	reaped      bool
	reapedAt    time.Time
}

// New creates a new presence tracker.
func New() *Tracker {
	return &Tracker{agents: make(map[string]*agentState)}
}

// Record applies a presence update. Updates without an agent id are ignored.
// An on_call update without a session keeps the previous session pointer.
func (t *Tracker) Record(u Update) {
	if u.AgentID == "" {
		return
	}
	if u.Status == "" {
		u.Status = StatusAvailable
	}

	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.agents[u.AgentID]
	if !ok {
		state = &agentState{firstSeen: now}
		t.agents[u.AgentID] = state
	}
	if state.reaped {
		slog.Info("presence: agent active again", "agent_id", u.AgentID)
		state.reaped = false
		state.reapedAt = time.Time{}
	}

	state.lastSeen = now
	state.status = u.Status
	state.updateCount++
	switch {
	case u.SessionID != "":
		state.sessionID = u.SessionID
	case u.Status != StatusOnCall:
		state.sessionID = ""
	}
}

// Get returns the entry for one agent.
func (t *Tracker) Get(agentID string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.agents[agentID]
	if !ok {
		return Entry{}, false
	}
	return state.entry(agentID, time.Now()), true
}

// Roster returns a snapshot of tracked agents, most recently active first.
// Agents idle longer than staleThreshold are excluded; 0 includes everyone.
func (t *Tracker) Roster(staleThreshold time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now()
	entries := make([]Entry, 0, len(t.agents))
	for id, state := range t.agents {
		if staleThreshold > 0 && now.Sub(state.lastSeen) > staleThreshold {
			continue
		}
		entries = append(entries, state.entry(id, now))
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries
}

func (s *agentState) entry(id string, now time.Time) Entry {
	return Entry{
		AgentID:     id,
		Status:      s.status,
		SessionID:   s.sessionID,
		LastSeen:    s.lastSeen,
		FirstSeen:   s.firstSeen,
		IdleSecs:    now.Sub(s.lastSeen).Seconds(),
		UpdateCount: s.updateCount,
		Reaped:      s.reaped,
		ReapedAt:    s.reapedAt,
	}
}

// StartReaper launches a background goroutine that periodically marks idle
// agents. Call Stop to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.IdleThreshold == 0 {
		cfg.IdleThreshold = 30 * time.Minute
	}
	if cfg.EvictAfter == 0 {
		cfg.EvictAfter = 2 * time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	slog.Info("presence: reaper started",
		"idle_threshold", cfg.IdleThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := time.Now()

	type idleAgent struct {
		id        string
		sessionID string
	}
	var newlyIdle []idleAgent

	t.mu.Lock()
	for id, state := range t.agents {
		if state.reaped {
			if !state.reapedAt.IsZero() && now.Sub(state.reapedAt) > cfg.EvictAfter {
				delete(t.agents, id)
			}
			continue
		}
		if now.Sub(state.lastSeen) > cfg.IdleThreshold {
			state.reaped = true
			state.reapedAt = now
			state.status = StatusIdle
			newlyIdle = append(newlyIdle, idleAgent{id: id, sessionID: state.sessionID})
		}
	}
	t.mu.Unlock()

	for _, a := range newlyIdle {
		slog.Info("presence: reaper marked agent idle",
			"agent_id", a.id,
			"session_id", a.sessionID,
			"threshold", cfg.IdleThreshold)
		if cfg.OnIdle != nil {
			cfg.OnIdle(a.id, a.sessionID)
		}
	}
}
