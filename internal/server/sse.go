package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/events"
)

const (
	// sseRingBufferSize is the number of recent events kept in memory for
	// Last-Event-ID reconnection support.
	sseRingBufferSize = 1000

	// sseKeepaliveInterval is how often keepalive comments are sent to
	// prevent connection timeouts.
	sseKeepaliveInterval = 15 * time.Second
)

// sseEvent is one change held in the replay ring and sent to clients.
type sseEvent struct {
	ID        uint64 // hub-wide sequence, used as the SSE id
	SessionID string
	Kind      string
	Topic     string
	Data      []byte // JSON-encoded events.Change
}

// sseHub fans out published changes to the stream clients of the session
// they belong to, and keeps a ring of recent changes for Last-Event-ID
// replay. Sequence numbers are hub-wide, so a resuming client skips
// everything it has seen regardless of session.
type sseHub struct {
	mu       sync.RWMutex
	sessions map[string]map[*sseClient]struct{}
	nextID   atomic.Uint64

	ringMu  sync.RWMutex
	ring    [sseRingBufferSize]sseEvent
	ringPos int // next write position
	ringLen int // valid entries, up to sseRingBufferSize

	keepalive time.Duration
}

// sseClient is one open stream for a session.
type sseClient struct {
	sessionID string
	kinds     map[string]bool // nil = every kind
	ch        chan *sseEvent
}

func newSSEHub() *sseHub {
	return &sseHub{
		sessions:  make(map[string]map[*sseClient]struct{}),
		keepalive: sseKeepaliveInterval,
	}
}

// broadcast records a change and delivers it to the session's clients.
// Topics that do not name a session are ignored.
func (h *sseHub) broadcast(topic string, payload []byte) {
	sessionID, kind, ok := events.ParseTopic(topic)
	if !ok {
		return
	}
	evt := &sseEvent{
		ID:        h.nextID.Add(1),
		SessionID: sessionID,
		Kind:      kind,
		Topic:     topic,
		Data:      payload,
	}

	h.ringMu.Lock()
	h.ring[h.ringPos] = *evt
	h.ringPos = (h.ringPos + 1) % sseRingBufferSize
	if h.ringLen < sseRingBufferSize {
		h.ringLen++
	}
	h.ringMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.sessions[sessionID] {
		if !c.wants(kind) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
			// Slow client; it resumes from the ring after reconnecting.
		}
	}
}

// subscribe registers a client for one session. kinds restricts delivery
// to those change kinds; empty means all.
func (h *sseHub) subscribe(sessionID string, kinds ...string) *sseClient {
	c := &sseClient{
		sessionID: sessionID,
		ch:        make(chan *sseEvent, 64),
	}
	if len(kinds) > 0 {
		c.kinds = make(map[string]bool, len(kinds))
		for _, k := range kinds {
			c.kinds[k] = true
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sessions[sessionID]
	if set == nil {
		set = make(map[*sseClient]struct{})
		h.sessions[sessionID] = set
	}
	set[c] = struct{}{}
	return c
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sessions[c.sessionID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.sessions, c.sessionID)
	}
}

// eventsSince returns the buffered changes for a session with ID > lastID,
// oldest first. Changes older than the ring are gone.
func (h *sseHub) eventsSince(sessionID string, lastID uint64) []*sseEvent {
	h.ringMu.RLock()
	defer h.ringMu.RUnlock()

	var result []*sseEvent
	start := h.ringPos - h.ringLen
	if start < 0 {
		start += sseRingBufferSize
	}
	for i := range h.ringLen {
		evt := &h.ring[(start+i)%sseRingBufferSize]
		if evt.ID > lastID && evt.SessionID == sessionID {
			result = append(result, evt)
		}
	}
	return result
}

func (c *sseClient) wants(kind string) bool {
	return c.kinds == nil || c.kinds[kind]
}

// parseKinds splits a comma-separated kinds query value.
func parseKinds(q string) []string {
	var kinds []string
	for _, k := range strings.Split(q, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// handleSessionStream handles GET /v1/sessions/{id}/stream (SSE endpoint).
// It streams changes for one session; ?kinds=item_updated,transferred
// narrows the stream to those kinds.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	// Ensure response supports flushing (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	id := r.PathValue("id")
	if _, err := s.svc.GetSession(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	client := s.hub.subscribe(id, parseKinds(r.URL.Query().Get("kinds"))...)
	defer s.hub.unsubscribe(client)

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// If the client sent Last-Event-ID, replay buffered events.
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if lastID, err := strconv.ParseUint(lastIDStr, 10, 64); err == nil {
			for _, evt := range s.hub.eventsSince(id, lastID) {
				if client.wants(evt.Kind) {
					writeSSEEvent(w, evt)
				}
			}
			flusher.Flush()
		}
	}

	// Stream events until client disconnects.
	ctx := r.Context()
	keepalive := time.NewTicker(s.hub.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-client.ch:
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			// Send a comment line as keepalive.
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the writer.
func writeSSEEvent(w http.ResponseWriter, evt *sseEvent) {
	fmt.Fprintf(w, "id:%d\n", evt.ID)
	fmt.Fprintf(w, "event:%s\n", evt.Topic)
	fmt.Fprintf(w, "data:%s\n\n", evt.Data)
}

// SSEPublisher adapts the hub to events.Publisher so service changes reach
// stream clients.
type SSEPublisher struct {
	hub *sseHub
}

var _ events.Publisher = (*SSEPublisher)(nil)

// NewSSEPublisher returns a publisher backed by a fresh hub.
func NewSSEPublisher() *SSEPublisher {
	return &SSEPublisher{hub: newSSEHub()}
}

// Publish marshals event and broadcasts it on topic.
func (p *SSEPublisher) Publish(_ context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for SSE broadcast: %w", err)
	}
	p.hub.broadcast(topic, payload)
	return nil
}

// Close is a no-op; stream handlers end with their requests.
func (p *SSEPublisher) Close() error { return nil }
