package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/events"
)

func TestSSEHub_BroadcastAndReceive(t *testing.T) {
	hub := newSSEHub()

	client := hub.subscribe("vs-1")
	defer hub.unsubscribe(client)

	hub.broadcast("verify.session.vs-1.created", []byte(`{"session_id":"vs-1"}`))

	select {
	case evt := <-client.ch:
		if evt.Topic != "verify.session.vs-1.created" {
			t.Fatalf("expected topic=%q, got %q", "verify.session.vs-1.created", evt.Topic)
		}
		if evt.SessionID != "vs-1" || evt.Kind != events.KindCreated {
			t.Fatalf("got session=%q kind=%q", evt.SessionID, evt.Kind)
		}
		if string(evt.Data) != `{"session_id":"vs-1"}` {
			t.Fatalf("expected data=%q, got %q", `{"session_id":"vs-1"}`, string(evt.Data))
		}
		if evt.ID != 1 {
			t.Fatalf("expected id=1, got %d", evt.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSSEHub_SessionIsolation(t *testing.T) {
	hub := newSSEHub()

	client := hub.subscribe("vs-1")
	defer hub.unsubscribe(client)

	hub.broadcast("verify.session.vs-2.created", []byte(`{"session_id":"vs-2"}`))
	hub.broadcast("verify.session.vs-1.created", []byte(`{"session_id":"vs-1"}`))

	select {
	case evt := <-client.ch:
		if evt.SessionID != "vs-1" {
			t.Fatalf("expected vs-1, got %q", evt.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case evt := <-client.ch:
		t.Fatalf("unexpected event: topic=%q", evt.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSSEHub_KindFilter(t *testing.T) {
	hub := newSSEHub()

	client := hub.subscribe("vs-1", events.KindTransferred)
	defer hub.unsubscribe(client)

	hub.broadcast(events.SessionTopic("vs-1", events.KindItemUpdated), []byte(`{}`))
	hub.broadcast(events.SessionTopic("vs-1", events.KindTransferred), []byte(`{}`))

	select {
	case evt := <-client.ch:
		if evt.Kind != events.KindTransferred {
			t.Fatalf("expected transferred, got %q", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	select {
	case evt := <-client.ch:
		t.Fatalf("unexpected event: kind=%q", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSSEHub_IgnoresForeignTopics(t *testing.T) {
	hub := newSSEHub()
	hub.broadcast("verify.other", []byte(`{}`))
	hub.broadcast("orders.order.created", []byte(`{}`))

	if evts := hub.eventsSince("vs-1", 0); len(evts) != 0 {
		t.Fatalf("expected nothing buffered, got %d", len(evts))
	}
	if id := hub.nextID.Load(); id != 0 {
		t.Fatalf("expected no sequence numbers used, got %d", id)
	}
}

func TestSSEHub_Unsubscribe(t *testing.T) {
	hub := newSSEHub()

	client := hub.subscribe("vs-1")
	hub.unsubscribe(client)

	hub.broadcast("verify.session.vs-1.created", []byte(`{}`))

	select {
	case <-client.ch:
		t.Fatal("should not receive events after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
	if _, ok := hub.sessions["vs-1"]; ok {
		t.Fatal("expected empty session set to be removed")
	}
}

func TestSSEHub_EventsSince(t *testing.T) {
	hub := newSSEHub()

	for i := range 5 {
		hub.broadcast("verify.session.vs-1.item_updated", []byte(`{"n":`+string(rune('0'+i))+`}`))
	}

	evts := hub.eventsSince("vs-1", 2)
	if len(evts) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evts))
	}
	if evts[0].ID != 3 || evts[1].ID != 4 || evts[2].ID != 5 {
		t.Fatalf("expected IDs [3,4,5], got [%d,%d,%d]", evts[0].ID, evts[1].ID, evts[2].ID)
	}
}

func TestSSEHub_EventsSince_OtherSessionsSkipped(t *testing.T) {
	hub := newSSEHub()
	hub.broadcast("verify.session.vs-1.created", []byte(`{}`))
	hub.broadcast("verify.session.vs-2.created", []byte(`{}`))
	hub.broadcast("verify.session.vs-1.item_updated", []byte(`{}`))

	evts := hub.eventsSince("vs-1", 0)
	if len(evts) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evts))
	}
	if evts[0].ID != 1 || evts[1].ID != 3 {
		t.Fatalf("expected IDs [1,3], got [%d,%d]", evts[0].ID, evts[1].ID)
	}
}

func TestSSEHub_EventsSince_Empty(t *testing.T) {
	hub := newSSEHub()
	if evts := hub.eventsSince("vs-1", 0); len(evts) != 0 {
		t.Fatalf("expected 0 events, got %d", len(evts))
	}
}

func TestSSEHub_RingBufferWrap(t *testing.T) {
	hub := newSSEHub()

	for range sseRingBufferSize + 100 {
		hub.broadcast("verify.session.vs-1.item_updated", []byte(`{}`))
	}

	// The first 100 were evicted.
	evts := hub.eventsSince("vs-1", 0)
	if len(evts) != sseRingBufferSize {
		t.Fatalf("expected %d events, got %d", sseRingBufferSize, len(evts))
	}
	if evts[0].ID != 101 {
		t.Fatalf("expected oldest event ID=101, got %d", evts[0].ID)
	}
}

func TestParseKinds(t *testing.T) {
	for _, tc := range []struct {
		q    string
		want []string
	}{
		{"", nil},
		{"transferred", []string{"transferred"}},
		{" item_updated, transferred ,", []string{"item_updated", "transferred"}},
	} {
		got := parseKinds(tc.q)
		if strings.Join(got, "|") != strings.Join(tc.want, "|") || len(got) != len(tc.want) {
			t.Errorf("parseKinds(%q) = %q, want %q", tc.q, got, tc.want)
		}
	}
}

func TestSSEPublisher_Broadcasts(t *testing.T) {
	pub := NewSSEPublisher()
	client := pub.hub.subscribe("vs-1")
	defer pub.hub.unsubscribe(client)

	c := events.Change{Kind: events.KindCreated, SessionID: "vs-1"}
	if err := pub.Publish(context.Background(), c.Topic(), c); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case evt := <-client.ch:
		var got events.Change
		if err := json.Unmarshal(evt.Data, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if evt.Topic != "verify.session.vs-1.created" || got.SessionID != "vs-1" {
			t.Fatalf("event = %s %+v", evt.Topic, got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

// streamSession runs the session stream handler until fn returns, then
// returns the body written so far.
func streamSession(t *testing.T, h http.Handler, id, lastEventID string, fn func()) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest("GET", "/v1/sessions/"+id+"/stream", nil)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()

	// Give the handler time to register the subscription.
	time.Sleep(50 * time.Millisecond)
	fn()
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected Content-Type=text/event-stream, got %q", ct)
	}
	return rec.Body.String()
}

func TestHandleSessionStream_UnknownSession(t *testing.T) {
	_, _, h := newTestServer()
	rec := doJSON(t, h, "GET", "/v1/sessions/vs-missing/stream", nil)
	requireStatus(t, rec, 404)
}

// TestHandleSessionStream_ItemUpdates tests that service writes reach the stream.
func TestHandleSessionStream_ItemUpdates(t *testing.T) {
	_, _, h := newTestServer()
	d := createTestSession(t, h)
	other := createTestSession(t, h)

	body := streamSession(t, h, d.Session.ID, "", func() {
		doJSON(t, h, "PATCH", "/v1/items/"+d.Items[0].ID+"/value", map[string]any{"value": "Janet"})
		doJSON(t, h, "PATCH", "/v1/items/"+other.Items[0].ID+"/value", map[string]any{"value": "Other"})
	})

	if !strings.Contains(body, "event:"+events.SessionTopic(d.Session.ID, events.KindItemUpdated)) {
		t.Fatalf("expected item_updated event in body, got:\n%s", body)
	}
	if !strings.Contains(body, `"verified_value":"Janet"`) {
		t.Fatalf("expected new value in body, got:\n%s", body)
	}
	if strings.Contains(body, other.Session.ID) {
		t.Fatalf("expected other session filtered out, got:\n%s", body)
	}
}

// TestHandleSessionStream_LastEventID tests reconnection with Last-Event-ID.
func TestHandleSessionStream_LastEventID(t *testing.T) {
	srv, _, h := newTestServer()
	d := createTestSession(t, h)
	topic := events.SessionTopic(d.Session.ID, events.KindItemUpdated)

	// The create already used id 1.
	srv.hub.broadcast(topic, []byte(`{"n":2}`))
	srv.hub.broadcast(topic, []byte(`{"n":3}`))

	body := streamSession(t, h, d.Session.ID, "2", func() {})

	if strings.Contains(body, `data:{"n":2}`) {
		t.Fatalf("expected event 2 to be skipped, got:\n%s", body)
	}
	if !strings.Contains(body, `data:{"n":3}`) {
		t.Fatalf("expected event 3 in body, got:\n%s", body)
	}
}

// TestSSEEventFormat verifies the exact SSE wire format.
func TestSSEEventFormat(t *testing.T) {
	srv, _, h := newTestServer()
	d := createTestSession(t, h)
	topic := events.SessionTopic(d.Session.ID, events.KindTransferred)

	body := streamSession(t, h, d.Session.ID, "", func() {
		srv.hub.broadcast(topic, []byte(`{"id":"fmt"}`))
	})

	// Parse SSE events from body.
	scanner := bufio.NewScanner(strings.NewReader(body))
	var id, event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "id:") {
			id = strings.TrimPrefix(line, "id:")
		} else if strings.HasPrefix(line, "event:") {
			event = strings.TrimPrefix(line, "event:")
		} else if strings.HasPrefix(line, "data:") {
			data = strings.TrimPrefix(line, "data:")
		}
	}

	if id == "" {
		t.Fatal("expected non-empty id field")
	}
	if event != topic {
		t.Fatalf("expected event=%s, got %q", topic, event)
	}
	if !json.Valid([]byte(data)) {
		t.Fatalf("expected valid JSON data, got %q", data)
	}
	if data != `{"id":"fmt"}` {
		t.Fatalf("expected data=%q, got %q", `{"id":"fmt"}`, data)
	}
}

func TestHandleSessionStream_Keepalive(t *testing.T) {
	srv, _, h := newTestServer()
	d := createTestSession(t, h)
	srv.hub.keepalive = 10 * time.Millisecond

	body := streamSession(t, h, d.Session.ID, "", func() {})
	if !strings.Contains(body, ":keepalive") {
		t.Fatalf("expected keepalive comment, got:\n%s", body)
	}
}

func TestHandleSessionStream_KindsQuery(t *testing.T) {
	srv, _, h := newTestServer()
	d := createTestSession(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/v1/sessions/"+d.Session.ID+"/stream?kinds=transferred", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()
	time.Sleep(50 * time.Millisecond)
	srv.hub.broadcast(events.SessionTopic(d.Session.ID, events.KindItemUpdated), []byte(`{"n":"item"}`))
	srv.hub.broadcast(events.SessionTopic(d.Session.ID, events.KindTransferred), []byte(`{"n":"moved"}`))
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if strings.Contains(body, `{"n":"item"}`) {
		t.Fatalf("expected item_updated filtered out, got:\n%s", body)
	}
	if !strings.Contains(body, `{"n":"moved"}`) {
		t.Fatalf("expected transferred event, got:\n%s", body)
	}
}
