package outbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/notify"
	"github.com/alfredjeanlab/verifyd/internal/presence"
	"github.com/alfredjeanlab/verifyd/internal/store/memory"
)

func TestPolicyBackoff(t *testing.T) {
	p := Policy{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}
	for _, tc := range []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	} {
		if got := p.Backoff(tc.attempts); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func enqueue(t *testing.T, s *memory.Store, kind string, payload any) *model.OutboxMessage {
	t.Helper()
	msg, err := NewMessage(kind, payload)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := s.EnqueueOutbox(context.Background(), msg); err != nil {
		t.Fatalf("EnqueueOutbox: %v", err)
	}
	return msg
}

func newTestDispatcher(s *memory.Store, handlers map[string]Handler, now time.Time) *Dispatcher {
	d := NewDispatcher(s, handlers, Policy{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute}, time.Hour, nil)
	d.now = func() time.Time { return now }
	return d
}

func TestDispatchOnce_DeliversPresence(t *testing.T) {
	s := memory.New()
	tr := presence.New()
	now := time.Now().UTC()
	enqueue(t, s, model.OutboxPresenceOnCall, model.PresencePayload{AgentID: "la-1", SessionID: "vs-1", Status: presence.StatusOnCall})

	d := newTestDispatcher(s, Handlers(tr, notify.Noop{}, notify.Noop{}), now.Add(time.Second))
	res, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if res.Claimed != 1 || res.Delivered != 1 {
		t.Fatalf("got %+v", res)
	}
	e, ok := tr.Get("la-1")
	if !ok || e.Status != presence.StatusOnCall || e.SessionID != "vs-1" {
		t.Fatalf("presence = %+v (%v)", e, ok)
	}
	if msgs := s.Outbox(); msgs[0].DeliveredAt == nil {
		t.Fatal("expected message marked delivered")
	}
}

type flakyNotifier struct {
	fails int32
	calls atomic.Int32
	keys  []string
}

func (f *flakyNotifier) Notify(_ context.Context, n notify.Notification) error {
	c := f.calls.Add(1)
	f.keys = append(f.keys, n.Key)
	if c <= f.fails {
		return &model.NotificationError{Channel: "transfer", Err: errors.New("503")}
	}
	return nil
}

func TestDispatchOnce_RetriesWithBackoff(t *testing.T) {
	s := memory.New()
	now := time.Now().UTC()
	msg := enqueue(t, s, model.OutboxNotifyTransfer, model.NotificationPayload{Type: notify.TypeVerificationStarted, SessionID: "vs-1"})

	n := &flakyNotifier{fails: 1}
	d := newTestDispatcher(s, map[string]Handler{model.OutboxNotifyTransfer: NotifyHandler(n)}, now.Add(time.Second))

	res, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if res.Retrying != 1 {
		t.Fatalf("first pass = %+v", res)
	}
	got := s.Outbox()[0]
	if got.Attempts != 1 || got.LastError == "" || !got.NextAttemptAt.Equal(now.Add(2*time.Second)) {
		t.Fatalf("after failure: %+v", got)
	}

	// Not yet due.
	if res, _ := d.DispatchOnce(context.Background()); res.Claimed != 0 {
		t.Fatalf("expected nothing due, got %+v", res)
	}

	d.now = func() time.Time { return now.Add(time.Minute) }
	res, err = d.DispatchOnce(context.Background())
	if err != nil || res.Delivered != 1 {
		t.Fatalf("second pass = %+v, %v", res, err)
	}
	if len(n.keys) != 2 || n.keys[0] != msg.Key || n.keys[1] != msg.Key {
		t.Fatalf("expected the same idempotency key on retry, got %v", n.keys)
	}
}

func TestDispatchOnce_MarksDeadAfterMaxAttempts(t *testing.T) {
	s := memory.New()
	now := time.Now().UTC()
	enqueue(t, s, model.OutboxNotifyLeadVendor, model.NotificationPayload{})

	n := &flakyNotifier{fails: 100}
	d := newTestDispatcher(s, map[string]Handler{model.OutboxNotifyLeadVendor: NotifyHandler(n)}, now)

	for i := 0; i < 3; i++ {
		d.now = func() time.Time { return now.Add(time.Duration(i+1) * time.Hour) }
		if _, err := d.DispatchOnce(context.Background()); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	got := s.Outbox()[0]
	if got.DeadAt == nil || got.Attempts != 3 {
		t.Fatalf("expected dead after 3 attempts, got %+v", got)
	}
	d.now = func() time.Time { return now.Add(24 * time.Hour) }
	if res, _ := d.DispatchOnce(context.Background()); res.Claimed != 0 {
		t.Fatalf("dead messages must not be claimed, got %+v", res)
	}
}

func TestDispatchOnce_UnknownKindIsDead(t *testing.T) {
	s := memory.New()
	now := time.Now().UTC()
	enqueue(t, s, "mystery.kind", map[string]string{})

	d := newTestDispatcher(s, map[string]Handler{}, now.Add(time.Second))
	res, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if res.Dead != 1 || s.Outbox()[0].DeadAt == nil {
		t.Fatalf("got %+v", res)
	}
}

func TestDispatcherStartStop(t *testing.T) {
	s := memory.New()
	tr := presence.New()
	enqueue(t, s, model.OutboxPresenceOnCall, model.PresencePayload{AgentID: "la-9", Status: presence.StatusOnCall})

	d := NewDispatcher(s, Handlers(tr, notify.Noop{}, notify.Noop{}), DefaultPolicy(), 10*time.Millisecond, nil)
	d.Start()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := tr.Get("la-9"); ok {
			break
		}
		select {
		case <-deadline:
			d.Stop()
			t.Fatal("presence message was not delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}
	d.Stop()
}
