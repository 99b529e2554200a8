package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Message headers set on every published change.
const (
	HeaderSession = "Verify-Session"
	HeaderKind    = "Verify-Kind"
)

// subscribeBuffer is the per-subscription channel capacity. Changes arriving
// while it is full are dropped; observers recover on the next change through
// item revisions.
const subscribeBuffer = 64

func connect(url, name string, opts []nats.Option) (*nats.Conn, error) {
	defaults := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes session changes as JSON to NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := connect(url, "verifyd-publisher", opts)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish sends event on topic. Session topics carry the session id and
// change kind as headers so consumers can route without decoding the body.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	msg := nats.NewMsg(topic)
	msg.Data = data
	if sessionID, kind, ok := ParseTopic(topic); ok {
		msg.Header.Set(HeaderSession, sessionID)
		msg.Header.Set(HeaderKind, kind)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber delivers session changes from NATS subjects.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects with unlimited reconnects. Extra options such as
// disconnect and reconnect handlers are applied after the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := connect(url, "verifyd-subscriber", opts)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe returns a channel of raw payloads for topic, which may be a
// wildcard such as SessionWildcard(id). The cancel function unsubscribes,
// discards anything still buffered and closes the channel.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subscribeBuffer)

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	sub, err := s.conn.Subscribe(topic, func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- msg.Data:
		default:
			slog.Warn("nats: subscriber buffer full, dropping change",
				"subject", msg.Subject,
				"kind", msg.Header.Get(HeaderKind))
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// Register the interest on the server before returning so that changes
	// published on other connections are routed to us.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			defer mu.Unlock()
			closed = true
			for len(ch) > 0 {
				<-ch
			}
			close(ch)
		})
	}

	return ch, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
