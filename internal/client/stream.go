package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/events"
	"github.com/alfredjeanlab/verifyd/internal/model"
)

const (
	defaultRetry = 500 * time.Millisecond
	maxRetry     = 30 * time.Second
)

// StreamSubscriber implements events.Subscriber over a session's SSE stream,
// so an observer can run against a remote server without a NATS connection.
// Only session topics are supported. Dropped connections are resumed with
// Last-Event-ID.
type StreamSubscriber struct {
	c      *HTTPClient
	retry  time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]func()
}

var _ events.Subscriber = (*StreamSubscriber)(nil)

// NewStreamSubscriber creates a subscriber that streams through c.
func NewStreamSubscriber(c *HTTPClient, logger *slog.Logger) *StreamSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamSubscriber{c: c, retry: defaultRetry, logger: logger, subs: make(map[int]func())}
}

// Subscribe opens the session stream for topic and blocks until the server
// accepts it. Topic is either a session wildcard or a single session topic.
func (s *StreamSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	sessionID, kind, ok := events.ParseTopic(topic)
	if !ok {
		return nil, nil, fmt.Errorf("unsupported stream topic %q", topic)
	}
	if kind == ">" {
		kind = ""
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan []byte, 64)
	ready := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(ch)
		s.run(ctx, sessionID, kind, ch, ready)
	}()

	if err := <-ready; err != nil {
		cancel()
		<-done
		return nil, nil, err
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
	s.subs[id] = stop
	s.mu.Unlock()

	return ch, stop, nil
}

// Close stops every open stream.
func (s *StreamSubscriber) Close() error {
	s.mu.Lock()
	stops := make([]func(), 0, len(s.subs))
	for _, stop := range s.subs {
		stops = append(stops, stop)
	}
	s.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
	return nil
}

// run keeps the stream open until ctx is cancelled. The result of the first
// connection attempt is reported on ready; later failures are retried with
// backoff.
func (s *StreamSubscriber) run(ctx context.Context, sessionID, kind string, ch chan<- []byte, ready chan<- error) {
	var lastID string
	backoff := s.retry
	first := true
	for {
		connected, err := s.read(ctx, sessionID, kind, &lastID, ch, func() {
			if first {
				ready <- nil
				first = false
			}
		})
		if first {
			ready <- err
			return
		}
		if ctx.Err() != nil {
			return
		}
		if model.IsNotFound(err) {
			s.logger.Warn("session stream closed: session not found", "session_id", sessionID)
			return
		}
		if connected {
			backoff = s.retry
		}
		s.logger.Warn("session stream disconnected, retrying",
			"session_id", sessionID, "last_event_id", lastID, "retry_in", backoff, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRetry)
	}
}

// read performs one streaming request, forwarding event payloads to ch
// until the connection ends.
func (s *StreamSubscriber) read(ctx context.Context, sessionID, kind string, lastID *string, ch chan<- []byte, onOpen func()) (bool, error) {
	target := s.c.baseURL + "/v1/sessions/" + url.PathEscape(sessionID) + "/stream"
	if kind != "" {
		target += "?kinds=" + url.QueryEscape(kind)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if *lastID != "" {
		req.Header.Set("Last-Event-ID", *lastID)
	}
	s.c.setHeaders(req)

	resp, err := s.c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	onOpen()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var id, topic string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 && (kind == "" || strings.HasSuffix(topic, "."+kind)) {
				select {
				case ch <- []byte(strings.Join(data, "\n")):
				case <-ctx.Done():
					return true, ctx.Err()
				}
			}
			if id != "" {
				*lastID = id
			}
			id, topic, data = "", "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			id = value
		case "event":
			topic = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("reading stream: %w", err)
	}
	return true, io.EOF
}
