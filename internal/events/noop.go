package events

import (
	"context"
	"errors"
	"log/slog"
)

// NoopPublisher is a Publisher that does nothing (used when NATS is not configured).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, topic string, event any) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}

// Fanout publishes each event to every wrapped publisher. A failing publisher
// does not stop delivery to the others; the joined error is returned.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, topic string, event any) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, topic, event); err != nil {
			slog.Debug("fanout publish failed", "topic", topic, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
