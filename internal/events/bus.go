package events

import "context"

// Publisher emits session changes. Implementations must be safe for
// concurrent use; the verification service publishes from request
// goroutines.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber receives raw change payloads for a topic or topic wildcard.
// Cancelling a subscription closes its channel; Close tears down every
// subscription along with the connection.
type Subscriber interface {
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}
