// Package outbox delivers side effects recorded alongside a primary write.
//
// Producers enqueue messages in the same transaction as the rows they
// describe. The Dispatcher claims due messages, hands each to the handler for
// its kind, and records the outcome with exponential backoff on failure.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/alfredjeanlab/verifyd/internal/metrics"
	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/store"
)

// Handler delivers one message. A returned error schedules a retry.
type Handler func(ctx context.Context, msg *model.OutboxMessage) error

// Policy controls retries and delivery rate.
type Policy struct {
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	RatePerSecond float64
	BatchSize     int
}

// DefaultPolicy returns the standard retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   8,
		BaseBackoff:   2 * time.Second,
		MaxBackoff:    10 * time.Minute,
		RatePerSecond: 20,
		BatchSize:     50,
	}
}

// Backoff returns the delay before the next attempt after attempts failures:
// BaseBackoff * 2^(attempts-1), capped at MaxBackoff.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := p.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// NewMessage builds a message of kind with a fresh idempotency key.
func NewMessage(kind string, payload any) (*model.OutboxMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return &model.OutboxMessage{
		Key:     uuid.NewString(),
		Kind:    kind,
		Payload: b,
	}, nil
}

// Dispatcher periodically delivers due outbox messages.
type Dispatcher struct {
	store    store.Store
	handlers map[string]Handler
	policy   Policy
	interval time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher for the given handlers keyed by kind.
func NewDispatcher(s store.Store, handlers map[string]Handler, policy Policy, interval time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.BatchSize <= 0 {
		policy.BatchSize = DefaultPolicy().BatchSize
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	limit := rate.Inf
	if policy.RatePerSecond > 0 {
		limit = rate.Limit(policy.RatePerSecond)
	}
	return &Dispatcher{
		store:    s,
		handlers: handlers,
		policy:   policy,
		interval: interval,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start begins periodic dispatch. It runs a pass immediately, then on each tick.
func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()
}

// Stop cancels the dispatcher and waits for the current pass to finish.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	d.dispatchLogged(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatchLogged(ctx)
		}
	}
}

func (d *Dispatcher) dispatchLogged(ctx context.Context) {
	res, err := d.DispatchOnce(ctx)
	if err != nil {
		d.logger.Error("outbox dispatch failed", "error", err)
		return
	}
	if res.Claimed > 0 {
		d.logger.Info("outbox dispatch completed",
			"claimed", res.Claimed,
			"delivered", res.Delivered,
			"retrying", res.Retrying,
			"dead", res.Dead)
	}
}

// Result summarizes one dispatch pass.
type Result struct {
	Claimed   int
	Delivered int
	Retrying  int
	Dead      int
}

// DispatchOnce claims one batch of due messages and delivers them. Claims and
// outcome marks share a transaction so concurrent dispatchers skip rows in
// flight.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (Result, error) {
	var res Result
	err := d.store.RunInTransaction(ctx, func(tx store.Store) error {
		msgs, err := tx.ClaimOutbox(ctx, d.now(), d.policy.BatchSize)
		if err != nil {
			return fmt.Errorf("claim: %w", err)
		}
		res.Claimed = len(msgs)
		for _, msg := range msgs {
			if err := d.limiter.Wait(ctx); err != nil {
				return nil
			}
			outcome, err := d.deliver(ctx, tx, msg)
			if err != nil {
				return err
			}
			switch outcome {
			case resultDelivered:
				res.Delivered++
			case resultRetry:
				res.Retrying++
			case resultDead:
				res.Dead++
			}
		}
		return nil
	})
	return res, err
}

const (
	resultDelivered = "delivered"
	resultRetry     = "retry"
	resultDead      = "dead"
)

func (d *Dispatcher) deliver(ctx context.Context, tx store.Store, msg *model.OutboxMessage) (string, error) {
	h, ok := d.handlers[msg.Kind]
	if !ok {
		d.logger.Error("outbox: no handler for kind", "kind", msg.Kind, "key", msg.Key)
		if err := tx.MarkOutboxFailed(ctx, msg.ID, "no handler for kind "+msg.Kind, d.now(), true); err != nil {
			return "", fmt.Errorf("mark %d dead: %w", msg.ID, err)
		}
		metrics.OutboxDelivery(msg.Kind, resultDead)
		return resultDead, nil
	}

	if herr := h(ctx, msg); herr != nil {
		attempts := msg.Attempts + 1
		dead := attempts >= d.policy.MaxAttempts
		next := d.now().Add(d.policy.Backoff(attempts))
		outcome := resultRetry
		if dead {
			outcome = resultDead
		}
		d.logger.Warn("outbox delivery failed",
			"kind", msg.Kind,
			"key", msg.Key,
			"attempts", attempts,
			"dead", dead,
			"error", herr)
		if err := tx.MarkOutboxFailed(ctx, msg.ID, herr.Error(), next, dead); err != nil {
			return "", fmt.Errorf("mark %d failed: %w", msg.ID, err)
		}
		metrics.OutboxDelivery(msg.Kind, outcome)
		return outcome, nil
	}

	if err := tx.MarkOutboxDelivered(ctx, msg.ID, d.now()); err != nil {
		return "", fmt.Errorf("mark %d delivered: %w", msg.ID, err)
	}
	metrics.OutboxDelivery(msg.Kind, resultDelivered)
	return resultDelivered, nil
}
