package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/model"
)

const outboxColumns = `id, key, kind, payload, attempts, next_attempt_at,
	delivered_at, dead_at, last_error, created_at`

func queryEnqueueOutbox(ctx context.Context, db executor, m *model.OutboxMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.NextAttemptAt.IsZero() {
		m.NextAttemptAt = m.CreatedAt
	}
	err := db.QueryRowContext(ctx, `
		INSERT INTO outbox (key, kind, payload, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		m.Key, m.Kind, jsonbBytes(m.Payload), m.NextAttemptAt, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return classify("enqueue outbox", err)
	}
	return nil
}

// queryClaimOutbox must run inside a transaction; SKIP LOCKED lets several
// dispatchers share the table without delivering a message twice.
func queryClaimOutbox(ctx context.Context, db executor, now time.Time, limit int) ([]*model.OutboxMessage, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+outboxColumns+` FROM outbox
		WHERE delivered_at IS NULL AND dead_at IS NULL AND next_attempt_at <= $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	defer rows.Close()

	var msgs []*model.OutboxMessage
	for rows.Next() {
		m, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return msgs, nil
}

func queryMarkOutboxDelivered(ctx context.Context, db executor, id int64, at time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE outbox SET delivered_at = $2, attempts = attempts + 1, last_error = NULL
		WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("mark outbox delivered: %w", err)
	}
	return requireRow(res, "outbox message", fmt.Sprint(id))
}

func queryMarkOutboxFailed(ctx context.Context, db executor, id int64, lastErr string, next time.Time, dead bool) error {
	var deadAt *time.Time
	if dead {
		now := time.Now().UTC()
		deadAt = &now
	}
	res, err := db.ExecContext(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3, dead_at = $4
		WHERE id = $1`,
		id, lastErr, next, nullTimePtr(deadAt),
	)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return requireRow(res, "outbox message", fmt.Sprint(id))
}
