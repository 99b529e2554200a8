package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/verifyd/internal/model"
)

func queryAppendCallUpdate(ctx context.Context, db executor, u *model.CallUpdate) error {
	details := jsonbBytes(u.EventDetails)
	err := db.QueryRowContext(ctx, `
		INSERT INTO call_update_logs (
			submission_id, actor_id, actor_type, actor_name, event_type, event_details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		u.SubmissionID,
		u.ActorID,
		string(u.ActorType),
		nullString(u.ActorName),
		u.EventType,
		details,
		u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("append call update: %w", err)
	}
	return nil
}

func queryListCallUpdates(ctx context.Context, db executor, submissionID string) ([]*model.CallUpdate, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, submission_id, actor_id, actor_type, actor_name, event_type, event_details, created_at
		FROM call_update_logs
		WHERE submission_id = $1
		ORDER BY created_at, id`,
		submissionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list call updates: %w", err)
	}
	defer rows.Close()

	var updates []*model.CallUpdate
	for rows.Next() {
		var (
			u         model.CallUpdate
			actorName sql.NullString
			details   []byte
		)
		if err := rows.Scan(
			&u.ID,
			&u.SubmissionID,
			&u.ActorID,
			&u.ActorType,
			&actorName,
			&u.EventType,
			&details,
			&u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan call updates: %w", err)
		}
		u.ActorName = actorName.String
		if len(details) > 0 {
			u.EventDetails = json.RawMessage(details)
		}
		updates = append(updates, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call updates: %w", err)
	}
	return updates, nil
}
