package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/verifyd/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanSession scans a single row into a model.Session.
// The row must contain columns in the order defined by sessionColumns.
func scanSession(row scannable) (*model.Session, error) {
	var s model.Session
	var (
		bufferAgent   sql.NullString
		transferredAt sql.NullTime
	)
	err := row.Scan(
		&s.ID,
		&s.SubmissionID,
		&bufferAgent,
		&s.LicensedAgentID,
		&s.Status,
		&s.StartedAt,
		&s.TotalFields,
		&transferredAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.BufferAgentID = bufferAgent.String
	if transferredAt.Valid {
		t := transferredAt.Time
		s.TransferredAt = &t
	}
	return &s, nil
}

// scanItem scans a single row into a model.Item.
// The row must contain columns in the order defined by itemColumns.
func scanItem(row scannable) (*model.Item, error) {
	var it model.Item
	var updatedBy sql.NullString
	err := row.Scan(
		&it.ID,
		&it.SessionID,
		&it.FieldName,
		&it.FieldCategory,
		&it.Position,
		&it.OriginalValue,
		&it.VerifiedValue,
		&it.IsVerified,
		&it.IsModified,
		&it.Revision,
		&it.UpdatedAt,
		&updatedBy,
	)
	if err != nil {
		return nil, err
	}
	it.UpdatedBy = updatedBy.String
	return &it, nil
}

// scanOutbox scans a single row into a model.OutboxMessage.
func scanOutbox(row scannable) (*model.OutboxMessage, error) {
	var m model.OutboxMessage
	var (
		payload     []byte
		deliveredAt sql.NullTime
		deadAt      sql.NullTime
		lastError   sql.NullString
	)
	err := row.Scan(
		&m.ID,
		&m.Key,
		&m.Kind,
		&payload,
		&m.Attempts,
		&m.NextAttemptAt,
		&deliveredAt,
		&deadAt,
		&lastError,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		m.Payload = json.RawMessage(payload)
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		m.DeliveredAt = &t
	}
	if deadAt.Valid {
		t := deadAt.Time
		m.DeadAt = &t
	}
	m.LastError = lastError.String
	return &m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func jsonbBytes(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// classify wraps a write error, marking unique violations as conflicts.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return &model.PersistenceError{Op: op, Conflict: true, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// notFound maps sql.ErrNoRows to a *model.NotFoundError and passes other
// errors through.
func notFound(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.NotFound(kind, id)
	}
	return err
}
