package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/verifyd/internal/model"
)

// sessionColumns is the column list used for SELECT statements on verification_sessions.
const sessionColumns = `id, submission_id, buffer_agent_id, licensed_agent_id,
	status, started_at, total_fields, transferred_at, updated_at`

// itemColumns is the column list used for SELECT statements on verification_items.
const itemColumns = `id, session_id, field_name, field_category, position,
	original_value, verified_value, is_verified, is_modified, revision,
	updated_at, updated_by`

// itemInsertWidth is the number of bound parameters per item row.
const itemInsertWidth = 12

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreateSession(ctx context.Context, db executor, s *model.Session) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO verification_sessions (
			id, submission_id, buffer_agent_id, licensed_agent_id,
			status, started_at, total_fields, transferred_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID,
		s.SubmissionID,
		nullString(s.BufferAgentID),
		s.LicensedAgentID,
		string(s.Status),
		s.StartedAt,
		s.TotalFields,
		nullTimePtr(s.TransferredAt),
		s.UpdatedAt,
	)
	if err != nil {
		return classify("insert session", err)
	}
	return nil
}

func queryGetSession(ctx context.Context, db executor, id string) (*model.Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM verification_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, "session", id)
	}
	return s, nil
}

func queryListSessions(ctx context.Context, db executor, filter model.SessionFilter) ([]*model.Session, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		whereClauses = append(whereClauses, "status = ANY("+nextArg()+")")
		args = append(args, pq.Array(statuses))
	}
	if filter.SubmissionID != "" {
		whereClauses = append(whereClauses, "submission_id = "+nextArg())
		args = append(args, filter.SubmissionID)
	}
	if filter.StartedBefore != nil {
		whereClauses = append(whereClauses, "started_at < "+nextArg())
		args = append(args, *filter.StartedBefore)
	}

	query := "SELECT " + sessionColumns + " FROM verification_sessions"
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sessions: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func queryTransitionSession(ctx context.Context, db executor, id string, from, to model.Status) (*model.Session, error) {
	now := time.Now().UTC()
	var transferredAt *time.Time
	if to == model.StatusTransferred {
		transferredAt = &now
	}
	row := db.QueryRowContext(ctx, `
		UPDATE verification_sessions
		SET status = $3, updated_at = $4, transferred_at = COALESCE($5, transferred_at)
		WHERE id = $1 AND status = $2
		RETURNING `+sessionColumns,
		id, string(from), string(to), now, nullTimePtr(transferredAt),
	)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, string(from)+" session", id)
	}
	return s, nil
}

func queryListOrphanSessions(ctx context.Context, db executor, cutoff time.Time) ([]*model.Session, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM verification_sessions s
		WHERE s.started_at < $1
		AND NOT EXISTS (SELECT 1 FROM verification_items i WHERE i.session_id = s.id)
		ORDER BY s.started_at`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list orphan sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan orphan sessions: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// queryCreateItems inserts the whole batch in one multi-row statement so the
// set lands or fails together.
func queryCreateItems(ctx context.Context, db executor, items []*model.Item) error {
	if len(items) == 0 {
		return nil
	}

	values := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*itemInsertWidth)
	for i, it := range items {
		base := i * itemInsertWidth
		ph := make([]string, itemInsertWidth)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			it.ID,
			it.SessionID,
			it.FieldName,
			string(it.FieldCategory),
			it.Position,
			it.OriginalValue,
			it.VerifiedValue,
			it.IsVerified,
			it.IsModified,
			it.Revision,
			it.UpdatedAt,
			nullString(it.UpdatedBy),
		)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO verification_items (`+itemColumns+`)
		VALUES `+strings.Join(values, ", "),
		args...,
	)
	if err != nil {
		return classify("insert items", err)
	}
	return nil
}

func queryGetItem(ctx context.Context, db executor, id string) (*model.Item, error) {
	row := db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM verification_items WHERE id = $1`, id)
	it, err := scanItem(row)
	if err != nil {
		return nil, notFound(err, "item", id)
	}
	return it, nil
}

func queryListItems(ctx context.Context, db executor, sessionID string) ([]*model.Item, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM verification_items
		WHERE session_id = $1
		ORDER BY position`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan items: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// queryUpdateItemValue recomputes is_modified in the same statement so the
// flag can never disagree with the stored value.
func queryUpdateItemValue(ctx context.Context, db executor, id, value, actorID string) (*model.Item, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE verification_items
		SET verified_value = $2,
			is_modified = (original_value <> $2),
			revision = revision + 1,
			updated_at = NOW(),
			updated_by = $3
		WHERE id = $1
		RETURNING `+itemColumns,
		id, value, nullString(actorID),
	)
	it, err := scanItem(row)
	if err != nil {
		return nil, notFound(err, "item", id)
	}
	return it, nil
}

func querySetItemVerified(ctx context.Context, db executor, id string, checked bool, actorID string) (*model.Item, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE verification_items
		SET is_verified = $2,
			revision = revision + 1,
			updated_at = NOW(),
			updated_by = $3
		WHERE id = $1
		RETURNING `+itemColumns,
		id, checked, nullString(actorID),
	)
	it, err := scanItem(row)
	if err != nil {
		return nil, notFound(err, "item", id)
	}
	return it, nil
}

func queryGetLead(ctx context.Context, db executor, submissionID string) (*model.Lead, error) {
	var (
		l           model.Lead
		name        sql.NullString
		vendor      sql.NullString
		bufferAgent sql.NullString
		data        []byte
	)
	err := db.QueryRowContext(ctx, `
		SELECT submission_id, customer_name, lead_vendor, buffer_agent_id, data
		FROM leads WHERE submission_id = $1`,
		submissionID,
	).Scan(&l.SubmissionID, &name, &vendor, &bufferAgent, &data)
	if err != nil {
		return nil, notFound(err, "lead", submissionID)
	}
	l.CustomerName = name.String
	l.LeadVendor = vendor.String
	l.BufferAgentID = bufferAgent.String
	if len(data) > 0 {
		l.Data = data
	}
	return &l, nil
}

func queryGetAgent(ctx context.Context, db executor, id string) (*model.Agent, error) {
	var a model.Agent
	err := db.QueryRowContext(ctx, `
		SELECT id, display_name, licensed FROM agents WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.DisplayName, &a.Licensed)
	if err != nil {
		return nil, notFound(err, "agent", id)
	}
	return &a, nil
}
