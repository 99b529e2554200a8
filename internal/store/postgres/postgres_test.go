package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var sessionRowColumns = []string{
	"id", "submission_id", "buffer_agent_id", "licensed_agent_id",
	"status", "started_at", "total_fields", "transferred_at", "updated_at",
}

var itemRowColumns = []string{
	"id", "session_id", "field_name", "field_category", "position",
	"original_value", "verified_value", "is_verified", "is_modified", "revision",
	"updated_at", "updated_by",
}

var outboxRowColumns = []string{
	"id", "key", "kind", "payload", "attempts", "next_attempt_at",
	"delivered_at", "dead_at", "last_error", "created_at",
}

func TestScanHelpers(t *testing.T) {
	if nullTimePtr(nil).Valid {
		t.Error("nullTimePtr(nil) should be invalid")
	}
	now := time.Now()
	if nt := nullTimePtr(&now); !nt.Valid || !nt.Time.Equal(now) {
		t.Errorf("nullTimePtr(now) = %v", nt)
	}

	if nullString("").Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if ns := nullString("hello"); !ns.Valid || ns.String != "hello" {
		t.Errorf("nullString(\"hello\") = %v", ns)
	}

	if jsonbBytes(nil) != nil {
		t.Error("jsonbBytes(nil) should be nil")
	}
	input := json.RawMessage(`{"key":"value"}`)
	if string(jsonbBytes(input)) != `{"key":"value"}` {
		t.Errorf("jsonbBytes = %s", jsonbBytes(input))
	}
}

func TestClassify(t *testing.T) {
	err := classify("insert session", &pq.Error{Code: uniqueViolation})
	var pe *model.PersistenceError
	if !errors.As(err, &pe) || !pe.Conflict {
		t.Fatalf("expected conflict PersistenceError, got %v", err)
	}

	err = classify("insert session", errors.New("connection reset"))
	if errors.As(err, &pe) {
		t.Fatalf("plain errors should not be classified as conflicts: %v", err)
	}
}

func TestQueryCreateSession(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	sess := &model.Session{
		ID: "vs-test1", SubmissionID: "sub-1", BufferAgentID: "ba-1", LicensedAgentID: "la-1",
		Status: model.StatusInProgress, StartedAt: now, TotalFields: 30, UpdatedAt: now,
	}
	mock.ExpectExec("INSERT INTO verification_sessions").
		WithArgs("vs-test1", "sub-1", sqlmock.AnyArg(), "la-1", "in_progress", now, 30, sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryCreateSession(context.Background(), db, sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryGetSession(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(sessionRowColumns).
		AddRow("vs-test1", "sub-1", nil, "la-1", "in_progress", now, 30, nil, now)
	mock.ExpectQuery("SELECT .+ FROM verification_sessions WHERE id = \\$1").WithArgs("vs-test1").WillReturnRows(rows)

	sess, err := queryGetSession(context.Background(), db, "vs-test1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.ID != "vs-test1" || sess.Status != model.StatusInProgress || sess.TotalFields != 30 {
		t.Fatalf("got %+v", sess)
	}
	if sess.HasBufferAgent() {
		t.Errorf("expected no buffer agent, got %q", sess.BufferAgentID)
	}
	if sess.TransferredAt != nil {
		t.Errorf("expected nil TransferredAt")
	}
}

func TestQueryGetSession_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM verification_sessions WHERE id = \\$1").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := queryGetSession(context.Background(), db, "missing")
	if !model.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestQueryListSessions(t *testing.T) {
	for _, tc := range []struct {
		name   string
		filter model.SessionFilter
		query  string
		args   int
	}{
		{"no filter", model.SessionFilter{}, "SELECT .+ FROM verification_sessions ORDER BY started_at DESC$", 0},
		{"status", model.SessionFilter{Status: []model.Status{model.StatusTransferred}}, "WHERE status = ANY\\(\\$1\\)", 1},
		{"submission and limit", model.SessionFilter{SubmissionID: "sub-1", Limit: 5}, "WHERE submission_id = \\$1 ORDER BY started_at DESC LIMIT \\$2", 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			now := time.Now().UTC()
			args := make([]driver.Value, tc.args)
			for i := range args {
				args[i] = sqlmock.AnyArg()
			}
			exp := mock.ExpectQuery(tc.query)
			if len(args) > 0 {
				exp = exp.WithArgs(args...)
			}
			exp.WillReturnRows(sqlmock.NewRows(sessionRowColumns).
				AddRow("vs-1", "sub-1", "ba-1", "la-1", "transferred", now, 30, now, now))

			got, err := queryListSessions(context.Background(), db, tc.filter)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != 1 || got[0].TransferredAt == nil {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestQueryTransitionSession(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("UPDATE verification_sessions\\s+SET status = \\$3").
		WithArgs("vs-1", "in_progress", "transferred", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).
			AddRow("vs-1", "sub-1", "ba-1", "la-1", "transferred", now, 30, now, now))

	sess, err := queryTransitionSession(context.Background(), db, "vs-1", model.StatusInProgress, model.StatusTransferred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Status != model.StatusTransferred || sess.TransferredAt == nil {
		t.Fatalf("got %+v", sess)
	}
}

func TestQueryTransitionSession_WrongStatus(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("UPDATE verification_sessions").
		WithArgs("vs-1", "in_progress", "transferred", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	_, err := queryTransitionSession(context.Background(), db, "vs-1", model.StatusInProgress, model.StatusTransferred)
	if !model.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestQueryListOrphanSessions(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("NOT EXISTS \\(SELECT 1 FROM verification_items").
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).
			AddRow("vs-orphan", "sub-1", nil, "la-1", "in_progress", now.Add(-time.Hour), 30, nil, now))

	got, err := queryListOrphanSessions(context.Background(), db, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "vs-orphan" {
		t.Fatalf("got %+v", got)
	}
}

func TestQueryCreateItems(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	items := []*model.Item{
		{ID: "vi-1", SessionID: "vs-1", FieldName: "customer_first_name", FieldCategory: model.CategoryClient, Position: 0, OriginalValue: "John", VerifiedValue: "John", UpdatedAt: now},
		{ID: "vi-2", SessionID: "vs-1", FieldName: "email", FieldCategory: model.CategoryClient, Position: 1, UpdatedAt: now},
	}
	args := make([]driver.Value, 2*itemInsertWidth)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	mock.ExpectExec("INSERT INTO verification_items .+ VALUES \\(\\$1, .+\\$12\\), \\(\\$13, .+\\$24\\)").
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := queryCreateItems(context.Background(), db, items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryCreateItems_Empty(t *testing.T) {
	db, _ := newMockDB(t)
	if err := queryCreateItems(context.Background(), db, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryCreateItems_Conflict(t *testing.T) {
	db, mock := newMockDB(t)
	items := []*model.Item{{ID: "vi-1", SessionID: "vs-1", FieldName: "email", FieldCategory: model.CategoryClient}}
	mock.ExpectExec("INSERT INTO verification_items").WillReturnError(&pq.Error{Code: uniqueViolation})

	err := queryCreateItems(context.Background(), db, items)
	var pe *model.PersistenceError
	if !errors.As(err, &pe) || !pe.Conflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestQueryListItems(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(itemRowColumns).
		AddRow("vi-1", "vs-1", "customer_first_name", "client", 0, "John", "Jon", false, true, 2, now, "la-1").
		AddRow("vi-2", "vs-1", "email", "client", 4, "", "", true, false, 1, now, nil)
	mock.ExpectQuery("SELECT .+ FROM verification_items\\s+WHERE session_id = \\$1\\s+ORDER BY position").
		WithArgs("vs-1").WillReturnRows(rows)

	items, err := queryListItems(context.Background(), db, "vs-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if !items[0].IsModified || items[0].IsVerified || items[0].UpdatedBy != "la-1" {
		t.Errorf("item 0 = %+v", items[0])
	}
	if items[1].IsModified || !items[1].IsVerified || items[1].UpdatedBy != "" {
		t.Errorf("item 1 = %+v", items[1])
	}
}

func TestQueryUpdateItemValue(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("UPDATE verification_items\\s+SET verified_value = \\$2,\\s+is_modified = \\(original_value <> \\$2\\)").
		WithArgs("vi-5", "john@example.com", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(itemRowColumns).
			AddRow("vi-5", "vs-1", "email", "client", 4, "", "john@example.com", false, true, 1, now, "la-1"))

	it, err := queryUpdateItemValue(context.Background(), db, "vi-5", "john@example.com", "la-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.VerifiedValue != "john@example.com" || !it.IsModified || it.IsVerified || it.Revision != 1 {
		t.Fatalf("got %+v", it)
	}
}

func TestQueryUpdateItemValue_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("UPDATE verification_items").
		WithArgs("missing", "x", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	_, err := queryUpdateItemValue(context.Background(), db, "missing", "x", "la-1")
	if !model.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestQuerySetItemVerified(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("UPDATE verification_items\\s+SET is_verified = \\$2").
		WithArgs("vi-5", true, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(itemRowColumns).
			AddRow("vi-5", "vs-1", "email", "client", 4, "", "john@example.com", true, true, 2, now, "la-1"))

	it, err := querySetItemVerified(context.Background(), db, "vi-5", true, "la-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !it.IsVerified || !it.IsModified {
		t.Fatalf("got %+v", it)
	}
}

func TestQueryGetLead(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT submission_id, customer_name, lead_vendor, buffer_agent_id, data\\s+FROM leads").
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows([]string{"submission_id", "customer_name", "lead_vendor", "buffer_agent_id", "data"}).
			AddRow("sub-1", nil, "Acme Leads", "ba-1", []byte(`{"first_name":"John","last_name":"Doe"}`)))

	lead, err := queryGetLead(context.Background(), db, "sub-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lead.LeadVendor != "Acme Leads" || lead.BufferAgentID != "ba-1" {
		t.Fatalf("got %+v", lead)
	}
	if info := lead.Info(); info.CustomerName != "John Doe" {
		t.Errorf("CustomerName = %q, want John Doe", info.CustomerName)
	}
}

func TestQueryGetLead_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("FROM leads").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := queryGetLead(context.Background(), db, "missing")
	if !model.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestQueryGetAgent(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT id, display_name, licensed FROM agents").
		WithArgs("ba-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "licensed"}).AddRow("ba-1", "Bea Buffer", false))

	a, err := queryGetAgent(context.Background(), db, "ba-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.DisplayName != "Bea Buffer" || a.Licensed {
		t.Fatalf("got %+v", a)
	}
}

func TestQueryAppendCallUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	u := &model.CallUpdate{
		SubmissionID: "sub-1", ActorID: "la-1", ActorType: model.ActorLicensedAgent, ActorName: "Lee",
		EventType: model.AuditVerificationStarted, EventDetails: json.RawMessage(`{"session_id":"vs-1"}`), CreatedAt: now,
	}
	mock.ExpectQuery("INSERT INTO call_update_logs").
		WithArgs("sub-1", "la-1", "licensed_agent", sqlmock.AnyArg(), "verification_started", sqlmock.AnyArg(), now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	if err := queryAppendCallUpdate(context.Background(), db, u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != 42 {
		t.Errorf("ID = %d, want 42", u.ID)
	}
}

func TestQueryListCallUpdates(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("FROM call_update_logs\\s+WHERE submission_id = \\$1").
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "submission_id", "actor_id", "actor_type", "actor_name", "event_type", "event_details", "created_at"}).
			AddRow(int64(1), "sub-1", "la-1", "licensed_agent", "Lee", "verification_started", []byte(`{}`), now).
			AddRow(int64(2), "sub-1", "la-1", "licensed_agent", nil, "transferred_to_la", nil, now))

	got, err := queryListCallUpdates(context.Background(), db, "sub-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].EventType != model.AuditTransferredToLA || got[1].ActorName != "" {
		t.Fatalf("got %+v", got)
	}
}

func TestQueryEnqueueOutbox(t *testing.T) {
	db, mock := newMockDB(t)
	msg := &model.OutboxMessage{Key: "k-1", Kind: model.OutboxNotifyTransfer, Payload: json.RawMessage(`{}`)}
	mock.ExpectQuery("INSERT INTO outbox").
		WithArgs("k-1", "notify.transfer", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	if err := queryEnqueueOutbox(context.Background(), db, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != 7 || msg.CreatedAt.IsZero() || !msg.NextAttemptAt.Equal(msg.CreatedAt) {
		t.Fatalf("got %+v", msg)
	}
}

func TestQueryClaimOutbox(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(now, 10).
		WillReturnRows(sqlmock.NewRows(outboxRowColumns).
			AddRow(int64(1), "k-1", "presence.on_call", []byte(`{"agent_id":"la-1"}`), 0, now, nil, nil, nil, now))

	msgs, err := queryClaimOutbox(context.Background(), db, now, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Kind != model.OutboxPresenceOnCall || msgs[0].DeliveredAt != nil {
		t.Fatalf("got %+v", msgs)
	}
}

func TestQueryMarkOutbox(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectExec("UPDATE outbox SET delivered_at = \\$2").WithArgs(int64(1), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE outbox\\s+SET attempts = attempts \\+ 1, last_error = \\$2").
		WithArgs(int64(2), "boom", now, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := queryMarkOutboxDelivered(context.Background(), db, 1, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := queryMarkOutboxFailed(context.Background(), db, 2, "boom", now, true); !model.IsNotFound(err) {
		t.Fatalf("expected NotFoundError for missing row, got %v", err)
	}
}

func TestRunInTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	s := newStore(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO verification_sessions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO verification_items").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		if err := tx.CreateSession(context.Background(), &model.Session{ID: "vs-1", Status: model.StatusInProgress, StartedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return tx.CreateItems(context.Background(), []*model.Item{{ID: "vi-1", SessionID: "vs-1", FieldName: "email", FieldCategory: model.CategoryClient}})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunInTransaction_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	s := newStore(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO verification_sessions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO verification_items").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		if err := tx.CreateSession(context.Background(), &model.Session{ID: "vs-1", Status: model.StatusInProgress, StartedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return tx.CreateItems(context.Background(), []*model.Item{{ID: "vi-1", SessionID: "vs-1", FieldName: "email", FieldCategory: model.CategoryClient}})
	})
	if err == nil {
		t.Fatal("expected error")
	}
}
