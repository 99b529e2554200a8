package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/store"
)

func seedSession(t *testing.T, s *Store) {
	t.Helper()
	now := time.Now().UTC()
	if err := s.CreateSession(context.Background(), &model.Session{
		ID: "vs-1", SubmissionID: "sub-1", LicensedAgentID: "la-1",
		Status: model.StatusInProgress, StartedAt: now, TotalFields: 2, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.CreateItems(context.Background(), []*model.Item{
		{ID: "vi-1", SessionID: "vs-1", FieldName: "email", FieldCategory: model.CategoryClient, Position: 0, OriginalValue: "a@x", VerifiedValue: "a@x"},
		{ID: "vi-2", SessionID: "vs-1", FieldName: "city", FieldCategory: model.CategoryClient, Position: 1},
	}); err != nil {
		t.Fatalf("CreateItems: %v", err)
	}
}

func TestItemWritesKeepFlagsIndependent(t *testing.T) {
	s := New()
	seedSession(t, s)
	ctx := context.Background()

	it, err := s.UpdateItemValue(ctx, "vi-1", "b@x", "la-1")
	if err != nil {
		t.Fatalf("UpdateItemValue: %v", err)
	}
	if !it.IsModified || it.IsVerified || it.Revision != 1 || it.UpdatedBy != "la-1" {
		t.Fatalf("after value update: %+v", it)
	}

	it, err = s.SetItemVerified(ctx, "vi-1", true, "la-2")
	if err != nil {
		t.Fatalf("SetItemVerified: %v", err)
	}
	if !it.IsModified || !it.IsVerified || it.VerifiedValue != "b@x" || it.Revision != 2 {
		t.Fatalf("after toggle: %+v", it)
	}

	it, _ = s.UpdateItemValue(ctx, "vi-1", "a@x", "la-1")
	if it.IsModified || !it.IsVerified {
		t.Fatalf("restoring the original value should clear is_modified only: %+v", it)
	}
}

func TestCreateItems_RejectsDuplicateField(t *testing.T) {
	s := New()
	seedSession(t, s)
	err := s.CreateItems(context.Background(), []*model.Item{{ID: "vi-3", SessionID: "vs-1", FieldName: "email"}})
	var pe *model.PersistenceError
	if !errors.As(err, &pe) || !pe.Conflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestTransitionSession_RequiresFromStatus(t *testing.T) {
	s := New()
	seedSession(t, s)
	ctx := context.Background()

	sess, err := s.TransitionSession(ctx, "vs-1", model.StatusInProgress, model.StatusTransferred)
	if err != nil {
		t.Fatalf("TransitionSession: %v", err)
	}
	if sess.TransferredAt == nil {
		t.Fatal("expected TransferredAt to be set")
	}
	if _, err := s.TransitionSession(ctx, "vs-1", model.StatusInProgress, model.StatusTransferred); !model.IsNotFound(err) {
		t.Fatalf("second transition should miss, got %v", err)
	}
}

func TestRunInTransaction_RollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.CreateSession(ctx, &model.Session{ID: "vs-tx", Status: model.StatusInProgress, StartedAt: now}); err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, &model.OutboxMessage{Key: "k1", Kind: model.OutboxPresenceOnCall}); err != nil {
			return err
		}
		return errors.New("items failed")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, err := s.GetSession(ctx, "vs-tx"); !model.IsNotFound(err) {
		t.Fatalf("session should be rolled back, got %v", err)
	}
	if n := len(s.Outbox()); n != 0 {
		t.Fatalf("outbox should be rolled back, got %d", n)
	}
}

func TestRunInTransaction_RollbackKeepsOutsideWrites(t *testing.T) {
	s := New()
	seedSession(t, s)
	ctx := context.Background()

	done := make(chan error, 1)
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		if _, err := tx.UpdateItemValue(ctx, "vi-1", "tx@x", "la-1"); err != nil {
			return err
		}
		if _, err := tx.TransitionSession(ctx, "vs-1", model.StatusInProgress, model.StatusTransferred); err != nil {
			return err
		}
		go func() {
			_, err := s.UpdateItemValue(ctx, "vi-2", "Boston", "ba-1")
			done <- err
		}()
		if err := <-done; err != nil {
			return err
		}
		return errors.New("notify failed")
	})
	if err == nil {
		t.Fatal("expected error")
	}

	outside, _ := s.GetItem(ctx, "vi-2")
	if outside.VerifiedValue != "Boston" || outside.Revision != 1 {
		t.Fatalf("outside write lost: %+v", outside)
	}
	inside, _ := s.GetItem(ctx, "vi-1")
	if inside.VerifiedValue != "a@x" || inside.Revision != 0 {
		t.Fatalf("transaction write kept: %+v", inside)
	}
	sess, _ := s.GetSession(ctx, "vs-1")
	if sess.Status != model.StatusInProgress || sess.TransferredAt != nil {
		t.Fatalf("session = %+v", sess)
	}
}

func TestRunInTransaction_RollbackRestoresFirstState(t *testing.T) {
	s := New()
	seedSession(t, s)
	ctx := context.Background()
	if err := s.AppendCallUpdate(ctx, &model.CallUpdate{SubmissionID: "sub-1", EventType: "before"}); err != nil {
		t.Fatal(err)
	}

	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		for _, v := range []string{"one", "two"} {
			if _, err := tx.UpdateItemValue(ctx, "vi-1", v, "la-1"); err != nil {
				return err
			}
		}
		if err := tx.AppendCallUpdate(ctx, &model.CallUpdate{SubmissionID: "sub-1", EventType: "inside"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected error")
	}

	it, _ := s.GetItem(ctx, "vi-1")
	if it.VerifiedValue != "a@x" || it.Revision != 0 {
		t.Fatalf("item = %+v", it)
	}
	updates, _ := s.ListCallUpdates(ctx, "sub-1")
	if len(updates) != 1 || updates[0].EventType != "before" {
		t.Fatalf("call updates = %+v", updates)
	}
}

func TestListOrphanSessions(t *testing.T) {
	s := New()
	seedSession(t, s)
	old := time.Now().Add(-time.Hour)
	s.PutSession(&model.Session{ID: "vs-orphan", Status: model.StatusInProgress, StartedAt: old})

	got, err := s.ListOrphanSessions(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ListOrphanSessions: %v", err)
	}
	if len(got) != 1 || got[0].ID != "vs-orphan" {
		t.Fatalf("got %+v", got)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	msg := &model.OutboxMessage{Key: "k1", Kind: model.OutboxNotifyTransfer, NextAttemptAt: now}
	if err := s.EnqueueOutbox(ctx, msg); err != nil {
		t.Fatalf("EnqueueOutbox: %v", err)
	}
	if err := s.EnqueueOutbox(ctx, &model.OutboxMessage{Key: "k1"}); err == nil {
		t.Fatal("expected duplicate key to fail")
	}

	claimed, _ := s.ClaimOutbox(ctx, now, 10)
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimable, got %d", len(claimed))
	}
	if err := s.MarkOutboxFailed(ctx, msg.ID, "boom", now.Add(time.Minute), false); err != nil {
		t.Fatalf("MarkOutboxFailed: %v", err)
	}
	if claimed, _ := s.ClaimOutbox(ctx, now, 10); len(claimed) != 0 {
		t.Fatalf("message should be backed off, got %d", len(claimed))
	}
	if err := s.MarkOutboxDelivered(ctx, msg.ID, now); err != nil {
		t.Fatalf("MarkOutboxDelivered: %v", err)
	}
	got := s.Outbox()[0]
	if got.Attempts != 2 || got.DeliveredAt == nil || got.LastError != "" {
		t.Fatalf("got %+v", got)
	}
}

func TestFailOn(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.FailOn("GetLead", boom)
	if _, err := s.GetLead(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	s.FailOn("GetLead", nil)
	if _, err := s.GetLead(context.Background(), "x"); !model.IsNotFound(err) {
		t.Fatalf("expected not found after clearing, got %v", err)
	}
}
