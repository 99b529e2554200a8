// Package memory implements store.Store in process memory. It backs local
// development (VERIFY_DATABASE_URL=memory://) and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/store"
)

// Store is an in-memory store.Store. Transactions are serialized with each
// other but not with plain writes; rollback reverts only the rows the
// transaction wrote.
type Store struct {
	txMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*model.Session
	items    map[string]*model.Item
	leads    map[string]*model.Lead
	agents   map[string]*model.Agent
	updates  []*model.CallUpdate
	outbox   map[int64]*model.OutboxMessage
	nextID   int64
	failures map[string]error
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*model.Session),
		items:    make(map[string]*model.Item),
		leads:    make(map[string]*model.Lead),
		agents:   make(map[string]*model.Agent),
		outbox:   make(map[int64]*model.OutboxMessage),
		failures: make(map[string]error),
	}
}

// PutLead seeds a lead record.
func (s *Store) PutLead(l *model.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *l
	s.leads[l.SubmissionID] = &c
}

// PutAgent seeds an agent profile.
func (s *Store) PutAgent(a *model.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *a
	s.agents[a.ID] = &c
}

// PutSession writes a session row directly, bypassing validation.
func (s *Store) PutSession(sess *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *sess
	s.sessions[sess.ID] = &c
}

// FailOn makes every later call to the named method return err until
// cleared with a nil err. Method names match the store.Store interface.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// fail must be called with mu held.
func (s *Store) fail(method string) error {
	return s.failures[method]
}

func (s *Store) CreateSession(_ context.Context, sess *model.Session) error {
	return s.createSession(sess, nil)
}

func (s *Store) createSession(sess *model.Session, u *undoLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateSession"); err != nil {
		return err
	}
	if _, ok := s.sessions[sess.ID]; ok {
		return &model.PersistenceError{Op: "insert session", Conflict: true, Err: fmt.Errorf("duplicate id %s", sess.ID)}
	}
	u.session(s, sess.ID)
	c := *sess
	s.sessions[sess.ID] = &c
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetSession"); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, model.NotFound("session", id)
	}
	c := *sess
	return &c, nil
}

func (s *Store) ListSessions(_ context.Context, filter model.SessionFilter) ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListSessions"); err != nil {
		return nil, err
	}
	var out []*model.Session
	for _, sess := range s.sessions {
		if len(filter.Status) > 0 && !hasStatus(filter.Status, sess.Status) {
			continue
		}
		if filter.SubmissionID != "" && sess.SubmissionID != filter.SubmissionID {
			continue
		}
		if filter.StartedBefore != nil && !sess.StartedAt.Before(*filter.StartedBefore) {
			continue
		}
		c := *sess
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func hasStatus(list []model.Status, st model.Status) bool {
	for _, v := range list {
		if v == st {
			return true
		}
	}
	return false
}

func (s *Store) TransitionSession(_ context.Context, id string, from, to model.Status) (*model.Session, error) {
	return s.transitionSession(id, from, to, nil)
}

func (s *Store) transitionSession(id string, from, to model.Status, u *undoLog) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("TransitionSession"); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[id]
	if !ok || sess.Status != from {
		return nil, model.NotFound(string(from)+" session", id)
	}
	u.session(s, id)
	now := time.Now().UTC()
	sess.Status = to
	sess.UpdatedAt = now
	if to == model.StatusTransferred {
		sess.TransferredAt = &now
	}
	c := *sess
	return &c, nil
}

func (s *Store) ListOrphanSessions(_ context.Context, cutoff time.Time) ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListOrphanSessions"); err != nil {
		return nil, err
	}
	owned := make(map[string]bool)
	for _, it := range s.items {
		owned[it.SessionID] = true
	}
	var out []*model.Session
	for _, sess := range s.sessions {
		if sess.StartedAt.Before(cutoff) && !owned[sess.ID] {
			c := *sess
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *Store) CreateItems(_ context.Context, items []*model.Item) error {
	return s.createItems(items, nil)
}

func (s *Store) createItems(items []*model.Item, u *undoLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateItems"); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, it := range s.items {
		seen[it.SessionID+"\x00"+it.FieldName] = true
	}
	for _, it := range items {
		key := it.SessionID + "\x00" + it.FieldName
		if _, dup := s.items[it.ID]; dup || seen[key] {
			return &model.PersistenceError{Op: "insert items", Conflict: true, Err: fmt.Errorf("duplicate item %s", it.FieldName)}
		}
		seen[key] = true
	}
	for _, it := range items {
		u.item(s, it.ID)
		s.items[it.ID] = it.Clone()
	}
	return nil
}

func (s *Store) GetItem(_ context.Context, id string) (*model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetItem"); err != nil {
		return nil, err
	}
	it, ok := s.items[id]
	if !ok {
		return nil, model.NotFound("item", id)
	}
	return it.Clone(), nil
}

func (s *Store) ListItems(_ context.Context, sessionID string) ([]*model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListItems"); err != nil {
		return nil, err
	}
	var out []*model.Item
	for _, it := range s.items {
		if it.SessionID == sessionID {
			out = append(out, it.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *Store) UpdateItemValue(_ context.Context, id, value, actorID string) (*model.Item, error) {
	return s.updateItemValue(id, value, actorID, nil)
}

func (s *Store) updateItemValue(id, value, actorID string, u *undoLog) (*model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpdateItemValue"); err != nil {
		return nil, err
	}
	it, ok := s.items[id]
	if !ok {
		return nil, model.NotFound("item", id)
	}
	u.item(s, id)
	it.SetValue(value)
	s.touch(it, actorID)
	return it.Clone(), nil
}

func (s *Store) SetItemVerified(_ context.Context, id string, checked bool, actorID string) (*model.Item, error) {
	return s.setItemVerified(id, checked, actorID, nil)
}

func (s *Store) setItemVerified(id string, checked bool, actorID string, u *undoLog) (*model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SetItemVerified"); err != nil {
		return nil, err
	}
	it, ok := s.items[id]
	if !ok {
		return nil, model.NotFound("item", id)
	}
	u.item(s, id)
	it.SetVerified(checked)
	s.touch(it, actorID)
	return it.Clone(), nil
}

func (s *Store) touch(it *model.Item, actorID string) {
	it.Revision++
	it.UpdatedAt = time.Now().UTC()
	it.UpdatedBy = actorID
}

func (s *Store) GetLead(_ context.Context, submissionID string) (*model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetLead"); err != nil {
		return nil, err
	}
	l, ok := s.leads[submissionID]
	if !ok {
		return nil, model.NotFound("lead", submissionID)
	}
	c := *l
	return &c, nil
}

func (s *Store) GetAgent(_ context.Context, id string) (*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetAgent"); err != nil {
		return nil, err
	}
	a, ok := s.agents[id]
	if !ok {
		return nil, model.NotFound("agent", id)
	}
	c := *a
	return &c, nil
}

func (s *Store) AppendCallUpdate(_ context.Context, cu *model.CallUpdate) error {
	return s.appendCallUpdate(cu, nil)
}

func (s *Store) appendCallUpdate(cu *model.CallUpdate, u *undoLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AppendCallUpdate"); err != nil {
		return err
	}
	s.nextID++
	cu.ID = s.nextID
	c := *cu
	s.updates = append(s.updates, &c)
	u.callUpdate(s, cu.ID)
	return nil
}

func (s *Store) ListCallUpdates(_ context.Context, submissionID string) ([]*model.CallUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListCallUpdates"); err != nil {
		return nil, err
	}
	var out []*model.CallUpdate
	for _, u := range s.updates {
		if u.SubmissionID == submissionID {
			c := *u
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) EnqueueOutbox(_ context.Context, msg *model.OutboxMessage) error {
	return s.enqueueOutbox(msg, nil)
}

func (s *Store) enqueueOutbox(msg *model.OutboxMessage, u *undoLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("EnqueueOutbox"); err != nil {
		return err
	}
	for _, m := range s.outbox {
		if m.Key == msg.Key {
			return &model.PersistenceError{Op: "enqueue outbox", Conflict: true, Err: fmt.Errorf("duplicate key %s", msg.Key)}
		}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.NextAttemptAt.IsZero() {
		msg.NextAttemptAt = msg.CreatedAt
	}
	s.nextID++
	msg.ID = s.nextID
	u.outboxRow(s, msg.ID)
	c := *msg
	s.outbox[msg.ID] = &c
	return nil
}

func (s *Store) ClaimOutbox(_ context.Context, now time.Time, limit int) ([]*model.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ClaimOutbox"); err != nil {
		return nil, err
	}
	var out []*model.OutboxMessage
	for _, m := range s.outbox {
		if m.DeliveredAt == nil && m.DeadAt == nil && !m.NextAttemptAt.After(now) {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkOutboxDelivered(_ context.Context, id int64, at time.Time) error {
	return s.markOutboxDelivered(id, at, nil)
}

func (s *Store) markOutboxDelivered(id int64, at time.Time, u *undoLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("MarkOutboxDelivered"); err != nil {
		return err
	}
	m, ok := s.outbox[id]
	if !ok {
		return model.NotFound("outbox message", strconv.FormatInt(id, 10))
	}
	u.outboxRow(s, id)
	m.Attempts++
	m.DeliveredAt = &at
	m.LastError = ""
	return nil
}

func (s *Store) MarkOutboxFailed(_ context.Context, id int64, lastErr string, next time.Time, dead bool) error {
	return s.markOutboxFailed(id, lastErr, next, dead, nil)
}

func (s *Store) markOutboxFailed(id int64, lastErr string, next time.Time, dead bool, u *undoLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("MarkOutboxFailed"); err != nil {
		return err
	}
	m, ok := s.outbox[id]
	if !ok {
		return model.NotFound("outbox message", strconv.FormatInt(id, 10))
	}
	u.outboxRow(s, id)
	m.Attempts++
	m.LastError = lastErr
	m.NextAttemptAt = next
	if dead {
		now := time.Now().UTC()
		m.DeadAt = &now
	}
	return nil
}

// Outbox returns a copy of every outbox message, ordered by id.
func (s *Store) Outbox() []*model.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		c := *m
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RunInTransaction runs fn against a transaction view of the store. When fn
// returns an error every row the transaction wrote is put back as it was;
// writes made outside the transaction in the meantime are kept.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txStore{Store: s}
	if err := fn(tx); err != nil {
		s.mu.Lock()
		tx.undo.revert()
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Close() error { return nil }

// txStore routes writes through the undo log. Reads go straight to Store.
type txStore struct {
	*Store
	undo undoLog
}

var _ store.Store = (*txStore)(nil)

func (t *txStore) CreateSession(_ context.Context, sess *model.Session) error {
	return t.createSession(sess, &t.undo)
}

func (t *txStore) TransitionSession(_ context.Context, id string, from, to model.Status) (*model.Session, error) {
	return t.transitionSession(id, from, to, &t.undo)
}

func (t *txStore) CreateItems(_ context.Context, items []*model.Item) error {
	return t.createItems(items, &t.undo)
}

func (t *txStore) UpdateItemValue(_ context.Context, id, value, actorID string) (*model.Item, error) {
	return t.updateItemValue(id, value, actorID, &t.undo)
}

func (t *txStore) SetItemVerified(_ context.Context, id string, checked bool, actorID string) (*model.Item, error) {
	return t.setItemVerified(id, checked, actorID, &t.undo)
}

func (t *txStore) AppendCallUpdate(_ context.Context, cu *model.CallUpdate) error {
	return t.appendCallUpdate(cu, &t.undo)
}

func (t *txStore) EnqueueOutbox(_ context.Context, msg *model.OutboxMessage) error {
	return t.enqueueOutbox(msg, &t.undo)
}

func (t *txStore) MarkOutboxDelivered(_ context.Context, id int64, at time.Time) error {
	return t.markOutboxDelivered(id, at, &t.undo)
}

func (t *txStore) MarkOutboxFailed(_ context.Context, id int64, lastErr string, next time.Time, dead bool) error {
	return t.markOutboxFailed(id, lastErr, next, dead, &t.undo)
}

// RunInTransaction reuses the open transaction.
func (t *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (t *txStore) Close() error { return nil }

// undoLog holds the steps that put rows back to their state before the
// transaction first wrote them. A nil log records nothing. Every method,
// and revert, must be called with Store.mu held.
type undoLog struct {
	steps   []func()
	touched map[string]bool
}

// once reports whether key is seen for the first time in this transaction.
func (u *undoLog) once(key string) bool {
	if u.touched == nil {
		u.touched = make(map[string]bool)
	}
	if u.touched[key] {
		return false
	}
	u.touched[key] = true
	return true
}

func (u *undoLog) session(s *Store, id string) {
	if u == nil || !u.once("session/"+id) {
		return
	}
	prev, ok := s.sessions[id]
	var c *model.Session
	if ok {
		cp := *prev
		c = &cp
	}
	u.steps = append(u.steps, func() {
		if c == nil {
			delete(s.sessions, id)
			return
		}
		s.sessions[id] = c
	})
}

func (u *undoLog) item(s *Store, id string) {
	if u == nil || !u.once("item/"+id) {
		return
	}
	var c *model.Item
	if prev, ok := s.items[id]; ok {
		c = prev.Clone()
	}
	u.steps = append(u.steps, func() {
		if c == nil {
			delete(s.items, id)
			return
		}
		s.items[id] = c
	})
}

func (u *undoLog) outboxRow(s *Store, id int64) {
	if u == nil || !u.once("outbox/"+strconv.FormatInt(id, 10)) {
		return
	}
	prev, ok := s.outbox[id]
	var c *model.OutboxMessage
	if ok {
		cp := *prev
		c = &cp
	}
	u.steps = append(u.steps, func() {
		if c == nil {
			delete(s.outbox, id)
			return
		}
		s.outbox[id] = c
	})
}

func (u *undoLog) callUpdate(s *Store, id int64) {
	if u == nil {
		return
	}
	u.steps = append(u.steps, func() {
		for i, cu := range s.updates {
			if cu.ID == id {
				s.updates = append(s.updates[:i], s.updates[i+1:]...)
				return
			}
		}
	})
}

func (u *undoLog) revert() {
	for i := len(u.steps) - 1; i >= 0; i-- {
		u.steps[i]()
	}
	u.steps = nil
	u.touched = nil
}
