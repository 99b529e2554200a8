// Package observer keeps a live local copy of one verification session.
//
// A View fetches the session once, then applies changes from the event
// stream. Value edits are debounced per item; while an item has an
// unflushed edit, remote updates to that item's value are held back so the
// local input is not clobbered.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/events"
	"github.com/alfredjeanlab/verifyd/internal/model"
)

// DefaultDebounce is the quiet period after the last edit before a value is
// written.
const DefaultDebounce = 500 * time.Millisecond

// ErrClosed is returned by operations on a closed view.
var ErrClosed = errors.New("observer: view closed")

// Backend is the write and fetch surface a view needs. The acting identity
// is bound by the implementation.
type Backend interface {
	GetSession(ctx context.Context, id string) (*model.SessionDetail, error)
	UpdateValue(ctx context.Context, itemID, value string) (*model.Item, error)
	ToggleVerified(ctx context.Context, itemID string, checked bool) (*model.Item, error)
}

// Option configures a View.
type Option func(*View)

// WithDebounce sets the debounce window for value edits.
func WithDebounce(d time.Duration) Option {
	return func(v *View) { v.debounce = d }
}

// WithPolicy sets the transfer policy used to derive CanTransfer locally.
func WithPolicy(p model.TransferPolicy) Option {
	return func(v *View) { v.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *View) { v.logger = l }
}

// WithOnChange registers a callback invoked with a fresh snapshot after every
// applied remote change or local edit.
func WithOnChange(fn func(*model.SessionDetail)) Option {
	return func(v *View) { v.onChange = fn }
}

// WithOnError registers a callback for debounced writes that fail. The
// failed edit is discarded and the item shows the server's value again.
func WithOnError(fn func(itemID string, err error)) Option {
	return func(v *View) { v.onError = fn }
}

// View is one observer's state for a session.
type View struct {
	backend  Backend
	debounce time.Duration
	policy   model.TransferPolicy
	logger   *slog.Logger
	onChange func(*model.SessionDetail)
	onError  func(string, error)

	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	inCallback int
	session *model.Session
	order   []string
	items   map[string]*model.Item
	pending map[string]*pendingWrite
}

// Attach subscribes to the session's change stream, fetches the full
// session, and starts applying changes. Changes that arrive between the
// subscribe and the fetch are reconciled by item revision.
func Attach(ctx context.Context, backend Backend, sub events.Subscriber, sessionID string, opts ...Option) (*View, error) {
	v := &View{
		backend:  backend,
		debounce: DefaultDebounce,
		policy:   model.DefaultTransferPolicy(),
		logger:   slog.Default(),
		items:    make(map[string]*model.Item),
		pending:  make(map[string]*pendingWrite),
	}
	for _, o := range opts {
		o(v)
	}

	ch, unsub, err := sub.Subscribe(events.SessionWildcard(sessionID))
	if err != nil {
		return nil, fmt.Errorf("subscribe session %s: %w", sessionID, err)
	}

	detail, err := backend.GetSession(ctx, sessionID)
	if err != nil {
		unsub()
		return nil, err
	}
	v.session = detail.Session
	for _, it := range detail.Items {
		v.order = append(v.order, it.ID)
		v.items[it.ID] = it
	}

	v.ctx, v.cancel = context.WithCancel(context.Background())
	v.unsub = unsub
	v.wg.Add(1)
	go v.listen(ch)
	return v, nil
}

func (v *View) listen(ch <-chan []byte) {
	defer v.wg.Done()
	for {
		select {
		case <-v.ctx.Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			var c events.Change
			if err := json.Unmarshal(data, &c); err != nil {
				v.logger.Warn("undecodable change", "error", err)
				continue
			}
			if v.Apply(c) {
				v.notify()
			}
		}
	}
}

// Apply merges one change into the view. It reports whether anything the
// observer sees changed. Item changes not newer than the held revision are
// dropped.
func (v *View) Apply(c events.Change) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.session == nil || c.SessionID != v.session.ID {
		return false
	}

	switch c.Kind {
	case events.KindItemUpdated:
		if c.Item == nil {
			return false
		}
		return v.applyItem(c.Item)
	case events.KindCreated, events.KindTransferred:
		if c.Session == nil {
			return false
		}
		if !c.Session.Status.IsValid() || statusRank(c.Session.Status) < statusRank(v.session.Status) {
			return false
		}
		s := *c.Session
		v.session = &s
		return true
	}
	return false
}

// applyItem must be called with v.mu held.
func (v *View) applyItem(it *model.Item) bool {
	held, ok := v.items[it.ID]
	if !ok {
		return false
	}
	if it.Revision <= held.Revision {
		return false
	}
	c := it.Clone()
	v.items[it.ID] = c
	return true
}

func statusRank(s model.Status) int {
	switch s {
	case model.StatusInProgress:
		return 0
	case model.StatusTransferred:
		return 1
	case model.StatusCompleted:
		return 2
	}
	return -1
}

// SetValue records a local edit. The new value is visible in Snapshot
// immediately and written once the debounce window passes without another
// edit to the same item.
func (v *View) SetValue(itemID, value string) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if _, ok := v.items[itemID]; !ok {
		v.mu.Unlock()
		return model.NotFound("item", itemID)
	}
	p, ok := v.pending[itemID]
	if !ok {
		p = &pendingWrite{itemID: itemID}
		v.pending[itemID] = p
	}
	p.start(value, v.debounce, func() { v.fire(itemID) })
	v.mu.Unlock()

	v.notify()
	return nil
}

// ToggleVerified writes the confirmation flag immediately.
func (v *View) ToggleVerified(ctx context.Context, itemID string, checked bool) (*model.Item, error) {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	it, err := v.backend.ToggleVerified(ctx, itemID, checked)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	changed := v.applyItem(it)
	v.mu.Unlock()
	if changed {
		v.notify()
	}
	return it, nil
}

// Flush writes every pending edit now and returns the first error.
func (v *View) Flush(ctx context.Context) error {
	v.mu.Lock()
	ids := make([]string, 0, len(v.pending))
	for id := range v.pending {
		ids = append(ids, id)
	}
	v.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := v.flushItem(ctx, id, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending reports whether itemID has an unwritten local edit.
func (v *View) Pending(itemID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.pending[itemID]
	return ok
}

// fire runs when an item's debounce timer expires. Close waits for it.
func (v *View) fire(itemID string) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.wg.Add(1)
	v.mu.Unlock()
	defer v.wg.Done()

	_ = v.flushItem(v.ctx, itemID, false)
}

// flushItem writes itemID's pending value. If a write for the item is
// already in flight it only marks the item dirty, so the running write sends
// the latest value next; with wait set it then blocks until that run ends.
func (v *View) flushItem(ctx context.Context, itemID string, wait bool) error {
	for {
		v.mu.Lock()
		if v.closed {
			v.mu.Unlock()
			return ErrClosed
		}
		p, ok := v.pending[itemID]
		if !ok {
			v.mu.Unlock()
			return nil
		}
		f := p.flight
		if f == nil {
			return v.write(ctx, p)
		}
		p.dirty = true
		p.cancel()
		v.mu.Unlock()

		if !wait {
			return nil
		}
		select {
		case <-f.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if f.err != nil {
			return f.err
		}
	}
}

// write sends p's value, then any newer value marked dirty while the
// previous write was in flight. It must be called with v.mu held and
// returns with it released.
func (v *View) write(ctx context.Context, p *pendingWrite) error {
	f := &flight{done: make(chan struct{})}
	p.flight = f

	var errs []error
	for {
		value, seq := p.take()
		v.mu.Unlock()

		it, err := v.backend.UpdateValue(ctx, p.itemID, value)

		v.mu.Lock()
		if err != nil {
			v.logger.Warn("debounced write failed", "item_id", p.itemID, "error", err)
			errs = append(errs, err)
		} else {
			v.applyItem(it)
		}
		if v.closed {
			break
		}
		if p.seq == seq {
			// Nothing newer was typed; a failed edit is discarded.
			delete(v.pending, p.itemID)
			break
		}
		if !p.dirty {
			// A newer edit is still inside its debounce window.
			break
		}
	}

	p.flight = nil
	f.err = errors.Join(errs...)
	close(f.done)
	v.mu.Unlock()

	if v.onError != nil {
		for _, err := range errs {
			v.callback(func() { v.onError(p.itemID, err) })
		}
	}
	v.notify()
	return f.err
}

// Snapshot returns a copy of the session as this observer sees it: server
// state with unflushed local edits laid over it.
func (v *View) Snapshot() *model.SessionDetail {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) snapshotLocked() *model.SessionDetail {
	if v.session == nil {
		return &model.SessionDetail{}
	}
	s := *v.session
	items := make([]*model.Item, 0, len(v.order))
	for _, id := range v.order {
		it := v.items[id].Clone()
		if p, ok := v.pending[id]; ok {
			it.SetValue(p.value)
		}
		items = append(items, it)
	}
	progress := model.ItemProgress(items)
	return &model.SessionDetail{
		Session:     &s,
		Items:       items,
		Progress:    progress,
		CanTransfer: v.policy.Allows(&s, progress),
	}
}

func (v *View) notify() {
	if v.onChange == nil {
		return
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	snap := v.snapshotLocked()
	v.inCallback++
	v.mu.Unlock()
	defer v.leaveCallback()
	v.onChange(snap)
}

// callback runs fn unless the view is closed.
func (v *View) callback(fn func()) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.inCallback++
	v.mu.Unlock()
	defer v.leaveCallback()
	fn()
}

func (v *View) leaveCallback() {
	v.mu.Lock()
	v.inCallback--
	v.mu.Unlock()
}

// Close cancels this view's pending edits without writing them, stops the
// stream, and waits for the listener and any timer-started write to exit.
// No callback starts after Close returns. Other views are unaffected.
//
// Close may be called from an OnChange or OnError callback. It then returns
// without waiting, and the view's goroutines exit once the callback returns.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	for id, p := range v.pending {
		p.cancel()
		delete(v.pending, id)
	}
	inCallback := v.inCallback > 0
	v.mu.Unlock()

	v.cancel()
	v.unsub()
	if !inCallback {
		v.wg.Wait()
	}
	return nil
}
