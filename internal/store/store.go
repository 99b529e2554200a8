package store

import (
	"context"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/model"
)

// Store defines the persistence interface for verification sessions.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, sess *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context, filter model.SessionFilter) ([]*model.Session, error)
	// TransitionSession moves a session from one status to another. It returns
	// the updated session, or a *model.NotFoundError when no session with that
	// id is in the from status.
	TransitionSession(ctx context.Context, id string, from, to model.Status) (*model.Session, error)
	// ListOrphanSessions returns sessions started before cutoff that own no items.
	ListOrphanSessions(ctx context.Context, cutoff time.Time) ([]*model.Session, error)

	// Items
	CreateItems(ctx context.Context, items []*model.Item) error
	GetItem(ctx context.Context, id string) (*model.Item, error)
	ListItems(ctx context.Context, sessionID string) ([]*model.Item, error)
	UpdateItemValue(ctx context.Context, id, value, actorID string) (*model.Item, error)
	SetItemVerified(ctx context.Context, id string, checked bool, actorID string) (*model.Item, error)

	// Leads and agents (read-only; owned by the CRM)
	GetLead(ctx context.Context, submissionID string) (*model.Lead, error)
	GetAgent(ctx context.Context, id string) (*model.Agent, error)

	// Audit trail
	AppendCallUpdate(ctx context.Context, u *model.CallUpdate) error
	ListCallUpdates(ctx context.Context, submissionID string) ([]*model.CallUpdate, error)

	// Outbox
	EnqueueOutbox(ctx context.Context, msg *model.OutboxMessage) error
	// ClaimOutbox returns up to limit undelivered, live messages due at or
	// before now, locking them against other dispatchers for the transaction.
	ClaimOutbox(ctx context.Context, now time.Time, limit int) ([]*model.OutboxMessage, error)
	MarkOutboxDelivered(ctx context.Context, id int64, at time.Time) error
	MarkOutboxFailed(ctx context.Context, id int64, lastErr string, next time.Time, dead bool) error

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
