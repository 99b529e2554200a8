// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	queries
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return newStore(db), nil
}

func newStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{queries: queries{db: db}, db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{queries: queries{db: tx}}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	queries
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}

// queries binds the query functions to an executor. Both the pooled store and
// the transaction store embed it.
type queries struct {
	db executor
}

func (q queries) CreateSession(ctx context.Context, sess *model.Session) error {
	return queryCreateSession(ctx, q.db, sess)
}

func (q queries) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return queryGetSession(ctx, q.db, id)
}

func (q queries) ListSessions(ctx context.Context, filter model.SessionFilter) ([]*model.Session, error) {
	return queryListSessions(ctx, q.db, filter)
}

func (q queries) TransitionSession(ctx context.Context, id string, from, to model.Status) (*model.Session, error) {
	return queryTransitionSession(ctx, q.db, id, from, to)
}

func (q queries) ListOrphanSessions(ctx context.Context, cutoff time.Time) ([]*model.Session, error) {
	return queryListOrphanSessions(ctx, q.db, cutoff)
}

func (q queries) CreateItems(ctx context.Context, items []*model.Item) error {
	return queryCreateItems(ctx, q.db, items)
}

func (q queries) GetItem(ctx context.Context, id string) (*model.Item, error) {
	return queryGetItem(ctx, q.db, id)
}

func (q queries) ListItems(ctx context.Context, sessionID string) ([]*model.Item, error) {
	return queryListItems(ctx, q.db, sessionID)
}

func (q queries) UpdateItemValue(ctx context.Context, id, value, actorID string) (*model.Item, error) {
	return queryUpdateItemValue(ctx, q.db, id, value, actorID)
}

func (q queries) SetItemVerified(ctx context.Context, id string, checked bool, actorID string) (*model.Item, error) {
	return querySetItemVerified(ctx, q.db, id, checked, actorID)
}

func (q queries) GetLead(ctx context.Context, submissionID string) (*model.Lead, error) {
	return queryGetLead(ctx, q.db, submissionID)
}

func (q queries) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	return queryGetAgent(ctx, q.db, id)
}

func (q queries) AppendCallUpdate(ctx context.Context, u *model.CallUpdate) error {
	return queryAppendCallUpdate(ctx, q.db, u)
}

func (q queries) ListCallUpdates(ctx context.Context, submissionID string) ([]*model.CallUpdate, error) {
	return queryListCallUpdates(ctx, q.db, submissionID)
}

func (q queries) EnqueueOutbox(ctx context.Context, msg *model.OutboxMessage) error {
	return queryEnqueueOutbox(ctx, q.db, msg)
}

func (q queries) ClaimOutbox(ctx context.Context, now time.Time, limit int) ([]*model.OutboxMessage, error) {
	return queryClaimOutbox(ctx, q.db, now, limit)
}

func (q queries) MarkOutboxDelivered(ctx context.Context, id int64, at time.Time) error {
	return queryMarkOutboxDelivered(ctx, q.db, id, at)
}

func (q queries) MarkOutboxFailed(ctx context.Context, id int64, lastErr string, next time.Time, dead bool) error {
	return queryMarkOutboxFailed(ctx, q.db, id, lastErr, next, dead)
}

// requireRow returns a *model.NotFoundError when an UPDATE matched no rows.
func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return model.NotFound(kind, id)
	}
	return nil
}
