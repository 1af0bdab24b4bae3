// File: internal/store/store.go
// PostgreSQL purchase-history store. Records every session that reached a
// terminal or handoff condition so "what did this thing buy" is always
// answerable. The store is optional: callers hold a schemas.HistoryStore
// and a nil store disables persistence.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides the PostgreSQL implementation of schemas.HistoryStore.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.HistoryStore = (*Store)(nil)

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const insertSessionSQL = `
INSERT INTO purchase_sessions
    (id, tab_id, platform, query, state, status_note, selected_title, selected_link, selected_price, started_at, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
    state = EXCLUDED.state,
    status_note = EXCLUDED.status_note,
    recorded_at = EXCLUDED.recorded_at`

const insertOrderSQL = `
INSERT INTO purchase_orders (session_id, order_id, delivery_date, recorded_at)
VALUES ($1, $2, $3, $4)`

// RecordHandoff persists a session that ended in a human handoff.
func (s *Store) RecordHandoff(ctx context.Context, session schemas.Session, note string) error {
	if _, err := s.pool.Exec(ctx, insertSessionSQL, sessionArgs(session, note)...); err != nil {
		return fmt.Errorf("failed to record session handoff: %w", err)
	}
	s.log.Debug("Session handoff recorded", zap.String("session_id", session.ID))
	return nil
}

// RecordOrder persists a session together with its confirmed order in one
// transaction.
func (s *Store) RecordOrder(ctx context.Context, session schemas.Session, order schemas.OrderDetails) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, insertSessionSQL, sessionArgs(session, session.StatusNote)...); err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	if _, err := tx.Exec(ctx, insertOrderSQL, session.ID, order.OrderID, order.DeliveryDate, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Confirmed order recorded",
		zap.String("session_id", session.ID),
		zap.String("order_id", order.OrderID))
	return nil
}

// SessionRecord is one row of purchase history for the CLI.
type SessionRecord struct {
	ID         string
	Query      string
	Platform   string
	State      string
	StatusNote string
	StartedAt  time.Time
}

// RecentSessions returns the latest recorded sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, query, platform, state, status_note, started_at
FROM purchase_sessions
ORDER BY started_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.ID, &r.Query, &r.Platform, &r.State, &r.StatusNote, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session row iteration failed: %w", err)
	}
	return records, nil
}

func sessionArgs(session schemas.Session, note string) []any {
	var selectedTitle, selectedLink string
	var selectedPrice float64
	if session.Selected != nil {
		selectedTitle = session.Selected.Title
		selectedLink = session.Selected.Link
		selectedPrice = session.Selected.Price
	}
	return []any{
		session.ID, session.TabID, session.Platform, session.Intent.Query,
		string(session.State), note, selectedTitle, selectedLink, selectedPrice,
		session.StartedAt.UTC(), time.Now().UTC(),
	}
}
