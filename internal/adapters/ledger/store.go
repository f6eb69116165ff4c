package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kevin07696/cashier-settlement/internal/adapters/database"
	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/kevin07696/cashier-settlement/internal/domain/ports"
	"go.uber.org/zap"
)

// Store implements ports.Ledger on the ledger database
type Store struct {
	db     *database.Adapter
	logger *zap.Logger
	now    func() time.Time
}

var _ ports.Ledger = (*Store)(nil)

// NewStore creates a new ledger store
func NewStore(db *database.Adapter, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.db.Rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.db.Rebind(query), args...)
}

func (s *Store) query(ctx context.Context, q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.db.Rebind(query), args...)
}

// dbError wraps a driver failure into the domain taxonomy
func dbError(op string, err error) error {
	return domain.WrapError(domain.ErrorCodeDatabaseError, op, err)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
