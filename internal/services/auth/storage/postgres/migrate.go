package postgres

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/storage/migrate"
)

// migrateConn adapts a pgx pool to the migration runner.
type migrateConn struct {
	pool *pgxpool.Pool
}

func (c migrateConn) Exec(ctx context.Context, query string, args ...any) error {
	if c.pool == nil {
		return errors.New("postgres pool is required")
	}
	_, err := c.pool.Exec(ctx, query, args...)
	return err
}

func (c migrateConn) QueryInt(ctx context.Context, query string, args ...any) (int64, error) {
	if c.pool == nil {
		return 0, errors.New("postgres pool is required")
	}
	var value int64
	if err := c.pool.QueryRow(ctx, query, args...).Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}

func (c migrateConn) Begin(ctx context.Context) (migrate.Tx, error) {
	if c.pool == nil {
		return nil, errors.New("postgres pool is required")
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return migrateTx{tx: tx}, nil
}

func (migrateConn) Bind(n int) string { return "$" + strconv.Itoa(n) }

type migrateTx struct {
	tx pgx.Tx
}

func (t migrateTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.Exec(ctx, query, args...)
	return err
}

func (t migrateTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t migrateTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
