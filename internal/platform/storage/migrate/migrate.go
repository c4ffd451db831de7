// Package migrate applies embedded SQL migrations to any tenant database.
//
// Migration files use "-- +migrate Up" / "-- +migrate Down" markers. Each file
// is applied at most once and recorded in schema_migrations, so the same
// bundle can be replayed on every startup against SQLite or Postgres.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const migrationTable = "schema_migrations"

// Conn is the database surface the migration runner needs.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	QueryInt(ctx context.Context, query string, args ...any) (int64, error)
	Begin(ctx context.Context) (Tx, error)
	// Bind returns the placeholder for the n-th (1-based) query argument.
	Bind(n int) string
}

// Tx is a migration transaction.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Apply executes migrations from root in lexical order, at most once per file.
func Apply(ctx context.Context, conn Conn, migrationFS fs.FS, root string) error {
	if conn == nil {
		return fmt.Errorf("migration connection is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	readRoot := strings.TrimSpace(root)
	if readRoot == "" {
		readRoot = "."
	}
	keyRoot := readRoot
	if keyRoot == "." {
		keyRoot = ""
	}

	entries, err := fs.ReadDir(migrationFS, readRoot)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at BIGINT NOT NULL
);
`, migrationTable)
	if err := conn.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		key := file
		if keyRoot != "" {
			key = path.Join(keyRoot, file)
		}

		content, err := fs.ReadFile(migrationFS, path.Join(readRoot, file))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		count, err := conn.QueryInt(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE name = %s", migrationTable, conn.Bind(1)),
			key,
		)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if count > 0 {
			continue
		}

		upSQL := ExtractUp(string(content))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		if err := applyOne(ctx, conn, key, upSQL); err != nil {
			return fmt.Errorf("migration %s: %w", file, err)
		}
	}

	return nil
}

func applyOne(ctx context.Context, conn Conn, key, upSQL string) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := tx.Exec(ctx, upSQL); err != nil && !IsAlreadyExistsError(err) {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("exec: %w", err)
	}
	record := fmt.Sprintf("INSERT INTO %s (name, applied_at) VALUES (%s, %s)", migrationTable, conn.Bind(1), conn.Bind(2))
	if err := tx.Exec(ctx, record, key, time.Now().UTC().UnixMilli()); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ExtractUp returns the SQL in the -- +migrate Up section.
func ExtractUp(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, "-- +migrate Down")
	if downIdx == -1 {
		return content[upIdx+len("-- +migrate Up"):]
	}
	return content[upIdx+len("-- +migrate Up") : downIdx]
}

// IsAlreadyExistsError reports whether this error indicates idempotent DDL success.
func IsAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate column")
}

// SQL adapts a database/sql handle that uses "?" placeholders.
func SQL(db *sql.DB) Conn {
	return sqlConn{db: db}
}

type sqlConn struct {
	db *sql.DB
}

func (c sqlConn) Exec(ctx context.Context, query string, args ...any) error {
	if c.db == nil {
		return errors.New("sql db is required")
	}
	_, err := c.db.ExecContext(ctx, query, args...)
	return err
}

func (c sqlConn) QueryInt(ctx context.Context, query string, args ...any) (int64, error) {
	if c.db == nil {
		return 0, errors.New("sql db is required")
	}
	var value int64
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}

func (c sqlConn) Begin(ctx context.Context) (Tx, error) {
	if c.db == nil {
		return nil, errors.New("sql db is required")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return sqlTx{tx: tx}, nil
}

func (sqlConn) Bind(int) string { return "?" }

type sqlTx struct {
	tx *sql.Tx
}

func (t sqlTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t sqlTx) Commit(context.Context) error   { return t.tx.Commit() }
func (t sqlTx) Rollback(context.Context) error { return t.tx.Rollback() }
