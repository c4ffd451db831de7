package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/storage/migrate"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage/filter"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage/migrations"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const selectUser = "SELECT " + storage.UserColumns + " FROM users "

// Store implements tenant persistence over SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.UserStore = (*Store)(nil)

// DB returns the raw database handle.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Open opens a tenant SQLite store and applies bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := migrate.Apply(context.Background(), migrate.SQL(sqlDB), migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.sqlDB.PingContext(ctx)
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// CreateUser inserts a new account.
func (s *Store) CreateUser(ctx context.Context, u user.User) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("email is required")
	}

	query := "INSERT INTO users (" + storage.UserColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	if _, err := s.sqlDB.ExecContext(ctx, query, storage.UserArgs(u)...); err != nil {
		if isConstraintError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser fetches a user record by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := s.ready(ctx); err != nil {
		return user.User{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}
	return s.getOne(ctx, "get user", "WHERE id = ?", userID)
}

// GetUserByEmail fetches a user record by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	if err := s.ready(ctx); err != nil {
		return user.User{}, err
	}
	email = user.NormalizeEmail(email)
	if email == "" {
		return user.User{}, fmt.Errorf("email is required")
	}
	return s.getOne(ctx, "get user by email", "WHERE email = ?", email)
}

// GetUserByDiscountCode fetches the remote employee owning a discount code.
func (s *Store) GetUserByDiscountCode(ctx context.Context, code string) (user.User, error) {
	if err := s.ready(ctx); err != nil {
		return user.User{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return user.User{}, fmt.Errorf("discount code is required")
	}
	return s.getOne(ctx, "get user by discount code", "WHERE discount_code = ?", code)
}

// GetUserByResetToken fetches the user holding an unexpired reset token.
func (s *Store) GetUserByResetToken(ctx context.Context, token string, now time.Time) (user.User, error) {
	if err := s.ready(ctx); err != nil {
		return user.User{}, err
	}
	if strings.TrimSpace(token) == "" {
		return user.User{}, fmt.Errorf("reset token is required")
	}
	return s.getOne(ctx, "get user by reset token",
		"WHERE password_reset_token = ? AND password_reset_expires > ?", token, storage.ToMillis(now))
}

func (s *Store) getOne(ctx context.Context, op, where string, args ...any) (user.User, error) {
	u, err := storage.ScanUser(s.sqlDB.QueryRowContext(ctx, selectUser+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// UpdatePassword replaces the password hash and clears any reset token.
func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string, now time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(passwordHash) == "" {
		return fmt.Errorf("password hash is required")
	}
	return s.updateOne(ctx, "update password", `
UPDATE users
SET password_hash = ?, password_reset_token = NULL, password_reset_expires = NULL, updated_at = ?
WHERE id = ?`, passwordHash, storage.ToMillis(now), userID)
}

// SetPasswordReset stores a reset token and its expiry.
func (s *Store) SetPasswordReset(ctx context.Context, userID, token string, expiresAt, now time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("reset token is required")
	}
	return s.updateOne(ctx, "set password reset", `
UPDATE users
SET password_reset_token = ?, password_reset_expires = ?, updated_at = ?
WHERE id = ?`, token, storage.ToMillis(expiresAt), storage.ToMillis(now), userID)
}

// RedeemPasswordReset consumes a live reset token and stores the new hash.
func (s *Store) RedeemPasswordReset(ctx context.Context, token, passwordHash string, now time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("reset token is required")
	}
	if strings.TrimSpace(passwordHash) == "" {
		return fmt.Errorf("password hash is required")
	}
	return s.updateOne(ctx, "redeem password reset", `
UPDATE users
SET password_hash = ?, password_reset_token = NULL, password_reset_expires = NULL, updated_at = ?
WHERE password_reset_token = ? AND password_reset_expires > ?`,
		passwordHash, storage.ToMillis(now), token, storage.ToMillis(now))
}

// RecordFailedLogin increments the attempt counter in one statement.
func (s *Store) RecordFailedLogin(ctx context.Context, userID string, maxAttempts int, lockout time.Duration, now time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.updateOne(ctx, "record failed login", `
UPDATE users
SET login_attempts = login_attempts + 1,
    locked_until = CASE WHEN ? > 0 AND login_attempts + 1 >= ? THEN ? ELSE locked_until END,
    updated_at = ?
WHERE id = ?`, maxAttempts, maxAttempts, storage.ToMillis(now.Add(lockout)), storage.ToMillis(now), userID)
}

// ResetLoginAttempts clears the counter and lock and stamps last_login.
func (s *Store) ResetLoginAttempts(ctx context.Context, userID string, now time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.updateOne(ctx, "reset login attempts", `
UPDATE users
SET login_attempts = 0, locked_until = NULL, last_login = ?, updated_at = ?
WHERE id = ?`, storage.ToMillis(now), storage.ToMillis(now), userID)
}

// IncrementReferralPoints adds one referral to a remote employee.
func (s *Store) IncrementReferralPoints(ctx context.Context, userID string, now time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.updateOne(ctx, "increment referral points", `
UPDATE users
SET referral_points = COALESCE(referral_points, 0) + 1, updated_at = ?
WHERE id = ?`, storage.ToMillis(now), userID)
}

func (s *Store) updateOne(ctx context.Context, op, query string, args ...any) error {
	result, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListUsers returns a page of users, newest first, optionally filtered by an
// AIP-160 expression.
func (s *Store) ListUsers(ctx context.Context, filterStr string, pageSize int, pageToken string) (storage.UserPage, error) {
	if err := s.ready(ctx); err != nil {
		return storage.UserPage{}, err
	}
	if pageSize <= 0 {
		return storage.UserPage{}, fmt.Errorf("page size must be greater than zero")
	}

	cond, err := filter.ParseUserFilter(filterStr, filter.Question, 1)
	if err != nil {
		return storage.UserPage{}, err
	}

	var clauses []string
	args := append([]any{}, cond.Params...)
	if cond.Clause != "" {
		clauses = append(clauses, cond.Clause)
	}
	if pageToken != "" {
		cursor, err := storage.ParseUserCursor(pageToken)
		if err != nil {
			return storage.UserPage{}, err
		}
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	query := selectUser
	if len(clauses) > 0 {
		query += "WHERE " + strings.Join(clauses, " AND ") + " "
	}
	query += "ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, pageSize+1)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.UserPage{}, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	page := storage.UserPage{Users: make([]user.User, 0, pageSize)}
	for rows.Next() {
		u, err := storage.ScanUser(rows)
		if err != nil {
			return storage.UserPage{}, fmt.Errorf("scan user: %w", err)
		}
		if len(page.Users) == pageSize {
			page.NextPageToken = storage.CursorAfter(page.Users[pageSize-1]).Encode()
			break
		}
		page.Users = append(page.Users, u)
	}
	if err := rows.Err(); err != nil {
		return storage.UserPage{}, fmt.Errorf("list users: %w", err)
	}
	return page, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
