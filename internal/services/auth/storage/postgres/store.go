package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/storage/migrate"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage/filter"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage/migrations"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
)

const (
	selectUser          = "SELECT " + storage.UserColumns + " FROM users "
	uniqueViolationCode = "23505"
)

// Store implements tenant persistence over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.UserStore = (*Store)(nil)

// Open creates the tenant pool without dialing; connections are established
// lazily so an unreachable tenant does not block startup.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate applies the embedded tenant schema.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := migrate.Apply(ctx, migrateConn{pool: s.pool}, migrations.FS, ""); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Ping acquires a connection and round-trips to the server.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.pool.Ping(ctx)
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.pool == nil {
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

	args := storage.UserArgs(u)
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	query := "INSERT INTO users (" + storage.UserColumns + ") VALUES (" + strings.Join(placeholders, ", ") + ")"
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
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
	return s.getOne(ctx, "get user", "WHERE id = $1", userID)
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
	return s.getOne(ctx, "get user by email", "WHERE email = $1", email)
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
	return s.getOne(ctx, "get user by discount code", "WHERE discount_code = $1", code)
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
		"WHERE password_reset_token = $1 AND password_reset_expires > $2", token, storage.ToMillis(now))
}

func (s *Store) getOne(ctx context.Context, op, where string, args ...any) (user.User, error) {
	u, err := storage.ScanUser(s.pool.QueryRow(ctx, selectUser+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
SET password_hash = $1, password_reset_token = NULL, password_reset_expires = NULL, updated_at = $2
WHERE id = $3`, passwordHash, storage.ToMillis(now), userID)
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
SET password_reset_token = $1, password_reset_expires = $2, updated_at = $3
WHERE id = $4`, token, storage.ToMillis(expiresAt), storage.ToMillis(now), userID)
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
SET password_hash = $1, password_reset_token = NULL, password_reset_expires = NULL, updated_at = $2
WHERE password_reset_token = $3 AND password_reset_expires > $2`,
		passwordHash, storage.ToMillis(now), token)
}

// RecordFailedLogin increments the attempt counter in one statement.
func (s *Store) RecordFailedLogin(ctx context.Context, userID string, maxAttempts int, lockout time.Duration, now time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.updateOne(ctx, "record failed login", `
UPDATE users
SET login_attempts = login_attempts + 1,
    locked_until = CASE WHEN $1::int > 0 AND login_attempts + 1 >= $1::int THEN $2::bigint ELSE locked_until END,
    updated_at = $3
WHERE id = $4`, maxAttempts, storage.ToMillis(now.Add(lockout)), storage.ToMillis(now), userID)
}

// ResetLoginAttempts clears the counter and lock and stamps last_login.
func (s *Store) ResetLoginAttempts(ctx context.Context, userID string, now time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.updateOne(ctx, "reset login attempts", `
UPDATE users
SET login_attempts = 0, locked_until = NULL, last_login = $1, updated_at = $1
WHERE id = $2`, storage.ToMillis(now), userID)
}

// IncrementReferralPoints adds one referral to a remote employee.
func (s *Store) IncrementReferralPoints(ctx context.Context, userID string, now time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.updateOne(ctx, "increment referral points", `
UPDATE users
SET referral_points = COALESCE(referral_points, 0) + 1, updated_at = $1
WHERE id = $2`, storage.ToMillis(now), userID)
}

func (s *Store) updateOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
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

	query, args, err := listUsersQuery(filterStr, pageSize, pageToken)
	if err != nil {
		return storage.UserPage{}, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
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

func listUsersQuery(filterStr string, pageSize int, pageToken string) (string, []any, error) {
	cond, err := filter.ParseUserFilter(filterStr, filter.Dollar, 1)
	if err != nil {
		return "", nil, err
	}

	var clauses []string
	args := append([]any{}, cond.Params...)
	if cond.Clause != "" {
		clauses = append(clauses, cond.Clause)
	}
	if pageToken != "" {
		cursor, err := storage.ParseUserCursor(pageToken)
		if err != nil {
			return "", nil, err
		}
		args = append(args, cursor.CreatedAt, cursor.ID)
		created, id := filter.Dollar(len(args)-1), filter.Dollar(len(args))
		clauses = append(clauses, "(created_at < "+created+" OR (created_at = "+created+" AND id < "+id+"))")
	}
	query := selectUser
	if len(clauses) > 0 {
		query += "WHERE " + strings.Join(clauses, " AND ") + " "
	}
	args = append(args, pageSize+1)
	query += "ORDER BY created_at DESC, id DESC LIMIT " + filter.Dollar(len(args))
	return query, args, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
