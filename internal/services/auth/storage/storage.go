package storage

import (
	"context"
	"time"

	"github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/errors"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrAlreadyExists indicates a unique constraint (email or discount code) was hit.
var ErrAlreadyExists = errors.New(errors.CodeAlreadyExists, "record already exists")

// UserStore persists account records for one tenant.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	GetUserByDiscountCode(ctx context.Context, code string) (user.User, error)
	// GetUserByResetToken only matches tokens that expire after now.
	GetUserByResetToken(ctx context.Context, token string, now time.Time) (user.User, error)
	// UpdatePassword replaces the hash and clears any pending reset token.
	UpdatePassword(ctx context.Context, userID, passwordHash string, now time.Time) error
	SetPasswordReset(ctx context.Context, userID, token string, expiresAt, now time.Time) error
	// RedeemPasswordReset sets the hash and clears the token in one statement
	// guarded on the token still being live; a spent or expired token yields
	// ErrNotFound.
	RedeemPasswordReset(ctx context.Context, token, passwordHash string, now time.Time) error
	// RecordFailedLogin increments the attempt counter and sets locked_until
	// once the counter reaches maxAttempts.
	RecordFailedLogin(ctx context.Context, userID string, maxAttempts int, lockout time.Duration, now time.Time) error
	// ResetLoginAttempts clears the counter and lock and stamps last_login.
	ResetLoginAttempts(ctx context.Context, userID string, now time.Time) error
	IncrementReferralPoints(ctx context.Context, userID string, now time.Time) error
	// ListUsers pages newest accounts first, keyed on (created_at, id).
	ListUsers(ctx context.Context, filter string, pageSize int, pageToken string) (UserPage, error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrInvalidPageToken is returned for page tokens ListUsers did not issue.
var ErrInvalidPageToken = errors.New(errors.CodeInvalidPageToken, "Invalid page token")

// UserPage describes a page of user records.
type UserPage struct {
	Users         []user.User
	NextPageToken string
}

// LockUntil returns the lock deadline for a failed attempt, or nil when the
// account stays unlocked. attempts is the counter value before the failure.
func LockUntil(attempts, maxAttempts int, lockout time.Duration, now time.Time) *time.Time {
	if maxAttempts <= 0 || attempts+1 < maxAttempts {
		return nil
	}
	until := now.Add(lockout).UTC()
	return &until
}
