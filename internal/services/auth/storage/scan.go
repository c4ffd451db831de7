package storage

import (
	"database/sql"
	"time"

	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
)

// UserColumns is the column list ScanUser expects, in order.
const UserColumns = `id, email, name, password_hash, role, email_verified, created_at, updated_at,
last_login, login_attempts, locked_until, password_reset_token, password_reset_expires,
discount_code, referral_points, referred_by, subscription_plan, letters_used`

// RowScanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// ToMillis normalizes timestamps into millisecond precision for storage.
func ToMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// FromMillis restores millisecond precision and keeps UTC normalization.
func FromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// NullMillis converts an optional timestamp into a nullable column value.
func NullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: ToMillis(*value), Valid: true}
}

// NullString stores empty strings as NULL.
func NullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

// NullInt converts an optional counter into a nullable column value.
func NullInt(value *int) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*value), Valid: true}
}

// ScanUser reads one row selected with UserColumns.
func ScanUser(row RowScanner) (user.User, error) {
	var (
		u                    user.User
		role                 string
		createdAt, updatedAt int64
		lastLogin            sql.NullInt64
		lockedUntil          sql.NullInt64
		resetToken           sql.NullString
		resetExpires         sql.NullInt64
		discountCode         sql.NullString
		referralPoints       sql.NullInt64
		referredBy           sql.NullString
		subscriptionPlan     sql.NullString
		lettersUsed          sql.NullInt64
	)
	if err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.EmailVerified, &createdAt, &updatedAt,
		&lastLogin, &u.LoginAttempts, &lockedUntil, &resetToken, &resetExpires,
		&discountCode, &referralPoints, &referredBy, &subscriptionPlan, &lettersUsed,
	); err != nil {
		return user.User{}, err
	}

	u.Role = user.Role(role)
	u.CreatedAt = FromMillis(createdAt)
	u.UpdatedAt = FromMillis(updatedAt)
	u.LastLogin = optionalTime(lastLogin)
	u.LockedUntil = optionalTime(lockedUntil)
	u.PasswordResetToken = resetToken.String
	u.PasswordResetExpires = optionalTime(resetExpires)
	u.DiscountCode = discountCode.String
	u.ReferralPoints = optionalInt(referralPoints)
	u.ReferredBy = referredBy.String
	u.SubscriptionPlan = subscriptionPlan.String
	u.LettersUsed = optionalInt(lettersUsed)
	return u, nil
}

func optionalTime(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := FromMillis(value.Int64)
	return &t
}

func optionalInt(value sql.NullInt64) *int {
	if !value.Valid {
		return nil
	}
	v := int(value.Int64)
	return &v
}

// UserArgs returns the insert arguments matching UserColumns.
func UserArgs(u user.User) []any {
	return []any{
		u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), u.EmailVerified,
		ToMillis(u.CreatedAt), ToMillis(u.UpdatedAt),
		NullMillis(u.LastLogin), u.LoginAttempts, NullMillis(u.LockedUntil),
		NullString(u.PasswordResetToken), NullMillis(u.PasswordResetExpires),
		NullString(u.DiscountCode), NullInt(u.ReferralPoints), NullString(u.ReferredBy),
		NullString(u.SubscriptionPlan), NullInt(u.LettersUsed),
	}
}
