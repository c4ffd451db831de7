package user

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/errors"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/id"
)

// Role identifies an account class. Each role is served by its own tenant.
type Role string

const (
	RoleUser           Role = "user"
	RoleRemoteEmployee Role = "remote_employee"
	RoleAdmin          Role = "admin"
)

// discountCodePrefix marks referral codes issued to remote employees.
const discountCodePrefix = "REMOTE"

const discountCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ErrInvalidRole indicates a role outside the supported set.
var ErrInvalidRole = apperrors.New(apperrors.CodeInvalidRole, "Invalid user role")

// Roles lists every supported role in tenant lookup order.
func Roles() []Role {
	return []Role{RoleUser, RoleRemoteEmployee, RoleAdmin}
}

// ParseRole validates a role string.
func ParseRole(value string) (Role, error) {
	switch Role(strings.TrimSpace(value)) {
	case RoleUser:
		return RoleUser, nil
	case RoleRemoteEmployee:
		return RoleRemoteEmployee, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", ErrInvalidRole
	}
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// User is an account row as stored in a tenant database.
type User struct {
	ID                   string
	Email                string
	Name                 string
	PasswordHash         string
	Role                 Role
	EmailVerified        bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
	LastLogin            *time.Time
	LoginAttempts        int
	LockedUntil          *time.Time
	PasswordResetToken   string
	PasswordResetExpires *time.Time
	// DiscountCode is the referral code of a remote employee.
	DiscountCode string
	// ReferralPoints counts users referred by a remote employee.
	ReferralPoints *int
	// ReferredBy is the remote employee id a user registered under.
	ReferredBy       string
	SubscriptionPlan string
	// LettersUsed counts generated letters for regular users.
	LettersUsed *int
}

// IsLocked reports whether the account is inside a lockout window.
func (u User) IsLocked(now time.Time) bool {
	if u.LockedUntil == nil {
		return false
	}
	return now.Before(*u.LockedUntil)
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	// ReferredBy is the resolved referrer id, not the raw discount code.
	ReferredBy string
}

// CreateUser builds a new account record from validated input.
//
// Remote employees receive a fresh discount code and a zero referral
// counter; regular users start with zero letters used.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error), codeGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	if codeGenerator == nil {
		codeGenerator = NewDiscountCode
	}
	if _, err := ParseRole(string(input.Role)); err != nil {
		return User{}, err
	}
	email := NormalizeEmail(input.Email)
	if email == "" {
		return User{}, fmt.Errorf("email is required")
	}
	if strings.TrimSpace(input.PasswordHash) == "" {
		return User{}, fmt.Errorf("password hash is required")
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	createdAt := now().UTC()
	created := User{
		ID:           userID,
		Email:        email,
		Name:         NormalizeName(input.Name),
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
		ReferredBy:   strings.TrimSpace(input.ReferredBy),
	}

	switch input.Role {
	case RoleRemoteEmployee:
		code, err := codeGenerator()
		if err != nil {
			return User{}, fmt.Errorf("generate discount code: %w", err)
		}
		points := 0
		created.DiscountCode = code
		created.ReferralPoints = &points
	case RoleUser:
		letters := 0
		created.LettersUsed = &letters
	}

	return created, nil
}

// NewDiscountCode returns a referral code such as "REMOTE7K2Q9XAB".
func NewDiscountCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(discountCodePrefix) + len(buf))
	b.WriteString(discountCodePrefix)
	for _, v := range buf {
		b.WriteByte(discountCodeAlphabet[int(v)%len(discountCodeAlphabet)])
	}
	return b.String(), nil
}
