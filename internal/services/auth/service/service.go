// Package service implements the account operations behind the auth API.
//
// It has no transport concerns: every failure is a platform/errors.Error
// whose code the HTTP layer maps to a status.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	apperrors "github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/errors"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/id"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/mail"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/revocation"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/token"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
)

const tracerName = "github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/service"

// Public failures returned by the service.
var (
	ErrUserExists          = apperrors.New(apperrors.CodeUserAlreadyExists, "User with this email already exists")
	ErrInvalidDiscountCode = apperrors.New(apperrors.CodeInvalidDiscountCode, "Invalid discount code")
	ErrInvalidCredentials  = apperrors.New(apperrors.CodeInvalidCredentials, "Invalid credentials")
	ErrAccountLocked       = apperrors.New(apperrors.CodeAccountLocked, "Account is temporarily locked due to too many failed login attempts")
	ErrUserNotFound        = apperrors.New(apperrors.CodeNotFound, "User not found")
	ErrCurrentPassword     = apperrors.New(apperrors.CodeCurrentPasswordWrong, "Current password is incorrect")
	ErrInvalidResetToken   = apperrors.New(apperrors.CodeInvalidResetToken, "Invalid or expired reset token")
	ErrResetEmail          = apperrors.New(apperrors.CodeMailDelivery, "Failed to send password reset email")
	ErrTokenRevoked        = apperrors.New(apperrors.CodeTokenRevoked, "Token has been revoked")
	ErrTokenUserMissing    = apperrors.New(apperrors.CodeTokenUserMissing, "Invalid token - user not found")
	ErrForbidden           = apperrors.New(apperrors.CodeForbidden, "Insufficient permissions")
)

// Tenants resolves the store for a role.
type Tenants interface {
	Store(ctx context.Context, role user.Role) (storage.UserStore, error)
}

// Tokens issues and verifies bearer tokens.
type Tokens interface {
	Issue(u user.User) (token.Pair, error)
	ParseAccess(raw string) (token.AccessClaims, error)
	ParseRefresh(raw string) (token.RefreshClaims, error)
}

// Config holds the account policy knobs.
type Config struct {
	BcryptCost         int
	MaxLoginAttempts   int
	LockoutDuration    time.Duration
	ResetExpiry        time.Duration
	ReferralCommission float64
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Tenants Tenants
	Tokens  Tokens
	Revoked revocation.Store
	Mailer  mail.Mailer

	// Optional hooks for deterministic tests.
	Now           func() time.Time
	NewID         func() (string, error)
	NewCode       func() (string, error)
	NewResetToken func() (string, error)
}

// Service implements the auth operations.
type Service struct {
	cfg     Config
	tenants Tenants
	tokens  Tokens
	revoked revocation.Store
	mailer  mail.Mailer
	tracer  trace.Tracer

	now           func() time.Time
	newID         func() (string, error)
	newCode       func() (string, error)
	newResetToken func() (string, error)
}

// New validates dependencies and applies policy defaults.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Tenants == nil {
		return nil, fmt.Errorf("tenant router is required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token manager is required")
	}
	if deps.Revoked == nil {
		return nil, fmt.Errorf("revocation store is required")
	}
	if deps.Mailer == nil {
		return nil, fmt.Errorf("mailer is required")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cfg.BcryptCost)
	}
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 15 * time.Minute
	}
	if cfg.ResetExpiry <= 0 {
		cfg.ResetExpiry = time.Hour
	}

	s := &Service{
		cfg:           cfg,
		tenants:       deps.Tenants,
		tokens:        deps.Tokens,
		revoked:       deps.Revoked,
		mailer:        deps.Mailer,
		tracer:        otel.Tracer(tracerName),
		now:           deps.Now,
		newID:         deps.NewID,
		newCode:       deps.NewCode,
		newResetToken: deps.NewResetToken,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = id.NewID
	}
	if s.newCode == nil {
		s.newCode = user.NewDiscountCode
	}
	if s.newResetToken == nil {
		s.newResetToken = NewResetToken
	}
	return s, nil
}

// NewResetToken returns 32 random bytes, hex encoded.
func NewResetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// AuthResult is returned by registration and login.
type AuthResult struct {
	User   user.User
	Tokens token.Pair
}

func (s *Service) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "auth."+op, trace.WithAttributes(attrs...))
}

// end records err on span and closes it.
func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.GetCode(err)))
	}
	span.End()
}

func (s *Service) hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func passwordMatches(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
