// Package token issues and verifies the HS256 access and refresh tokens.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/errors"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/id"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
)

const (
	// DefaultIssuer is the iss claim on every token.
	DefaultIssuer = "talk-to-my-lawyer"
	// DefaultAudience is the aud claim on every token.
	DefaultAudience = "talk-to-my-lawyer-users"

	DefaultAccessTTL  = 7 * 24 * time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour

	refreshType = "refresh"
)

var (
	// ErrTokenExpired is returned for well-formed tokens past exp.
	ErrTokenExpired = apperrors.New(apperrors.CodeTokenExpired, "Token expired")
	// ErrTokenInvalid covers every other verification failure.
	ErrTokenInvalid = apperrors.New(apperrors.CodeTokenInvalid, "Invalid token")
)

// Config configures token signing.
type Config struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   string
	Now        func() time.Time
	NewID      func() (string, error)
}

// Pair is the token set returned to clients.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AccessClaims are the verified contents of an access token.
type AccessClaims struct {
	UserID    string
	Email     string
	Role      user.Role
	TokenID   string
	ExpiresAt time.Time
}

// RefreshClaims are the verified contents of a refresh token.
type RefreshClaims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

type accessClaims struct {
	jwt.RegisteredClaims
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Type  string `json:"type,omitempty"`
}

type refreshClaims struct {
	jwt.RegisteredClaims
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Manager signs and verifies tokens with a shared secret.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	audience   string
	now        func() time.Time
	newID      func() (string, error)
}

// NewManager validates the configuration and applies defaults.
func NewManager(cfg Config) (*Manager, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	m := &Manager{
		secret:     []byte(secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		now:        cfg.Now,
		newID:      cfg.NewID,
	}
	if m.accessTTL <= 0 {
		m.accessTTL = DefaultAccessTTL
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = DefaultRefreshTTL
	}
	if m.issuer == "" {
		m.issuer = DefaultIssuer
	}
	if m.audience == "" {
		m.audience = DefaultAudience
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = id.NewID
	}
	return m, nil
}

// Issue signs a fresh access and refresh token for u.
func (m *Manager) Issue(u user.User) (Pair, error) {
	now := m.now().UTC()

	accessID, err := m.newID()
	if err != nil {
		return Pair{}, fmt.Errorf("generate token id: %w", err)
	}
	access := accessClaims{
		RegisteredClaims: m.registered(accessID, now, m.accessTTL),
		ID:               u.ID,
		Email:            u.Email,
		Role:             string(u.Role),
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, access).SignedString(m.secret)
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshID, err := m.newID()
	if err != nil {
		return Pair{}, fmt.Errorf("generate token id: %w", err)
	}
	refresh := refreshClaims{
		RegisteredClaims: m.registered(refreshID, now, m.refreshTTL),
		ID:               u.ID,
		Type:             refreshType,
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refresh).SignedString(m.secret)
	if err != nil {
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return Pair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (m *Manager) registered(tokenID string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Audience:  jwt.ClaimStrings{m.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        tokenID,
	}
}

// ParseAccess verifies an access token.
func (m *Manager) ParseAccess(raw string) (AccessClaims, error) {
	var parsed accessClaims
	if err := m.parse(raw, &parsed); err != nil {
		return AccessClaims{}, err
	}
	if parsed.Type == refreshType || parsed.ID == "" || parsed.Email == "" {
		return AccessClaims{}, ErrTokenInvalid
	}
	role, err := user.ParseRole(parsed.Role)
	if err != nil {
		return AccessClaims{}, ErrTokenInvalid
	}
	return AccessClaims{
		UserID:    parsed.ID,
		Email:     parsed.Email,
		Role:      role,
		TokenID:   parsed.RegisteredClaims.ID,
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
	}, nil
}

// ParseRefresh verifies a refresh token.
func (m *Manager) ParseRefresh(raw string) (RefreshClaims, error) {
	var parsed refreshClaims
	if err := m.parse(raw, &parsed); err != nil {
		return RefreshClaims{}, err
	}
	if parsed.Type != refreshType || parsed.ID == "" {
		return RefreshClaims{}, ErrTokenInvalid
	}
	return RefreshClaims{
		UserID:    parsed.ID,
		TokenID:   parsed.RegisteredClaims.ID,
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
	}, nil
}

func (m *Manager) parse(raw string, claims jwt.Claims) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrTokenInvalid
	}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return mapJWTError(err)
	}
	return nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return apperrors.Wrap(ErrTokenExpired.Code, ErrTokenExpired.Message, err)
	}
	return apperrors.Wrap(ErrTokenInvalid.Code, ErrTokenInvalid.Message, err)
}
