// Package httpapi exposes the auth service over JSON HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/requestctx"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/ratelimit"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/service"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/token"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
)

// AuthService is the account API the handlers call.
type AuthService interface {
	Register(ctx context.Context, in user.RegisterInput) (service.AuthResult, error)
	Login(ctx context.Context, in user.LoginInput) (service.AuthResult, error)
	Authenticate(ctx context.Context, raw string) (requestctx.Principal, error)
	Logout(ctx context.Context, principal requestctx.Principal) error
	Refresh(ctx context.Context, rawRefresh, role string) (token.Pair, error)
	ForgotPassword(ctx context.Context, email, role string) error
	ResetPassword(ctx context.Context, resetToken, password, confirm string) error
	ChangePassword(ctx context.Context, userID string, role user.Role, current, next, confirm string) error
	Me(ctx context.Context, userID string, role user.Role) (user.User, error)
	ListUsers(ctx context.Context, callerRole user.Role, req service.ListUsersRequest) (storage.UserPage, error)
}

// HealthChecker reports tenant reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[user.Role]bool
}

// Limiters groups the request limiters used by the routes.
type Limiters struct {
	API           *ratelimit.Limiter
	Auth          *ratelimit.Limiter
	PasswordReset *ratelimit.Limiter
	Account       *ratelimit.Limiter
}

// NewLimiters builds limiters with the default policies.
func NewLimiters(now func() time.Time) Limiters {
	return Limiters{
		API:           ratelimit.New(ratelimit.API, now),
		Auth:          ratelimit.New(ratelimit.Auth, now),
		PasswordReset: ratelimit.New(ratelimit.PasswordReset, now),
		Account:       ratelimit.New(ratelimit.Account, now),
	}
}

// All returns every configured limiter.
func (l Limiters) All() []*ratelimit.Limiter {
	var out []*ratelimit.Limiter
	for _, limiter := range []*ratelimit.Limiter{l.API, l.Auth, l.PasswordReset, l.Account} {
		if limiter != nil {
			out = append(out, limiter)
		}
	}
	return out
}

// Options configures the HTTP handler.
type Options struct {
	Service     AuthService
	Health      HealthChecker
	Limiters    Limiters
	Environment string
	ClientURL   string
	Now         func() time.Time
}

type handler struct {
	svc      AuthService
	health   HealthChecker
	limiters Limiters
	env      string
	now      func() time.Time
}

// NewHandler builds the routed HTTP handler.
func NewHandler(opts Options) (http.Handler, error) {
	if opts.Service == nil {
		return nil, errors.New("auth service is required")
	}
	if opts.Health == nil {
		return nil, errors.New("health checker is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Environment == "" {
		opts.Environment = "development"
	}
	if opts.Limiters == (Limiters{}) {
		opts.Limiters = NewLimiters(opts.Now)
	}
	h := &handler{
		svc:      opts.Service,
		health:   opts.Health,
		limiters: opts.Limiters,
		env:      opts.Environment,
		now:      opts.Now,
	}

	r := chi.NewRouter()
	r.Use(recoverer(opts.Environment == "production"))
	r.Use(secureHeaders())
	r.Use(corsHandler(newOriginPolicy(opts.ClientURL)))
	r.Use(h.limit(h.limiters.API))
	r.Use(limitContentLength)

	r.NotFound(h.notFound)
	r.MethodNotAllowed(h.notFound)

	r.Get("/health", h.handleHealth)
	r.Get("/health/db", h.handleHealthDB)

	r.Route("/api/auth", func(r chi.Router) {
		r.With(h.limit(h.limiters.Auth)).Post("/register", h.handleRegister)
		r.With(h.limit(h.limiters.Auth)).Post("/login", h.handleLogin)
		r.With(h.limit(h.limiters.Auth)).Post("/refresh", h.handleRefresh)
		r.With(h.limit(h.limiters.PasswordReset)).Post("/forgot-password", h.handleForgotPassword)
		r.With(h.limit(h.limiters.Auth)).Post("/reset-password", h.handleResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/logout", h.handleLogout)
			r.Get("/me", h.handleMe)
			r.With(requireCSRF).Post("/change-password", h.handleChangePassword)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(requireRole(user.RoleAdmin))
		r.Get("/users", h.handleListUsers)
	})

	return r, nil
}

func (h *handler) limit(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return l.Middleware(ratelimit.ClientIP, denyRateLimited)
}

func (h *handler) notFound(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusNotFound, "API endpoint not found")
}
