package requestctx

import (
	"context"
	"time"
)

// Principal is the authenticated caller attached to a request.
type Principal struct {
	ID    string
	Email string
	Role  string
	Name  string
	// TokenID is the jti of the access token that authenticated the request.
	TokenID string
	// Token is the raw bearer token.
	Token string
	// ExpiresAt is when the access token stops being valid.
	ExpiresAt time.Time
}

// principalContextKey is the context key for the authenticated principal.
type principalContextKey struct{}

// WithPrincipal stores the authenticated principal in context.
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext returns the principal stored in context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	value, ok := ctx.Value(principalContextKey{}).(Principal)
	return value, ok
}

// UserIDFromContext returns the authenticated user identifier, if any.
func UserIDFromContext(ctx context.Context) string {
	principal, _ := PrincipalFromContext(ctx)
	return principal.ID
}
