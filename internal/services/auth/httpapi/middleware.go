package httpapi

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/requestctx"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
)

const contentSecurityPolicy = "default-src 'self'; " +
	"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com; " +
	"font-src 'self' https://fonts.gstatic.com; " +
	"script-src 'self'; " +
	"img-src 'self' data: https:; " +
	"connect-src 'self' https://api.stripe.com; " +
	"base-uri 'self'; form-action 'self'; frame-ancestors 'self'; " +
	"object-src 'none'; script-src-attr 'none'; upgrade-insecure-requests"

var securityHeaders = [][2]string{
	{"Content-Security-Policy", contentSecurityPolicy},
	{"Cross-Origin-Opener-Policy", "same-origin"},
	{"Cross-Origin-Resource-Policy", "cross-origin"},
	{"Origin-Agent-Cluster", "?1"},
	{"Referrer-Policy", "no-referrer"},
	{"Strict-Transport-Security", "max-age=15552000; includeSubDomains"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-DNS-Prefetch-Control", "off"},
	{"X-Download-Options", "noopen"},
	{"X-Frame-Options", "SAMEORIGIN"},
	{"X-Permitted-Cross-Domain-Policies", "none"},
	{"X-XSS-Protection", "0"},
}

// secureHeaders sets the browser hardening headers on every response.
func secureHeaders() func(http.Handler) http.Handler {
	chain := make(chi.Middlewares, 0, len(securityHeaders))
	for _, h := range securityHeaders {
		chain = append(chain, middleware.SetHeader(h[0], h[1]))
	}
	return func(next http.Handler) http.Handler {
		return chain.Handler(next)
	}
}

var localOriginHosts = []string{
	"localhost",
	"127.0.0.1",
	".webcontainer.io",
	".stackblitz.io",
	".bolt.new",
}

// originPolicy decides which browser origins may call the API.
type originPolicy struct {
	allowed map[string]bool
}

func newOriginPolicy(clientURL string) originPolicy {
	p := originPolicy{allowed: map[string]bool{
		"http://localhost:3000":  true,
		"https://localhost:3000": true,
		"http://localhost:5173":  true,
		"https://localhost:5173": true,
		"http://127.0.0.1:5173":  true,
		"https://127.0.0.1:5173": true,
	}}
	if clientURL = strings.TrimRight(strings.TrimSpace(clientURL), "/"); clientURL != "" {
		p.allowed[clientURL] = true
	}
	return p
}

// Allow reports whether origin may make credentialed requests. Requests
// without an Origin header are not browser cross-origin calls.
func (p originPolicy) Allow(origin string) bool {
	if origin == "" || p.allowed[origin] {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Hostname()
	for _, pattern := range localOriginHosts {
		if host == strings.TrimPrefix(pattern, ".") || (strings.HasPrefix(pattern, ".") && strings.HasSuffix(host, pattern)) {
			return true
		}
	}
	return false
}

// corsHandler applies the CORS headers and rejects disallowed origins.
func corsHandler(policy originPolicy) func(http.Handler) http.Handler {
	headers := cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return policy.Allow(origin)
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-CSRF-Token"},
		ExposedHeaders:   []string{"X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           600,
	})
	return func(next http.Handler) http.Handler {
		guarded := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !policy.Allow(r.Header.Get("Origin")) {
				writeMessage(w, http.StatusForbidden, "CORS policy violation")
				return
			}
			next.ServeHTTP(w, r)
		})
		return headers(guarded)
	}
}

// limitContentLength rejects bodies whose declared size exceeds 1MB.
func limitContentLength(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxContentLength {
			writeMessage(w, http.StatusRequestEntityTooLarge, "Request too large")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverer turns panics into a 500 envelope. Outside production the
// panic value is included in the response.
func recoverer(production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Printf("panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				body := envelope{Message: "Internal server error"}
				if !production {
					body.Error = fmt.Sprint(rec)
				}
				writeJSON(w, http.StatusInternalServerError, body)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireAuth resolves the bearer token into a request principal.
func (h *handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeMessage(w, http.StatusUnauthorized, "Access token required")
			return
		}
		principal, err := h.svc.Authenticate(r.Context(), raw)
		if err != nil {
			writeError(w, err, "Authentication error")
			return
		}
		next.ServeHTTP(w, r.WithContext(requestctx.WithPrincipal(r.Context(), principal)))
	})
}

// requireRole admits principals holding one of roles.
func requireRole(roles ...user.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := requestctx.PrincipalFromContext(r.Context())
			if !ok {
				writeMessage(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			for _, role := range roles {
				if principal.Role == string(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeMessage(w, http.StatusForbidden, "Insufficient permissions")
		})
	}
}

// CSRFToken derives the X-CSRF-Token value clients send with an access token.
func CSRFToken(accessToken string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(accessToken))
	if len(encoded) > 32 {
		return encoded[:32]
	}
	return encoded
}

// requireCSRF checks X-CSRF-Token on state-changing requests.
func requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-CSRF-Token")
		session := bearerToken(r)
		if got == "" || session == "" {
			writeMessage(w, http.StatusForbidden, "CSRF token required")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(CSRFToken(session))) != 1 {
			writeMessage(w, http.StatusForbidden, "Invalid CSRF token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
