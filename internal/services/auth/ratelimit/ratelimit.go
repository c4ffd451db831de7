// Package ratelimit provides keyed token-bucket limiters for HTTP routes.
package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// Policy describes one limiter.
type Policy struct {
	Name   string
	Max    int
	Window time.Duration
	// Message is returned to denied callers.
	Message string
	// SkipSuccessful refunds the token when the request succeeds.
	SkipSuccessful bool
}

// Default policies.
var (
	API = Policy{
		Name:    "api",
		Max:     100,
		Window:  15 * time.Minute,
		Message: "Too many requests from this IP, please try again later.",
	}
	Auth = Policy{
		Name:           "auth",
		Max:            10,
		Window:         15 * time.Minute,
		Message:        "Too many authentication attempts from this IP, please try again later.",
		SkipSuccessful: true,
	}
	PasswordReset = Policy{
		Name:    "password_reset",
		Max:     3,
		Window:  time.Hour,
		Message: "Too many password reset attempts from this IP, please try again in an hour.",
	}
	Account = Policy{
		Name:           "account",
		Max:            5,
		Window:         15 * time.Minute,
		Message:        "Too many login attempts for this account, please try again later.",
		SkipSuccessful: true,
	}
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	policy  Policy
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]*entry
}

// New builds a limiter refilling Max tokens per Window with burst Max.
func New(policy Policy, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	if policy.Max <= 0 {
		policy.Max = 1
	}
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	return &Limiter{policy: policy, now: now, entries: make(map[string]*entry)}
}

// Policy returns the limiter's policy.
func (l *Limiter) Policy() Policy {
	return l.policy
}

func (l *Limiter) bucket(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		every := rate.Every(l.policy.Window / time.Duration(l.policy.Max))
		e = &entry{limiter: rate.NewLimiter(every, l.policy.Max)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Reservation is the outcome of one Reserve call.
type Reservation struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration

	res *rate.Reservation
	at  time.Time
}

// Release returns the token to the bucket. It is a no-op for denied
// reservations.
func (r *Reservation) Release() {
	if r == nil || !r.Allowed || r.res == nil {
		return
	}
	r.res.CancelAt(r.at)
}

// RetryAfterSeconds rounds RetryAfter to whole seconds, never below one.
func (r *Reservation) RetryAfterSeconds() int {
	if r == nil || r.RetryAfter <= 0 {
		return 0
	}
	return max(1, int(math.Round(r.RetryAfter.Seconds())))
}

// Reserve takes one token for key if available.
func (l *Limiter) Reserve(key string) *Reservation {
	now := l.now()
	bucket := l.bucket(key, now)
	res := bucket.ReserveN(now, 1)
	out := &Reservation{Limit: l.policy.Max, res: res, at: now}
	if !res.OK() {
		out.RetryAfter = l.policy.Window
		return out
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		out.RetryAfter = delay
		return out
	}
	out.Allowed = true
	remaining := int(bucket.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	out.Remaining = remaining
	return out
}

// Sweep drops buckets idle for longer than the window.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.policy.Window)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Run sweeps idle buckets on every tick until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// KeyFunc derives the limiter key for a request.
type KeyFunc func(r *http.Request) string

// DenyFunc writes the response for a denied request.
type DenyFunc func(w http.ResponseWriter, r *http.Request, res *Reservation, message string)

// ClientIP keys requests by remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// SetHeaders writes the standard RateLimit headers for res.
func SetHeaders(w http.ResponseWriter, res *Reservation) {
	h := w.Header()
	h.Set("RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds()))
	}
}

// Middleware enforces the limiter on every request.
func (l *Limiter) Middleware(key KeyFunc, deny DenyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.Reserve(l.policy.Name + ":" + key(r))
			SetHeaders(w, res)
			if !res.Allowed {
				deny(w, r, res, l.policy.Message)
				return
			}
			if !l.policy.SkipSuccessful {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status < http.StatusBadRequest {
				res.Release()
			}
		})
	}
}
