// Package revocation records logged-out token ids until they expire.
package revocation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store tracks revoked token ids.
type Store interface {
	// Revoke marks jti revoked until expiresAt; past expiries are no-ops.
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// Claim revokes jti and reports whether this call did so. Exactly one of
	// any number of concurrent claims on the same live jti returns true.
	Claim(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
	Close() error
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemory returns an empty in-process store.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{entries: make(map[string]time.Time), now: now}
}

// Revoke records jti until expiresAt.
func (m *Memory) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	if strings.TrimSpace(jti) == "" {
		return fmt.Errorf("token id is required")
	}
	if !expiresAt.After(m.now()) {
		return nil
	}
	m.mu.Lock()
	m.entries[jti] = expiresAt
	m.mu.Unlock()
	return nil
}

// IsRevoked reports whether jti is revoked and not yet expired.
func (m *Memory) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiresAt, ok := m.entries[jti]
	if !ok {
		return false, nil
	}
	if !expiresAt.After(m.now()) {
		delete(m.entries, jti)
		return false, nil
	}
	return true, nil
}

// Claim records jti unless an unexpired entry already exists.
func (m *Memory) Claim(_ context.Context, jti string, expiresAt time.Time) (bool, error) {
	if strings.TrimSpace(jti) == "" {
		return false, fmt.Errorf("token id is required")
	}
	now := m.now()
	if !expiresAt.After(now) {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[jti]; ok && existing.After(now) {
		return false, nil
	}
	m.entries[jti] = expiresAt
	return true, nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for jti, expiresAt := range m.entries {
		if !expiresAt.After(now) {
			delete(m.entries, jti)
			removed++
		}
	}
	return removed
}

// Run sweeps on every tick until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

const redisKeyPrefix = "ttml:revoked:"

// Redis is a Store shared across processes through Redis key expiry.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, now func() time.Time) *Redis {
	if now == nil {
		now = time.Now
	}
	return &Redis{client: client, now: now}
}

// OpenRedis parses a redis:// URL and verifies the server responds.
func OpenRedis(ctx context.Context, rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, nil), nil
}

// Revoke stores jti with a TTL matching the token's remaining lifetime.
func (r *Redis) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if strings.TrimSpace(jti) == "" {
		return fmt.Errorf("token id is required")
	}
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, redisKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether the jti key still exists.
func (r *Redis) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, redisKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

// Claim sets the jti key only if it is absent.
func (r *Redis) Claim(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	if strings.TrimSpace(jti) == "" {
		return false, fmt.Errorf("token id is required")
	}
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+jti, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim token: %w", err)
	}
	return ok, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
