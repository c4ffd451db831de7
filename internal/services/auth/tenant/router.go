// Package tenant routes each user role to its own tenant database.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	apperrors "github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/errors"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/timeouts"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage/postgres"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage/sqlite"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnknownTenant is returned for roles without a configured tenant.
var ErrUnknownTenant = apperrors.New(apperrors.CodeInvalidRole, "database pool not found for user type")

// ErrTenantUnavailable is returned when a tenant cannot be reached.
var ErrTenantUnavailable = apperrors.New(apperrors.CodeTenantUnavailable, "Database connection failed")

// Config selects the backend for every tenant.
type Config struct {
	Driver string
	// DataDir holds one SQLite file per tenant.
	DataDir string
	// Postgres holds per-role connection settings for the postgres driver.
	Postgres map[user.Role]postgres.Config
}

// migrator is implemented by stores whose schema is applied after connect.
type migrator interface {
	Migrate(ctx context.Context) error
}

type tenant struct {
	role  user.Role
	store storage.UserStore
	// migrateMu serializes schema application for the tenant.
	migrateMu sync.Mutex
	connected bool
	migrated  bool
}

// Router owns one store per role.
type Router struct {
	mu      sync.Mutex
	tenants map[user.Role]*tenant
	ping    time.Duration
}

// NewRouter wraps already-opened stores. Missing roles stay unrouted.
func NewRouter(stores map[user.Role]storage.UserStore) *Router {
	r := &Router{tenants: make(map[user.Role]*tenant, len(stores)), ping: timeouts.DBPing}
	for role, store := range stores {
		if store == nil {
			continue
		}
		_, needsMigration := store.(migrator)
		r.tenants[role] = &tenant{role: role, store: store, migrated: !needsMigration}
	}
	return r
}

// Open builds the router for every role using the configured driver.
func Open(ctx context.Context, cfg Config) (*Router, error) {
	stores := make(map[user.Role]storage.UserStore, len(user.Roles()))
	closeAll := func() {
		for _, s := range stores {
			_ = s.Close()
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		dir := strings.TrimSpace(cfg.DataDir)
		if dir == "" {
			dir = "data"
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		for _, role := range user.Roles() {
			store, err := sqlite.Open(filepath.Join(dir, "tenant_"+string(role)+".db"))
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("open %s tenant: %w", role, err)
			}
			stores[role] = store
		}
	case DriverPostgres:
		for _, role := range user.Roles() {
			pgCfg, ok := cfg.Postgres[role]
			if !ok {
				closeAll()
				return nil, fmt.Errorf("missing postgres config for %s tenant", role)
			}
			store, err := postgres.Open(ctx, pgCfg)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("open %s tenant: %w", role, err)
			}
			stores[role] = store
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}

	return NewRouter(stores), nil
}

func (r *Router) lookup(role user.Role) (*tenant, error) {
	if r == nil {
		return nil, ErrUnknownTenant
	}
	t, ok := r.tenants[role]
	if !ok {
		return nil, ErrUnknownTenant
	}
	return t, nil
}

// Store returns the role's store after making sure the tenant is reachable.
func (r *Router) Store(ctx context.Context, role user.Role) (storage.UserStore, error) {
	t, err := r.lookup(role)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	ready := t.connected && t.migrated
	r.mu.Unlock()
	if ready {
		return t.store, nil
	}

	if err := r.connect(ctx, t); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTenantUnavailable, ErrTenantUnavailable.Message, err)
	}
	return t.store, nil
}

// connect pings the tenant and applies pending migrations on first contact.
func (r *Router) connect(ctx context.Context, t *tenant) error {
	pingCtx, cancel := context.WithTimeout(ctx, r.ping)
	defer cancel()
	if err := t.store.Ping(pingCtx); err != nil {
		r.setConnected(t, false)
		return err
	}

	t.migrateMu.Lock()
	defer t.migrateMu.Unlock()
	r.mu.Lock()
	migrated := t.migrated
	r.mu.Unlock()
	if !migrated {
		if m, ok := t.store.(migrator); ok {
			if err := m.Migrate(ctx); err != nil {
				return err
			}
		}
	}

	r.mu.Lock()
	t.connected = true
	t.migrated = true
	r.mu.Unlock()
	return nil
}

func (r *Router) setConnected(t *tenant, connected bool) {
	r.mu.Lock()
	t.connected = connected
	r.mu.Unlock()
}

// WaitForConnection retries the tenant ping at a fixed interval.
func (r *Router) WaitForConnection(ctx context.Context, role user.Role, maxRetries uint, interval time.Duration) error {
	t, err := r.lookup(role)
	if err != nil {
		return err
	}
	if maxRetries == 0 {
		maxRetries = 1
	}
	if interval <= 0 {
		interval = timeouts.DBRetryInterval
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := r.connect(ctx, t); err != nil {
			log.Printf("%s tenant connection attempt %d/%d failed: %v", role, attempt, maxRetries, err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewConstantBackOff(interval)), backoff.WithMaxTries(maxRetries))
	if err != nil {
		return fmt.Errorf("%s tenant unavailable after %d attempts: %w", role, attempt, err)
	}
	return nil
}

// ConnectAll waits for every tenant and returns the per-role outcome.
func (r *Router) ConnectAll(ctx context.Context, maxRetries uint, interval time.Duration) map[user.Role]error {
	results := make(map[user.Role]error, len(r.tenants))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, role := range r.Roles() {
		wg.Add(1)
		go func(role user.Role) {
			defer wg.Done()
			err := r.WaitForConnection(ctx, role, maxRetries, interval)
			mu.Lock()
			results[role] = err
			mu.Unlock()
		}(role)
	}
	wg.Wait()
	return results
}

// HealthCheck pings every tenant and reports reachability per role.
func (r *Router) HealthCheck(ctx context.Context) map[user.Role]bool {
	status := make(map[user.Role]bool, len(r.tenants))
	for _, role := range r.Roles() {
		t := r.tenants[role]
		pingCtx, cancel := context.WithTimeout(ctx, r.ping)
		err := t.store.Ping(pingCtx)
		cancel()
		r.setConnected(t, err == nil)
		status[role] = err == nil
	}
	return status
}

// Roles lists routed roles in a stable order.
func (r *Router) Roles() []user.Role {
	if r == nil {
		return nil
	}
	roles := make([]user.Role, 0, len(r.tenants))
	for role := range r.tenants {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Close closes every tenant store.
func (r *Router) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, role := range r.Roles() {
		t := r.tenants[role]
		if err := t.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s tenant: %w", role, err))
		}
		r.setConnected(t, false)
	}
	return errors.Join(errs...)
}
