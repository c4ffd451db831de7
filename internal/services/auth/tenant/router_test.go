package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/errors"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
)

type fakeStore struct {
	storage.UserStore

	mu        sync.Mutex
	failPings int
	pings     int
	migrates  int
	closed    bool
}

func (f *fakeStore) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	if f.failPings > 0 {
		f.failPings--
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type migratingStore struct {
	*fakeStore
	delay time.Duration
}

func (m migratingStore) Migrate(context.Context) error {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.migrates++
	return nil
}

func TestStoreUnknownRole(t *testing.T) {
	r := NewRouter(map[user.Role]storage.UserStore{user.RoleUser: &fakeStore{}})
	_, err := r.Store(context.Background(), user.RoleAdmin)
	if !errors.Is(err, ErrUnknownTenant) {
		t.Fatalf("expected unknown tenant, got %v", err)
	}
}

func TestStorePingsOnlyUntilConnected(t *testing.T) {
	fs := &fakeStore{}
	r := NewRouter(map[user.Role]storage.UserStore{user.RoleUser: fs})
	for i := 0; i < 3; i++ {
		if _, err := r.Store(context.Background(), user.RoleUser); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	if fs.pings != 1 {
		t.Fatalf("pings = %d, want 1", fs.pings)
	}
}

func TestStoreUnavailableTenant(t *testing.T) {
	fs := &fakeStore{failPings: 1}
	r := NewRouter(map[user.Role]storage.UserStore{user.RoleUser: fs})
	_, err := r.Store(context.Background(), user.RoleUser)
	if apperrors.GetCode(err) != apperrors.CodeTenantUnavailable {
		t.Fatalf("expected tenant unavailable, got %v", err)
	}
	if _, err := r.Store(context.Background(), user.RoleUser); err != nil {
		t.Fatalf("expected recovery on next call: %v", err)
	}
}

func TestStoreMigratesOnce(t *testing.T) {
	ms := migratingStore{fakeStore: &fakeStore{}}
	r := NewRouter(map[user.Role]storage.UserStore{user.RoleAdmin: ms})
	for i := 0; i < 2; i++ {
		if _, err := r.Store(context.Background(), user.RoleAdmin); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	if ms.migrates != 1 {
		t.Fatalf("migrates = %d, want 1", ms.migrates)
	}
}

func TestStoreMigratesOnceUnderConcurrentCalls(t *testing.T) {
	ms := migratingStore{fakeStore: &fakeStore{}, delay: 20 * time.Millisecond}
	r := NewRouter(map[user.Role]storage.UserStore{user.RoleAdmin: ms})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Store(context.Background(), user.RoleAdmin); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("store: %v", err)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.migrates != 1 {
		t.Fatalf("migrates = %d, want 1", ms.migrates)
	}
}

func TestWaitForConnectionRetries(t *testing.T) {
	fs := &fakeStore{failPings: 2}
	r := NewRouter(map[user.Role]storage.UserStore{user.RoleUser: fs})
	if err := r.WaitForConnection(context.Background(), user.RoleUser, 3, time.Millisecond); err != nil {
		t.Fatalf("wait for connection: %v", err)
	}
	if fs.pings != 3 {
		t.Fatalf("pings = %d, want 3", fs.pings)
	}
}

func TestWaitForConnectionGivesUp(t *testing.T) {
	fs := &fakeStore{failPings: 10}
	r := NewRouter(map[user.Role]storage.UserStore{user.RoleUser: fs})
	if err := r.WaitForConnection(context.Background(), user.RoleUser, 3, time.Millisecond); err == nil {
		t.Fatal("expected error")
	}
	if fs.pings != 3 {
		t.Fatalf("pings = %d, want 3", fs.pings)
	}
}

func TestConnectAllAndHealthCheck(t *testing.T) {
	good := &fakeStore{}
	bad := &fakeStore{failPings: 100}
	r := NewRouter(map[user.Role]storage.UserStore{
		user.RoleUser:  good,
		user.RoleAdmin: bad,
	})

	results := r.ConnectAll(context.Background(), 2, time.Millisecond)
	if results[user.RoleUser] != nil {
		t.Fatalf("user tenant: %v", results[user.RoleUser])
	}
	if results[user.RoleAdmin] == nil {
		t.Fatal("expected admin tenant failure")
	}

	status := r.HealthCheck(context.Background())
	if !status[user.RoleUser] || status[user.RoleAdmin] {
		t.Fatalf("status = %v", status)
	}
}

func TestCloseClosesEveryStore(t *testing.T) {
	a, b := &fakeStore{}, &fakeStore{}
	r := NewRouter(map[user.Role]storage.UserStore{user.RoleUser: a, user.RoleRemoteEmployee: b})
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Fatal("expected all stores closed")
	}
}

func TestOpenSQLite(t *testing.T) {
	r, err := Open(context.Background(), Config{Driver: DriverSQLite, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	if got := len(r.Roles()); got != 3 {
		t.Fatalf("roles = %d, want 3", got)
	}
	status := r.HealthCheck(context.Background())
	for _, role := range user.Roles() {
		if !status[role] {
			t.Fatalf("%s tenant unhealthy", role)
		}
	}
	if _, err := r.Store(context.Background(), user.RoleRemoteEmployee); err != nil {
		t.Fatalf("store: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "mysql"}); err == nil {
		t.Fatal("expected driver error")
	}
	if _, err := Open(context.Background(), Config{Driver: DriverPostgres}); err == nil {
		t.Fatal("expected missing postgres config error")
	}
}
