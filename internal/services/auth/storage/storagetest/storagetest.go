// Package storagetest runs the shared UserStore behavior checks against any
// backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/errors"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
)

// OpenFunc returns an empty, migrated store owned by t.
type OpenFunc func(t *testing.T) storage.UserStore

// Run exercises every UserStore operation against stores built by open.
func Run(t *testing.T, open OpenFunc) {
	tests := []struct {
		name string
		run  func(*testing.T, storage.UserStore)
	}{
		{"CreateGetRoundTrip", testCreateGetRoundTrip},
		{"CreateDuplicateEmail", testCreateDuplicateEmail},
		{"CreateDuplicateDiscountCode", testCreateDuplicateDiscountCode},
		{"CreateRequiresFields", testCreateRequiresFields},
		{"GetNotFound", testGetNotFound},
		{"FailedLoginLocksAtThreshold", testFailedLoginLocksAtThreshold},
		{"FailedLoginWithoutLockout", testFailedLoginWithoutLockout},
		{"FailedLoginMissingUser", testFailedLoginMissingUser},
		{"PasswordResetLifecycle", testPasswordResetLifecycle},
		{"RedeemPasswordResetOnce", testRedeemPasswordResetOnce},
		{"RedeemPasswordResetConcurrent", testRedeemPasswordResetConcurrent},
		{"IncrementReferralPoints", testIncrementReferralPoints},
		{"ListNewestFirst", testListNewestFirst},
		{"ListFilter", testListFilter},
		{"Ping", testPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.run(t, open(t))
		})
	}
}

// User returns a minimal account created at the given time.
func User(id, email string, created time.Time) user.User {
	return user.User{
		ID:           id,
		Email:        email,
		Name:         "Test User",
		PasswordHash: "hash",
		Role:         user.RoleUser,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func mustCreate(t *testing.T, store storage.UserStore, u user.User) {
	t.Helper()
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", u.ID, err)
	}
}

func mustGet(t *testing.T, store storage.UserStore, id string) user.User {
	t.Helper()
	got, err := store.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("get user %s: %v", id, err)
	}
	return got
}

func testCreateGetRoundTrip(t *testing.T, store storage.UserStore) {
	ctx := context.Background()
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	points := 0
	input := user.User{
		ID:             "emp-1",
		Email:          "emp@example.com",
		Name:           "Remote Person",
		PasswordHash:   "hash",
		Role:           user.RoleRemoteEmployee,
		EmailVerified:  true,
		CreatedAt:      created,
		UpdatedAt:      created,
		DiscountCode:   "REMOTEABCD1234",
		ReferralPoints: &points,
	}
	mustCreate(t, store, input)

	got := mustGet(t, store, "emp-1")
	if got.Email != input.Email || got.Name != input.Name || got.Role != input.Role || !got.EmailVerified {
		t.Fatalf("unexpected user: %+v", got)
	}
	if !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(created) {
		t.Fatalf("timestamps = %v / %v", got.CreatedAt, got.UpdatedAt)
	}
	if got.ReferralPoints == nil || *got.ReferralPoints != 0 {
		t.Fatalf("referral points = %v", got.ReferralPoints)
	}
	if got.LettersUsed != nil || got.LastLogin != nil || got.LockedUntil != nil || got.PasswordResetExpires != nil {
		t.Fatalf("expected nil optional fields: %+v", got)
	}
	if got.ReferredBy != "" || got.SubscriptionPlan != "" || got.PasswordResetToken != "" {
		t.Fatalf("expected empty optional strings: %+v", got)
	}

	byEmail, err := store.GetUserByEmail(ctx, " EMP@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if byEmail.ID != "emp-1" {
		t.Fatalf("by email id = %q", byEmail.ID)
	}

	byCode, err := store.GetUserByDiscountCode(ctx, "REMOTEABCD1234")
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if byCode.ID != "emp-1" {
		t.Fatalf("by code id = %q", byCode.ID)
	}

	letters := 3
	member := User("u-1", "member@example.com", created)
	member.LettersUsed = &letters
	member.SubscriptionPlan = "pro"
	member.ReferredBy = "emp-1"
	mustCreate(t, store, member)
	got = mustGet(t, store, "u-1")
	if got.LettersUsed == nil || *got.LettersUsed != 3 || got.SubscriptionPlan != "pro" || got.ReferredBy != "emp-1" {
		t.Fatalf("unexpected member: %+v", got)
	}
	if got.ReferralPoints != nil || got.DiscountCode != "" {
		t.Fatalf("member should not carry employee fields: %+v", got)
	}
}

func testCreateDuplicateEmail(t *testing.T, store storage.UserStore) {
	u := User("u-1", "dup@example.com", baseTime)
	mustCreate(t, store, u)
	u.ID = "u-2"
	err := store.CreateUser(context.Background(), u)
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if apperrors.GetCode(err) != apperrors.CodeAlreadyExists {
		t.Fatalf("code = %s", apperrors.GetCode(err))
	}
}

func testCreateDuplicateDiscountCode(t *testing.T, store storage.UserStore) {
	first := User("emp-1", "one@example.com", baseTime)
	first.DiscountCode = "REMOTE1"
	mustCreate(t, store, first)
	second := User("emp-2", "two@example.com", baseTime)
	second.DiscountCode = "REMOTE1"
	if err := store.CreateUser(context.Background(), second); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func testCreateRequiresFields(t *testing.T, store storage.UserStore) {
	if err := store.CreateUser(context.Background(), user.User{ID: " ", Email: "a@b.co"}); err == nil {
		t.Fatal("expected error for empty user id")
	}
	if err := store.CreateUser(context.Background(), user.User{ID: "x"}); err == nil {
		t.Fatal("expected error for empty email")
	}
}

func testGetNotFound(t *testing.T, store storage.UserStore) {
	ctx := context.Background()
	if _, err := store.GetUser(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.GetUserByEmail(ctx, "missing@example.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.GetUserByDiscountCode(ctx, "NOPE"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.GetUser(ctx, " "); err == nil || errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected argument error, got %v", err)
	}
}

func testFailedLoginLocksAtThreshold(t *testing.T, store storage.UserStore) {
	ctx := context.Background()
	mustCreate(t, store, User("u-1", "lock@example.com", baseTime))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 4; i++ {
		if err := store.RecordFailedLogin(ctx, "u-1", 5, 15*time.Minute, now); err != nil {
			t.Fatalf("record failed login: %v", err)
		}
		got := mustGet(t, store, "u-1")
		if got.LoginAttempts != i {
			t.Fatalf("attempts = %d, want %d", got.LoginAttempts, i)
		}
		if got.LockedUntil != nil {
			t.Fatalf("locked after %d attempts", i)
		}
	}

	if err := store.RecordFailedLogin(ctx, "u-1", 5, 15*time.Minute, now); err != nil {
		t.Fatalf("record failed login: %v", err)
	}
	got := mustGet(t, store, "u-1")
	if got.LockedUntil == nil || !got.LockedUntil.Equal(now.Add(15*time.Minute)) {
		t.Fatalf("locked until = %v", got.LockedUntil)
	}
	if !got.IsLocked(now.Add(time.Minute)) {
		t.Fatal("expected locked user")
	}
	if !got.UpdatedAt.Equal(now) {
		t.Fatalf("updated at = %v", got.UpdatedAt)
	}

	later := now.Add(20 * time.Minute)
	if err := store.ResetLoginAttempts(ctx, "u-1", later); err != nil {
		t.Fatalf("reset login attempts: %v", err)
	}
	got = mustGet(t, store, "u-1")
	if got.LoginAttempts != 0 || got.LockedUntil != nil {
		t.Fatalf("expected cleared lockout: %+v", got)
	}
	if got.LastLogin == nil || !got.LastLogin.Equal(later) {
		t.Fatalf("last login = %v", got.LastLogin)
	}
}

func testFailedLoginWithoutLockout(t *testing.T, store storage.UserStore) {
	ctx := context.Background()
	mustCreate(t, store, User("u-1", "nolock@example.com", baseTime))
	for i := 0; i < 3; i++ {
		if err := store.RecordFailedLogin(ctx, "u-1", 0, time.Hour, baseTime); err != nil {
			t.Fatalf("record failed login: %v", err)
		}
	}
	got := mustGet(t, store, "u-1")
	if got.LoginAttempts != 3 || got.LockedUntil != nil {
		t.Fatalf("attempts = %d locked = %v", got.LoginAttempts, got.LockedUntil)
	}
}

func testFailedLoginMissingUser(t *testing.T, store storage.UserStore) {
	ctx := context.Background()
	if err := store.RecordFailedLogin(ctx, "missing", 5, time.Minute, time.Now()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.ResetLoginAttempts(ctx, "missing", time.Now()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.IncrementReferralPoints(ctx, "missing", time.Now()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testPasswordResetLifecycle(t *testing.T, store storage.UserStore) {
	ctx := context.Background()
	mustCreate(t, store, User("u-1", "reset@example.com", baseTime))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.SetPasswordReset(ctx, "u-1", "tok", now.Add(time.Hour), now); err != nil {
		t.Fatalf("set password reset: %v", err)
	}
	if err := store.SetPasswordReset(ctx, "missing", "tok2", now.Add(time.Hour), now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	got, err := store.GetUserByResetToken(ctx, "tok", now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("get by reset token: %v", err)
	}
	if got.ID != "u-1" || got.PasswordResetExpires == nil || !got.PasswordResetExpires.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected user: %+v", got)
	}
	if _, err := store.GetUserByResetToken(ctx, "tok", now.Add(2*time.Hour)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected expired token to be not found, got %v", err)
	}

	if err := store.UpdatePassword(ctx, "u-1", "new-hash", now); err != nil {
		t.Fatalf("update password: %v", err)
	}
	got = mustGet(t, store, "u-1")
	if got.PasswordHash != "new-hash" || got.PasswordResetToken != "" || got.PasswordResetExpires != nil {
		t.Fatalf("unexpected user after update: %+v", got)
	}
	if _, err := store.GetUserByResetToken(ctx, "tok", now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected cleared token, got %v", err)
	}
}

func testRedeemPasswordResetOnce(t *testing.T, store storage.UserStore) {
	ctx := context.Background()
	mustCreate(t, store, User("u-1", "redeem@example.com", baseTime))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.SetPasswordReset(ctx, "u-1", "tok", now.Add(time.Hour), now); err != nil {
		t.Fatalf("set password reset: %v", err)
	}

	if err := store.RedeemPasswordReset(ctx, "tok", "expired-hash", now.Add(2*time.Hour)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
	at := now.Add(10 * time.Minute)
	if err := store.RedeemPasswordReset(ctx, "tok", "new-hash", at); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	got := mustGet(t, store, "u-1")
	if got.PasswordHash != "new-hash" || got.PasswordResetToken != "" || got.PasswordResetExpires != nil {
		t.Fatalf("unexpected user after redeem: %+v", got)
	}
	if !got.UpdatedAt.Equal(at) {
		t.Fatalf("updated at = %v", got.UpdatedAt)
	}
	if err := store.RedeemPasswordReset(ctx, "tok", "other-hash", at); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected spent token to be rejected, got %v", err)
	}
	if got := mustGet(t, store, "u-1"); got.PasswordHash != "new-hash" {
		t.Fatalf("spent token overwrote hash: %q", got.PasswordHash)
	}
}

func testRedeemPasswordResetConcurrent(t *testing.T, store storage.UserStore) {
	ctx := context.Background()
	mustCreate(t, store, User("u-1", "race@example.com", baseTime))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.SetPasswordReset(ctx, "u-1", "tok", now.Add(time.Hour), now); err != nil {
		t.Fatalf("set password reset: %v", err)
	}

	const workers = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		unknown []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.RedeemPasswordReset(ctx, "tok", fmt.Sprintf("hash-%d", i), now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case !errors.Is(err, storage.ErrNotFound):
				unknown = append(unknown, err)
			}
		}(i)
	}
	wg.Wait()
	if len(unknown) > 0 {
		t.Fatalf("unexpected errors: %v", unknown)
	}
	if won != 1 {
		t.Fatalf("redemptions = %d, want 1", won)
	}
}

func testIncrementReferralPoints(t *testing.T, store storage.UserStore) {
	ctx := context.Background()
	mustCreate(t, store, User("emp-1", "emp@example.com", baseTime))
	for i := 0; i < 2; i++ {
		if err := store.IncrementReferralPoints(ctx, "emp-1", time.Now()); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	got := mustGet(t, store, "emp-1")
	if got.ReferralPoints == nil || *got.ReferralPoints != 2 {
		t.Fatalf("referral points = %v", got.ReferralPoints)
	}
}

func testListNewestFirst(t *testing.T, store storage.UserStore) {
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		mustCreate(t, store, User(fmt.Sprintf("u-%d", i), fmt.Sprintf("u%d@example.com", i), baseTime.Add(time.Duration(i)*time.Minute)))
	}
	// u-4 and u-5 share a creation time, so id breaks the tie.
	tied := baseTime.Add(10 * time.Minute)
	mustCreate(t, store, User("u-4", "u4@example.com", tied))
	mustCreate(t, store, User("u-5", "u5@example.com", tied))

	var ids []string
	token := ""
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatal("pagination did not terminate")
		}
		page, err := store.ListUsers(ctx, "", 2, token)
		if err != nil {
			t.Fatalf("list users: %v", err)
		}
		for _, u := range page.Users {
			ids = append(ids, u.ID)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	want := []string{"u-5", "u-4", "u-3", "u-2", "u-1"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}

	first, err := store.ListUsers(ctx, "", 1, "")
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	next, err := store.ListUsers(ctx, "", 1, first.NextPageToken)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(next.Users) != 1 || next.Users[0].ID != "u-4" {
		t.Fatalf("page after tie = %+v", next.Users)
	}

	if _, err := store.ListUsers(ctx, "", 2, "u-2"); apperrors.GetCode(err) != apperrors.CodeInvalidPageToken {
		t.Fatalf("expected invalid page token, got %v", err)
	}
}

func testListFilter(t *testing.T, store storage.UserStore) {
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		mustCreate(t, store, User(fmt.Sprintf("u-%d", i), fmt.Sprintf("u%d@example.com", i), baseTime.Add(time.Duration(i)*time.Minute)))
	}

	page, err := store.ListUsers(ctx, `email = "U2@example.com"`, 10, "")
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(page.Users) != 1 || page.Users[0].ID != "u-2" || page.NextPageToken != "" {
		t.Fatalf("unexpected page: %+v", page)
	}

	page, err = store.ListUsers(ctx, `role = "user"`, 2, "")
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(page.Users) != 2 || page.NextPageToken == "" {
		t.Fatalf("unexpected filtered page: %+v", page)
	}
	page, err = store.ListUsers(ctx, `role = "user"`, 2, page.NextPageToken)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(page.Users) != 1 || page.Users[0].ID != "u-1" {
		t.Fatalf("unexpected filtered second page: %+v", page)
	}

	if _, err := store.ListUsers(ctx, `password_hash = "x"`, 10, ""); apperrors.GetCode(err) != apperrors.CodeInvalidFilter {
		t.Fatalf("expected invalid filter, got %v", err)
	}
	if _, err := store.ListUsers(ctx, "", 0, ""); err == nil {
		t.Fatal("expected page size error")
	}
}

func testPing(t *testing.T, store storage.UserStore) {
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
