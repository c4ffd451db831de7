package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/errors"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/revocation"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage/sqlite"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/tenant"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/token"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
	"golang.org/x/crypto/bcrypt"
)

const strongPassword = "Str0ng!Pass"

type sentMail struct {
	kind       string
	to         string
	name       string
	token      string
	commission float64
	referred   string
}

type fakeMailer struct {
	mu         sync.Mutex
	sent       []sentMail
	resetErr   error
	welcomeErr error
}

func (f *fakeMailer) SendWelcome(_ context.Context, to, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{kind: "welcome", to: to, name: name})
	return f.welcomeErr
}

func (f *fakeMailer) SendPasswordReset(_ context.Context, to, name, resetToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resetErr != nil {
		return f.resetErr
	}
	f.sent = append(f.sent, sentMail{kind: "reset", to: to, name: name, token: resetToken})
	return nil
}

func (f *fakeMailer) SendCommissionNotification(_ context.Context, to, name string, commission float64, referredEmail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{kind: "commission", to: to, name: name, commission: commission, referred: referredEmail})
	return nil
}

func (f *fakeMailer) byKind(kind string) []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMail
	for _, m := range f.sent {
		if m.kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc     *Service
	router  *tenant.Router
	mailer  *fakeMailer
	clock   *clock
	revoked *revocation.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	stores := make(map[user.Role]storage.UserStore)
	for _, role := range user.Roles() {
		store, err := sqlite.Open(filepath.Join(dir, "tenant_"+string(role)+".db"))
		if err != nil {
			t.Fatalf("open %s store: %v", role, err)
		}
		stores[role] = store
	}
	router := tenant.NewRouter(stores)
	t.Cleanup(func() { _ = router.Close() })

	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	var seq int
	var seqMu sync.Mutex
	nextID := func() (string, error) {
		seqMu.Lock()
		defer seqMu.Unlock()
		seq++
		return fmt.Sprintf("id-%d", seq), nil
	}
	tokens, err := token.NewManager(token.Config{Secret: "test-secret", Now: clk.Now, NewID: nextID})
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	mailer := &fakeMailer{}
	revoked := revocation.NewMemory(clk.Now)

	var resets int
	svc, err := New(Config{
		BcryptCost:         bcrypt.MinCost,
		MaxLoginAttempts:   3,
		LockoutDuration:    15 * time.Minute,
		ReferralCommission: 0.05,
	}, Deps{
		Tenants: router,
		Tokens:  tokens,
		Revoked: revoked,
		Mailer:  mailer,
		Now:     clk.Now,
		NewID:   nextID,
		NewCode: func() (string, error) { return "REMOTEABC12345", nil },
		NewResetToken: func() (string, error) {
			resets++
			return fmt.Sprintf("reset-token-%d", resets), nil
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &harness{svc: svc, router: router, mailer: mailer, clock: clk, revoked: revoked}
}

func (h *harness) register(t *testing.T, email, role, code string) AuthResult {
	t.Helper()
	result, err := h.svc.Register(context.Background(), user.RegisterInput{
		Email:           email,
		Name:            "Test Person",
		Password:        strongPassword,
		ConfirmPassword: strongPassword,
		Role:            role,
		DiscountCode:    code,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return result
}

func assertCode(t *testing.T, err error, want apperrors.Code) {
	t.Helper()
	if got := apperrors.GetCode(err); got != want {
		t.Fatalf("error code = %s, want %s (err=%v)", got, want, err)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("expected missing dependency error")
	}
}

func TestNewRejectsBadCost(t *testing.T) {
	h := newHarness(t)
	_, err := New(Config{BcryptCost: 99}, Deps{
		Tenants: h.router,
		Tokens:  h.svc.tokens,
		Revoked: h.revoked,
		Mailer:  h.mailer,
	})
	if err == nil {
		t.Fatal("expected bcrypt cost error")
	}
}

func TestRegisterCreatesUserAndTokens(t *testing.T) {
	h := newHarness(t)
	result := h.register(t, "Ada@Example.com", "user", "")

	if result.User.Email != "ada@example.com" {
		t.Fatalf("email = %q", result.User.Email)
	}
	if result.User.Role != user.RoleUser {
		t.Fatalf("role = %q", result.User.Role)
	}
	if result.User.PasswordHash == strongPassword {
		t.Fatal("expected hashed password")
	}
	if result.Tokens.AccessToken == "" || result.Tokens.RefreshToken == "" {
		t.Fatal("expected token pair")
	}
	if got := h.mailer.byKind("welcome"); len(got) != 1 || got[0].to != "ada@example.com" {
		t.Fatalf("welcome mails = %+v", got)
	}

	store, err := h.router.Store(context.Background(), user.RoleUser)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := store.GetUserByEmail(context.Background(), "ada@example.com"); err != nil {
		t.Fatalf("expected persisted user: %v", err)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com", "user", "")
	_, err := h.svc.Register(context.Background(), user.RegisterInput{
		Email:           "ADA@example.com",
		Name:            "Ada Again",
		Password:        strongPassword,
		ConfirmPassword: strongPassword,
		Role:            "user",
	})
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestRegisterSameEmailInDifferentTenants(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com", "user", "")
	h.register(t, "ada@example.com", "admin", "")
}

func TestRegisterValidationFailure(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Register(context.Background(), user.RegisterInput{Email: "bad", Role: "user"})
	assertCode(t, err, apperrors.CodeValidationFailed)
}

func TestRegisterWithDiscountCodeCreditsReferrer(t *testing.T) {
	h := newHarness(t)
	employee := h.register(t, "emp@example.com", "remote_employee", "")
	if employee.User.DiscountCode != "REMOTEABC12345" {
		t.Fatalf("discount code = %q", employee.User.DiscountCode)
	}

	referred := h.register(t, "client@example.com", "user", "REMOTEABC12345")
	if referred.User.ReferredBy != employee.User.ID {
		t.Fatalf("referred by = %q, want %q", referred.User.ReferredBy, employee.User.ID)
	}

	store, err := h.router.Store(context.Background(), user.RoleRemoteEmployee)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	updated, err := store.GetUser(context.Background(), employee.User.ID)
	if err != nil {
		t.Fatalf("get employee: %v", err)
	}
	if updated.ReferralPoints == nil || *updated.ReferralPoints != 1 {
		t.Fatalf("referral points = %v", updated.ReferralPoints)
	}
	mails := h.mailer.byKind("commission")
	if len(mails) != 1 || mails[0].to != "emp@example.com" || mails[0].referred != "client@example.com" || mails[0].commission != 0.05 {
		t.Fatalf("commission mails = %+v", mails)
	}
}

func TestRegisterRejectsUnknownDiscountCode(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Register(context.Background(), user.RegisterInput{
		Email:           "client@example.com",
		Name:            "Client Person",
		Password:        strongPassword,
		ConfirmPassword: strongPassword,
		Role:            "user",
		DiscountCode:    "NOPE1234",
	})
	if !errors.Is(err, ErrInvalidDiscountCode) {
		t.Fatalf("expected invalid discount code, got %v", err)
	}
}

func TestRegisterSurvivesWelcomeFailure(t *testing.T) {
	h := newHarness(t)
	h.mailer.welcomeErr = errors.New("smtp down")
	h.register(t, "ada@example.com", "user", "")
}

func TestLoginSuccessResetsAttempts(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com", "user", "")
	ctx := context.Background()

	if _, err := h.svc.Login(ctx, user.LoginInput{Email: "ada@example.com", Password: "wrong", Role: "user"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	result, err := h.svc.Login(ctx, user.LoginInput{Email: "ada@example.com", Password: strongPassword, Role: "user"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.User.LoginAttempts != 0 || result.User.LastLogin == nil {
		t.Fatalf("unexpected login state: %+v", result.User)
	}

	store, _ := h.router.Store(ctx, user.RoleUser)
	stored, err := store.GetUser(ctx, result.User.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if stored.LoginAttempts != 0 {
		t.Fatalf("stored attempts = %d", stored.LoginAttempts)
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Login(context.Background(), user.LoginInput{Email: "ghost@example.com", Password: "x", Role: "user"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestLoginWrongTenant(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com", "user", "")
	_, err := h.svc.Login(context.Background(), user.LoginInput{Email: "ada@example.com", Password: strongPassword, Role: "admin"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestLoginLocksAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com", "user", "")
	ctx := context.Background()
	bad := user.LoginInput{Email: "ada@example.com", Password: "wrong", Role: "user"}
	good := user.LoginInput{Email: "ada@example.com", Password: strongPassword, Role: "user"}

	for i := 0; i < 3; i++ {
		if _, err := h.svc.Login(ctx, bad); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i+1, err)
		}
	}
	_, err := h.svc.Login(ctx, good)
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected lockout, got %v", err)
	}
	if status := apperrors.GetCode(err).HTTPStatus(); status != 423 {
		t.Fatalf("status = %d", status)
	}

	h.clock.Advance(16 * time.Minute)
	if _, err := h.svc.Login(ctx, good); err != nil {
		t.Fatalf("login after lockout: %v", err)
	}
}

func TestAuthenticateAndLogout(t *testing.T) {
	h := newHarness(t)
	result := h.register(t, "ada@example.com", "user", "")
	ctx := context.Background()

	principal, err := h.svc.Authenticate(ctx, result.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.ID != result.User.ID || principal.Role != "user" || principal.TokenID == "" {
		t.Fatalf("unexpected principal: %+v", principal)
	}

	if err := h.svc.Logout(ctx, principal); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := h.svc.Authenticate(ctx, result.Tokens.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked token, got %v", err)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	h := newHarness(t)
	result := h.register(t, "ada@example.com", "user", "")
	ctx := context.Background()

	_, err := h.svc.Authenticate(ctx, "garbage")
	assertCode(t, err, apperrors.CodeTokenInvalid)

	_, err = h.svc.Authenticate(ctx, result.Tokens.RefreshToken)
	assertCode(t, err, apperrors.CodeTokenInvalid)

	h.clock.Advance(8 * 24 * time.Hour)
	_, err = h.svc.Authenticate(ctx, result.Tokens.AccessToken)
	assertCode(t, err, apperrors.CodeTokenExpired)
}

func TestAuthenticateRejectsLockedUser(t *testing.T) {
	h := newHarness(t)
	result := h.register(t, "ada@example.com", "user", "")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = h.svc.Login(ctx, user.LoginInput{Email: "ada@example.com", Password: "wrong", Role: "user"})
	}
	if _, err := h.svc.Authenticate(ctx, result.Tokens.AccessToken); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected lockout, got %v", err)
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	h := newHarness(t)
	result := h.register(t, "ada@example.com", "user", "")
	ctx := context.Background()

	pair, err := h.svc.Refresh(ctx, result.Tokens.RefreshToken, "user")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if pair.AccessToken == result.Tokens.AccessToken || pair.RefreshToken == result.Tokens.RefreshToken {
		t.Fatal("expected new token pair")
	}
	if _, err := h.svc.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("authenticate refreshed token: %v", err)
	}
	if _, err := h.svc.Refresh(ctx, result.Tokens.RefreshToken, "user"); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected reused refresh token to be revoked, got %v", err)
	}
}

func TestRefreshConcurrentReuseRotatesOnce(t *testing.T) {
	h := newHarness(t)
	result := h.register(t, "ada@example.com", "user", "")
	ctx := context.Background()

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Refresh(ctx, result.Tokens.RefreshToken, "user")
		}(i)
	}
	wg.Wait()

	rotated := 0
	for _, err := range errs {
		switch {
		case err == nil:
			rotated++
		case !errors.Is(err, ErrTokenRevoked):
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if rotated != 1 {
		t.Fatalf("rotations = %d, want 1", rotated)
	}
}

func TestRefreshRejectsAccessTokenAndWrongRole(t *testing.T) {
	h := newHarness(t)
	result := h.register(t, "ada@example.com", "user", "")
	ctx := context.Background()

	_, err := h.svc.Refresh(ctx, result.Tokens.AccessToken, "user")
	assertCode(t, err, apperrors.CodeTokenInvalid)

	_, err = h.svc.Refresh(ctx, result.Tokens.RefreshToken, "admin")
	if !errors.Is(err, ErrTokenUserMissing) {
		t.Fatalf("expected missing user, got %v", err)
	}

	_, err = h.svc.Refresh(ctx, result.Tokens.RefreshToken, "superuser")
	assertCode(t, err, apperrors.CodeInvalidRole)
}

func TestForgotAndResetPassword(t *testing.T) {
	h := newHarness(t)
	h.register(t, "emp@example.com", "remote_employee", "")
	ctx := context.Background()

	if err := h.svc.ForgotPassword(ctx, "EMP@example.com", "remote_employee"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	mails := h.mailer.byKind("reset")
	if len(mails) != 1 || mails[0].token != "reset-token-1" {
		t.Fatalf("reset mails = %+v", mails)
	}

	const next = "N3w!Password"
	if err := h.svc.ResetPassword(ctx, "reset-token-1", next, next); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if err := h.svc.ResetPassword(ctx, "reset-token-1", next, next); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected consumed token, got %v", err)
	}

	if _, err := h.svc.Login(ctx, user.LoginInput{Email: "emp@example.com", Password: next, Role: "remote_employee"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	h := newHarness(t)
	if err := h.svc.ForgotPassword(context.Background(), "ghost@example.com", "user"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	if got := h.mailer.byKind("reset"); len(got) != 0 {
		t.Fatalf("unexpected reset mail: %+v", got)
	}
}

func TestForgotPasswordMailFailure(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com", "user", "")
	h.mailer.resetErr = errors.New("smtp down")
	err := h.svc.ForgotPassword(context.Background(), "ada@example.com", "user")
	if !errors.Is(err, ErrResetEmail) {
		t.Fatalf("expected mail failure, got %v", err)
	}
}

func TestResetPasswordExpiredToken(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com", "user", "")
	ctx := context.Background()
	if err := h.svc.ForgotPassword(ctx, "ada@example.com", "user"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	h.clock.Advance(2 * time.Hour)
	const next = "N3w!Password"
	if err := h.svc.ResetPassword(ctx, "reset-token-1", next, next); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestResetPasswordConcurrentReplayRedeemsOnce(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ada@example.com", "user", "")
	ctx := context.Background()
	if err := h.svc.ForgotPassword(ctx, "ada@example.com", "user"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}

	passwords := []string{"N3w!Password", "0ther!Passw0rd", "Th1rd!Passw0rd", "F0urth!Passw0rd"}
	errs := make([]error, len(passwords))
	var wg sync.WaitGroup
	for i, next := range passwords {
		wg.Add(1)
		go func(i int, next string) {
			defer wg.Done()
			errs[i] = h.svc.ResetPassword(ctx, "reset-token-1", next, next)
		}(i, next)
	}
	wg.Wait()

	winner := ""
	for i, err := range errs {
		switch {
		case err == nil:
			if winner != "" {
				t.Fatal("reset token redeemed more than once")
			}
			winner = passwords[i]
		case !errors.Is(err, ErrInvalidResetToken):
			t.Fatalf("unexpected reset error: %v", err)
		}
	}
	if winner == "" {
		t.Fatal("no reset succeeded")
	}
	if _, err := h.svc.Login(ctx, user.LoginInput{Email: "ada@example.com", Password: winner, Role: "user"}); err != nil {
		t.Fatalf("login with winning password: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t)
	result := h.register(t, "ada@example.com", "user", "")
	ctx := context.Background()
	const next = "N3w!Password"

	err := h.svc.ChangePassword(ctx, result.User.ID, user.RoleUser, "Wr0ng!Pass", next, next)
	if !errors.Is(err, ErrCurrentPassword) {
		t.Fatalf("expected wrong current password, got %v", err)
	}
	err = h.svc.ChangePassword(ctx, "missing", user.RoleUser, strongPassword, next, next)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected missing user, got %v", err)
	}
	if err := h.svc.ChangePassword(ctx, result.User.ID, user.RoleUser, strongPassword, next, next); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := h.svc.Login(ctx, user.LoginInput{Email: "ada@example.com", Password: next, Role: "user"}); err != nil {
		t.Fatalf("login with changed password: %v", err)
	}
}

func TestMe(t *testing.T) {
	h := newHarness(t)
	result := h.register(t, "ada@example.com", "user", "")
	got, err := h.svc.Me(context.Background(), result.User.ID, user.RoleUser)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if got.Email != "ada@example.com" {
		t.Fatalf("email = %q", got.Email)
	}
	if _, err := h.svc.Me(context.Background(), "missing", user.RoleUser); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected missing user, got %v", err)
	}
}

func TestListUsers(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a@example.com", "user", "")
	h.register(t, "b@example.com", "user", "")
	h.register(t, "root@example.com", "admin", "")
	ctx := context.Background()

	if _, err := h.svc.ListUsers(ctx, user.RoleUser, ListUsersRequest{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	page, err := h.svc.ListUsers(ctx, user.RoleAdmin, ListUsersRequest{})
	if err != nil {
		t.Fatalf("list admins: %v", err)
	}
	if len(page.Users) != 1 || page.Users[0].Email != "root@example.com" {
		t.Fatalf("admin page = %+v", page.Users)
	}

	page, err = h.svc.ListUsers(ctx, user.RoleAdmin, ListUsersRequest{Tenant: "user", PageSize: 1})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(page.Users) != 1 || page.NextPageToken == "" {
		t.Fatalf("first page = %+v", page)
	}
	page, err = h.svc.ListUsers(ctx, user.RoleAdmin, ListUsersRequest{Tenant: "user", PageSize: 1, PageToken: page.NextPageToken})
	if err != nil {
		t.Fatalf("list users page 2: %v", err)
	}
	if len(page.Users) != 1 || page.NextPageToken != "" {
		t.Fatalf("second page = %+v", page)
	}

	page, err = h.svc.ListUsers(ctx, user.RoleAdmin, ListUsersRequest{Tenant: "user", Filter: `email = "b@example.com"`})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(page.Users) != 1 || page.Users[0].Email != "b@example.com" {
		t.Fatalf("filtered page = %+v", page.Users)
	}
}
