package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/requestctx"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/token"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
	"go.opentelemetry.io/otel/attribute"
)

// Register creates an account in the role's tenant and signs it in.
//
// Welcome and referral side effects are best effort.
func (s *Service) Register(ctx context.Context, in user.RegisterInput) (result AuthResult, err error) {
	ctx, span := s.start(ctx, "Register", attribute.String("role", in.Role))
	defer func() { end(span, err) }()

	in, role, err := user.ValidateRegistration(in)
	if err != nil {
		return AuthResult{}, err
	}

	store, err := s.tenants.Store(ctx, role)
	if err != nil {
		return AuthResult{}, err
	}

	if _, err := store.GetUserByEmail(ctx, in.Email); err == nil {
		return AuthResult{}, ErrUserExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return AuthResult{}, fmt.Errorf("check existing user: %w", err)
	}

	var referrer *user.User
	if in.DiscountCode != "" {
		employees, err := s.tenants.Store(ctx, user.RoleRemoteEmployee)
		if err != nil {
			return AuthResult{}, err
		}
		found, err := employees.GetUserByDiscountCode(ctx, in.DiscountCode)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && found.Role != user.RoleRemoteEmployee) {
			return AuthResult{}, ErrInvalidDiscountCode
		}
		if err != nil {
			return AuthResult{}, fmt.Errorf("resolve discount code: %w", err)
		}
		referrer = &found
	}

	passwordHash, err := s.hash(in.Password)
	if err != nil {
		return AuthResult{}, err
	}

	input := user.CreateUserInput{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: passwordHash,
		Role:         role,
	}
	if referrer != nil {
		input.ReferredBy = referrer.ID
	}
	created, err := user.CreateUser(input, s.now, s.newID, s.newCode)
	if err != nil {
		return AuthResult{}, fmt.Errorf("build user: %w", err)
	}
	if err := store.CreateUser(ctx, created); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return AuthResult{}, ErrUserExists
		}
		return AuthResult{}, fmt.Errorf("create user: %w", err)
	}

	pair, err := s.tokens.Issue(created)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue tokens: %w", err)
	}

	if err := s.mailer.SendWelcome(ctx, created.Email, created.Name); err != nil {
		log.Printf("send welcome email user_id=%s: %v", created.ID, err)
	}
	if referrer != nil {
		s.creditReferrer(ctx, *referrer, created)
	}

	log.Printf("user registered user_id=%s role=%s", created.ID, created.Role)
	return AuthResult{User: created, Tokens: pair}, nil
}

func (s *Service) creditReferrer(ctx context.Context, referrer, referred user.User) {
	employees, err := s.tenants.Store(ctx, user.RoleRemoteEmployee)
	if err != nil {
		log.Printf("update referral points referrer_id=%s: %v", referrer.ID, err)
		return
	}
	if err := employees.IncrementReferralPoints(ctx, referrer.ID, s.now().UTC()); err != nil {
		log.Printf("update referral points referrer_id=%s: %v", referrer.ID, err)
		return
	}
	if err := s.mailer.SendCommissionNotification(ctx, referrer.Email, referrer.Name, s.cfg.ReferralCommission, referred.Email); err != nil {
		log.Printf("send commission notification referrer_id=%s: %v", referrer.ID, err)
	}
}

// Login verifies credentials and applies the lockout policy.
func (s *Service) Login(ctx context.Context, in user.LoginInput) (result AuthResult, err error) {
	ctx, span := s.start(ctx, "Login", attribute.String("role", in.Role))
	defer func() { end(span, err) }()

	in, role, err := user.ValidateLogin(in)
	if err != nil {
		return AuthResult{}, err
	}
	store, err := s.tenants.Store(ctx, role)
	if err != nil {
		return AuthResult{}, err
	}

	account, err := store.GetUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, fmt.Errorf("load user: %w", err)
	}

	now := s.now().UTC()
	if account.IsLocked(now) {
		return AuthResult{}, ErrAccountLocked
	}

	if !passwordMatches(account.PasswordHash, in.Password) {
		if err := store.RecordFailedLogin(ctx, account.ID, s.cfg.MaxLoginAttempts, s.cfg.LockoutDuration, now); err != nil {
			return AuthResult{}, fmt.Errorf("record failed login: %w", err)
		}
		if storage.LockUntil(account.LoginAttempts, s.cfg.MaxLoginAttempts, s.cfg.LockoutDuration, now) != nil {
			log.Printf("account locked user_id=%s role=%s", account.ID, role)
		}
		return AuthResult{}, ErrInvalidCredentials
	}

	if err := store.ResetLoginAttempts(ctx, account.ID, now); err != nil {
		return AuthResult{}, fmt.Errorf("reset login attempts: %w", err)
	}
	account.LoginAttempts = 0
	account.LockedUntil = nil
	account.LastLogin = &now

	pair, err := s.tokens.Issue(account)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue tokens: %w", err)
	}
	return AuthResult{User: account, Tokens: pair}, nil
}

// Authenticate verifies an access token and loads its account.
func (s *Service) Authenticate(ctx context.Context, raw string) (principal requestctx.Principal, err error) {
	ctx, span := s.start(ctx, "Authenticate")
	defer func() { end(span, err) }()

	claims, err := s.tokens.ParseAccess(raw)
	if err != nil {
		return requestctx.Principal{}, err
	}
	revoked, err := s.revoked.IsRevoked(ctx, claims.TokenID)
	if err != nil {
		return requestctx.Principal{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return requestctx.Principal{}, ErrTokenRevoked
	}

	account, err := s.loadAccount(ctx, claims.UserID, claims.Role)
	if err != nil {
		return requestctx.Principal{}, err
	}
	return requestctx.Principal{
		ID:        account.ID,
		Email:     account.Email,
		Role:      string(account.Role),
		Name:      account.Name,
		TokenID:   claims.TokenID,
		Token:     raw,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// loadAccount fetches a token subject and rejects missing or locked users.
func (s *Service) loadAccount(ctx context.Context, userID string, role user.Role) (user.User, error) {
	store, err := s.tenants.Store(ctx, role)
	if err != nil {
		return user.User{}, err
	}
	account, err := store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, ErrTokenUserMissing
		}
		return user.User{}, fmt.Errorf("load token user: %w", err)
	}
	if account.IsLocked(s.now().UTC()) {
		return user.User{}, ErrAccountLocked
	}
	return account, nil
}

// Logout revokes the access token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, principal requestctx.Principal) (err error) {
	ctx, span := s.start(ctx, "Logout")
	defer func() { end(span, err) }()

	if principal.TokenID == "" {
		return nil
	}
	if err := s.revoked.Revoke(ctx, principal.TokenID, principal.ExpiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Refresh exchanges a refresh token for a new pair and retires the old one.
func (s *Service) Refresh(ctx context.Context, rawRefresh, roleValue string) (pair token.Pair, err error) {
	ctx, span := s.start(ctx, "Refresh", attribute.String("role", roleValue))
	defer func() { end(span, err) }()

	role, err := user.ParseRole(roleValue)
	if err != nil {
		return token.Pair{}, err
	}
	claims, err := s.tokens.ParseRefresh(rawRefresh)
	if err != nil {
		return token.Pair{}, err
	}
	revoked, err := s.revoked.IsRevoked(ctx, claims.TokenID)
	if err != nil {
		return token.Pair{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return token.Pair{}, ErrTokenRevoked
	}

	account, err := s.loadAccount(ctx, claims.UserID, role)
	if err != nil {
		return token.Pair{}, err
	}
	claimed, err := s.revoked.Claim(ctx, claims.TokenID, claims.ExpiresAt)
	if err != nil {
		return token.Pair{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	if !claimed {
		return token.Pair{}, ErrTokenRevoked
	}
	pair, err = s.tokens.Issue(account)
	if err != nil {
		return token.Pair{}, fmt.Errorf("issue tokens: %w", err)
	}
	return pair, nil
}
