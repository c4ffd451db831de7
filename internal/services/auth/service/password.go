package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
	"go.opentelemetry.io/otel/attribute"
)

// ForgotPassword issues a reset token when the account exists.
//
// Unknown emails succeed silently so callers cannot enumerate accounts.
func (s *Service) ForgotPassword(ctx context.Context, email, roleValue string) (err error) {
	ctx, span := s.start(ctx, "ForgotPassword", attribute.String("role", roleValue))
	defer func() { end(span, err) }()

	email, role, err := user.ValidateResetRequest(email, roleValue)
	if err != nil {
		return err
	}
	store, err := s.tenants.Store(ctx, role)
	if err != nil {
		return err
	}

	account, err := store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}

	resetToken, err := s.newResetToken()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	now := s.now().UTC()
	if err := store.SetPasswordReset(ctx, account.ID, resetToken, now.Add(s.cfg.ResetExpiry), now); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	if err := s.mailer.SendPasswordReset(ctx, account.Email, account.Name, resetToken); err != nil {
		log.Printf("send password reset email user_id=%s: %v", account.ID, err)
		return ErrResetEmail
	}
	return nil
}

// ResetPassword consumes a reset token from whichever tenant holds it.
// Unreachable tenants are skipped.
func (s *Service) ResetPassword(ctx context.Context, resetToken, password, confirm string) (err error) {
	ctx, span := s.start(ctx, "ResetPassword")
	defer func() { end(span, err) }()

	if err := user.ValidateReset(resetToken, password, confirm); err != nil {
		return err
	}

	now := s.now().UTC()
	var (
		account user.User
		store   storage.UserStore
		found   bool
	)
	for _, role := range user.Roles() {
		candidate, err := s.tenants.Store(ctx, role)
		if err != nil {
			log.Printf("skip %s tenant for password reset: %v", role, err)
			continue
		}
		u, err := candidate.GetUserByResetToken(ctx, resetToken, now)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				log.Printf("check %s tenant for password reset: %v", role, err)
			}
			continue
		}
		account, store, found = u, candidate, true
		break
	}
	if !found {
		return ErrInvalidResetToken
	}

	passwordHash, err := s.hash(password)
	if err != nil {
		return err
	}
	if err := store.RedeemPasswordReset(ctx, resetToken, passwordHash, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Another request consumed the token first.
			return ErrInvalidResetToken
		}
		return fmt.Errorf("redeem password reset: %w", err)
	}
	log.Printf("password reset user_id=%s role=%s", account.ID, account.Role)
	return nil
}

// ChangePassword replaces the password of an authenticated account.
func (s *Service) ChangePassword(ctx context.Context, userID string, role user.Role, current, next, confirm string) (err error) {
	ctx, span := s.start(ctx, "ChangePassword", attribute.String("role", string(role)))
	defer func() { end(span, err) }()

	if err := user.ValidatePasswordChange(current, next, confirm); err != nil {
		return err
	}
	store, err := s.tenants.Store(ctx, role)
	if err != nil {
		return err
	}
	account, err := store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load user: %w", err)
	}
	if !passwordMatches(account.PasswordHash, current) {
		return ErrCurrentPassword
	}

	passwordHash, err := s.hash(next)
	if err != nil {
		return err
	}
	if err := store.UpdatePassword(ctx, account.ID, passwordHash, s.now().UTC()); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}
