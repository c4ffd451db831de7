package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/storage"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Me returns the caller's profile.
func (s *Service) Me(ctx context.Context, userID string, role user.Role) (account user.User, err error) {
	ctx, span := s.start(ctx, "Me", attribute.String("role", string(role)))
	defer func() { end(span, err) }()

	store, err := s.tenants.Store(ctx, role)
	if err != nil {
		return user.User{}, err
	}
	account, err = store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, ErrUserNotFound
		}
		return user.User{}, fmt.Errorf("load user: %w", err)
	}
	return account, nil
}

// ListUsersRequest selects a page of one tenant's accounts.
type ListUsersRequest struct {
	// Tenant defaults to the admin tenant.
	Tenant    string
	Filter    string
	PageSize  int
	PageToken string
}

// ListUsers returns accounts for administrators.
func (s *Service) ListUsers(ctx context.Context, callerRole user.Role, req ListUsersRequest) (page storage.UserPage, err error) {
	ctx, span := s.start(ctx, "ListUsers", attribute.String("tenant", req.Tenant))
	defer func() { end(span, err) }()

	if callerRole != user.RoleAdmin {
		return storage.UserPage{}, ErrForbidden
	}
	tenantRole := user.RoleAdmin
	if req.Tenant != "" {
		tenantRole, err = user.ParseRole(req.Tenant)
		if err != nil {
			return storage.UserPage{}, err
		}
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	store, err := s.tenants.Store(ctx, tenantRole)
	if err != nil {
		return storage.UserPage{}, err
	}
	return store.ListUsers(ctx, req.Filter, pageSize, req.PageToken)
}
