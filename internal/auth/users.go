package auth

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,32}$`)

const minPasswordLen = 8

// CreateUserParams carries the fields of a new account.
type CreateUserParams struct {
	Username     string
	Email        string
	Password     string
	IsActive     bool
	IsSuperAdmin bool
}

// CreateUser provisions an account. Username collisions surface as
// ErrConflict from the store.
func (s *Service) CreateUser(ctx context.Context, p CreateUserParams) (*User, error) {
	p.Username = strings.TrimSpace(p.Username)
	p.Email = strings.TrimSpace(p.Email)
	if !usernameRe.MatchString(p.Username) {
		return nil, fmt.Errorf("%w: username must be 3-32 characters of letters, digits, '.', '_' or '-'", ErrInvalidInput)
	}
	if p.Email != "" && !strings.Contains(p.Email, "@") {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if len(p.Password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	hash, err := HashPassword(p.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		ID:           s.newID(),
		Username:     p.Username,
		Email:        p.Email,
		PasswordHash: hash,
		IsActive:     p.IsActive,
		IsSuperAdmin: p.IsSuperAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser fetches one user by id.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.store.Users(ctx).Find(ctx, id)
}

// UpdateUser applies a partial admin-side update. Credential and 2FA fields
// travel through their dedicated flows, never through here.
func (s *Service) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	if upd.Username != nil {
		trimmed := strings.TrimSpace(*upd.Username)
		if !usernameRe.MatchString(trimmed) {
			return nil, fmt.Errorf("%w: username must be 3-32 characters of letters, digits, '.', '_' or '-'", ErrInvalidInput)
		}
		upd.Username = &trimmed
	}
	if upd.Email != nil {
		trimmed := strings.TrimSpace(*upd.Email)
		if trimmed != "" && !strings.Contains(trimmed, "@") {
			return nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
		}
		upd.Email = &trimmed
	}
	upd.PasswordHash = nil
	upd.ChangePassword = nil
	upd.TwoFactorEnabled = nil
	upd.TwoFactorSecret = nil
	return s.store.Users(ctx).Update(ctx, id, upd)
}

// DeleteUser removes an account. Super-admin accounts are protected.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	user, err := s.store.Users(ctx).Find(ctx, id)
	if err != nil {
		return err
	}
	if user.IsSuperAdmin {
		return fmt.Errorf("%w: cannot delete a super-admin account", ErrForbidden)
	}
	deleted, err := s.store.Users(ctx).Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns a page of users with pagination bookkeeping.
func (s *Service) ListUsers(ctx context.Context, opts ListUsersOptions) (*UserPage, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 || opts.Limit > 100 {
		opts.Limit = 20
	}
	users, total, err := s.store.Users(ctx).List(ctx, opts)
	if err != nil {
		return nil, err
	}
	totalPages := total / opts.Limit
	if total%opts.Limit != 0 {
		totalPages++
	}
	return &UserPage{
		Users:      users,
		Page:       opts.Page,
		Limit:      opts.Limit,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

// ChangePassword rotates a user's own password after re-verifying the
// current one, then logs out every other device.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, keepSessionID string) error {
	if len(newPassword) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if VerifyPassword(user.PasswordHash, currentPassword) != nil {
		return ErrUnauthorized
	}
	hash, err := HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	clear := false
	if _, err := s.store.Users(ctx).Update(ctx, userID, UserUpdate{
		PasswordHash:   &hash,
		ChangePassword: &clear,
	}); err != nil {
		return err
	}
	return s.store.Sessions(ctx).DeleteAllForUser(ctx, userID, keepSessionID)
}
