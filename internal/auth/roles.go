package auth

import (
	"context"
	"fmt"
	"strings"
)

// CreateRole provisions a role with an initial permission set.
func (s *Service) CreateRole(ctx context.Context, name, description string, permissionIDs []string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name required", ErrInvalidInput)
	}
	role := &Role{
		ID:          s.newID(),
		Name:        name,
		Description: description,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Roles(ctx).Create(ctx, role, permissionIDs); err != nil {
		return nil, err
	}
	return s.store.Roles(ctx).Find(ctx, role.ID)
}

// GetRole fetches one role including its permissions.
func (s *Service) GetRole(ctx context.Context, id string) (*Role, error) {
	return s.store.Roles(ctx).Find(ctx, id)
}

// DeleteRole removes a role. System roles are protected.
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	role, err := s.store.Roles(ctx).Find(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return fmt.Errorf("%w: cannot delete a system role", ErrForbidden)
	}
	return s.store.Roles(ctx).Delete(ctx, id)
}

// AssignRole attaches a role to a user. Idempotent at the store level.
func (s *Service) AssignRole(ctx context.Context, userID, roleID, assignedBy string) error {
	if _, err := s.store.Users(ctx).Find(ctx, userID); err != nil {
		return err
	}
	if _, err := s.store.Roles(ctx).Find(ctx, roleID); err != nil {
		return err
	}
	return s.store.Roles(ctx).Assign(ctx, userID, roleID, assignedBy)
}

// RemoveRole detaches a role from a user.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID string) error {
	return s.store.Roles(ctx).RemoveAssignment(ctx, userID, roleID)
}

// ListPermissions returns the full permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.Permissions(ctx).List(ctx)
}
