package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Resolver computes effective permissions from the three layers: role
// permissions, per-server grants and per-group grants. Super-admin
// short-circuits everything.
type Resolver struct {
	store Store
}

// NewResolver builds a resolver over a store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// UserPermissions returns the flat, sorted union of the user's permission
// names: role permissions plus every granted server and group action,
// namespaced "server:<action>" / "group:<action>". A super-admin gets the
// entire catalog.
func (r *Resolver) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	user, err := r.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsSuperAdmin {
		catalog, err := r.store.Permissions(ctx).List(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(catalog))
		for _, p := range catalog {
			names = append(names, p.Name)
		}
		sort.Strings(names)
		return names, nil
	}

	set := make(map[string]struct{})
	roleNames, err := r.store.Permissions(ctx).NamesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, n := range roleNames {
		set[n] = struct{}{}
	}
	servers, err := r.store.Grants(ctx).ServerActionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, actions := range servers {
		for _, a := range actions {
			set[PermissionName(ResourceServer, a)] = struct{}{}
		}
	}
	groups, err := r.store.Grants(ctx).GroupActionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, actions := range groups {
		for _, a := range actions {
			set[PermissionName(ResourceGroup, a)] = struct{}{}
		}
	}

	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Check reports whether the user holds the named permission, optionally
// scoped to one resource id. Evaluation order: super-admin, then the global
// union, then the resource-scoped grant. An unknown user simply lacks every
// permission.
func (r *Resolver) Check(ctx context.Context, userID, permission, resourceID string) (bool, error) {
	user, err := r.store.Users(ctx).Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if user.IsSuperAdmin {
		return true, nil
	}
	global, err := r.UserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, n := range global {
		if n == permission {
			return true, nil
		}
	}
	if resourceID == "" {
		return false, nil
	}
	if action, ok := strings.CutPrefix(permission, ResourceServer+":"); ok {
		actions, err := r.store.Grants(ctx).ServerActions(ctx, userID, resourceID)
		if err != nil {
			return false, err
		}
		return contains(actions, action), nil
	}
	if action, ok := strings.CutPrefix(permission, ResourceGroup+":"); ok {
		actions, err := r.store.Grants(ctx).GroupActions(ctx, userID, resourceID)
		if err != nil {
			return false, err
		}
		return contains(actions, action), nil
	}
	return false, nil
}

// CanAccessServer is Check specialized to one server action.
func (r *Resolver) CanAccessServer(ctx context.Context, userID, serverID, action string) (bool, error) {
	return r.Check(ctx, userID, PermissionName(ResourceServer, action), serverID)
}

// CanAccessGroup is Check specialized to one group action.
func (r *Resolver) CanAccessGroup(ctx context.Context, userID, groupID, action string) (bool, error) {
	return r.Check(ctx, userID, PermissionName(ResourceGroup, action), groupID)
}

// EffectivePermissions returns the full picture: global names plus the raw
// per-server and per-group grant maps.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) (*EffectivePermissions, error) {
	global, err := r.UserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	servers, err := r.store.Grants(ctx).ServerActionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups, err := r.store.Grants(ctx).GroupActionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if servers == nil {
		servers = map[string][]string{}
	}
	if groups == nil {
		groups = map[string][]string{}
	}
	return &EffectivePermissions{Global: global, Servers: servers, Groups: groups}, nil
}

// GrantServer replaces the user's action set on one server.
func (s *Service) GrantServer(ctx context.Context, userID, serverID string, actions []string, grantedBy string) error {
	deduped, err := normalizeActions(actions)
	if err != nil {
		return err
	}
	if _, err := s.store.Users(ctx).Find(ctx, userID); err != nil {
		return err
	}
	return s.store.Grants(ctx).GrantServer(ctx, &ResourceGrant{
		ID:         s.newID(),
		UserID:     userID,
		ResourceID: serverID,
		Actions:    deduped,
		GrantedBy:  grantedBy,
		GrantedAt:  s.now().UTC(),
	})
}

// RevokeServer removes the user's grant on one server, if any.
func (s *Service) RevokeServer(ctx context.Context, userID, serverID string) error {
	return s.store.Grants(ctx).RevokeServer(ctx, userID, serverID)
}

// GrantGroup replaces the user's action set on one server group.
func (s *Service) GrantGroup(ctx context.Context, userID, groupID string, actions []string, grantedBy string) error {
	deduped, err := normalizeActions(actions)
	if err != nil {
		return err
	}
	if _, err := s.store.Users(ctx).Find(ctx, userID); err != nil {
		return err
	}
	return s.store.Grants(ctx).GrantGroup(ctx, &ResourceGrant{
		ID:         s.newID(),
		UserID:     userID,
		ResourceID: groupID,
		Actions:    deduped,
		GrantedBy:  grantedBy,
		GrantedAt:  s.now().UTC(),
	})
}

// RevokeGroup removes the user's grant on one server group, if any.
func (s *Service) RevokeGroup(ctx context.Context, userID, groupID string) error {
	return s.store.Grants(ctx).RevokeGroup(ctx, userID, groupID)
}

var validGrantActions = map[string]struct{}{
	ActionCreate:  {},
	ActionRead:    {},
	ActionUpdate:  {},
	ActionDelete:  {},
	ActionStart:   {},
	ActionStop:    {},
	ActionRestart: {},
	ActionConsole: {},
	ActionLogs:    {},
}

func normalizeActions(actions []string) ([]string, error) {
	seen := make(map[string]struct{}, len(actions))
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if _, ok := validGrantActions[a]; !ok {
			return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, a)
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one action required", ErrInvalidInput)
	}
	sort.Strings(out)
	return out, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
