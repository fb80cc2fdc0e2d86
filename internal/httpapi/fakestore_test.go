package httpapi

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"craftctrl.dev/internal/auth"
)

// fakeStore backs the HTTP tests with in-memory state. Lookup predicates
// match the SQL store: expired temp sessions and used or expired reset
// tokens are invisible.
type fakeStore struct {
	mu sync.Mutex

	users        map[string]*auth.User
	sessions     map[string]*auth.Session
	tempSessions map[string]*auth.TempSession
	resetTokens  map[string]*auth.PasswordResetToken
	roles        map[string]*auth.Role
	rolePerms    map[string][]string
	userRoles    map[string][]string
	catalog      []auth.Permission
	serverGrants map[string]*auth.ResourceGrant
	groupGrants  map[string]*auth.ResourceGrant
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        map[string]*auth.User{},
		sessions:     map[string]*auth.Session{},
		tempSessions: map[string]*auth.TempSession{},
		resetTokens:  map[string]*auth.PasswordResetToken{},
		roles:        map[string]*auth.Role{},
		rolePerms:    map[string][]string{},
		userRoles:    map[string][]string{},
		serverGrants: map[string]*auth.ResourceGrant{},
		groupGrants:  map[string]*auth.ResourceGrant{},
	}
}

func (f *fakeStore) Users(context.Context) auth.UserStore               { return (*fakeUsers)(f) }
func (f *fakeStore) Sessions(context.Context) auth.SessionStore         { return (*fakeSessions)(f) }
func (f *fakeStore) TempSessions(context.Context) auth.TempSessionStore { return (*fakeTempSessions)(f) }
func (f *fakeStore) ResetTokens(context.Context) auth.ResetTokenStore   { return (*fakeResetTokens)(f) }
func (f *fakeStore) Roles(context.Context) auth.RoleStore               { return (*fakeRoles)(f) }
func (f *fakeStore) Permissions(context.Context) auth.PermissionStore   { return (*fakePerms)(f) }
func (f *fakeStore) Grants(context.Context) auth.GrantStore             { return (*fakeGrants)(f) }

type fakeUsers fakeStore

func (f *fakeUsers) Create(ctx context.Context, u *auth.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, other := range f.users {
		if other.Username == u.Username {
			return auth.ErrConflict
		}
	}
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeUsers) Find(ctx context.Context, id string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f *fakeUsers) Update(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	if upd.ChangePassword != nil {
		u.ChangePassword = *upd.ChangePassword
	}
	if upd.TwoFactorEnabled != nil {
		u.TwoFactorEnabled = *upd.TwoFactorEnabled
	}
	if upd.TwoFactorSecret != nil {
		u.TwoFactorSecret = *upd.TwoFactorSecret
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) Delete(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return false, nil
	}
	delete(f.users, id)
	return true, nil
}

func (f *fakeUsers) List(ctx context.Context, opts auth.ListUsersOptions) ([]*auth.User, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*auth.User
	for _, u := range f.users {
		if opts.Search != "" && !strings.Contains(u.Username, opts.Search) {
			continue
		}
		cp := *u
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Username < all[j].Username })
	total := len(all)
	start := (opts.Page - 1) * opts.Limit
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

type fakeSessions fakeStore

func (f *fakeSessions) Create(ctx context.Context, s *auth.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessions) Find(ctx context.Context, id string) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.RefreshToken != oldToken {
		return auth.ErrNotFound
	}
	s.RefreshToken = newToken
	s.LastActiveAt = time.Now().UTC()
	return nil
}

func (f *fakeSessions) Touch(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.LastActiveAt = time.Now().UTC()
	}
	return nil
}

func (f *fakeSessions) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessions) DeleteAllForUser(ctx context.Context, userID, excludeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.sessions {
		if s.UserID == userID && id != excludeID {
			delete(f.sessions, id)
		}
	}
	return nil
}

func (f *fakeSessions) ListForUser(ctx context.Context, userID string) ([]auth.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var out []auth.SessionInfo
	for _, s := range f.sessions {
		if s.UserID != userID {
			continue
		}
		out = append(out, auth.SessionInfo{
			ID:           s.ID,
			UserID:       s.UserID,
			UserAgent:    s.UserAgent,
			IPAddress:    s.IPAddress,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
			ExpiresAt:    s.ExpiresAt,
			IsActive:     now.Before(s.ExpiresAt),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

type fakeTempSessions fakeStore

func (f *fakeTempSessions) Create(ctx context.Context, ts *auth.TempSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *ts
	f.tempSessions[ts.Token] = &cp
	return nil
}

func (f *fakeTempSessions) Find(ctx context.Context, token string) (*auth.TempSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts, ok := f.tempSessions[token]
	if !ok || !time.Now().Before(ts.ExpiresAt) {
		return nil, auth.ErrNotFound
	}
	cp := *ts
	return &cp, nil
}

func (f *fakeTempSessions) Delete(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tempSessions, token)
	return nil
}

type fakeResetTokens fakeStore

func (f *fakeResetTokens) Create(ctx context.Context, t *auth.PasswordResetToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.resetTokens[t.Token] = &cp
	return nil
}

func (f *fakeResetTokens) Find(ctx context.Context, token string) (*auth.PasswordResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.resetTokens[token]
	if !ok || t.Used || !time.Now().Before(t.ExpiresAt) {
		return nil, auth.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeResetTokens) MarkUsed(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.resetTokens[token]
	if !ok {
		return auth.ErrNotFound
	}
	t.Used = true
	return nil
}

func (f *fakeResetTokens) LatestForUser(ctx context.Context, userID string) (*auth.PasswordResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *auth.PasswordResetToken
	for _, t := range f.resetTokens {
		if t.UserID != userID {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, auth.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

type fakeRoles fakeStore

func (f *fakeRoles) Create(ctx context.Context, role *auth.Role, permissionIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, other := range f.roles {
		if other.Name == role.Name {
			return auth.ErrConflict
		}
	}
	cp := *role
	f.roles[role.ID] = &cp
	f.rolePerms[role.ID] = append([]string(nil), permissionIDs...)
	return nil
}

func (f *fakeRoles) Find(ctx context.Context, id string) (*auth.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *role
	cp.Permissions = nil
	for _, pid := range f.rolePerms[id] {
		for _, p := range f.catalog {
			if p.ID == pid {
				cp.Permissions = append(cp.Permissions, p)
			}
		}
	}
	return &cp, nil
}

func (f *fakeRoles) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.roles, id)
	delete(f.rolePerms, id)
	for uid, rids := range f.userRoles {
		var kept []string
		for _, rid := range rids {
			if rid != id {
				kept = append(kept, rid)
			}
		}
		f.userRoles[uid] = kept
	}
	return nil
}

func (f *fakeRoles) Assign(ctx context.Context, userID, roleID, assignedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rid := range f.userRoles[userID] {
		if rid == roleID {
			return nil
		}
	}
	f.userRoles[userID] = append(f.userRoles[userID], roleID)
	return nil
}

func (f *fakeRoles) RemoveAssignment(ctx context.Context, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []string
	for _, rid := range f.userRoles[userID] {
		if rid != roleID {
			kept = append(kept, rid)
		}
	}
	f.userRoles[userID] = kept
	return nil
}

type fakePerms fakeStore

func (f *fakePerms) Ensure(ctx context.Context, perms []auth.Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range perms {
		exists := false
		for _, have := range f.catalog {
			if have.Name == p.Name {
				exists = true
				break
			}
		}
		if !exists {
			if p.ID == "" {
				p.ID = "perm-" + p.Name
			}
			f.catalog = append(f.catalog, p)
		}
	}
	return nil
}

func (f *fakePerms) List(ctx context.Context) ([]auth.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]auth.Permission(nil), f.catalog...), nil
}

func (f *fakePerms) NamesForUser(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := map[string]struct{}{}
	for _, rid := range f.userRoles[userID] {
		for _, pid := range f.rolePerms[rid] {
			for _, p := range f.catalog {
				if p.ID == pid {
					set[p.Name] = struct{}{}
				}
			}
		}
	}
	var out []string
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

type fakeGrants fakeStore

func fakeGrantKey(userID, resourceID string) string { return userID + "/" + resourceID }

func (f *fakeGrants) GrantServer(ctx context.Context, g *auth.ResourceGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *g
	f.serverGrants[fakeGrantKey(g.UserID, g.ResourceID)] = &cp
	return nil
}

func (f *fakeGrants) RevokeServer(ctx context.Context, userID, serverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.serverGrants, fakeGrantKey(userID, serverID))
	return nil
}

func (f *fakeGrants) ServerActions(ctx context.Context, userID, serverID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.serverGrants[fakeGrantKey(userID, serverID)]; ok {
		return append([]string(nil), g.Actions...), nil
	}
	return nil, nil
}

func (f *fakeGrants) ServerActionsByUser(ctx context.Context, userID string) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string][]string{}
	for _, g := range f.serverGrants {
		if g.UserID == userID {
			out[g.ResourceID] = append([]string(nil), g.Actions...)
		}
	}
	return out, nil
}

func (f *fakeGrants) GrantGroup(ctx context.Context, g *auth.ResourceGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *g
	f.groupGrants[fakeGrantKey(g.UserID, g.ResourceID)] = &cp
	return nil
}

func (f *fakeGrants) RevokeGroup(ctx context.Context, userID, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groupGrants, fakeGrantKey(userID, groupID))
	return nil
}

func (f *fakeGrants) GroupActions(ctx context.Context, userID, groupID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.groupGrants[fakeGrantKey(userID, groupID)]; ok {
		return append([]string(nil), g.Actions...), nil
	}
	return nil, nil
}

func (f *fakeGrants) GroupActionsByUser(ctx context.Context, userID string) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string][]string{}
	for _, g := range f.groupGrants {
		if g.UserID == userID {
			out[g.ResourceID] = append([]string(nil), g.Actions...)
		}
	}
	return out, nil
}
