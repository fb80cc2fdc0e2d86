package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory Store for service tests. It mirrors the lookup
// predicates of the SQL store: expired temp sessions and used or expired
// reset tokens are invisible to Find.
type memStore struct {
	mu  sync.Mutex
	now func() time.Time

	users        map[string]*User
	sessions     map[string]*Session
	tempSessions map[string]*TempSession
	resetTokens  map[string]*PasswordResetToken
	roles        map[string]*Role
	rolePerms    map[string][]string // role id -> permission ids
	userRoles    map[string][]string // user id -> role ids
	catalog      []Permission
	serverGrants map[string]*ResourceGrant // userID+"/"+resourceID
	groupGrants  map[string]*ResourceGrant
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now:          now,
		users:        map[string]*User{},
		sessions:     map[string]*Session{},
		tempSessions: map[string]*TempSession{},
		resetTokens:  map[string]*PasswordResetToken{},
		roles:        map[string]*Role{},
		rolePerms:    map[string][]string{},
		userRoles:    map[string][]string{},
		serverGrants: map[string]*ResourceGrant{},
		groupGrants:  map[string]*ResourceGrant{},
	}
}

func (m *memStore) Users(context.Context) UserStore               { return (*memUsers)(m) }
func (m *memStore) Sessions(context.Context) SessionStore         { return (*memSessions)(m) }
func (m *memStore) TempSessions(context.Context) TempSessionStore { return (*memTempSessions)(m) }
func (m *memStore) ResetTokens(context.Context) ResetTokenStore   { return (*memResetTokens)(m) }
func (m *memStore) Roles(context.Context) RoleStore               { return (*memRoles)(m) }
func (m *memStore) Permissions(context.Context) PermissionStore   { return (*memPerms)(m) }
func (m *memStore) Grants(context.Context) GrantStore             { return (*memGrants)(m) }

type memUsers memStore

func (m *memUsers) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.users {
		if other.Username == u.Username {
			return ErrConflict
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
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
	u.UpdatedAt = m.now().UTC()
	cp := *u
	return &cp, nil
}

func (m *memUsers) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return false, nil
	}
	delete(m.users, id)
	return true, nil
}

func (m *memUsers) List(ctx context.Context, opts ListUsersOptions) ([]*User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*User
	for _, u := range m.users {
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

type memSessions memStore

func (m *memSessions) Create(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *memSessions) Find(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *memSessions) RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || sess.RefreshToken != oldToken {
		return ErrNotFound
	}
	sess.RefreshToken = newToken
	sess.LastActiveAt = m.now().UTC()
	return nil
}

func (m *memSessions) Touch(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		sess.LastActiveAt = m.now().UTC()
	}
	return nil
}

func (m *memSessions) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memSessions) DeleteAllForUser(ctx context.Context, userID, excludeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		if sess.UserID == userID && id != excludeID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memSessions) ListForUser(ctx context.Context, userID string) ([]SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []SessionInfo
	for _, sess := range m.sessions {
		if sess.UserID != userID {
			continue
		}
		out = append(out, SessionInfo{
			ID:           sess.ID,
			UserID:       sess.UserID,
			UserAgent:    sess.UserAgent,
			IPAddress:    sess.IPAddress,
			CreatedAt:    sess.CreatedAt,
			LastActiveAt: sess.LastActiveAt,
			ExpiresAt:    sess.ExpiresAt,
			IsActive:     now.Before(sess.ExpiresAt),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

type memTempSessions memStore

func (m *memTempSessions) Create(ctx context.Context, ts *TempSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ts
	m.tempSessions[ts.Token] = &cp
	return nil
}

func (m *memTempSessions) Find(ctx context.Context, token string) (*TempSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.tempSessions[token]
	if !ok || !m.now().Before(ts.ExpiresAt) {
		return nil, ErrNotFound
	}
	cp := *ts
	return &cp, nil
}

func (m *memTempSessions) Delete(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tempSessions, token)
	return nil
}

type memResetTokens memStore

func (m *memResetTokens) Create(ctx context.Context, t *PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.resetTokens[t.Token] = &cp
	return nil
}

func (m *memResetTokens) Find(ctx context.Context, token string) (*PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.resetTokens[token]
	if !ok || t.Used || !m.now().Before(t.ExpiresAt) {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memResetTokens) MarkUsed(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.resetTokens[token]
	if !ok {
		return ErrNotFound
	}
	t.Used = true
	return nil
}

func (m *memResetTokens) LatestForUser(ctx context.Context, userID string) (*PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *PasswordResetToken
	for _, t := range m.resetTokens {
		if t.UserID != userID {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

type memRoles memStore

func (m *memRoles) Create(ctx context.Context, role *Role, permissionIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.roles {
		if other.Name == role.Name {
			return ErrConflict
		}
	}
	cp := *role
	m.roles[role.ID] = &cp
	m.rolePerms[role.ID] = append([]string(nil), permissionIDs...)
	return nil
}

func (m *memRoles) Find(ctx context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	cp.Permissions = nil
	for _, pid := range m.rolePerms[id] {
		for _, p := range m.catalog {
			if p.ID == pid {
				cp.Permissions = append(cp.Permissions, p)
			}
		}
	}
	return &cp, nil
}

func (m *memRoles) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles, id)
	delete(m.rolePerms, id)
	for uid, rids := range m.userRoles {
		var kept []string
		for _, rid := range rids {
			if rid != id {
				kept = append(kept, rid)
			}
		}
		m.userRoles[uid] = kept
	}
	return nil
}

func (m *memRoles) Assign(ctx context.Context, userID, roleID, assignedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rid := range m.userRoles[userID] {
		if rid == roleID {
			return nil
		}
	}
	m.userRoles[userID] = append(m.userRoles[userID], roleID)
	return nil
}

func (m *memRoles) RemoveAssignment(ctx context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []string
	for _, rid := range m.userRoles[userID] {
		if rid != roleID {
			kept = append(kept, rid)
		}
	}
	m.userRoles[userID] = kept
	return nil
}

type memPerms memStore

func (m *memPerms) Ensure(ctx context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		exists := false
		for _, have := range m.catalog {
			if have.Name == p.Name {
				exists = true
				break
			}
		}
		if !exists {
			if p.ID == "" {
				p.ID = "perm-" + p.Name
			}
			m.catalog = append(m.catalog, p)
		}
	}
	return nil
}

func (m *memPerms) List(ctx context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Permission(nil), m.catalog...), nil
}

func (m *memPerms) NamesForUser(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := map[string]struct{}{}
	for _, rid := range m.userRoles[userID] {
		for _, pid := range m.rolePerms[rid] {
			for _, p := range m.catalog {
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

type memGrants memStore

func grantKey(userID, resourceID string) string { return userID + "/" + resourceID }

func (m *memGrants) GrantServer(ctx context.Context, g *ResourceGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.serverGrants[grantKey(g.UserID, g.ResourceID)] = &cp
	return nil
}

func (m *memGrants) RevokeServer(ctx context.Context, userID, serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.serverGrants, grantKey(userID, serverID))
	return nil
}

func (m *memGrants) ServerActions(ctx context.Context, userID, serverID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.serverGrants[grantKey(userID, serverID)]; ok {
		return append([]string(nil), g.Actions...), nil
	}
	return nil, nil
}

func (m *memGrants) ServerActionsByUser(ctx context.Context, userID string) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]string{}
	for _, g := range m.serverGrants {
		if g.UserID == userID {
			out[g.ResourceID] = append([]string(nil), g.Actions...)
		}
	}
	return out, nil
}

func (m *memGrants) GrantGroup(ctx context.Context, g *ResourceGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.groupGrants[grantKey(g.UserID, g.ResourceID)] = &cp
	return nil
}

func (m *memGrants) RevokeGroup(ctx context.Context, userID, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groupGrants, grantKey(userID, groupID))
	return nil
}

func (m *memGrants) GroupActions(ctx context.Context, userID, groupID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.groupGrants[grantKey(userID, groupID)]; ok {
		return append([]string(nil), g.Actions...), nil
	}
	return nil, nil
}

func (m *memGrants) GroupActionsByUser(ctx context.Context, userID string) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]string{}
	for _, g := range m.groupGrants {
		if g.UserID == userID {
			out[g.ResourceID] = append([]string(nil), g.Actions...)
		}
	}
	return out, nil
}
