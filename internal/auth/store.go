package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
// All entities are owned by the store; services keep no cached copies.
type Store interface {
	Users(ctx context.Context) UserStore
	Sessions(ctx context.Context) SessionStore
	TempSessions(ctx context.Context) TempSessionStore
	ResetTokens(ctx context.Context) ResetTokenStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	Grants(ctx context.Context) GrantStore
}

// UserStore manages user records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, opts ListUsersOptions) ([]*User, int, error)
}

// SessionStore manages long-lived sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	// RotateRefreshToken swaps the stored refresh token in a single
	// compare-and-swap update. Returns ErrNotFound when no row matched the
	// (id, oldToken) pair, which callers treat as an expired or replayed
	// token.
	RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) error
	Touch(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID, excludeID string) error
	ListForUser(ctx context.Context, userID string) ([]SessionInfo, error)
}

// TempSessionStore manages interim 2FA / recovery sessions. Find must not
// return expired rows; expiry is enforced by the lookup predicate.
type TempSessionStore interface {
	Create(ctx context.Context, ts *TempSession) error
	Find(ctx context.Context, token string) (*TempSession, error)
	Delete(ctx context.Context, token string) error
}

// ResetTokenStore manages password reset tokens. Find must not return used
// or expired rows.
type ResetTokenStore interface {
	Create(ctx context.Context, t *PasswordResetToken) error
	Find(ctx context.Context, token string) (*PasswordResetToken, error)
	MarkUsed(ctx context.Context, token string) error
	// LatestForUser returns the newest still-valid token for the cooldown
	// check, or ErrNotFound.
	LatestForUser(ctx context.Context, userID string) (*PasswordResetToken, error)
}

// RoleStore manages roles and role assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role, permissionIDs []string) error
	Find(ctx context.Context, id string) (*Role, error)
	Delete(ctx context.Context, id string) error
	Assign(ctx context.Context, userID, roleID, assignedBy string) error
	RemoveAssignment(ctx context.Context, userID, roleID string) error
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	// NamesForUser returns permission names reachable through the user's
	// role assignments.
	NamesForUser(ctx context.Context, userID string) ([]string, error)
}

// GrantStore manages per-resource action grants. Grant semantics are upsert:
// the new action set replaces any existing one for the (user, resource) pair.
type GrantStore interface {
	GrantServer(ctx context.Context, g *ResourceGrant) error
	RevokeServer(ctx context.Context, userID, serverID string) error
	ServerActions(ctx context.Context, userID, serverID string) ([]string, error)
	ServerActionsByUser(ctx context.Context, userID string) (map[string][]string, error)

	GrantGroup(ctx context.Context, g *ResourceGrant) error
	RevokeGroup(ctx context.Context, userID, groupID string) error
	GroupActions(ctx context.Context, userID, groupID string) ([]string, error)
	GroupActionsByUser(ctx context.Context, userID string) (map[string][]string, error)
}
