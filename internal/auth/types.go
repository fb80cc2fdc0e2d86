package auth

import "time"

// User is an identity record for a panel account.
type User struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	IsActive         bool      `json:"isActive"`
	IsSuperAdmin     bool      `json:"isSuperAdmin"`
	ChangePassword   bool      `json:"-"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	TwoFactorSecret  string    `json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Session is a long-lived login on one device or browser. It stays valid
// while the clock is before ExpiresAt; the refresh token stored here is
// rotated on every successful refresh.
type Session struct {
	ID           string
	UserID       string
	RefreshToken string
	ExpiresAt    time.Time
	UserAgent    string
	IPAddress    string
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// SessionInfo is the session view returned to users listing their own
// devices. IsActive is computed from the expiry at query time.
type SessionInfo struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	UserAgent    string    `json:"userAgent,omitempty"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	IsActive     bool      `json:"isActive"`
}

// TempSessionKind distinguishes the two interim login flows.
type TempSessionKind string

const (
	TempSessionTwoFactor TempSessionKind = "2FA"
	TempSessionRecovery  TempSessionKind = "RECOVERY"
)

// TempSession bridges the two steps of a 2FA or recovery login. Single use:
// deleted as soon as the second step succeeds.
type TempSession struct {
	Token     string
	UserID    string
	Kind      TempSessionKind
	UserAgent string
	IPAddress string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PasswordResetToken is a single-use recovery credential.
type PasswordResetToken struct {
	Token     string
	UserID    string
	Used      bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Permission is one entry of the immutable capability catalog seeded at
// startup. Name is "<resource>:<action>".
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Role bundles permissions. System roles cannot be deleted or renamed.
type Role struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	IsSystemRole bool         `json:"isSystemRole"`
	Permissions  []Permission `json:"permissions"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// ResourceGrant is a per-(user, resource) action grant for one server or
// server group. At most one grant exists per pair; re-granting replaces the
// action set.
type ResourceGrant struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ResourceID string    `json:"resourceId"`
	Actions    []string  `json:"actions"`
	GrantedBy  string    `json:"grantedBy"`
	GrantedAt  time.Time `json:"grantedAt"`
}

// UserUpdate carries a partial user mutation. Nil fields are left untouched;
// a pointer to the zero value clears the column.
type UserUpdate struct {
	Username         *string
	Email            *string
	PasswordHash     *string
	IsActive         *bool
	ChangePassword   *bool
	TwoFactorEnabled *bool
	TwoFactorSecret  *string
}

// ListUsersOptions controls pagination and search for ListUsers.
type ListUsersOptions struct {
	Page   int
	Limit  int
	Search string
}

// UserPage is one page of users plus pagination bookkeeping.
type UserPage struct {
	Users      []*User `json:"data"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	Total      int     `json:"total"`
	TotalPages int     `json:"totalPages"`
}

// AuthResult is a completed login: fresh token pair, the user record and the
// effective permission list baked into the access token.
type AuthResult struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         *User    `json:"user"`
	Permissions  []string `json:"permissions"`
}

// LoginResult is the outcome of the first login step. Exactly one of the
// three shapes is populated: a 2FA challenge, a forced password change, or a
// completed AuthResult.
type LoginResult struct {
	Requires2FA            bool   `json:"requires2FA,omitempty"`
	RequiresPasswordChange bool   `json:"requiresPasswordChange,omitempty"`
	SessionToken           string `json:"sessionToken,omitempty"`
	Auth                   *AuthResult
}

// TokenPair is the result of a refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// EffectivePermissions is the full permission picture for one user: global
// names plus per-resource grant maps keyed by server / group id.
type EffectivePermissions struct {
	Global  []string            `json:"global"`
	Servers map[string][]string `json:"servers"`
	Groups  map[string][]string `json:"groups"`
}
