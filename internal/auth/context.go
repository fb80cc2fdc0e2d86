package auth

import "context"

// Identity is the authenticated caller attached to request contexts by the
// HTTP layer. Permissions come from the verified access token claims.
type Identity struct {
	UserID       string
	Username     string
	SessionID    string
	Permissions  []string
	IsSuperAdmin bool
}

// HasPermission reports whether the identity carries the named permission.
// Super-admins hold every permission unconditionally.
func (id Identity) HasPermission(name string) bool {
	if id.IsSuperAdmin {
		return true
	}
	for _, p := range id.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

type identityContextKey struct{}
type tokenContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &id)
}

// IdentityFromContext extracts the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return Identity{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
