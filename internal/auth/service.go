package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"craftctrl.dev/internal/ids"
	"craftctrl.dev/internal/obs"
)

// Session and recovery lifetimes. The session horizon matches the refresh
// token lifetime; both are fixed design constants.
const (
	SessionTTL           = RefreshTokenTTL
	ResetTokenTTL        = 60 * time.Minute
	defaultResetCooldown = 5 * time.Minute
)

// Service is the login/verify/refresh/logout state machine. It composes the
// token codec, the two-factor checks and the permission resolver over one
// injected Store; it keeps no state of its own beyond configuration.
type Service struct {
	store    Store
	codec    *TokenCodec
	resolver *Resolver
	notifier Notifier

	now      func() time.Time
	newID    func() string
	newToken func() string

	bcryptCost    int
	resetCooldown time.Duration
	frontendBase  string
	apiBase       string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithIDGenerator overrides row id generation.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithTokenGenerator overrides opaque token value generation.
func WithTokenGenerator(fn func() string) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.newToken = fn
		}
	}
}

// WithNotifier sets the password-reset dispatch channel.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithBcryptCost sets the password hashing work factor.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) {
		if cost > 0 {
			s.bcryptCost = cost
		}
	}
}

// WithResetCooldown sets the minimum spacing between reset emails per user.
func WithResetCooldown(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.resetCooldown = d
		}
	}
}

// WithResetLinkBases sets the dashboard and API base URLs embedded into
// reset links.
func WithResetLinkBases(frontendBase, apiBase string) ServiceOption {
	return func(s *Service) {
		s.frontendBase = strings.TrimRight(frontendBase, "/")
		s.apiBase = strings.TrimRight(apiBase, "/")
	}
}

// NewService constructs the auth service. The signing secret must be at
// least 32 characters.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		store:         store,
		notifier:      LogNotifier{},
		now:           time.Now,
		newID:         ids.New,
		newToken:      uuid.NewString,
		bcryptCost:    DefaultBcryptCost,
		resetCooldown: defaultResetCooldown,
		frontendBase:  "http://localhost:3000",
		apiBase:       "http://localhost:5575",
	}
	for _, opt := range opts {
		opt(s)
	}
	codec, err := NewTokenCodec(secret, s.now)
	if err != nil {
		return nil, err
	}
	s.codec = codec
	s.resolver = NewResolver(store)
	return s, nil
}

// Resolver exposes the permission resolver sharing this service's store.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Codec exposes the token codec, mainly for tests and the HTTP layer.
func (s *Service) Codec() *TokenCodec { return s.codec }

// EnsureBuiltins seeds the permission catalog and the super_admin system
// role. Idempotent: an existing role is left alone.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	if err := s.store.Permissions(ctx).Ensure(ctx, BuiltinPermissions); err != nil {
		return err
	}
	err := s.store.Roles(ctx).Create(ctx, &Role{
		ID:           s.newID(),
		Name:         SuperAdminRole,
		Description:  "Full administrative access",
		IsSystemRole: true,
		CreatedAt:    s.now().UTC(),
	}, nil)
	if errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}

// Login runs the first authentication step. The error for an unknown
// username, an inactive account and a wrong password is identical by design.
func (s *Service) Login(ctx context.Context, username, password, userAgent, ipAddress string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrUnauthorized
	}
	user, err := s.store.Users(ctx).FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUnauthorized
	}
	if VerifyPassword(user.PasswordHash, password) != nil {
		return nil, ErrUnauthorized
	}

	if user.ChangePassword {
		if err := s.issueResetToken(ctx, user); err != nil {
			return nil, err
		}
		challenge, err := s.codec.SignChallenge(user.ID, RecoveryChallengeTTL)
		if err != nil {
			return nil, err
		}
		if err := s.createTempSession(ctx, challenge, user.ID, TempSessionRecovery, RecoveryChallengeTTL, userAgent, ipAddress); err != nil {
			return nil, err
		}
		return &LoginResult{RequiresPasswordChange: true, SessionToken: challenge}, nil
	}

	if user.TwoFactorEnabled {
		challenge, err := s.codec.SignChallenge(user.ID, TwoFactorChallengeTTL)
		if err != nil {
			return nil, err
		}
		if err := s.createTempSession(ctx, challenge, user.ID, TempSessionTwoFactor, TwoFactorChallengeTTL, userAgent, ipAddress); err != nil {
			return nil, err
		}
		return &LoginResult{Requires2FA: true, SessionToken: challenge}, nil
	}

	auth, err := s.completeLogin(ctx, user, userAgent, ipAddress)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Auth: auth}, nil
}

// VerifyTwoFactor runs the second login step. The challenge token returned
// by Login is also the persisted temp-session token, so one string round
// trips between the two calls.
func (s *Service) VerifyTwoFactor(ctx context.Context, sessionToken, code, userAgent, ipAddress string) (*AuthResult, error) {
	if _, err := s.codec.VerifyChallenge(sessionToken); err != nil {
		return nil, ErrUnauthorized
	}
	temp, err := s.store.TempSessions(ctx).Find(ctx, sessionToken)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	// A recovery challenge is not a 2FA second step; accepting it here would
	// hand out tokens before the forced password change.
	if temp.Kind != TempSessionTwoFactor {
		return nil, ErrUnauthorized
	}
	user, err := s.store.Users(ctx).Find(ctx, temp.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUnauthorized
	}
	if user.TwoFactorSecret == "" || !VerifyTOTPCode(user.TwoFactorSecret, code, s.now()) {
		return nil, ErrUnauthorized
	}
	if err := s.store.TempSessions(ctx).Delete(ctx, sessionToken); err != nil {
		return nil, err
	}
	return s.completeLogin(ctx, user, userAgent, ipAddress)
}

func (s *Service) completeLogin(ctx context.Context, user *User, userAgent, ipAddress string) (*AuthResult, error) {
	now := s.now().UTC()
	sessionID := s.newToken()

	refreshToken, err := s.codec.SignRefresh(sessionID, user.ID)
	if err != nil {
		return nil, err
	}
	permissions, err := s.resolver.UserPermissions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	accessToken, err := s.codec.SignAccess(user, sessionID, permissions)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:           sessionID,
		UserID:       user.ID,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(SessionTTL),
		UserAgent:    userAgent,
		IPAddress:    ipAddress,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := s.store.Sessions(ctx).Create(ctx, sess); err != nil {
		return nil, err
	}
	return &AuthResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
		Permissions:  permissions,
	}, nil
}

func (s *Service) createTempSession(ctx context.Context, token, userID string, kind TempSessionKind, ttl time.Duration, userAgent, ipAddress string) error {
	now := s.now().UTC()
	return s.store.TempSessions(ctx).Create(ctx, &TempSession{
		Token:     token,
		UserID:    userID,
		Kind:      kind,
		UserAgent: userAgent,
		IPAddress: ipAddress,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	})
}

// Refresh exchanges a valid refresh token for a fresh pair and rotates the
// stored token. A token superseded by an earlier refresh fails the
// compare-and-swap and is rejected, so each refresh token is single use.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, ErrUnauthorized
	}
	sess, err := s.store.Sessions(ctx).Find(ctx, claims.SessionID)
	if errors.Is(err, ErrNotFound) {
		return TokenPair{}, ErrUnauthorized
	}
	if err != nil {
		return TokenPair{}, err
	}
	if sess.RefreshToken != refreshToken || !s.now().Before(sess.ExpiresAt) {
		return TokenPair{}, ErrUnauthorized
	}
	user, err := s.store.Users(ctx).Find(ctx, claims.UserID)
	if errors.Is(err, ErrNotFound) {
		return TokenPair{}, ErrUnauthorized
	}
	if err != nil {
		return TokenPair{}, err
	}
	if !user.IsActive {
		return TokenPair{}, ErrUnauthorized
	}

	// Permissions are recomputed fresh; claims embedded in the old token are
	// not trusted.
	permissions, err := s.resolver.UserPermissions(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	newRefresh, err := s.codec.SignRefresh(sess.ID, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	accessToken, err := s.codec.SignAccess(user, sess.ID, permissions)
	if err != nil {
		return TokenPair{}, err
	}
	err = s.store.Sessions(ctx).RotateRefreshToken(ctx, sess.ID, refreshToken, newRefresh)
	if errors.Is(err, ErrNotFound) {
		return TokenPair{}, ErrUnauthorized
	}
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: accessToken, RefreshToken: newRefresh}, nil
}

// Authenticate validates a bearer access token and re-checks that the
// referenced session is still alive, so a revoked session invalidates
// outstanding access tokens within one request. Touches session activity on
// success.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := s.codec.VerifyAccess(token)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}
	sess, err := s.store.Sessions(ctx).Find(ctx, claims.SessionID)
	if errors.Is(err, ErrNotFound) {
		return Identity{}, ErrUnauthorized
	}
	if err != nil {
		return Identity{}, err
	}
	if !s.now().Before(sess.ExpiresAt) {
		return Identity{}, ErrUnauthorized
	}
	if err := s.store.Sessions(ctx).Touch(ctx, sess.ID); err != nil {
		obs.LogRequest(map[string]any{"level": "warn", "msg": "session touch failed", "session": sess.ID})
	}
	return Identity{
		UserID:       claims.UserID,
		Username:     claims.Username,
		SessionID:    claims.SessionID,
		Permissions:  claims.Permissions,
		IsSuperAdmin: claims.IsSuperAdmin,
	}, nil
}

// Logout destroys a session. Idempotent: deleting an absent session is fine.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.store.Sessions(ctx).Delete(ctx, sessionID)
}

// LogoutAll destroys every session of a user, optionally keeping the
// caller's current one.
func (s *Service) LogoutAll(ctx context.Context, userID, excludeSessionID string) error {
	return s.store.Sessions(ctx).DeleteAllForUser(ctx, userID, excludeSessionID)
}

// RevokeSession deletes a session only if it belongs to the caller. Whether
// the caller may revoke its own current session is the consumer's check.
func (s *Service) RevokeSession(ctx context.Context, sessionID, callerUserID string) (bool, error) {
	sess, err := s.store.Sessions(ctx).Find(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if sess.UserID != callerUserID {
		return false, nil
	}
	if err := s.store.Sessions(ctx).Delete(ctx, sessionID); err != nil {
		return false, err
	}
	return true, nil
}

// UserSessions lists a user's sessions, most recently active first.
func (s *Service) UserSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	return s.store.Sessions(ctx).ListForUser(ctx, userID)
}

// RequestPasswordReset starts credential recovery. It reports success no
// matter what: unknown and inactive users are silently skipped, as is a
// request landing inside the per-user cooldown window.
func (s *Service) RequestPasswordReset(ctx context.Context, username string) error {
	user, err := s.store.Users(ctx).FindByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !user.IsActive {
		return nil
	}
	return s.issueResetToken(ctx, user)
}

func (s *Service) issueResetToken(ctx context.Context, user *User) error {
	now := s.now().UTC()
	tokens := s.store.ResetTokens(ctx)

	// Cooldown is a rate limit, independent of token validity.
	if latest, err := tokens.LatestForUser(ctx, user.ID); err == nil {
		if now.Sub(latest.CreatedAt) < s.resetCooldown {
			return nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	token := s.newToken()
	if err := tokens.Create(ctx, &PasswordResetToken{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: now.Add(ResetTokenTTL),
		CreatedAt: now,
	}); err != nil {
		return err
	}
	link := ResetLink(s.frontendBase, s.apiBase, token)
	if err := s.notifier.SendPasswordReset(ctx, user, link); err != nil {
		// Delivery failure is invisible to the caller by design; keep a trace
		// for operators.
		obs.LogRequest(map[string]any{"level": "error", "msg": "reset dispatch failed", "user": user.Username, "error": err.Error()})
	}
	return nil
}

// ResetPassword consumes a reset token: stores the new hash, clears the
// forced-change flag, marks the token used and logs out every device.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	rt, err := s.store.ResetTokens(ctx).Find(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidInput
	}
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	clear := false
	if _, err := s.store.Users(ctx).Update(ctx, rt.UserID, UserUpdate{
		PasswordHash:   &hash,
		ChangePassword: &clear,
	}); err != nil {
		return err
	}
	if err := s.store.ResetTokens(ctx).MarkUsed(ctx, token); err != nil {
		return err
	}
	return s.store.Sessions(ctx).DeleteAllForUser(ctx, rt.UserID, "")
}

// ForcePasswordChange flags an account for a mandatory reset on next login
// and revokes every live session.
func (s *Service) ForcePasswordChange(ctx context.Context, userID string) error {
	force := true
	if _, err := s.store.Users(ctx).Update(ctx, userID, UserUpdate{ChangePassword: &force}); err != nil {
		return err
	}
	return s.store.Sessions(ctx).DeleteAllForUser(ctx, userID, "")
}
