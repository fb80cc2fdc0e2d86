package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token lifetimes are fixed design constants; changing them is a deliberate
// compatibility break with existing clients.
const (
	AccessTokenTTL        = 15 * time.Minute
	RefreshTokenTTL       = 7 * 24 * time.Hour
	TwoFactorChallengeTTL = 5 * time.Minute
	RecoveryChallengeTTL  = 60 * time.Minute
)

const tokenIssuer = "craftctrl"

// minSecretLen guards against weak signing secrets at construction time.
const minSecretLen = 32

// AccessClaims is the payload of a short-lived access token. Verification is
// stateless; the HTTP layer separately re-checks the referenced session.
type AccessClaims struct {
	UserID       string   `json:"userId"`
	SessionID    string   `json:"sessionId"`
	Username     string   `json:"username"`
	Permissions  []string `json:"permissions"`
	IsSuperAdmin bool     `json:"isSuperAdmin"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. Only meaningful together
// with the matching session row's stored refresh token string.
type RefreshClaims struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	jwt.RegisteredClaims
}

// ChallengeClaims is the payload of the interim token linking the two steps
// of a 2FA or forced-reset login.
type ChallengeClaims struct {
	UserID    string `json:"userId"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies the three token kinds with one shared HS256
// secret. Pure functions, no I/O.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

// NewTokenCodec constructs a codec. The secret must be at least 32 bytes.
func NewTokenCodec(secret string, now func() time.Time) (*TokenCodec, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLen {
		return nil, errors.New("auth: signing secret must be at least 32 characters")
	}
	if now == nil {
		now = time.Now
	}
	return &TokenCodec{secret: []byte(secret), now: now}, nil
}

// SignAccess mints an access token for a session.
func (c *TokenCodec) SignAccess(user *User, sessionID string, permissions []string) (string, error) {
	now := c.now().UTC()
	claims := AccessClaims{
		UserID:       user.ID,
		SessionID:    sessionID,
		Username:     user.Username,
		Permissions:  permissions,
		IsSuperAdmin: user.IsSuperAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// SignRefresh mints a refresh token bound to a session.
func (c *TokenCodec) SignRefresh(sessionID, userID string) (string, error) {
	now := c.now().UTC()
	claims := RefreshClaims{
		SessionID: sessionID,
		UserID:    userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(RefreshTokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// SignChallenge mints the interim token returned by the first login step.
func (c *TokenCodec) SignChallenge(userID string, ttl time.Duration) (string, error) {
	now := c.now().UTC()
	claims := ChallengeClaims{
		UserID:    userID,
		TokenType: "session",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// VerifyAccess validates an access token. Every failure surfaces as
// ErrUnauthorized so callers cannot distinguish expired from forged.
func (c *TokenCodec) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(token, claims); err != nil {
		return nil, ErrUnauthorized
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token signature and expiry.
func (c *TokenCodec) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(token, claims); err != nil {
		return nil, ErrUnauthorized
	}
	if claims.SessionID == "" || claims.UserID == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// VerifyChallenge validates an interim session-challenge token.
func (c *TokenCodec) VerifyChallenge(token string) (*ChallengeClaims, error) {
	claims := &ChallengeClaims{}
	if err := c.parse(token, claims); err != nil {
		return nil, ErrUnauthorized
	}
	if claims.UserID == "" || claims.TokenType != "session" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

func (c *TokenCodec) parse(token string, claims jwt.Claims) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrUnauthorized
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrUnauthorized
		}
		return c.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(c.now))
	if err != nil || !parsed.Valid {
		return ErrUnauthorized
	}
	return nil
}
