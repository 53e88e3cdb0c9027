// Package token issues and decodes the short-lived JWT pair used by the API.
package token

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	typeRefresh = "refresh"
)

// Claims are the decoded contents of a platform JWT.
type Claims struct {
	UserID  int64
	Refresh bool
}

// Codec signs and verifies the access/refresh token pair with a symmetric
// process-wide secret.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Option configures a Codec.
type Option func(*Codec)

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(d time.Duration) Option {
	return func(c *Codec) { c.accessTTL = d }
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(d time.Duration) Option {
	return func(c *Codec) { c.refreshTTL = d }
}

// NewCodec creates a Codec signing with the given secret.
func NewCodec(secret string, opts ...Option) *Codec {
	c := &Codec{
		secret:     []byte(secret),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IssueAccess signs a short-lived access token for the user.
func (c *Codec) IssueAccess(userID int64) (string, error) {
	return c.sign(userID, c.accessTTL, false)
}

// IssueRefresh signs a long-lived refresh token for the user.
func (c *Codec) IssueRefresh(userID int64) (string, error) {
	return c.sign(userID, c.refreshTTL, true)
}

func (c *Codec) sign(userID int64, ttl time.Duration, refresh bool) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if refresh {
		claims["type"] = typeRefresh
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Decode verifies a token and returns its claims. It is total: signature
// failure, expiry, and structural errors all yield ok == false.
func (c *Codec) Decode(tokenString string) (Claims, bool) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, false
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, false
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return Claims{}, false
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return Claims{}, false
	}

	tokenType, _ := claims["type"].(string)
	return Claims{UserID: userID, Refresh: tokenType == typeRefresh}, true
}
