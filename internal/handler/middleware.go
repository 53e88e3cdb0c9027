package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/repository"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/session"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/token"
)

const (
	contextKeyUserID = "user_id"

	headerUIDKey      = "X-UID-Key"
	sessionCookieName = "sessionid"
	accessCookieName  = "access_token"
)

// RequestLogger logs each HTTP request with structured fields.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			slog.Info("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)

			return err
		}
	}
}

// AuthMiddleware authenticates requests either by Bearer JWT or by the
// username:uuid API key carried in X-UID-Key.
type AuthMiddleware struct {
	tokens *token.Codec
	store  *repository.Store
	binder session.Binder
}

// NewAuthMiddleware creates an AuthMiddleware.
func NewAuthMiddleware(tokens *token.Codec, store *repository.Store, binder session.Binder) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, store: store, binder: binder}
}

// Require rejects unauthenticated requests and injects the user ID into the
// echo context.
func (m *AuthMiddleware) Require() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, err := m.authenticate(c)
			if err != nil {
				return err
			}
			c.Set(contextKeyUserID, userID)
			return next(c)
		}
	}
}

// Optional recovers the current user from the access-token cookie when one is
// present. It never fails the request; OAuth callbacks use it to distinguish
// account linking from plain login.
func (m *AuthMiddleware) Optional() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cookie, err := c.Cookie(accessCookieName); err == nil && cookie.Value != "" {
				if claims, ok := m.tokens.Decode(cookie.Value); ok && !claims.Refresh {
					c.Set(contextKeyUserID, claims.UserID)
				}
			}
			return next(c)
		}
	}
}

func (m *AuthMiddleware) authenticate(c echo.Context) (int64, error) {
	if header := c.Request().Header.Get(echo.HeaderAuthorization); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return 0, domain.ErrInvalidToken
		}
		claims, ok := m.tokens.Decode(parts[1])
		if !ok {
			return 0, domain.ErrInvalidToken
		}
		if claims.Refresh {
			return 0, domain.ErrRefreshTokenAsAccess
		}
		return claims.UserID, nil
	}

	if key := c.Request().Header.Get(headerUIDKey); key != "" {
		return m.authenticateKey(c, key)
	}

	// Browser contexts carry the access JWT in a cookie instead of the
	// Authorization header.
	if cookie, err := c.Cookie(accessCookieName); err == nil && cookie.Value != "" {
		if claims, ok := m.tokens.Decode(cookie.Value); ok && !claims.Refresh {
			return claims.UserID, nil
		}
	}

	// A session that authenticated recently is still bound to its API key.
	if cookie, err := c.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		ctx := c.Request().Context()
		if cached, ok := m.binder.Lookup(ctx, cookie.Value); ok {
			if userID, _, ok := splitBinding(cached); ok {
				if err := m.binder.Bind(ctx, cookie.Value, cached); err != nil {
					slog.Warn("session binding refresh failed", "error", err)
				}
				return userID, nil
			}
		}
	}

	return 0, domain.ErrUnauthorized
}

// authenticateKey validates a username:uuid API key. Structurally invalid
// keys are rejected before the database is consulted. The pair is always
// verified against the database, so a rotated key stops working at once;
// the session cache only serves requests that carry no key at all.
func (m *AuthMiddleware) authenticateKey(c echo.Context, key string) (int64, error) {
	username, uid, found := strings.Cut(key, ":")
	if !found || username == "" {
		return 0, fmt.Errorf("malformed api key: %w", domain.ErrInvalidToken)
	}
	if _, err := uuid.Parse(uid); err != nil {
		return 0, fmt.Errorf("malformed api key: %w", domain.ErrInvalidToken)
	}

	ctx := c.Request().Context()
	user, err := m.store.Users.FindByAPIKey(ctx, username, uid)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return 0, fmt.Errorf("unknown api key: %w", domain.ErrInvalidToken)
		}
		return 0, err
	}

	// A browser session riding along gets bound so later cookie-only
	// requests authenticate without the header. Rebinding resets the TTL.
	if cookie, err := c.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if err := m.binder.Bind(ctx, cookie.Value, joinBinding(user.ID, key)); err != nil {
			slog.Warn("session binding failed", "error", err)
		}
	}
	return user.ID, nil
}

// The binding value carries the owner alongside the key so a cache hit needs
// no database round trip.
func joinBinding(userID int64, apiKey string) string {
	return strconv.FormatInt(userID, 10) + "|" + apiKey
}

func splitBinding(value string) (int64, string, bool) {
	id, key, found := strings.Cut(value, "|")
	if !found {
		return 0, "", false
	}
	userID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return userID, key, true
}

// GetUserID extracts the authenticated user ID from echo context.
func GetUserID(c echo.Context) (int64, bool) {
	id, ok := c.Get(contextKeyUserID).(int64)
	return id, ok
}
