package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("resource not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidInput           = errors.New("invalid input")
	ErrConflict               = errors.New("resource conflict")
	ErrEmailMissing           = errors.New("provider returned no usable email")
	ErrTransport              = errors.New("provider unreachable")
	ErrInvalidEnvelope        = errors.New("invalid or expired envelope")
	ErrInvalidToken           = errors.New("invalid token")
	ErrRefreshTokenAsAccess   = errors.New("refresh token presented as access token")
	ErrUserNotFound           = errors.New("user not found")
	ErrAccountAlreadyLinked   = errors.New("account already linked to another user")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrUsernameTaken          = errors.New("username taken")
	ErrUnsupportedProvider    = errors.New("unsupported provider")
	ErrRefreshNotSupported    = errors.New("provider does not support token refresh")
)

// ProviderError carries an error body returned by an OAuth provider.
type ProviderError struct {
	Provider    Provider
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s rejected request: %s (%s)", e.Provider, e.Description, e.Code)
	}
	return fmt.Sprintf("%s rejected request: %s", e.Provider, e.Code)
}

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
