package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
)

// Envelope is the standard API response wrapper.
type Envelope struct {
	Data  any       `json:"data,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

// APIError represents an error in the API response.
type APIError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// FieldError represents a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// JSON writes a JSON response with the standard envelope.
func JSON(c echo.Context, status int, data any) error {
	return c.JSON(status, Envelope{Data: data})
}

// HTTPErrorHandler is the global error handler for echo.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, apiErr := mapError(err)
	if jsonErr := c.JSON(status, Envelope{Error: &apiErr}); jsonErr != nil {
		slog.Error("failed to send error response", "error", jsonErr)
	}
}

func mapError(err error) (int, APIError) {
	// Handle echo's own HTTP errors (404, 405, etc.)
	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		msg, _ := echoErr.Message.(string)
		if msg == "" {
			msg = http.StatusText(echoErr.Code)
		}
		return echoErr.Code, APIError{
			Code:    http.StatusText(echoErr.Code),
			Message: msg,
		}
	}

	var providerErr *domain.ProviderError
	if errors.As(err, &providerErr) {
		return http.StatusBadRequest, APIError{
			Code:    "provider_rejected",
			Message: providerErr.Error(),
		}
	}

	switch {
	case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "The requested resource was not found",
		}
	case errors.Is(err, domain.ErrRefreshTokenAsAccess):
		return http.StatusUnauthorized, APIError{
			Code:    "refresh_token_as_access",
			Message: "A refresh token cannot be used to access the API",
		}
	case errors.Is(err, domain.ErrInvalidToken), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, APIError{
			Code:    "unauthorized",
			Message: "Authentication is required",
		}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, APIError{
			Code:    "forbidden",
			Message: "Invalid credentials",
		}
	case errors.Is(err, domain.ErrUsernameTaken):
		return http.StatusBadRequest, APIError{
			Code:    "username_taken",
			Message: "The username is already in use",
		}
	case errors.Is(err, domain.ErrEmailAlreadyRegistered):
		return http.StatusBadRequest, APIError{
			Code:    "email_registered",
			Message: "An account with this email already exists",
		}
	case errors.Is(err, domain.ErrAccountAlreadyLinked):
		return http.StatusBadRequest, APIError{
			Code:    "account_linked",
			Message: "This provider account is already linked to another user",
		}
	case errors.Is(err, domain.ErrEmailMissing):
		return http.StatusBadRequest, APIError{
			Code:    "email_missing",
			Message: "The provider returned no usable email address",
		}
	case errors.Is(err, domain.ErrInvalidEnvelope):
		return http.StatusBadRequest, APIError{
			Code:    "invalid_envelope",
			Message: "The signed payload is invalid or expired",
		}
	case errors.Is(err, domain.ErrUnsupportedProvider):
		return http.StatusBadRequest, APIError{
			Code:    "unsupported_provider",
			Message: "The requested provider is not supported",
		}
	case errors.Is(err, domain.ErrRefreshNotSupported):
		return http.StatusBadRequest, APIError{
			Code:    "refresh_not_supported",
			Message: "The provider does not support token refresh",
		}
	case errors.Is(err, domain.ErrTransport):
		return http.StatusBadRequest, APIError{
			Code:    "provider_unreachable",
			Message: "The provider could not be reached",
		}
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, APIError{
			Code:    "invalid_input",
			Message: "The request body is invalid",
		}
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, APIError{
			Code:    "conflict",
			Message: "The resource already exists or conflicts with current state",
		}
	default:
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			return http.StatusBadRequest, APIError{
				Code:    "validation_error",
				Message: "Validation failed",
				Details: []FieldError{
					{Field: validationErr.Field, Message: validationErr.Message},
				},
			}
		}

		slog.Error("unhandled error", "error", err)
		return http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "An unexpected error occurred",
		}
	}
}
