package handler

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/service"
)

// AuthHandler handles the account and OAuth endpoints.
type AuthHandler struct {
	accounts *service.AccountService
	oauth    *service.OAuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(accounts *service.AccountService, oauth *service.OAuthService) *AuthHandler {
	return &AuthHandler{accounts: accounts, oauth: oauth}
}

// MountRoutes registers all routes on the echo instance.
func (h *AuthHandler) MountRoutes(e *echo.Echo, auth *AuthMiddleware) {
	e.GET("/health", h.Health)

	g := e.Group("/api/user")
	g.GET("/oauth/login/:provider", h.OAuthLogin)
	g.GET("/oauth/callback/:provider", h.OAuthCallback, auth.Optional())
	g.GET("/oauth/install/github", h.InstallStart, auth.Require())
	g.GET("/oauth/install/github/callback", h.InstallCallback, auth.Optional())
	g.GET("/oauth/decode", h.DecodeHandoff)
	g.POST("/login", h.Login)
	g.POST("/register", h.RegisterAccount)
	g.POST("/refresh", h.Refresh)
	g.GET("/api-key", h.APIKey, auth.Require())
	g.POST("/api-key/refresh", h.RotateAPIKey, auth.Require())
	g.GET("/repositories/:provider", h.Repositories, auth.Require())
	g.GET("/me", h.Me, auth.Require())
}

// Health reports process liveness.
func (h *AuthHandler) Health(c echo.Context) error {
	return JSON(c, http.StatusOK, map[string]string{"status": "ok"})
}

// OAuthLogin redirects the browser to the provider's consent page.
func (h *AuthHandler) OAuthLogin(c echo.Context) error {
	provider, err := domain.ParseProvider(c.Param("provider"))
	if err != nil {
		return err
	}

	authURL, err := h.oauth.StartLogin(provider, c.QueryParam("next"), c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusTemporaryRedirect, authURL)
}

// OAuthCallback finishes the provider round trip and redirects to the front
// end. A logged-in caller links the identity instead of logging in.
func (h *AuthHandler) OAuthCallback(c echo.Context) error {
	provider, err := domain.ParseProvider(c.Param("provider"))
	if err != nil {
		return err
	}

	if denied := c.QueryParam("error"); denied != "" {
		return &domain.ProviderError{
			Provider:    provider,
			Code:        denied,
			Description: c.QueryParam("error_description"),
		}
	}
	code := c.QueryParam("code")
	if code == "" {
		return fmt.Errorf("missing code parameter: %w", domain.ErrInvalidInput)
	}

	current, err := h.currentUser(c)
	if err != nil {
		return err
	}

	redirect, err := h.oauth.Callback(c.Request().Context(), provider, code, c.QueryParam("state"), c.RealIP(), current)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, redirect)
}

// DecodeHandoff redeems the signed payload minted by OAuthCallback.
func (h *AuthHandler) DecodeHandoff(c echo.Context) error {
	data := c.QueryParam("data")
	if data == "" {
		return fmt.Errorf("missing data parameter: %w", domain.ErrInvalidInput)
	}

	payload, err := h.oauth.DecodeHandoff(data, c.RealIP())
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, payload)
}

// InstallStart returns the GitHub App installation URL for the front end to
// navigate to.
func (h *AuthHandler) InstallStart(c echo.Context) error {
	user, err := h.requireUser(c)
	if err != nil {
		return err
	}

	installURL, err := h.oauth.StartInstall(user, c.QueryParam("next"), c.RealIP())
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]string{"url": installURL})
}

// InstallCallback finishes a GitHub App installation.
func (h *AuthHandler) InstallCallback(c echo.Context) error {
	current, err := h.currentUser(c)
	if err != nil {
		return err
	}

	redirect, err := h.oauth.InstallCallback(c.Request().Context(), service.InstallCallbackInput{
		InstallationID: c.QueryParam("installation_id"),
		Code:           c.QueryParam("code"),
		State:          c.QueryParam("state"),
		IP:             c.RealIP(),
	}, current)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, redirect)
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// Login authenticates by username-or-email plus password.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	pair, err := h.accounts.Login(c.Request().Context(), req.Identifier, req.Password)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, pair)
}

type registerRequest struct {
	Username  string `json:"username" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	OAuthData string `json:"oauth_data"`
}

type registerResponse struct {
	User   *domain.User       `json:"user"`
	Tokens *service.TokenPair `json:"tokens"`
}

// RegisterAccount creates a user, optionally completing an OAuth signup.
func (h *AuthHandler) RegisterAccount(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	user, pair, err := h.accounts.Register(c.Request().Context(), service.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		OAuthData: req.OAuthData,
		IP:        c.RealIP(),
	})
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, registerResponse{User: user, Tokens: pair})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Refresh rotates the JWT pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	pair, err := h.accounts.Refresh(req.RefreshToken)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, pair)
}

// APIKey returns the caller's current API key.
func (h *AuthHandler) APIKey(c echo.Context) error {
	user, err := h.requireUser(c)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]string{"api_key": user.APIKey()})
}

// RotateAPIKey replaces the caller's API key, invalidating the old one.
func (h *AuthHandler) RotateAPIKey(c echo.Context) error {
	userID, ok := GetUserID(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	key, err := h.accounts.RotateAPIKey(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]string{"api_key": key})
}

// Repositories lists the provider repositories the caller administers.
func (h *AuthHandler) Repositories(c echo.Context) error {
	provider, err := domain.ParseProvider(c.Param("provider"))
	if err != nil {
		return err
	}
	user, err := h.requireUser(c)
	if err != nil {
		return err
	}

	repos, err := h.oauth.ListRepositories(c.Request().Context(), user, provider)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, repos)
}

// Me returns the currently authenticated user.
func (h *AuthHandler) Me(c echo.Context) error {
	user, err := h.requireUser(c)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, user)
}

func (h *AuthHandler) requireUser(c echo.Context) (*domain.User, error) {
	userID, ok := GetUserID(c)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	return h.accounts.GetUser(c.Request().Context(), userID)
}

// currentUser resolves the optional authenticated user, tolerating absence.
func (h *AuthHandler) currentUser(c echo.Context) (*domain.User, error) {
	userID, ok := GetUserID(c)
	if !ok {
		return nil, nil
	}
	user, err := h.accounts.GetUser(c.Request().Context(), userID)
	if err != nil {
		// A stale cookie naming a deleted user falls back to anonymous.
		return nil, nil
	}
	return user, nil
}
