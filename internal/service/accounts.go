// Package service implements the identity core: account management, the
// OAuth orchestrator, and the reconciliation of provider identities onto
// platform users.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/envelope"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/repository"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/token"
)

// registerMaxAge leaves the user time to fill the registration form.
const registerMaxAge = 10 * time.Minute

// TokenPair holds a freshly issued JWT pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// AccountService handles password login, registration, token refresh and
// API-key management.
type AccountService struct {
	store     *repository.Store
	tokens    *token.Codec
	envelopes *envelope.Codec
	hasher    Hasher
}

// NewAccountService creates an AccountService.
func NewAccountService(store *repository.Store, tokens *token.Codec, envelopes *envelope.Codec, hasher Hasher) *AccountService {
	return &AccountService{store: store, tokens: tokens, envelopes: envelopes, hasher: hasher}
}

// Login authenticates a user by username-or-email plus password and returns
// a JWT pair. Every failure mode is reported identically.
func (s *AccountService) Login(ctx context.Context, identifier, password string) (*TokenPair, error) {
	user, err := s.store.Users.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", domain.ErrForbidden)
	}
	if user.PasswordHash == nil {
		return nil, fmt.Errorf("login failed: %w", domain.ErrForbidden)
	}
	if err := s.hasher.Compare([]byte(*user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("login failed: %w", domain.ErrForbidden)
	}
	return s.issuePair(user.ID)
}

// Refresh validates a refresh token and rotates the JWT pair.
func (s *AccountService) Refresh(refreshToken string) (*TokenPair, error) {
	claims, ok := s.tokens.Decode(refreshToken)
	if !ok || !claims.Refresh {
		return nil, fmt.Errorf("refresh rejected: %w", domain.ErrInvalidToken)
	}
	return s.issuePair(claims.UserID)
}

// RegisterInput is the payload for completing a signup, either direct or as
// the second half of an OAuth registration handshake.
type RegisterInput struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
	Password  string
	OAuthData string
	IP        string
}

// Register creates a user. When OAuthData carries a registration envelope,
// the linked OAuthAccount is created in the same transaction and the
// envelope's identity fields are authoritative.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*domain.User, *TokenPair, error) {
	var pending map[string]string
	if in.OAuthData != "" {
		var err error
		pending, err = s.envelopes.Decode(in.OAuthData, envelope.SaltOAuthRegister, registerMaxAge)
		if err != nil {
			return nil, nil, err
		}
		if pending["ip"] != in.IP {
			return nil, nil, fmt.Errorf("registration redeemed from a different client: %w", domain.ErrInvalidEnvelope)
		}
		in.Email = pending["email"]
		if in.FirstName == "" {
			in.FirstName = pending["first_name"]
		}
		if in.LastName == "" {
			in.LastName = pending["last_name"]
		}
	}

	if in.Username == "" || in.Email == "" {
		return nil, nil, fmt.Errorf("username and email are required: %w", domain.ErrInvalidInput)
	}

	newUser := domain.User{
		Username:  in.Username,
		Email:     in.Email,
		UUID:      uuid.NewString(),
		FirstName: in.FirstName,
		LastName:  in.LastName,
	}
	// OAuth-only signups may skip the password; those accounts can never use
	// the password login.
	if in.Password != "" {
		hash, err := s.hasher.Generate([]byte(in.Password))
		if err != nil {
			return nil, nil, fmt.Errorf("hash password: %w", err)
		}
		passwordHash := string(hash)
		newUser.PasswordHash = &passwordHash
	}
	if avatar := pending["avatar_url"]; avatar != "" {
		newUser.AvatarURL = &avatar
	}

	var created *domain.User
	err := s.store.Transact(ctx, func(st *repository.Store) error {
		var err error
		created, err = st.Users.Create(ctx, newUser)
		if err != nil {
			return err
		}
		if pending == nil {
			return nil
		}
		acct, err := pendingAccount(pending, created.ID)
		if err != nil {
			return err
		}
		_, err = st.OAuth.Upsert(ctx, acct)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.issuePair(created.ID)
	if err != nil {
		return nil, nil, err
	}
	return created, pair, nil
}

// RotateAPIKey replaces the user's uuid and returns the new key.
func (s *AccountService) RotateAPIKey(ctx context.Context, userID int64) (string, error) {
	user, err := s.store.Users.RotateUUID(ctx, userID, uuid.NewString())
	if err != nil {
		return "", err
	}
	return user.APIKey(), nil
}

// GetUser retrieves a user by ID.
func (s *AccountService) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	return s.store.Users.FindByID(ctx, userID)
}

func (s *AccountService) issuePair(userID int64) (*TokenPair, error) {
	access, err := s.tokens.IssueAccess(userID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefresh(userID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

// pendingAccount rebuilds the OAuthAccount carried inside a registration
// envelope.
func pendingAccount(pending map[string]string, userID int64) (domain.OAuthAccount, error) {
	provider, err := domain.ParseProvider(pending["provider"])
	if err != nil {
		return domain.OAuthAccount{}, fmt.Errorf("registration envelope names %q: %w", pending["provider"], err)
	}

	raw := json.RawMessage(pending["raw_info"])
	if len(raw) == 0 || !json.Valid(raw) {
		raw = json.RawMessage(`{}`)
	}

	acct := domain.OAuthAccount{
		UserID:      userID,
		Provider:    provider,
		ProviderID:  pending["provider_id"],
		RawInfo:     raw,
		AccessToken: pending["access_token"],
	}
	if rt := pending["refresh_token"]; rt != "" {
		acct.RefreshToken = &rt
	}
	if exp := pending["access_token_expires_at"]; exp != "" {
		if t, err := time.Parse(time.RFC3339, exp); err == nil {
			acct.AccessTokenExpiresAt = &t
		}
	}
	return acct, nil
}

// usernameCandidate proposes a username for a registration handshake: the
// provider login when available, else the email local part.
func usernameCandidate(raw domain.RawInfo, email string) string {
	if login, _ := raw["login"].(string); login != "" {
		return strings.ToLower(login)
	}
	local, _, _ := strings.Cut(email, "@")
	return strings.ToLower(local)
}
