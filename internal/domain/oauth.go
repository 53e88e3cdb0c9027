package domain

import (
	"encoding/json"
	"time"
)

// Provider identifies an external OAuth identity issuer.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
	ProviderORCID  Provider = "orcid"
)

// ParseProvider validates a provider path parameter.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderGoogle, ProviderGitHub, ProviderGitLab, ProviderORCID:
		return Provider(s), nil
	}
	return "", ErrUnsupportedProvider
}

// OAuthAccount links a user to one identity at one provider. The
// (provider, provider_id) pair is globally unique and a user holds at most
// one account per provider.
type OAuthAccount struct {
	ID                   int64           `json:"id" db:"id"`
	UserID               int64           `json:"user_id" db:"user_id"`
	Provider             Provider        `json:"provider" db:"provider"`
	ProviderID           string          `json:"provider_id" db:"provider_id"`
	RawInfo              json.RawMessage `json:"-" db:"raw_info"`
	AccessToken          string          `json:"-" db:"access_token"`
	RefreshToken         *string         `json:"-" db:"refresh_token"`
	AccessTokenExpiresAt *time.Time      `json:"-" db:"access_token_expires_at"`
	InstallationID       *string         `json:"-" db:"installation_id"`
	InstallationToken    *string         `json:"-" db:"installation_access_token"`
	InstallationExpires  *time.Time      `json:"-" db:"installation_token_expires_at"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// AccessTokenExpired reports whether the provider access token is past its
// recorded expiry. Accounts without an expiry never expire.
func (a OAuthAccount) AccessTokenExpired() bool {
	return a.AccessTokenExpiresAt != nil && time.Now().After(*a.AccessTokenExpiresAt)
}

// TokenSet is the result of an authorization-code exchange or a refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	// OwnerID is set by providers whose token response names the resource
	// owner (ORCID returns the record path alongside the token).
	OwnerID string
}

// RawInfo is the unprocessed user-info document returned by a provider.
type RawInfo map[string]any

// Identity is the provider-agnostic record the reconciler operates on.
type Identity struct {
	ProviderID string
	Email      string
	FirstName  string
	LastName   string
	AvatarURL  string
}

// Repository describes a provider-hosted repository the user administers.
type Repository struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	Private   bool     `json:"private"`
	Provider  Provider `json:"provider"`
	AvatarURL string   `json:"avatar_url"`
	Available bool     `json:"available"`
}
