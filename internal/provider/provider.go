// Package provider owns the OAuth clients for the supported identity
// issuers: endpoints, scopes, code exchange, user-info retrieval, token
// refresh, and the GitHub App installation flow.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
)

const (
	exchangeTimeout = 3 * time.Second
	userInfoTimeout = 10 * time.Second

	maxExchangeRetries = 3
	exchangeBackoff    = 500 * time.Millisecond
)

// Credentials holds one provider's OAuth application credentials.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Config configures the registry for all providers.
type Config struct {
	// BaseURL is the externally reachable backend origin; callback routes
	// are derived from it.
	BaseURL string

	Google Credentials
	GitHub Credentials
	GitLab Credentials
	ORCID  Credentials

	GitHubApp AppConfig
}

// Client drives the OAuth flow for a single provider.
type Client struct {
	provider    domain.Provider
	conf        *oauth2.Config
	userInfoURL string
	authParams  []oauth2.AuthCodeOption
	refreshable bool
	normalize   func(domain.RawInfo) (domain.Identity, error)
	httpClient  *http.Client
}

// Registry resolves providers to their configured clients.
type Registry struct {
	clients map[domain.Provider]*Client
	app     *GitHubApp
}

// NewRegistry builds clients for every supported provider.
func NewRegistry(cfg Config) (*Registry, error) {
	httpClient := &http.Client{Timeout: userInfoTimeout}

	app, err := newGitHubApp(cfg.GitHubApp, httpClient)
	if err != nil {
		return nil, err
	}

	return &Registry{
		clients: map[domain.Provider]*Client{
			domain.ProviderGoogle: newGoogleClient(cfg, httpClient),
			domain.ProviderGitHub: newGitHubClient(cfg, httpClient),
			domain.ProviderGitLab: newGitLabClient(cfg, httpClient),
			domain.ProviderORCID:  newORCIDClient(cfg, httpClient),
		},
		app: app,
	}, nil
}

// Get returns the client for a provider.
func (r *Registry) Get(p domain.Provider) (*Client, error) {
	c, ok := r.clients[p]
	if !ok {
		return nil, domain.ErrUnsupportedProvider
	}
	return c, nil
}

// App returns the GitHub App client, or an error when the App is not
// configured.
func (r *Registry) App() (*GitHubApp, error) {
	if r.app == nil {
		return nil, fmt.Errorf("github app not configured: %w", domain.ErrUnsupportedProvider)
	}
	return r.app, nil
}

// Provider returns the provider tag this client serves.
func (c *Client) Provider() domain.Provider {
	return c.provider
}

// AuthCodeURL builds the provider's authorization URL carrying the state.
func (c *Client) AuthCodeURL(state string) string {
	return c.conf.AuthCodeURL(state, c.authParams...)
}

// Exchange swaps an authorization code for a token set. Transport errors are
// retried up to three times with linear backoff; provider rejections are
// surfaced immediately.
func (c *Client) Exchange(ctx context.Context, code string) (domain.TokenSet, error) {
	var lastErr error
	for attempt := 0; attempt <= maxExchangeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * exchangeBackoff):
			case <-ctx.Done():
				return domain.TokenSet{}, ctx.Err()
			}
		}

		exCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
		exCtx = context.WithValue(exCtx, oauth2.HTTPClient, c.httpClient)
		tok, err := c.conf.Exchange(exCtx, code)
		cancel()

		if err == nil {
			return c.tokenSet(tok), nil
		}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return domain.TokenSet{}, rejectionError(c.provider, rerr.Body)
		}
		lastErr = err
	}
	return domain.TokenSet{}, fmt.Errorf("%s token exchange after %d attempts: %w: %v",
		c.provider, maxExchangeRetries+1, domain.ErrTransport, lastErr)
}

// RefreshToken exchanges a refresh token for a fresh token set.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (domain.TokenSet, error) {
	if !c.refreshable {
		return domain.TokenSet{}, fmt.Errorf("%s: %w", c.provider, domain.ErrRefreshNotSupported)
	}

	rCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	rCtx = context.WithValue(rCtx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.conf.TokenSource(rCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return domain.TokenSet{}, rejectionError(c.provider, rerr.Body)
		}
		return domain.TokenSet{}, fmt.Errorf("%s token refresh: %w: %v", c.provider, domain.ErrTransport, err)
	}
	ts := c.tokenSet(tok)
	if ts.RefreshToken == "" {
		// Some providers omit the refresh token on rotation; keep the old one.
		ts.RefreshToken = refreshToken
	}
	return ts, nil
}

// FetchUserInfo retrieves the raw user-info document for the token owner.
func (c *Client) FetchUserInfo(ctx context.Context, ts domain.TokenSet) (domain.RawInfo, error) {
	endpoint := c.userInfoURL
	if c.provider == domain.ProviderORCID {
		endpoint = fmt.Sprintf(c.userInfoURL, url.PathEscape(ts.OwnerID))
	}

	reqCtx, cancel := context.WithTimeout(ctx, userInfoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+ts.AccessToken)
	req.Header.Set("Accept", "application/json")
	if c.provider == domain.ProviderGitHub {
		req.Header.Set("Accept", "application/vnd.github.v3+json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s user info: %w: %v", c.provider, domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, rejectionError(c.provider, body)
	}

	var raw domain.RawInfo
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode %s user info: %w", c.provider, err)
	}
	return raw, nil
}

// Normalize maps the raw user-info document to a provider-agnostic identity.
func (c *Client) Normalize(raw domain.RawInfo) (domain.Identity, error) {
	return c.normalize(raw)
}

func (c *Client) tokenSet(tok *oauth2.Token) domain.TokenSet {
	ts := domain.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if owner, ok := tok.Extra("orcid").(string); ok {
		ts.OwnerID = owner
	}
	return ts
}

// rejectionError parses a provider error body into a ProviderError,
// preserving the description when present.
func rejectionError(p domain.Provider, body []byte) error {
	var parsed struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	_ = json.Unmarshal(body, &parsed)
	if parsed.Error == "" && parsed.Message != "" {
		parsed.Error = parsed.Message
	}
	if parsed.Error == "" {
		parsed.Error = "request rejected"
	}
	return &domain.ProviderError{Provider: p, Code: parsed.Error, Description: parsed.ErrorDescription}
}

// loopbackRedirect rewrites an IP-literal host to a loopback hostname.
// Google refuses redirect URIs whose host is a bare IP.
func loopbackRedirect(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	if ip := net.ParseIP(u.Hostname()); ip == nil {
		return base
	}
	host := "localhost"
	if port := u.Port(); port != "" {
		host = net.JoinHostPort(host, port)
	}
	u.Host = host
	return u.String()
}
