package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/envelope"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/provider"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/repository"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/token"
)

const (
	stateMaxAge   = 5 * time.Minute
	handoffMaxAge = 5 * time.Minute

	avatarFetchTimeout = 10 * time.Second
)

// OAuthService drives the federated login flow end to end: initiate,
// callback, reconcile, and the GitHub App installation flow.
type OAuthService struct {
	store       *repository.Store
	providers   *provider.Registry
	tokens      *token.Codec
	envelopes   *envelope.Codec
	frontendURL string
	httpClient  *http.Client
}

// NewOAuthService creates an OAuthService.
func NewOAuthService(store *repository.Store, providers *provider.Registry, tokens *token.Codec, envelopes *envelope.Codec, frontendURL string) *OAuthService {
	return &OAuthService{
		store:       store,
		providers:   providers,
		tokens:      tokens,
		envelopes:   envelopes,
		frontendURL: frontendURL,
		httpClient:  &http.Client{Timeout: avatarFetchTimeout},
	}
}

// StartLogin builds the provider authorization URL with an anti-replay state
// envelope bound to the requesting client.
func (s *OAuthService) StartLogin(providerTag domain.Provider, next, ip, userAgent string) (string, error) {
	client, err := s.providers.Get(providerTag)
	if err != nil {
		return "", err
	}

	state, err := s.envelopes.Encode(map[string]string{
		"ip":         ip,
		"user_agent": userAgent,
		"issued_at":  time.Now().UTC().Format(time.RFC3339),
		"next":       next,
	}, envelope.SaltOAuthState)
	if err != nil {
		return "", err
	}
	return client.AuthCodeURL(state), nil
}

// Callback finishes a login: verify state, exchange the code, fetch and
// normalize the identity, and reconcile it onto a platform user. It returns
// the redirect the browser should follow.
func (s *OAuthService) Callback(ctx context.Context, providerTag domain.Provider, code, state, ip string, current *domain.User) (string, error) {
	client, err := s.providers.Get(providerTag)
	if err != nil {
		return "", err
	}

	stateData, err := s.envelopes.Decode(state, envelope.SaltOAuthState, stateMaxAge)
	if err != nil {
		return "", err
	}
	next := stateData["next"]

	ts, err := client.Exchange(ctx, code)
	if err != nil {
		return "", err
	}
	raw, err := client.FetchUserInfo(ctx, ts)
	if err != nil {
		return "", err
	}
	identity, err := client.Normalize(raw)
	if err != nil {
		return "", err
	}

	return s.reconcile(ctx, providerTag, identity, raw, ts, current, ip, next)
}

// reconcile decides what a fresh provider identity means for the platform:
// link it to the logged-in user, log in an existing account, link by
// verified email, or start a registration handshake.
func (s *OAuthService) reconcile(ctx context.Context, providerTag domain.Provider, identity domain.Identity, raw domain.RawInfo, ts domain.TokenSet, current *domain.User, ip, next string) (string, error) {
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("marshal raw info: %w", err)
	}

	// Case A: a logged-in user is linking a new provider.
	if current != nil {
		err := s.store.Transact(ctx, func(st *repository.Store) error {
			if _, err := st.OAuth.Upsert(ctx, newAccount(current.ID, providerTag, identity, rawJSON, ts)); err != nil {
				return err
			}
			return s.adoptAvatar(ctx, st, current, identity.AvatarURL)
		})
		if err != nil {
			return "", err
		}
		if next == "" {
			next = "/"
		}
		return next, nil
	}

	acct, err := s.store.OAuth.FindByProviderID(ctx, providerTag, identity.ProviderID)
	switch {
	case err == nil:
		// Case B: returning user.
		user, err := s.store.Users.FindByID(ctx, acct.UserID)
		if err != nil {
			return "", err
		}
		err = s.store.Transact(ctx, func(st *repository.Store) error {
			if err := st.OAuth.UpdateTokens(ctx, acct.ID, ts); err != nil {
				return err
			}
			return s.adoptAvatar(ctx, st, user, identity.AvatarURL)
		})
		if err != nil {
			return "", err
		}
		return s.handoffRedirect(user, ip, next)

	case errors.Is(err, domain.ErrNotFound):
		user, uerr := s.store.Users.FindByEmail(ctx, identity.Email)
		if uerr == nil {
			// Case C: known email, new provider; link then log in.
			err = s.store.Transact(ctx, func(st *repository.Store) error {
				if _, err := st.OAuth.Upsert(ctx, newAccount(user.ID, providerTag, identity, rawJSON, ts)); err != nil {
					return err
				}
				return s.adoptAvatar(ctx, st, user, identity.AvatarURL)
			})
			if err != nil {
				return "", err
			}
			return s.handoffRedirect(user, ip, next)
		}
		if !errors.Is(uerr, domain.ErrUserNotFound) {
			return "", uerr
		}
		// Case D: nobody we know; hand the identity to the signup form.
		return s.registerRedirect(providerTag, identity, raw, rawJSON, ts, ip, next)

	default:
		return "", err
	}
}

// StartInstall builds the GitHub App installation URL for an authenticated
// user.
func (s *OAuthService) StartInstall(user *domain.User, next, ip string) (string, error) {
	app, err := s.providers.App()
	if err != nil {
		return "", err
	}

	state, err := s.envelopes.Encode(map[string]string{
		"ip":   ip,
		"next": next,
	}, envelope.SaltOAuthInstall)
	if err != nil {
		return "", err
	}
	return app.InstallURL(state), nil
}

// InstallCallbackInput carries the GitHub App installation callback
// parameters.
type InstallCallbackInput struct {
	InstallationID string
	Code           string
	State          string
	IP             string
}

// InstallCallback resolves the acting user, mints an installation token
// under the account row lock, persists it, and returns the front-end
// redirect.
func (s *OAuthService) InstallCallback(ctx context.Context, in InstallCallbackInput, current *domain.User) (string, error) {
	app, err := s.providers.App()
	if err != nil {
		return "", err
	}

	next := ""
	if in.State != "" {
		stateData, err := s.envelopes.Decode(in.State, envelope.SaltOAuthInstall, stateMaxAge)
		if err != nil {
			return "", err
		}
		next = stateData["next"]
	}

	user, err := s.resolveInstallUser(ctx, in.Code, current)
	if err != nil {
		return "", err
	}

	acct, err := s.store.OAuth.FindByUserAndProvider(ctx, user.ID, domain.ProviderGitHub)
	if err != nil {
		return "", err
	}

	installationID := in.InstallationID
	if installationID == "" {
		ids, err := app.ListInstallations(ctx, acct.AccessToken)
		if err != nil {
			return "", err
		}
		if len(ids) == 0 {
			return "", fmt.Errorf("no app installation for user %d: %w", user.ID, domain.ErrNotFound)
		}
		installationID = ids[0]
	}

	// The row lock serializes concurrent minting for the same account.
	err = s.store.Transact(ctx, func(st *repository.Store) error {
		locked, err := st.OAuth.LockByUserAndProvider(ctx, user.ID, domain.ProviderGitHub)
		if err != nil {
			return err
		}
		installToken, expiresAt, err := app.MintInstallationToken(ctx, installationID)
		if err != nil {
			return err
		}
		return st.OAuth.SaveInstallation(ctx, locked.ID, installationID, installToken, expiresAt)
	})
	if err != nil {
		return "", err
	}

	env, err := s.envelopes.Encode(map[string]string{
		"ip":              in.IP,
		"installation_id": installationID,
		"next":            next,
	}, envelope.SaltOAuthHandoff)
	if err != nil {
		return "", err
	}
	return s.frontendURL + "/oauth/install/callback?data=" + url.QueryEscape(env), nil
}

// DecodeHandoff redeems a handoff or registration envelope for the front
// end, verifying it comes back from the same client it was issued to.
// Registration envelopes carry their own, longer max-age.
func (s *OAuthService) DecodeHandoff(data, ip string) (map[string]string, error) {
	payload, err := s.envelopes.Decode(data, envelope.SaltOAuthHandoff, handoffMaxAge)
	if err != nil {
		payload, err = s.envelopes.Decode(data, envelope.SaltOAuthRegister, registerMaxAge)
	}
	if err != nil {
		return nil, err
	}
	if payload["ip"] != ip {
		return nil, fmt.Errorf("handoff redeemed from a different client: %w", domain.ErrInvalidEnvelope)
	}
	return payload, nil
}

// ListRepositories returns the provider repositories the user administers,
// refreshing the provider access token under the row lock when expired.
// Repositories already registered on the platform are marked unavailable.
func (s *OAuthService) ListRepositories(ctx context.Context, user *domain.User, providerTag domain.Provider) ([]domain.Repository, error) {
	if providerTag != domain.ProviderGitHub {
		return nil, fmt.Errorf("repository listing for %s: %w", providerTag, domain.ErrNotFound)
	}
	app, err := s.providers.App()
	if err != nil {
		return nil, err
	}

	acct, err := s.store.OAuth.FindByUserAndProvider(ctx, user.ID, providerTag)
	if err != nil {
		return nil, err
	}

	accessToken := acct.AccessToken
	if acct.AccessTokenExpired() {
		accessToken, err = s.refreshUnderLock(ctx, user.ID, providerTag)
		if err != nil {
			return nil, err
		}
	}

	repos, err := app.ListUserRepos(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(repos))
	for i, repo := range repos {
		names[i] = repo.Name
	}
	registered, err := s.store.Repos.RegisteredNames(ctx, providerTag, names)
	if err != nil {
		return nil, err
	}
	for i := range repos {
		if registered[repos[i].Name] {
			repos[i].Available = false
		}
	}
	return repos, nil
}

// refreshUnderLock rotates the provider access token while holding the
// account row lock. The re-read under lock means a concurrent refresh that
// already completed is observed instead of repeated, so only one refresh
// call reaches the provider.
func (s *OAuthService) refreshUnderLock(ctx context.Context, userID int64, providerTag domain.Provider) (string, error) {
	client, err := s.providers.Get(providerTag)
	if err != nil {
		return "", err
	}

	var accessToken string
	err = s.store.Transact(ctx, func(st *repository.Store) error {
		locked, err := st.OAuth.LockByUserAndProvider(ctx, userID, providerTag)
		if err != nil {
			return err
		}
		if !locked.AccessTokenExpired() {
			accessToken = locked.AccessToken
			return nil
		}
		if locked.RefreshToken == nil {
			return fmt.Errorf("no refresh token for %s account: %w", providerTag, domain.ErrUnauthorized)
		}
		ts, err := client.RefreshToken(ctx, *locked.RefreshToken)
		if err != nil {
			return err
		}
		if err := st.OAuth.UpdateTokens(ctx, locked.ID, ts); err != nil {
			return err
		}
		accessToken = ts.AccessToken
		return nil
	})
	if err != nil {
		return "", err
	}
	return accessToken, nil
}

// resolveInstallUser finds the acting user for an install callback: the
// session user when present, else the owner of the OAuth identity behind
// the callback code.
func (s *OAuthService) resolveInstallUser(ctx context.Context, code string, current *domain.User) (*domain.User, error) {
	if current != nil {
		return current, nil
	}
	if code == "" {
		return nil, fmt.Errorf("install callback without session or code: %w", domain.ErrUnauthorized)
	}

	client, err := s.providers.Get(domain.ProviderGitHub)
	if err != nil {
		return nil, err
	}
	ts, err := client.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	raw, err := client.FetchUserInfo(ctx, ts)
	if err != nil {
		return nil, err
	}
	identity, err := client.Normalize(raw)
	if err != nil {
		return nil, err
	}

	acct, err := s.store.OAuth.FindByProviderID(ctx, domain.ProviderGitHub, identity.ProviderID)
	if err != nil {
		return nil, err
	}
	return s.store.Users.FindByID(ctx, acct.UserID)
}

// handoffRedirect mints the JWT pair and wraps it in a signed envelope for
// the front-end callback route.
func (s *OAuthService) handoffRedirect(user *domain.User, ip, next string) (string, error) {
	access, err := s.tokens.IssueAccess(user.ID)
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return "", fmt.Errorf("issue refresh token: %w", err)
	}

	env, err := s.envelopes.Encode(map[string]string{
		"ip":            ip,
		"access_token":  access,
		"refresh_token": refresh,
		"next":          next,
	}, envelope.SaltOAuthHandoff)
	if err != nil {
		return "", err
	}
	return s.frontendURL + "/oauth/callback?data=" + url.QueryEscape(env), nil
}

// registerRedirect wraps the pending identity in a signed envelope for the
// front-end registration form.
func (s *OAuthService) registerRedirect(providerTag domain.Provider, identity domain.Identity, raw domain.RawInfo, rawJSON []byte, ts domain.TokenSet, ip, next string) (string, error) {
	payload := map[string]string{
		"action":        "register",
		"username":      usernameCandidate(raw, identity.Email),
		"first_name":    identity.FirstName,
		"last_name":     identity.LastName,
		"email":         identity.Email,
		"avatar_url":    identity.AvatarURL,
		"provider":      string(providerTag),
		"provider_id":   identity.ProviderID,
		"raw_info":      string(rawJSON),
		"access_token":  ts.AccessToken,
		"refresh_token": ts.RefreshToken,
		"ip":            ip,
		"next":          next,
	}
	if !ts.ExpiresAt.IsZero() {
		payload["access_token_expires_at"] = ts.ExpiresAt.UTC().Format(time.RFC3339)
	}

	env, err := s.envelopes.Encode(payload, envelope.SaltOAuthRegister)
	if err != nil {
		return "", err
	}
	return s.frontendURL + "/oauth/register?data=" + url.QueryEscape(env), nil
}

// adoptAvatar downloads the provider avatar for a user without one and
// records its URL.
func (s *OAuthService) adoptAvatar(ctx context.Context, st *repository.Store, user *domain.User, avatarURL string) error {
	if avatarURL == "" || (user.AvatarURL != nil && *user.AvatarURL != "") {
		return nil
	}
	if !s.fetchAvatar(ctx, avatarURL) {
		return nil
	}
	return st.Users.SetAvatarIfEmpty(ctx, user.ID, avatarURL)
}

// fetchAvatar verifies the avatar is actually retrievable. Failures are not
// fatal to the login.
func (s *OAuthService) fetchAvatar(ctx context.Context, avatarURL string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, avatarFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, avatarURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func newAccount(userID int64, providerTag domain.Provider, identity domain.Identity, rawJSON []byte, ts domain.TokenSet) domain.OAuthAccount {
	acct := domain.OAuthAccount{
		UserID:      userID,
		Provider:    providerTag,
		ProviderID:  identity.ProviderID,
		RawInfo:     rawJSON,
		AccessToken: ts.AccessToken,
	}
	if ts.RefreshToken != "" {
		acct.RefreshToken = &ts.RefreshToken
	}
	if !ts.ExpiresAt.IsZero() {
		expires := ts.ExpiresAt
		acct.AccessTokenExpiresAt = &expires
	}
	return acct
}
