package provider

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
)

const (
	appJWTLifetime = 10 * time.Minute
	reposPerPage   = 100
)

// AppConfig configures the GitHub App used for repository access.
type AppConfig struct {
	AppID         string
	Slug          string
	PrivateKeyPEM string
}

// GitHubApp mints installation tokens and lists installation repositories
// on behalf of an authenticated user.
type GitHubApp struct {
	appID      string
	slug       string
	key        *rsa.PrivateKey
	httpClient *http.Client

	apiBase     string
	installBase string
}

func newGitHubApp(cfg AppConfig, httpClient *http.Client) (*GitHubApp, error) {
	if cfg.AppID == "" || cfg.PrivateKeyPEM == "" {
		return nil, nil
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse github app private key: %w", err)
	}
	return &GitHubApp{
		appID:       cfg.AppID,
		slug:        cfg.Slug,
		key:         key,
		httpClient:  httpClient,
		apiBase:     "https://api.github.com",
		installBase: "https://github.com",
	}, nil
}

// InstallURL returns the page where a user installs the App, with state
// attached for the callback.
func (a *GitHubApp) InstallURL(state string) string {
	return fmt.Sprintf("%s/apps/%s/installations/new?state=%s", a.installBase, a.slug, url.QueryEscape(state))
}

// appJWT signs the short-lived RS256 JWT GitHub requires for App endpoints.
func (a *GitHubApp) appJWT() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(appJWTLifetime).Unix(),
		"iss": a.appID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
}

// MintInstallationToken exchanges the app JWT for a short-lived installation
// access token.
func (a *GitHubApp) MintInstallationToken(ctx context.Context, installationID string) (string, time.Time, error) {
	appToken, err := a.appJWT()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign app jwt: %w", err)
	}

	endpoint := fmt.Sprintf("%s/app/installations/%s/access_tokens", a.apiBase, url.PathEscape(installationID))
	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := a.call(ctx, http.MethodPost, endpoint, appToken, &result); err != nil {
		return "", time.Time{}, err
	}
	return result.Token, result.ExpiresAt, nil
}

// ListInstallations returns the installation ids visible to the user token.
func (a *GitHubApp) ListInstallations(ctx context.Context, userToken string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/user/installations?per_page=%d", a.apiBase, reposPerPage)
	var result struct {
		Installations []struct {
			ID int64 `json:"id"`
		} `json:"installations"`
	}
	if err := a.call(ctx, http.MethodGet, endpoint, userToken, &result); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(result.Installations))
	for _, inst := range result.Installations {
		ids = append(ids, fmt.Sprintf("%d", inst.ID))
	}
	return ids, nil
}

// ListUserRepos walks every installation visible to the user and returns the
// repositories where the user has admin permission.
func (a *GitHubApp) ListUserRepos(ctx context.Context, userToken string) ([]domain.Repository, error) {
	installations, err := a.ListInstallations(ctx, userToken)
	if err != nil {
		return nil, err
	}

	var repos []domain.Repository
	for _, installationID := range installations {
		for page := 1; ; page++ {
			endpoint := fmt.Sprintf("%s/user/installations/%s/repositories?per_page=%d&page=%d",
				a.apiBase, url.PathEscape(installationID), reposPerPage, page)

			var result struct {
				Repositories []struct {
					ID       int64  `json:"id"`
					FullName string `json:"full_name"`
					HTMLURL  string `json:"html_url"`
					Private  bool   `json:"private"`
					Owner    struct {
						AvatarURL string `json:"avatar_url"`
					} `json:"owner"`
					Permissions struct {
						Admin bool `json:"admin"`
					} `json:"permissions"`
				} `json:"repositories"`
			}
			if err := a.call(ctx, http.MethodGet, endpoint, userToken, &result); err != nil {
				return nil, err
			}

			for _, repo := range result.Repositories {
				if !repo.Permissions.Admin {
					continue
				}
				repos = append(repos, domain.Repository{
					ID:        repo.ID,
					Name:      repo.FullName,
					URL:       repo.HTMLURL,
					Private:   repo.Private,
					Provider:  domain.ProviderGitHub,
					AvatarURL: repo.Owner.AvatarURL,
					Available: true,
				})
			}
			if len(result.Repositories) < reposPerPage {
				break
			}
		}
	}
	return repos, nil
}

func (a *GitHubApp) call(ctx context.Context, method, endpoint, bearer string, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, userInfoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build github app request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github app request: %w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return rejectionError(domain.ProviderGitHub, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
