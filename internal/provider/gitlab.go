package provider

import (
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/gitlab"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
)

func newGitLabClient(cfg Config, httpClient *http.Client) *Client {
	return &Client{
		provider: domain.ProviderGitLab,
		conf: &oauth2.Config{
			ClientID:     cfg.GitLab.ClientID,
			ClientSecret: cfg.GitLab.ClientSecret,
			Endpoint:     gitlab.Endpoint,
			Scopes:       []string{"read_user"},
			RedirectURL:  cfg.BaseURL + "/api/user/oauth/callback/gitlab",
		},
		userInfoURL: "https://gitlab.com/api/v4/user",
		refreshable: true,
		normalize:   normalizeGitLab,
		httpClient:  httpClient,
	}
}

func normalizeGitLab(raw domain.RawInfo) (domain.Identity, error) {
	email, _ := raw["email"].(string)
	if email == "" {
		return domain.Identity{}, fmt.Errorf("gitlab account has no public email: %w", domain.ErrEmailMissing)
	}

	name, _ := raw["name"].(string)
	first, last := splitName(name)
	avatar, _ := raw["avatar_url"].(string)

	return domain.Identity{
		ProviderID: stringID(raw["id"]),
		Email:      email,
		FirstName:  first,
		LastName:   last,
		AvatarURL:  avatar,
	}, nil
}
