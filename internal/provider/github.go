package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
)

func newGitHubClient(cfg Config, httpClient *http.Client) *Client {
	return &Client{
		provider: domain.ProviderGitHub,
		conf: &oauth2.Config{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			Endpoint:     github.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
			RedirectURL:  cfg.BaseURL + "/api/user/oauth/callback/github",
		},
		userInfoURL: "https://api.github.com/user",
		refreshable: true,
		normalize:   normalizeGitHub,
		httpClient:  httpClient,
	}
}

func normalizeGitHub(raw domain.RawInfo) (domain.Identity, error) {
	email, _ := raw["email"].(string)
	if email == "" {
		// Users with a private primary email still expose the address
		// notifications go to.
		email, _ = raw["notification_email"].(string)
	}
	if email == "" {
		return domain.Identity{}, fmt.Errorf("github account has no public email: %w", domain.ErrEmailMissing)
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

// splitName cuts a full-name string once on the first space.
func splitName(name string) (first, last string) {
	first, last, _ = strings.Cut(strings.TrimSpace(name), " ")
	return first, last
}

// stringID renders a provider id as a string whether the provider sends it
// as a JSON number or a string.
func stringID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}
