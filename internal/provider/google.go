package provider

import (
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
)

func newGoogleClient(cfg Config, httpClient *http.Client) *Client {
	return &Client{
		provider: domain.ProviderGoogle,
		conf: &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "profile", "email"},
			RedirectURL:  loopbackRedirect(cfg.BaseURL) + "/api/user/oauth/callback/google",
		},
		userInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		// Offline access plus forced consent so Google returns a refresh
		// token instead of only the first-authorization one.
		authParams: []oauth2.AuthCodeOption{
			oauth2.AccessTypeOffline,
			oauth2.SetAuthURLParam("prompt", "consent"),
		},
		refreshable: true,
		normalize:   normalizeGoogle,
		httpClient:  httpClient,
	}
}

func normalizeGoogle(raw domain.RawInfo) (domain.Identity, error) {
	email, _ := raw["email"].(string)
	if email == "" {
		return domain.Identity{}, fmt.Errorf("google account has no public email: %w", domain.ErrEmailMissing)
	}

	first, _ := raw["given_name"].(string)
	last, _ := raw["family_name"].(string)
	avatar, _ := raw["picture"].(string)

	return domain.Identity{
		ProviderID: stringID(raw["id"]),
		Email:      email,
		FirstName:  first,
		LastName:   last,
		AvatarURL:  avatar,
	}, nil
}
