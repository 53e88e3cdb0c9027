package provider

import (
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
)

var orcidEndpoint = oauth2.Endpoint{
	AuthURL:  "https://orcid.org/oauth/authorize",
	TokenURL: "https://orcid.org/oauth/token",
}

func newORCIDClient(cfg Config, httpClient *http.Client) *Client {
	return &Client{
		provider: domain.ProviderORCID,
		conf: &oauth2.Config{
			ClientID:     cfg.ORCID.ClientID,
			ClientSecret: cfg.ORCID.ClientSecret,
			Endpoint:     orcidEndpoint,
			Scopes:       []string{"/authenticate"},
			RedirectURL:  cfg.BaseURL + "/api/user/oauth/callback/orcid",
		},
		// The token response names the record owner; the person document
		// lives on the public API.
		userInfoURL: "https://pub.orcid.org/v3.0/%s/person",
		refreshable: false,
		normalize:   normalizeORCID,
		httpClient:  httpClient,
	}
}

func normalizeORCID(raw domain.RawInfo) (domain.Identity, error) {
	name, _ := raw["name"].(map[string]any)

	id, _ := name["path"].(string)
	first := nestedValue(name, "given-names")
	last := nestedValue(name, "family-name")

	email := orcidPrimaryEmail(raw)
	if email == "" {
		return domain.Identity{}, fmt.Errorf("orcid record has no primary email: %w", domain.ErrEmailMissing)
	}

	// ORCID never provides an avatar.
	return domain.Identity{
		ProviderID: id,
		Email:      email,
		FirstName:  first,
		LastName:   last,
	}, nil
}

// nestedValue reads the ORCID {"field": {"value": "..."}} shape.
func nestedValue(m map[string]any, key string) string {
	inner, _ := m[key].(map[string]any)
	v, _ := inner["value"].(string)
	return v
}

// orcidPrimaryEmail selects the first email marked primary from the person
// document's emails list.
func orcidPrimaryEmail(raw domain.RawInfo) string {
	emails, _ := raw["emails"].(map[string]any)
	list, _ := emails["email"].([]any)
	for _, item := range list {
		entry, _ := item.(map[string]any)
		if primary, _ := entry["primary"].(bool); !primary {
			continue
		}
		if addr, _ := entry["email"].(string); addr != "" {
			return addr
		}
	}
	return ""
}
