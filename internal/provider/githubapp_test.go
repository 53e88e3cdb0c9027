package provider

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAppKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return key, string(pemBytes)
}

func testApp(t *testing.T, apiBase string) (*GitHubApp, *rsa.PrivateKey) {
	t.Helper()
	key, pemStr := testAppKey(t)
	app, err := newGitHubApp(AppConfig{AppID: "314", Slug: "forecast-registry", PrivateKeyPEM: pemStr}, http.DefaultClient)
	require.NoError(t, err)
	require.NotNil(t, app)
	if apiBase != "" {
		app.apiBase = apiBase
	}
	return app, key
}

func TestNewGitHubAppUnconfigured(t *testing.T) {
	app, err := newGitHubApp(AppConfig{}, http.DefaultClient)
	require.NoError(t, err)
	assert.Nil(t, app)
}

func TestInstallURL(t *testing.T) {
	app, _ := testApp(t, "")
	u := app.InstallURL("st&ate")
	assert.Equal(t, "https://github.com/apps/forecast-registry/installations/new?state=st%26ate", u)
}

func TestAppJWT(t *testing.T) {
	app, key := testApp(t, "")

	signed, err := app.appJWT()
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(tok *jwt.Token) (any, error) {
		require.IsType(t, &jwt.SigningMethodRSA{}, tok.Method)
		return &key.PublicKey, nil
	})
	require.NoError(t, err)

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "314", claims["iss"])

	iat := int64(claims["iat"].(float64))
	exp := int64(claims["exp"].(float64))
	assert.Equal(t, int64(appJWTLifetime/time.Second), exp-iat)
}

func TestMintInstallationToken(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/app/installations/9912/access_tokens", r.URL.Path)
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer ")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"token":"ghs_minted","expires_at":%q}`, expires.Format(time.RFC3339))
	}))
	defer srv.Close()

	app, _ := testApp(t, srv.URL)
	token, expiresAt, err := app.MintInstallationToken(context.Background(), "9912")
	require.NoError(t, err)
	assert.Equal(t, "ghs_minted", token)
	assert.True(t, expiresAt.Equal(expires))
}

func TestListUserReposFiltersAndPaginates(t *testing.T) {
	// One installation; page 1 is full so a second page is fetched.
	page1 := make([]map[string]any, reposPerPage)
	for i := range page1 {
		page1[i] = map[string]any{
			"id":          i + 1,
			"full_name":   fmt.Sprintf("org/repo-%d", i+1),
			"html_url":    fmt.Sprintf("https://github.com/org/repo-%d", i+1),
			"permissions": map[string]any{"admin": i%2 == 0},
		}
	}
	page2 := []map[string]any{{
		"id":          500,
		"full_name":   "org/tail",
		"html_url":    "https://github.com/org/tail",
		"private":     true,
		"owner":       map[string]any{"avatar_url": "https://avatars.example.org/org"},
		"permissions": map[string]any{"admin": true},
	}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/user/installations":
			fmt.Fprint(w, `{"installations":[{"id":9912}]}`)
		case r.URL.Path == "/user/installations/9912/repositories" && r.URL.Query().Get("page") == "1":
			json.NewEncoder(w).Encode(map[string]any{"repositories": page1})
		case r.URL.Path == "/user/installations/9912/repositories" && r.URL.Query().Get("page") == "2":
			json.NewEncoder(w).Encode(map[string]any{"repositories": page2})
		default:
			t.Errorf("unexpected request %s", r.URL)
		}
	}))
	defer srv.Close()

	app, _ := testApp(t, srv.URL)
	repos, err := app.ListUserRepos(context.Background(), "gho_user")
	require.NoError(t, err)

	// Half of page 1 has admin permission, plus the single page-2 repo.
	require.Len(t, repos, reposPerPage/2+1)
	last := repos[len(repos)-1]
	assert.Equal(t, "org/tail", last.Name)
	assert.True(t, last.Private)
	assert.True(t, last.Available)
	assert.Equal(t, "https://avatars.example.org/org", last.AvatarURL)
}

func TestListInstallations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gho_user", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"installations":[{"id":1},{"id":2}]}`)
	}))
	defer srv.Close()

	app, _ := testApp(t, srv.URL)
	ids, err := app.ListInstallations(context.Background(), "gho_user")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
}
