package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/envelope"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/repository"
	"github.com/Mosqlimate-project/Data-platform-sub000/internal/token"
)

var (
	testTokens    = token.NewCodec("account-test-jwt-secret")
	testEnvelopes = envelope.NewCodec("account-test-envelope-secret")
)

func newTestStore(t *testing.T) (*repository.Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return repository.NewStore(sqlx.NewDb(mockDB, "pgx")), mock
}

func userRows(user domain.User) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "username", "email", "uuid", "password_hash", "first_name",
		"last_name", "avatar_url", "is_staff", "created_at", "updated_at",
	}).AddRow(
		user.ID, user.Username, user.Email, user.UUID, user.PasswordHash,
		user.FirstName, user.LastName, user.AvatarURL, user.IsStaff,
		time.Now(), time.Now(),
	)
}

func oauthRows(acct domain.OAuthAccount) *sqlmock.Rows {
	raw := acct.RawInfo
	if raw == nil {
		raw = json.RawMessage(`{}`)
	}
	return sqlmock.NewRows([]string{
		"id", "user_id", "provider", "provider_id", "raw_info", "access_token",
		"refresh_token", "access_token_expires_at", "installation_id",
		"installation_access_token", "installation_token_expires_at",
		"created_at", "updated_at",
	}).AddRow(
		acct.ID, acct.UserID, acct.Provider, acct.ProviderID, []byte(raw),
		acct.AccessToken, acct.RefreshToken, acct.AccessTokenExpiresAt,
		acct.InstallationID, acct.InstallationToken, acct.InstallationExpires,
		time.Now(), time.Now(),
	)
}

func newAccountService(t *testing.T) (*AccountService, sqlmock.Sqlmock) {
	t.Helper()
	store, mock := newTestStore(t)
	return NewAccountService(store, testTokens, testEnvelopes, TestHasher), mock
}

func TestLoginIssuesTokenPair(t *testing.T) {
	svc, mock := newAccountService(t)

	hash := "hunter2"
	mock.ExpectQuery(`SELECT .+ FROM users WHERE LOWER\(username\)`).
		WithArgs("beatriz").
		WillReturnRows(userRows(domain.User{ID: 7, Username: "beatriz", PasswordHash: &hash}))

	pair, err := svc.Login(context.Background(), "beatriz", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "bearer", pair.TokenType)

	claims, ok := testTokens.Decode(pair.AccessToken)
	require.True(t, ok)
	assert.Equal(t, int64(7), claims.UserID)
	assert.False(t, claims.Refresh)

	claims, ok = testTokens.Decode(pair.RefreshToken)
	require.True(t, ok)
	assert.True(t, claims.Refresh)
}

func TestLoginUnknownUser(t *testing.T) {
	svc, mock := newAccountService(t)

	mock.ExpectQuery(`SELECT .+ FROM users WHERE LOWER\(username\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := svc.Login(context.Background(), "nobody", "hunter2")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, mock := newAccountService(t)

	hash := "hunter2"
	mock.ExpectQuery(`SELECT .+ FROM users WHERE LOWER\(username\)`).
		WillReturnRows(userRows(domain.User{ID: 7, Username: "beatriz", PasswordHash: &hash}))

	_, err := svc.Login(context.Background(), "beatriz", "wrong")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestLoginWithoutPasswordHash(t *testing.T) {
	svc, mock := newAccountService(t)

	// OAuth-only accounts carry no password hash and cannot log in this way.
	mock.ExpectQuery(`SELECT .+ FROM users WHERE LOWER\(username\)`).
		WillReturnRows(userRows(domain.User{ID: 7, Username: "beatriz"}))

	_, err := svc.Login(context.Background(), "beatriz", "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestRefreshRotatesPair(t *testing.T) {
	svc, _ := newAccountService(t)

	refresh, err := testTokens.IssueRefresh(7)
	require.NoError(t, err)

	pair, err := svc.Refresh(refresh)
	require.NoError(t, err)

	claims, ok := testTokens.Decode(pair.AccessToken)
	require.True(t, ok)
	assert.Equal(t, int64(7), claims.UserID)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	svc, _ := newAccountService(t)

	access, err := testTokens.IssueAccess(7)
	require.NoError(t, err)

	_, err = svc.Refresh(access)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestRegisterRequiresUsernameAndEmail(t *testing.T) {
	svc, _ := newAccountService(t)

	_, _, err := svc.Register(context.Background(), RegisterInput{Username: "beatriz"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRegisterWithOAuthEnvelope(t *testing.T) {
	svc, mock := newAccountService(t)

	env, err := testEnvelopes.Encode(map[string]string{
		"action":        "register",
		"username":      "octo",
		"first_name":    "Octo",
		"last_name":     "Cat",
		"email":         "octo@example.org",
		"avatar_url":    "https://avatars.example.org/u/42",
		"provider":      "github",
		"provider_id":   "42",
		"raw_info":      `{"login":"octo"}`,
		"access_token":  "gho_at",
		"refresh_token": "ghr_rt",
		"ip":            "203.0.113.9",
	}, envelope.SaltOAuthRegister)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("octo", "octo@example.org", sqlmock.AnyArg(), "pw", "Octo", "Cat", "https://avatars.example.org/u/42").
		WillReturnRows(userRows(domain.User{ID: 12, Username: "octo", Email: "octo@example.org", UUID: "u-u-i-d"}))
	mock.ExpectQuery(`INSERT INTO oauth_accounts`).
		WillReturnRows(oauthRows(domain.OAuthAccount{ID: 3, UserID: 12, Provider: domain.ProviderGitHub, ProviderID: "42"}))
	mock.ExpectCommit()

	user, pair, err := svc.Register(context.Background(), RegisterInput{
		Username:  "octo",
		Password:  "pw",
		Email:     "spoofed@example.org", // the envelope email wins
		OAuthData: env,
		IP:        "203.0.113.9",
	})
	require.NoError(t, err)
	assert.Equal(t, "octo@example.org", user.Email)
	require.NotNil(t, pair)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterEnvelopeIPMismatch(t *testing.T) {
	svc, _ := newAccountService(t)

	env, err := testEnvelopes.Encode(map[string]string{
		"email": "octo@example.org",
		"ip":    "203.0.113.9",
	}, envelope.SaltOAuthRegister)
	require.NoError(t, err)

	_, _, err = svc.Register(context.Background(), RegisterInput{
		Username:  "octo",
		OAuthData: env,
		IP:        "198.51.100.20",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidEnvelope)
}

func TestRegisterEnvelopeWrongSalt(t *testing.T) {
	svc, _ := newAccountService(t)

	env, err := testEnvelopes.Encode(map[string]string{
		"email": "octo@example.org",
		"ip":    "203.0.113.9",
	}, envelope.SaltOAuthState)
	require.NoError(t, err)

	_, _, err = svc.Register(context.Background(), RegisterInput{
		Username:  "octo",
		OAuthData: env,
		IP:        "203.0.113.9",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidEnvelope)
}

func TestRotateAPIKey(t *testing.T) {
	svc, mock := newAccountService(t)

	mock.ExpectQuery(`UPDATE users SET uuid = \$2`).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnRows(userRows(domain.User{ID: 7, Username: "beatriz", UUID: "11111111-2222-3333-4444-555555555555"}))

	key, err := svc.RotateAPIKey(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "beatriz:11111111-2222-3333-4444-555555555555", key)
}

func TestUsernameCandidate(t *testing.T) {
	assert.Equal(t, "octo", usernameCandidate(domain.RawInfo{"login": "Octo"}, "someone@example.org"))
	assert.Equal(t, "someone", usernameCandidate(domain.RawInfo{}, "Someone@example.org"))
}
