package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
)

const oauthColumns = `id, user_id, provider, provider_id, raw_info, access_token,
	refresh_token, access_token_expires_at, installation_id,
	installation_access_token, installation_token_expires_at, created_at, updated_at`

// OAuthAccountRepository handles OAuth account data access operations.
type OAuthAccountRepository struct {
	q querier
}

// FindByProviderID retrieves an account by the globally unique
// (provider, provider_id) pair.
func (r *OAuthAccountRepository) FindByProviderID(ctx context.Context, provider domain.Provider, providerID string) (*domain.OAuthAccount, error) {
	var acct domain.OAuthAccount
	err := r.q.GetContext(ctx, &acct,
		`SELECT `+oauthColumns+` FROM oauth_accounts WHERE provider = $1 AND provider_id = $2`,
		provider, providerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find oauth account %s/%s: %w", provider, providerID, err)
	}
	return &acct, nil
}

// FindByUserAndProvider retrieves a user's account at one provider.
func (r *OAuthAccountRepository) FindByUserAndProvider(ctx context.Context, userID int64, provider domain.Provider) (*domain.OAuthAccount, error) {
	var acct domain.OAuthAccount
	err := r.q.GetContext(ctx, &acct,
		`SELECT `+oauthColumns+` FROM oauth_accounts WHERE user_id = $1 AND provider = $2`,
		userID, provider)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find oauth account for user %d at %s: %w", userID, provider, err)
	}
	return &acct, nil
}

// LockByUserAndProvider retrieves the account under a row-level lock. Must
// run inside a transaction; the lock serializes token refresh and
// installation-token minting for the account.
func (r *OAuthAccountRepository) LockByUserAndProvider(ctx context.Context, userID int64, provider domain.Provider) (*domain.OAuthAccount, error) {
	var acct domain.OAuthAccount
	err := r.q.GetContext(ctx, &acct,
		`SELECT `+oauthColumns+` FROM oauth_accounts WHERE user_id = $1 AND provider = $2 FOR UPDATE`,
		userID, provider)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("lock oauth account for user %d at %s: %w", userID, provider, err)
	}
	return &acct, nil
}

// Upsert creates the account or refreshes its tokens. The conflict update is
// guarded on user_id so an account already linked to a different user is
// never silently re-parented; that case returns ErrAccountAlreadyLinked.
func (r *OAuthAccountRepository) Upsert(ctx context.Context, acct domain.OAuthAccount) (*domain.OAuthAccount, error) {
	var result domain.OAuthAccount
	err := r.q.QueryRowxContext(ctx,
		`INSERT INTO oauth_accounts
		     (user_id, provider, provider_id, raw_info, access_token, refresh_token, access_token_expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (provider, provider_id) DO UPDATE SET
		     raw_info = EXCLUDED.raw_info,
		     access_token = EXCLUDED.access_token,
		     refresh_token = COALESCE(EXCLUDED.refresh_token, oauth_accounts.refresh_token),
		     access_token_expires_at = EXCLUDED.access_token_expires_at,
		     updated_at = NOW()
		 WHERE oauth_accounts.user_id = EXCLUDED.user_id
		 RETURNING `+oauthColumns,
		acct.UserID, acct.Provider, acct.ProviderID, acct.RawInfo,
		acct.AccessToken, acct.RefreshToken, acct.AccessTokenExpiresAt,
	).StructScan(&result)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountAlreadyLinked
		}
		return nil, fmt.Errorf("upsert oauth account %s/%s: %w", acct.Provider, acct.ProviderID, uniqueViolation(err))
	}
	return &result, nil
}

// UpdateTokens swaps in a fresh token set.
func (r *OAuthAccountRepository) UpdateTokens(ctx context.Context, accountID int64, ts domain.TokenSet) error {
	var expiresAt *time.Time
	if !ts.ExpiresAt.IsZero() {
		expiresAt = &ts.ExpiresAt
	}
	var refresh *string
	if ts.RefreshToken != "" {
		refresh = &ts.RefreshToken
	}
	_, err := r.q.ExecContext(ctx,
		`UPDATE oauth_accounts SET
		     access_token = $2,
		     refresh_token = COALESCE($3, refresh_token),
		     access_token_expires_at = $4,
		     updated_at = NOW()
		 WHERE id = $1`,
		accountID, ts.AccessToken, refresh, expiresAt)
	if err != nil {
		return fmt.Errorf("update tokens for oauth account %d: %w", accountID, err)
	}
	return nil
}

// SaveInstallation persists the GitHub App installation token and expiry.
func (r *OAuthAccountRepository) SaveInstallation(ctx context.Context, accountID int64, installationID, token string, expiresAt time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE oauth_accounts SET
		     installation_id = $2,
		     installation_access_token = $3,
		     installation_token_expires_at = $4,
		     updated_at = NOW()
		 WHERE id = $1`,
		accountID, installationID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("save installation for oauth account %d: %w", accountID, err)
	}
	return nil
}
