package providersync

import (
	"context"
	"time"

	"bitbucket.org/beaconcrm/reviews_backend/models"
)

// tokenExpirySkew is the safety margin subtracted from a token's expiry
// before treating it as expired. It absorbs the latency between this check
// and the token actually hitting the provider.
const tokenExpirySkew = 60 * time.Second

// TokenBroker owns the OAuth access-token lifecycle for one provider
// connection. All token writes go through the caller's transaction so a
// rolled-back run never leaves a half-persisted token behind.
type TokenBroker struct {
	api providerAPI
	now func() time.Time
}

func NewTokenBroker(api providerAPI) *TokenBroker {
	return &TokenBroker{api: api, now: time.Now}
}

// EnsureValidAccessToken returns an access token usable right now. A token
// with unknown expiry, or one expiring within the skew, is refreshed first;
// a still-valid token is returned without any network call.
func (b *TokenBroker) EnsureValidAccessToken(ctx context.Context, store syncStore, conn *models.ProviderConnection) (string, error) {
	if conn == nil || conn.Status != models.ConnectionStatusConnected {
		return "", noConnectionFault(b.api.Name())
	}

	if !tokenNeedsRefresh(conn.ExpiresAt, b.now()) {
		return conn.AccessToken, nil
	}

	ts, err := b.api.RefreshToken(ctx, conn.RefreshToken)
	if err != nil {
		// Stored tokens stay untouched on a failed grant.
		return "", err
	}

	refreshedAt := b.now()
	updates := map[string]interface{}{
		"access_token":      ts.AccessToken,
		"refresh_token":     ts.RefreshToken,
		"expires_at":        ts.ExpiresAt,
		"last_refreshed_at": refreshedAt,
	}
	if ts.TokenType != "" {
		updates["token_type"] = ts.TokenType
	}
	if ts.Scope != "" {
		updates["scope"] = ts.Scope
	}
	if err := store.UpdateConnection(ctx, conn.BusinessId, conn.ID, updates); err != nil {
		return "", transactionFault(err)
	}

	conn.AccessToken = ts.AccessToken
	conn.RefreshToken = ts.RefreshToken
	conn.ExpiresAt = &ts.ExpiresAt
	conn.LastRefreshedAt = &refreshedAt
	return ts.AccessToken, nil
}

// tokenNeedsRefresh reports whether the token must be refreshed before use.
// Unknown expiry counts as expired.
func tokenNeedsRefresh(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return !expiresAt.After(now.Add(tokenExpirySkew))
}
