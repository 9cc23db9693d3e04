package providersync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/beaconcrm/reviews_backend/models"
	"golang.org/x/oauth2"
)

// Tenant is one provider-side organisation/account reachable through a single
// OAuth grant. Revuly always has exactly one; Ledgerly may have several.
type Tenant struct {
	ID   string
	Name string
}

// providerAPI is the per-provider capability surface the engine needs:
// a token refresh grant, a normalized bulk fetch, and tenant enumeration
// for the OAuth callback.
type providerAPI interface {
	Name() string
	RefreshToken(ctx context.Context, refreshToken string) (TokenSet, error)
	FetchRecords(ctx context.Context, accessToken string, q ListQuery, diag *Diagnostics) ([]ExternalRecord, error)
	ListTenants(ctx context.Context, accessToken string) ([]Tenant, error)
}

func newProviderAPI(provider string) (providerAPI, error) {
	switch provider {
	case models.ProviderRevuly:
		return newRevulyClient(), nil
	case models.ProviderLedgerly:
		return newLedgerlyClient(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

func envOrDefault(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func redirectURLFor(provider string) string {
	base := strings.TrimRight(envOrDefault("APP_BASE_URL", "http://localhost:8080"), "/")
	return base + "/integrations/" + provider + "/callback"
}

// OAuthConfigFor builds the oauth2 config for a provider from env. Client
// credentials are required; endpoint URLs have production defaults.
func OAuthConfigFor(provider string) (*oauth2.Config, error) {
	switch provider {
	case models.ProviderRevuly:
		return &oauth2.Config{
			ClientID:     os.Getenv("REVULY_CLIENT_ID"),
			ClientSecret: os.Getenv("REVULY_CLIENT_SECRET"),
			RedirectURL:  redirectURLFor(provider),
			Scopes:       []string{"reviews.read", "offline_access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  envOrDefault("REVULY_AUTH_URL", "https://app.revuly.com/oauth/authorize"),
				TokenURL: envOrDefault("REVULY_TOKEN_URL", "https://api.revuly.com/oauth/token"),
			},
		}, nil
	case models.ProviderLedgerly:
		return &oauth2.Config{
			ClientID:     os.Getenv("LEDGERLY_CLIENT_ID"),
			ClientSecret: os.Getenv("LEDGERLY_CLIENT_SECRET"),
			RedirectURL:  redirectURLFor(provider),
			Scopes:       []string{"accounting.contacts.read", "accounting.transactions.read", "offline_access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  envOrDefault("LEDGERLY_AUTH_URL", "https://identity.ledgerly.com/connect/authorize"),
				TokenURL: envOrDefault("LEDGERLY_TOKEN_URL", "https://identity.ledgerly.com/connect/token"),
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

// refreshGrant runs the refresh-token grant against the provider's token
// endpoint. The provider's raw error body is preserved for diagnostics.
func refreshGrant(ctx context.Context, provider string, refreshToken string) (TokenSet, error) {
	conf, err := OAuthConfigFor(provider)
	if err != nil {
		return TokenSet{}, err
	}
	if strings.TrimSpace(refreshToken) == "" {
		return TokenSet{}, refreshFailedFault(provider, "", errors.New("refresh token is empty"))
	}

	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		body := ""
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			body = string(re.Body)
		}
		return TokenSet{}, refreshFailedFault(provider, body, err)
	}
	return tokenSetFromOAuth(tok, refreshToken), nil
}

func tokenSetFromOAuth(tok *oauth2.Token, previousRefreshToken string) TokenSet {
	ts := TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
	// Providers may rotate the refresh token on every grant; when they don't,
	// keep the one we already hold.
	if ts.RefreshToken == "" {
		ts.RefreshToken = previousRefreshToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts
}
