package providersync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"bitbucket.org/beaconcrm/reviews_backend/models"
	"github.com/shopspring/decimal"
)

// revulyClient talks to the Revuly review-collection API. Reviews are listed
// with an opaque cursor; authors carry a display name only, so matching falls
// back to the name tier downstream.
type revulyClient struct {
	baseURL string
	http    *http.Client
}

func newRevulyClient() *revulyClient {
	return &revulyClient{
		baseURL: strings.TrimRight(envOrDefault("REVULY_API_BASE_URL", "https://api.revuly.com"), "/"),
		http:    newProviderHTTPClient(),
	}
}

func (c *revulyClient) Name() string { return models.ProviderRevuly }

type revulyReview struct {
	ID          string      `json:"id"`
	Author      revulyAuthor `json:"author"`
	Body        string      `json:"body"`
	Rating      json.Number `json:"rating"`
	PublishedAt string      `json:"published_at"`
}

type revulyAuthor struct {
	Name string `json:"name"`
}

type revulyListResponse struct {
	Data       []revulyReview `json:"data"`
	NextCursor string         `json:"next_cursor"`
}

type revulyAccount struct {
	AccountId    string `json:"account_id"`
	BusinessName string `json:"business_name"`
}

func (c *revulyClient) RefreshToken(ctx context.Context, refreshToken string) (TokenSet, error) {
	return refreshGrant(ctx, models.ProviderRevuly, refreshToken)
}

func (c *revulyClient) FetchRecords(ctx context.Context, accessToken string, q ListQuery, diag *Diagnostics) ([]ExternalRecord, error) {
	return fetchAllPages(ctx, func(ctx context.Context, cursor string) (Page, error) {
		return c.listReviews(ctx, accessToken, cursor, q)
	}, diag)
}

func (c *revulyClient) listReviews(ctx context.Context, accessToken string, cursor string, q ListQuery) (Page, error) {
	params := url.Values{}
	params.Set("limit", "100")
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if q.Since != nil {
		params.Set("published_since", formatQueryTime(*q.Since))
	}

	var parsed revulyListResponse
	if err := c.getJSON(ctx, accessToken, "/v1/reviews", params, &parsed); err != nil {
		return Page{}, err
	}

	records := make([]ExternalRecord, 0, len(parsed.Data))
	for _, review := range parsed.Data {
		records = append(records, ExternalRecord{
			Kind:       RecordKindReview,
			ExternalID: strings.TrimSpace(review.ID),
			AuthorName: strings.TrimSpace(review.Author.Name),
			Text:       strings.TrimSpace(review.Body),
			Rating:     decimalFromNumber(review.Rating),
			OccurredAt: parseProviderTime(review.PublishedAt),
		})
	}
	return Page{Records: records, NextCursor: parsed.NextCursor}, nil
}

func (c *revulyClient) ListTenants(ctx context.Context, accessToken string) ([]Tenant, error) {
	var account revulyAccount
	if err := c.getJSON(ctx, accessToken, "/v1/me", nil, &account); err != nil {
		return nil, err
	}
	if strings.TrimSpace(account.AccountId) == "" {
		return nil, providerFault(models.ProviderRevuly, 0, "account id missing from /v1/me")
	}
	return []Tenant{{ID: account.AccountId, Name: account.BusinessName}}, nil
}

func (c *revulyClient) getJSON(ctx context.Context, accessToken string, path string, params url.Values, dest interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return providerRequestError(models.ProviderRevuly, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return providerRequestError(models.ProviderRevuly, err)
	}
	defer resp.Body.Close()

	body := readBody(resp.Body)
	if err := classifyStatus(models.ProviderRevuly, resp.StatusCode, body); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), dest); err != nil {
		return providerRequestError(models.ProviderRevuly, err)
	}
	return nil
}

func decimalFromNumber(num json.Number) *decimal.Decimal {
	if num.String() == "" {
		return nil
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return &d
	}
	return nil
}
