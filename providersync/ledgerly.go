package providersync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"bitbucket.org/beaconcrm/reviews_backend/models"
)

// ledgerlyClient talks to the Ledgerly invoicing API. Invoices paginate by
// integer page number; rows carry a bare contact id (UUID), and full contact
// details come from a secondary batch endpoint.
type ledgerlyClient struct {
	baseURL string
	http    *http.Client
}

func newLedgerlyClient() *ledgerlyClient {
	return &ledgerlyClient{
		baseURL: strings.TrimRight(envOrDefault("LEDGERLY_API_BASE_URL", "https://api.ledgerly.com"), "/"),
		http:    newProviderHTTPClient(),
	}
}

func (c *ledgerlyClient) Name() string { return models.ProviderLedgerly }

type ledgerlyInvoice struct {
	ID        string              `json:"id"`
	ContactId string              `json:"contact_id"`
	Status    string              `json:"status"`
	LineItems []ledgerlyLineItem  `json:"line_items"`
	UpdatedAt string              `json:"updated_at"`
}

type ledgerlyLineItem struct {
	Description string `json:"description"`
}

type ledgerlyInvoiceListResponse struct {
	Invoices   []ledgerlyInvoice `json:"invoices"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
}

type ledgerlyContact struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	EmailAddress string `json:"email_address"`
	Phone        string `json:"phone"`
	UpdatedAt    string `json:"updated_at"`
}

type ledgerlyContactListResponse struct {
	Contacts []ledgerlyContact `json:"contacts"`
}

type ledgerlyConnection struct {
	TenantId   string `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
}

func (c *ledgerlyClient) RefreshToken(ctx context.Context, refreshToken string) (TokenSet, error) {
	return refreshGrant(ctx, models.ProviderLedgerly, refreshToken)
}

// FetchRecords lists invoices in the query window, reduces them to one entry
// per contact (latest invoice wins), then batch-resolves the contact details
// and folds the invoice-derived fields in.
func (c *ledgerlyClient) FetchRecords(ctx context.Context, accessToken string, q ListQuery, diag *Diagnostics) ([]ExternalRecord, error) {
	invoices, err := fetchAllPages(ctx, func(ctx context.Context, cursor string) (Page, error) {
		return c.listInvoices(ctx, accessToken, cursor, q)
	}, diag)
	if err != nil {
		return nil, err
	}

	latestByContact := make(map[string]ExternalRecord)
	for _, inv := range invoices {
		contactID := inv.ContactID
		if contactID == "" {
			diag.addInvalidIdentifier(inv.ExternalID)
			continue
		}
		if prev, ok := latestByContact[contactID]; !ok || recordMoreRecent(inv, prev) {
			latestByContact[contactID] = inv
		}
	}

	ids := make([]string, 0, len(latestByContact))
	for id := range latestByContact {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	contacts, err := fetchInBatches(ctx, ids, func(ctx context.Context, chunk []string) ([]ExternalRecord, error) {
		return c.resolveContacts(ctx, accessToken, q.TenantId, chunk)
	}, diag)
	if err != nil {
		return nil, err
	}

	for i := range contacts {
		if inv, ok := latestByContact[contacts[i].ContactID]; ok {
			contacts[i].InvoiceStatus = inv.InvoiceStatus
			contacts[i].ItemDescription = inv.ItemDescription
			if contacts[i].OccurredAt == nil {
				contacts[i].OccurredAt = inv.OccurredAt
			}
		}
	}
	return contacts, nil
}

func (c *ledgerlyClient) listInvoices(ctx context.Context, accessToken string, cursor string, q ListQuery) (Page, error) {
	pageNo := 1
	if cursor != "" {
		if n, err := strconv.Atoi(cursor); err == nil && n > 0 {
			pageNo = n
		}
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(pageNo))
	params.Set("per_page", "100")
	if q.Since != nil {
		params.Set("modified_since", formatQueryTime(*q.Since))
	}

	var parsed ledgerlyInvoiceListResponse
	if err := c.getJSON(ctx, accessToken, q.TenantId, "/api/v2/invoices", params, &parsed); err != nil {
		return Page{}, err
	}

	records := make([]ExternalRecord, 0, len(parsed.Invoices))
	for _, inv := range parsed.Invoices {
		records = append(records, ExternalRecord{
			Kind:            RecordKindContact,
			ExternalID:      strings.TrimSpace(inv.ID),
			ContactID:       strings.TrimSpace(inv.ContactId),
			InvoiceStatus:   mapInvoiceStatus(inv.Status),
			ItemDescription: firstLineItemDescription(inv.LineItems),
			OccurredAt:      parseProviderTime(inv.UpdatedAt),
		})
	}

	nextCursor := ""
	if parsed.TotalPages > pageNo {
		nextCursor = strconv.Itoa(pageNo + 1)
	}
	return Page{Records: records, NextCursor: nextCursor}, nil
}

func (c *ledgerlyClient) resolveContacts(ctx context.Context, accessToken string, tenantId string, ids []string) ([]ExternalRecord, error) {
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))

	var parsed ledgerlyContactListResponse
	if err := c.getJSON(ctx, accessToken, tenantId, "/api/v2/contacts", params, &parsed); err != nil {
		return nil, err
	}

	records := make([]ExternalRecord, 0, len(parsed.Contacts))
	for _, contact := range parsed.Contacts {
		records = append(records, ExternalRecord{
			Kind:       RecordKindContact,
			ExternalID: strings.TrimSpace(contact.ID),
			ContactID:  strings.TrimSpace(contact.ID),
			AuthorName: strings.TrimSpace(contact.Name),
			Email:      strings.TrimSpace(contact.EmailAddress),
			Phone:      strings.TrimSpace(contact.Phone),
			OccurredAt: parseProviderTime(contact.UpdatedAt),
		})
	}
	return records, nil
}

func (c *ledgerlyClient) ListTenants(ctx context.Context, accessToken string) ([]Tenant, error) {
	endpoint := c.baseURL + "/connections"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, providerRequestError(models.ProviderLedgerly, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, providerRequestError(models.ProviderLedgerly, err)
	}
	defer resp.Body.Close()

	body := readBody(resp.Body)
	if err := classifyStatus(models.ProviderLedgerly, resp.StatusCode, body); err != nil {
		return nil, err
	}

	var connections []ledgerlyConnection
	if err := json.Unmarshal([]byte(body), &connections); err != nil {
		return nil, providerRequestError(models.ProviderLedgerly, err)
	}

	tenants := make([]Tenant, 0, len(connections))
	for _, conn := range connections {
		if strings.TrimSpace(conn.TenantId) == "" {
			continue
		}
		tenants = append(tenants, Tenant{ID: conn.TenantId, Name: conn.TenantName})
	}
	return tenants, nil
}

func (c *ledgerlyClient) getJSON(ctx context.Context, accessToken string, tenantId string, path string, params url.Values, dest interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return providerRequestError(models.ProviderLedgerly, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if tenantId != "" {
		req.Header.Set("Ledgerly-Tenant-Id", tenantId)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return providerRequestError(models.ProviderLedgerly, err)
	}
	defer resp.Body.Close()

	body := readBody(resp.Body)
	if err := classifyStatus(models.ProviderLedgerly, resp.StatusCode, body); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), dest); err != nil {
		return providerRequestError(models.ProviderLedgerly, err)
	}
	return nil
}

func recordMoreRecent(a ExternalRecord, b ExternalRecord) bool {
	switch {
	case a.OccurredAt == nil:
		return false
	case b.OccurredAt == nil:
		return true
	case a.OccurredAt.Equal(*b.OccurredAt):
		return a.ExternalID > b.ExternalID
	default:
		return a.OccurredAt.After(*b.OccurredAt)
	}
}

func mapInvoiceStatus(status string) models.InvoiceStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "DRAFT":
		return models.InvoiceStatusDraft
	case "SENT", "SUBMITTED", "AUTHORISED":
		return models.InvoiceStatusSent
	case "PAID":
		return models.InvoiceStatusPaid
	case "OVERDUE":
		return models.InvoiceStatusOverdue
	case "VOIDED", "VOID", "DELETED":
		return models.InvoiceStatusVoided
	default:
		return models.InvoiceStatusNone
	}
}

func firstLineItemDescription(items []ledgerlyLineItem) string {
	for _, item := range items {
		if desc := strings.TrimSpace(item.Description); desc != "" {
			return desc
		}
	}
	return ""
}
