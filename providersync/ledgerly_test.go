package providersync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/beaconcrm/reviews_backend/models"
)

const (
	contactAlpha = "11111111-1111-4111-8111-111111111111"
	contactBeta  = "22222222-2222-4222-8222-222222222222"
)

func newTestLedgerlyClient(srv *httptest.Server) *ledgerlyClient {
	return &ledgerlyClient{baseURL: srv.URL, http: srv.Client()}
}

func TestLedgerlyFetchRecords_FoldsInvoicesIntoContacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Ledgerly-Tenant-Id") != "tenant-1" {
			t.Errorf("missing tenant header on %s", r.URL.Path)
		}
		switch r.URL.Path {
		case "/api/v2/invoices":
			// Two invoices for alpha (the later one must win), one for beta,
			// one with no contact id at all.
			fmt.Fprintf(w, `{
				"invoices": [
					{"id": "inv-1", "contact_id": %q, "status": "PAID", "updated_at": "2026-01-10T00:00:00Z",
					 "line_items": [{"description": "Boiler service"}]},
					{"id": "inv-2", "contact_id": %q, "status": "OVERDUE", "updated_at": "2026-03-01T00:00:00Z",
					 "line_items": [{"description": "Radiator repair"}]},
					{"id": "inv-3", "contact_id": %q, "status": "SENT", "updated_at": "2026-02-01T00:00:00Z",
					 "line_items": []},
					{"id": "inv-4", "contact_id": "", "status": "PAID", "updated_at": "2026-02-15T00:00:00Z"}
				],
				"page": 1,
				"total_pages": 1
			}`, contactAlpha, contactAlpha, contactBeta)
		case "/api/v2/contacts":
			fmt.Fprintf(w, `{
				"contacts": [
					{"id": %q, "name": "Alpha Plumbing", "email_address": "ops@alpha.test", "phone": "+441111111111"},
					{"id": %q, "name": "Beta Roofing", "email_address": "", "phone": ""}
				]
			}`, contactAlpha, contactBeta)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestLedgerlyClient(srv)
	var diag Diagnostics
	records, err := c.FetchRecords(context.Background(), "tok", ListQuery{TenantId: "tenant-1"}, &diag)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(records))
	}

	byID := map[string]ExternalRecord{}
	for _, rec := range records {
		byID[rec.ContactID] = rec
	}

	alpha := byID[contactAlpha]
	if alpha.AuthorName != "Alpha Plumbing" || alpha.Email != "ops@alpha.test" {
		t.Fatalf("contact details not resolved: %+v", alpha)
	}
	if alpha.InvoiceStatus != models.InvoiceStatusOverdue {
		t.Fatalf("latest invoice must win, got status %s", alpha.InvoiceStatus)
	}
	if alpha.ItemDescription != "Radiator repair" {
		t.Fatalf("latest invoice's line item must win, got %q", alpha.ItemDescription)
	}

	beta := byID[contactBeta]
	if beta.InvoiceStatus != models.InvoiceStatusSent || beta.ItemDescription != "" {
		t.Fatalf("beta folded wrong: %+v", beta)
	}

	if len(diag.InvalidIdentifiers) != 1 || diag.InvalidIdentifiers[0] != "inv-4" {
		t.Fatalf("invoice without contact id must be sampled, got %v", diag.InvalidIdentifiers)
	}
	if diag.BatchesFetched != 1 {
		t.Fatalf("expected one contact batch, got %d", diag.BatchesFetched)
	}
}

func TestLedgerlyListInvoices_PageNumberCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		switch page {
		case "1":
			fmt.Fprintf(w, `{"invoices": [{"id": "inv-p1", "contact_id": %q, "status": "PAID"}], "page": 1, "total_pages": 2}`, contactAlpha)
		case "2":
			fmt.Fprintf(w, `{"invoices": [{"id": "inv-p2", "contact_id": %q, "status": "PAID"}], "page": 2, "total_pages": 2}`, contactBeta)
		default:
			t.Errorf("unexpected page %q", page)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := newTestLedgerlyClient(srv)

	first, err := c.listInvoices(context.Background(), "tok", "", ListQuery{})
	if err != nil {
		t.Fatalf("page 1 failed: %v", err)
	}
	if first.NextCursor != "2" {
		t.Fatalf("expected next cursor 2, got %q", first.NextCursor)
	}

	second, err := c.listInvoices(context.Background(), "tok", first.NextCursor, ListQuery{})
	if err != nil {
		t.Fatalf("page 2 failed: %v", err)
	}
	if second.NextCursor != "" {
		t.Fatalf("last page must not yield a cursor, got %q", second.NextCursor)
	}
}

func TestLedgerlyFetchRecords_UnauthorizedIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": "token expired"}`)
	}))
	defer srv.Close()

	c := newTestLedgerlyClient(srv)
	var diag Diagnostics
	_, err := c.FetchRecords(context.Background(), "expired", ListQuery{}, &diag)
	if !IsFault(err, CodeUnauthorized) {
		t.Fatalf("expected unauthorized fault, got %v", err)
	}
}

func TestMapInvoiceStatus(t *testing.T) {
	cases := map[string]models.InvoiceStatus{
		"PAID":       models.InvoiceStatusPaid,
		"paid":       models.InvoiceStatusPaid,
		"AUTHORISED": models.InvoiceStatusSent,
		"VOID":       models.InvoiceStatusVoided,
		"whatever":   models.InvoiceStatusNone,
		"":           models.InvoiceStatusNone,
	}
	for in, want := range cases {
		if got := mapInvoiceStatus(in); got != want {
			t.Fatalf("mapInvoiceStatus(%q) = %s, want %s", in, got, want)
		}
	}
}
