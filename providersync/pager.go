package providersync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxPagesPerFetch is the circuit breaker against unbounded or looping
// pagination. Hitting it is a diagnostic, not a failure.
const maxPagesPerFetch = 50

// contactBatchSize is the fixed chunk size for secondary batch lookups
// (resolving full contact details for bare ids from invoices).
const contactBatchSize = 100

// pageLister fetches one page at the given cursor. Cursor semantics are
// provider-specific (opaque token or stringified page number); an empty
// cursor means page 1.
type pageLister func(ctx context.Context, cursor string) (Page, error)

// fetchAllPages drives a provider list endpoint to exhaustion. The sequence
// restarts from page 1 only; there is no mid-stream resume. An empty page is
// the universal end-of-data signal for both providers, so paging stops there
// even when a next-cursor is present.
func fetchAllPages(ctx context.Context, list pageLister, diag *Diagnostics) ([]ExternalRecord, error) {
	var records []ExternalRecord
	cursor := ""

	for pageNo := 0; ; pageNo++ {
		if pageNo >= maxPagesPerFetch {
			diag.PageLimitReached = true
			return records, nil
		}

		page, err := list(ctx, cursor)
		if err != nil {
			return records, err
		}
		diag.addPage(len(page.Records))

		if len(page.Records) == 0 {
			return records, nil
		}
		records = append(records, page.Records...)

		if page.NextCursor == "" {
			return records, nil
		}
		cursor = page.NextCursor
	}
}

// batchFetcher resolves one fixed-size chunk of ids.
type batchFetcher func(ctx context.Context, ids []string) ([]ExternalRecord, error)

// fetchInBatches splits ids into contactBatchSize chunks and aggregates the
// results. A failing batch aborts the whole fetch with that batch's error.
func fetchInBatches(ctx context.Context, ids []string, fetch batchFetcher, diag *Diagnostics) ([]ExternalRecord, error) {
	var records []ExternalRecord
	for _, chunk := range chunkStrings(ids, contactBatchSize) {
		batch, err := fetch(ctx, chunk)
		if err != nil {
			return records, err
		}
		diag.BatchesFetched++
		records = append(records, batch...)
	}
	return records, nil
}

func chunkStrings(ids []string, size int) [][]string {
	if size <= 0 || len(ids) == 0 {
		return nil
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// classifyStatus maps a provider HTTP status to the sync fault taxonomy.
// 401/403 both mean the token is no good (expired/revoked/insufficient
// scope); everything else non-2xx is a generic provider error.
func classifyStatus(provider string, statusCode int, body string) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	body = strings.TrimSpace(body)
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return unauthorizedFault(provider, statusCode, body)
	}
	return providerFault(provider, statusCode, body)
}

func newProviderHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func readBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return ""
	}
	return string(body)
}

func parseProviderTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

func formatQueryTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func providerRequestError(provider string, err error) error {
	return &SyncFault{
		Code:    CodeProviderError,
		Message: fmt.Sprintf("%s request failed", provider),
		Err:     err,
	}
}
