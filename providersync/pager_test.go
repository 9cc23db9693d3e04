package providersync

import (
	"context"
	"fmt"
	"strconv"
	"testing"
)

func makeRecords(n int, prefix string) []ExternalRecord {
	records := make([]ExternalRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, ExternalRecord{
			Kind:       RecordKindReview,
			ExternalID: fmt.Sprintf("%s-%d", prefix, i),
		})
	}
	return records
}

func TestFetchAllPages_StopsAtEmptyPage(t *testing.T) {
	// An empty page ends the sequence even though a next cursor is present.
	pages := map[string]Page{
		"":   {Records: makeRecords(3, "p1"), NextCursor: "c2"},
		"c2": {Records: makeRecords(2, "p2"), NextCursor: "c3"},
		"c3": {Records: nil, NextCursor: "c4"},
	}
	calls := 0
	list := func(ctx context.Context, cursor string) (Page, error) {
		calls++
		return pages[cursor], nil
	}

	var diag Diagnostics
	records, err := fetchAllPages(context.Background(), list, &diag)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	if calls != 3 {
		t.Fatalf("expected 3 page fetches, got %d", calls)
	}
	if diag.PagesFetched != 3 {
		t.Fatalf("expected 3 pages recorded, got %d", diag.PagesFetched)
	}
	if diag.PageLimitReached {
		t.Fatalf("page limit must not be reported here")
	}
}

func TestFetchAllPages_StopsWithoutNextCursor(t *testing.T) {
	list := func(ctx context.Context, cursor string) (Page, error) {
		return Page{Records: makeRecords(4, "only")}, nil
	}

	var diag Diagnostics
	records, err := fetchAllPages(context.Background(), list, &diag)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
}

func TestFetchAllPages_PageCeilingIsDiagnosticNotError(t *testing.T) {
	calls := 0
	list := func(ctx context.Context, cursor string) (Page, error) {
		calls++
		// Always hands back another page; a paging bug upstream.
		return Page{Records: makeRecords(1, "loop"), NextCursor: strconv.Itoa(calls)}, nil
	}

	var diag Diagnostics
	records, err := fetchAllPages(context.Background(), list, &diag)
	if err != nil {
		t.Fatalf("ceiling must not surface as an error, got %v", err)
	}
	if calls != maxPagesPerFetch {
		t.Fatalf("expected exactly %d fetches, got %d", maxPagesPerFetch, calls)
	}
	if len(records) != maxPagesPerFetch {
		t.Fatalf("expected %d records, got %d", maxPagesPerFetch, len(records))
	}
	if !diag.PageLimitReached {
		t.Fatalf("expected PageLimitReached diagnostic")
	}
}

func TestClassifyStatus(t *testing.T) {
	if err := classifyStatus("revuly", 200, ""); err != nil {
		t.Fatalf("2xx must not produce a fault, got %v", err)
	}
	if err := classifyStatus("revuly", 401, "expired"); !IsFault(err, CodeUnauthorized) {
		t.Fatalf("401 must classify as unauthorized, got %v", err)
	}
	if err := classifyStatus("ledgerly", 403, "scope"); !IsFault(err, CodeUnauthorized) {
		t.Fatalf("403 must classify as unauthorized, got %v", err)
	}
	if err := classifyStatus("ledgerly", 500, "boom"); !IsFault(err, CodeProviderError) {
		t.Fatalf("500 must classify as provider error, got %v", err)
	}
	if err := classifyStatus("ledgerly", 429, "slow down"); !IsFault(err, CodeProviderError) {
		t.Fatalf("429 must classify as provider error, got %v", err)
	}
}

func TestChunkStrings(t *testing.T) {
	ids := make([]string, 250)
	for i := range ids {
		ids[i] = strconv.Itoa(i)
	}
	chunks := chunkStrings(ids, contactBatchSize)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks for 250 ids, got %d", len(chunks))
	}
	if len(chunks[0]) != 100 || len(chunks[1]) != 100 || len(chunks[2]) != 50 {
		t.Fatalf("unexpected chunk sizes: %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if chunkStrings(nil, contactBatchSize) != nil {
		t.Fatalf("empty input must produce no chunks")
	}
}

func TestFetchInBatches_AbortsOnBatchError(t *testing.T) {
	ids := make([]string, 250)
	for i := range ids {
		ids[i] = strconv.Itoa(i)
	}

	calls := 0
	fetch := func(ctx context.Context, chunk []string) ([]ExternalRecord, error) {
		calls++
		if calls == 2 {
			return nil, providerFault("ledgerly", 500, "boom")
		}
		return makeRecords(len(chunk), "batch"), nil
	}

	var diag Diagnostics
	_, err := fetchInBatches(context.Background(), ids, fetch, &diag)
	if !IsFault(err, CodeProviderError) {
		t.Fatalf("expected provider fault, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("failing batch must abort the fetch, got %d calls", calls)
	}
	if diag.BatchesFetched != 1 {
		t.Fatalf("only the successful batch counts, got %d", diag.BatchesFetched)
	}
}
