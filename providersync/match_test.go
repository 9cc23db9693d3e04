package providersync

import (
	"testing"
	"time"

	"bitbucket.org/beaconcrm/reviews_backend/models"
)

func strPtr(s string) *string { return &s }

func TestValidExternalID(t *testing.T) {
	if !ValidExternalID("6fa85f64-5717-4562-b3fc-2c963f66afa6") {
		t.Fatalf("well-formed id must validate")
	}
	for _, id := range []string{
		"",
		"6fa85f64",
		"6fa85f64-5717-4562-b3fc-2c963f66afa6-extra",
		"zzzzzzzz-5717-4562-b3fc-2c963f66afa6",
	} {
		if ValidExternalID(id) {
			t.Fatalf("id %q must not validate", id)
		}
	}
}

func TestMatch_ByContactId(t *testing.T) {
	ix := buildClientIndex([]models.Client{
		{ID: 1, Name: "Acme Co", ProviderContactId: strPtr("6fa85f64-5717-4562-b3fc-2c963f66afa6")},
		{ID: 2, Name: "Beta Ltd"},
	})

	id, tier, invalid := ix.Match(ExternalRecord{
		ContactID:  "6fa85f64-5717-4562-b3fc-2c963f66afa6",
		AuthorName: "Completely Different Name",
	})
	if id != 1 || tier != MatchByContactId || invalid {
		t.Fatalf("expected contact-id match to client 1, got id=%d tier=%d invalid=%v", id, tier, invalid)
	}
}

func TestMatch_ByNameCaseInsensitive(t *testing.T) {
	ix := buildClientIndex([]models.Client{
		{ID: 7, Name: "Acme Co"},
	})

	id, tier, _ := ix.Match(ExternalRecord{AuthorName: "  acme co "})
	if id != 7 || tier != MatchByName {
		t.Fatalf("expected case-insensitive name match, got id=%d tier=%d", id, tier)
	}

	id, tier, _ = ix.Match(ExternalRecord{AuthorName: "Acme Company"})
	if id != 0 || tier != MatchNone {
		t.Fatalf("near-miss names must not match, got id=%d tier=%d", id, tier)
	}
}

func TestMatch_InvalidIdFallsThroughToName(t *testing.T) {
	ix := buildClientIndex([]models.Client{
		{ID: 3, Name: "Gamma LLC"},
	})

	id, tier, invalid := ix.Match(ExternalRecord{
		ContactID:  "not-a-real-identifier",
		AuthorName: "Gamma LLC",
	})
	if !invalid {
		t.Fatalf("malformed contact id must be flagged")
	}
	if id != 3 || tier != MatchByName {
		t.Fatalf("record with bad id must still match by name, got id=%d tier=%d", id, tier)
	}
}

func TestBuildClientIndex_DuplicateNamesKeepFirst(t *testing.T) {
	ix := buildClientIndex([]models.Client{
		{ID: 1, Name: "Smith"},
		{ID: 2, Name: "smith"},
	})
	id, _, _ := ix.Match(ExternalRecord{AuthorName: "SMITH"})
	if id != 1 {
		t.Fatalf("duplicate names must keep the first client, got %d", id)
	}
}

func TestDedupeByClient_KeepsMostRecent(t *testing.T) {
	older := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	records := []ExternalRecord{
		{ExternalID: "a", AuthorName: "Acme Co", OccurredAt: &older},
		{ExternalID: "b", AuthorName: "Unmatched", OccurredAt: &newer},
		{ExternalID: "c", AuthorName: "Acme Co", OccurredAt: &newer},
	}
	ix := buildClientIndex([]models.Client{{ID: 1, Name: "Acme Co"}})

	out := dedupeByClient(records, func(rec ExternalRecord) int {
		id, _, _ := ix.Match(rec)
		return id
	})
	if len(out) != 2 {
		t.Fatalf("expected 2 records after dedupe, got %d", len(out))
	}

	var kept []string
	for _, rec := range out {
		kept = append(kept, rec.ExternalID)
	}
	if kept[0] != "b" && kept[1] != "b" {
		t.Fatalf("unmatched record must pass through, kept %v", kept)
	}
	for _, id := range kept {
		if id == "a" {
			t.Fatalf("older duplicate must be dropped, kept %v", kept)
		}
	}
}

func TestDedupeByClient_TieBreaksDeterministically(t *testing.T) {
	when := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	records := []ExternalRecord{
		{ExternalID: "x1", AuthorName: "Acme Co", OccurredAt: &when},
		{ExternalID: "x2", AuthorName: "Acme Co", OccurredAt: &when},
	}
	ix := buildClientIndex([]models.Client{{ID: 1, Name: "Acme Co"}})
	clientOf := func(rec ExternalRecord) int {
		id, _, _ := ix.Match(rec)
		return id
	}

	first := dedupeByClient(records, clientOf)
	reversed := []ExternalRecord{records[1], records[0]}
	second := dedupeByClient(reversed, clientOf)

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected single survivor, got %d and %d", len(first), len(second))
	}
	if first[0].ExternalID != second[0].ExternalID {
		t.Fatalf("tie-break must not depend on input order: %s vs %s",
			first[0].ExternalID, second[0].ExternalID)
	}
}
