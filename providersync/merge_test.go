package providersync

import (
	"testing"

	"bitbucket.org/beaconcrm/reviews_backend/models"
	"github.com/shopspring/decimal"
)

func decPtr(v string) *decimal.Decimal {
	d, _ := decimal.NewFromString(v)
	return &d
}

func TestInferSentiment(t *testing.T) {
	cases := []struct {
		rating  string
		want    models.Sentiment
		applied bool
	}{
		{"5", models.SentimentGood, true},
		{"4", models.SentimentGood, true},
		{"3.5", models.SentimentGood, true},
		{"3", models.SentimentBad, true},
		{"2", models.SentimentBad, true},
		{"1", models.SentimentBad, true},
	}
	for _, tc := range cases {
		got, ok := inferSentiment(decPtr(tc.rating))
		if ok != tc.applied || got != tc.want {
			t.Fatalf("rating %s: got (%s, %v), want (%s, %v)", tc.rating, got, ok, tc.want, tc.applied)
		}
	}

	if _, ok := inferSentiment(nil); ok {
		t.Fatalf("missing rating must not infer a sentiment")
	}
}

func TestMergeClientFields_EmptyNeverOverwrites(t *testing.T) {
	existing := &models.Client{
		ID:              1,
		Name:            "Acme Co",
		Email:           strPtr("billing@acme.test"),
		Phone:           "+441234567890",
		ItemDescription: "Quarterly retainer",
	}

	updates := mergeClientFields(existing, ExternalRecord{
		Kind:       RecordKindContact,
		AuthorName: "",
		Email:      "",
		Phone:      "",
	}, "GB")

	if len(updates) != 0 {
		t.Fatalf("empty incoming values must not produce updates, got %v", updates)
	}
}

func TestMergeClientFields_NonEmptyOverwrites(t *testing.T) {
	existing := &models.Client{
		ID:    1,
		Name:  "Acme Co",
		Email: strPtr("old@acme.test"),
	}

	updates := mergeClientFields(existing, ExternalRecord{
		Kind:          RecordKindContact,
		AuthorName:    "Acme Company Ltd",
		Email:         "accounts@acme.test",
		InvoiceStatus: models.InvoiceStatusPaid,
	}, "GB")

	if updates["name"] != "Acme Company Ltd" {
		t.Fatalf("incoming non-empty name must overwrite, got %v", updates["name"])
	}
	if updates["email"] != "accounts@acme.test" {
		t.Fatalf("incoming non-empty email must overwrite, got %v", updates["email"])
	}
	if updates["invoice_status"] != models.InvoiceStatusPaid {
		t.Fatalf("invoice status must be applied, got %v", updates["invoice_status"])
	}
}

func TestMergeClientFields_PartialPayloadCompletesRecord(t *testing.T) {
	// A contact with only an email on file picks up the phone from one run
	// and keeps the email when a later run omits it.
	existing := &models.Client{
		ID:    1,
		Name:  "Beta Ltd",
		Email: strPtr("hello@beta.test"),
	}

	updates := mergeClientFields(existing, ExternalRecord{
		Kind:       RecordKindContact,
		AuthorName: "Beta Ltd",
		Phone:      "+447900123456",
	}, "GB")

	if _, touched := updates["email"]; touched {
		t.Fatalf("absent incoming email must not touch the stored one")
	}
	if updates["phone"] == nil || updates["phone"] == "" {
		t.Fatalf("incoming phone must be applied, got %v", updates["phone"])
	}
}

func TestMergeClientFields_InvalidContactIdNotStored(t *testing.T) {
	existing := &models.Client{ID: 1, Name: "Gamma LLC"}

	updates := mergeClientFields(existing, ExternalRecord{
		Kind:      RecordKindContact,
		ContactID: "not-an-identifier",
	}, "GB")
	if _, touched := updates["provider_contact_id"]; touched {
		t.Fatalf("malformed contact id must never be written")
	}

	updates = mergeClientFields(existing, ExternalRecord{
		Kind:      RecordKindContact,
		ContactID: "6fa85f64-5717-4562-b3fc-2c963f66afa6",
	}, "GB")
	if updates["provider_contact_id"] != "6fa85f64-5717-4562-b3fc-2c963f66afa6" {
		t.Fatalf("valid contact id must be linked, got %v", updates["provider_contact_id"])
	}
}

func TestMergeClientFields_ExistingLinkageNotReplaced(t *testing.T) {
	existing := &models.Client{
		ID:                1,
		Name:              "Delta GmbH",
		ProviderContactId: strPtr("6fa85f64-5717-4562-b3fc-2c963f66afa6"),
	}

	updates := mergeClientFields(existing, ExternalRecord{
		Kind:      RecordKindContact,
		ContactID: "00000000-0000-4000-8000-000000000000",
	}, "GB")
	if _, touched := updates["provider_contact_id"]; touched {
		t.Fatalf("an established provider linkage must not be replaced")
	}
}
