package providersync

import (
	"testing"
	"time"

	"bitbucket.org/beaconcrm/reviews_backend/models"
)

func TestResolvePrimaryReview_InternalWins(t *testing.T) {
	client := &models.Client{ID: 1, Sentiment: models.SentimentGood}
	record := &models.ReviewRecord{
		InternalText: strPtr("great to work with"),
		ExternalText: strPtr("left 5 stars on revuly"),
		UpdatedAt:    time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}

	got := ResolvePrimaryReview(client, record)
	if got == nil {
		t.Fatalf("expected a primary review")
	}
	if got.Source != models.ReviewSourceInternal || got.Text != "great to work with" {
		t.Fatalf("internal text must win, got %+v", got)
	}
}

func TestResolvePrimaryReview_ExternalFallback(t *testing.T) {
	client := &models.Client{ID: 1, Sentiment: models.SentimentGood}
	record := &models.ReviewRecord{
		ExternalText: strPtr("left 5 stars on revuly"),
	}

	got := ResolvePrimaryReview(client, record)
	if got == nil || got.Source != models.ReviewSourceExternal {
		t.Fatalf("external text must be the fallback, got %+v", got)
	}
}

func TestResolvePrimaryReview_UnreviewedShowsNothing(t *testing.T) {
	client := &models.Client{ID: 1, Sentiment: models.SentimentUnreviewed}
	record := &models.ReviewRecord{
		ExternalText: strPtr("imported but not judged yet"),
	}

	if got := ResolvePrimaryReview(client, record); got != nil {
		t.Fatalf("unreviewed client must show no review, got %+v", got)
	}
}

func TestResolvePrimaryReview_NoTextAtAll(t *testing.T) {
	client := &models.Client{ID: 1, Sentiment: models.SentimentBad}
	record := &models.ReviewRecord{InternalText: strPtr(""), ExternalText: strPtr("")}

	if got := ResolvePrimaryReview(client, record); got != nil {
		t.Fatalf("blank texts must resolve to nothing, got %+v", got)
	}
	if got := ResolvePrimaryReview(client, nil); got != nil {
		t.Fatalf("missing record must resolve to nothing, got %+v", got)
	}
}

func TestResolvePrimaryReview_PrefersUpdatedAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	client := &models.Client{ID: 1, Sentiment: models.SentimentGood}
	record := &models.ReviewRecord{
		InternalText: strPtr("revised opinion"),
		CreatedAt:    created,
		UpdatedAt:    updated,
	}

	got := ResolvePrimaryReview(client, record)
	if got == nil || !got.Timestamp.Equal(updated) {
		t.Fatalf("timestamp must prefer updated_at, got %+v", got)
	}

	record.UpdatedAt = time.Time{}
	got = ResolvePrimaryReview(client, record)
	if got == nil || !got.Timestamp.Equal(created) {
		t.Fatalf("timestamp must fall back to created_at, got %+v", got)
	}
}
