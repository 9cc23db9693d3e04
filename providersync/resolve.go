package providersync

import (
	"time"

	"bitbucket.org/beaconcrm/reviews_backend/models"
)

// PrimaryReview is the single review surfaced for a client on read paths.
type PrimaryReview struct {
	Text      string              `json:"text"`
	Source    models.ReviewSource `json:"source"`
	Timestamp time.Time           `json:"timestamp"`
}

// ResolvePrimaryReview picks the review to display for a client. Internal
// text always wins over external; external is the fallback when no internal
// text exists. A client whose sentiment is still `unreviewed` shows nothing,
// even if imported review text is present, so staged imports stay invisible
// until someone passes judgement. Pure function over already-loaded rows.
func ResolvePrimaryReview(client *models.Client, record *models.ReviewRecord) *PrimaryReview {
	if client == nil || record == nil {
		return nil
	}
	if client.Sentiment == models.SentimentUnreviewed {
		return nil
	}

	if record.InternalText != nil && *record.InternalText != "" {
		return &PrimaryReview{
			Text:      *record.InternalText,
			Source:    models.ReviewSourceInternal,
			Timestamp: recordTimestamp(record),
		}
	}
	if record.ExternalText != nil && *record.ExternalText != "" {
		return &PrimaryReview{
			Text:      *record.ExternalText,
			Source:    models.ReviewSourceExternal,
			Timestamp: recordTimestamp(record),
		}
	}
	return nil
}

// recordTimestamp prefers the last-touched time and falls back to creation
// time for rows that were never updated.
func recordTimestamp(record *models.ReviewRecord) time.Time {
	if !record.UpdatedAt.IsZero() {
		return record.UpdatedAt
	}
	return record.CreatedAt
}
