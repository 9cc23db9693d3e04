package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/beaconcrm/reviews_backend/config"
	"bitbucket.org/beaconcrm/reviews_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReviewRecord holds the review state for a client. A client may carry both an
// internally authored text and an externally imported one; PrimarySource says
// which is surfaced. The latest row per client (by updated_at, then created_at)
// is the "current" record.
type ReviewRecord struct {
	ID               int              `gorm:"primary_key" json:"id"`
	BusinessId       string           `gorm:"index;size:36;not null" json:"business_id"`
	ClientId         int              `gorm:"index;not null" json:"client_id"`
	InternalText     *string          `gorm:"type:text" json:"internal_text"`
	ExternalText     *string          `gorm:"type:text" json:"external_text"`
	ExternalReviewId string           `gorm:"size:128" json:"external_review_id"`
	Rating           *decimal.Decimal `gorm:"type:decimal(4,2)" json:"rating"`
	PrimarySource    ReviewSource     `gorm:"type:enum('internal','external');not null;default:'internal'" json:"primary_source"`
	IsHappy          *bool            `json:"is_happy"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// ExternalReviewRaw is the provider-reported review as fetched, upserted on
// every run and keyed by (business, provider, external review id). Linked
// flips to true only after the review has been merged into a Client.
type ExternalReviewRaw struct {
	ID               int              `gorm:"primary_key" json:"id"`
	BusinessId       string           `gorm:"uniqueIndex:idx_external_reviews,priority:1;size:36;not null" json:"business_id"`
	Provider         string           `gorm:"uniqueIndex:idx_external_reviews,priority:2;size:50;not null" json:"provider"`
	ExternalReviewId string           `gorm:"uniqueIndex:idx_external_reviews,priority:3;size:128;not null" json:"external_review_id"`
	AuthorName       string           `gorm:"size:255" json:"author_name"`
	Text             string           `gorm:"type:text" json:"text"`
	Rating           *decimal.Decimal `gorm:"type:decimal(4,2)" json:"rating"`
	PublishedAt      *time.Time       `json:"published_at"`
	Linked           bool             `gorm:"not null;default:false" json:"linked"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInternalReview struct {
	Text    string `json:"text" binding:"required"`
	IsHappy *bool  `json:"is_happy" binding:"required"`
}

// CurrentReviewRecord returns the latest review row for a client, or nil when
// the client has none.
func CurrentReviewRecord(ctx context.Context, db *gorm.DB, clientId int) (*ReviewRecord, error) {
	var record ReviewRecord
	err := db.WithContext(ctx).
		Where("client_id = ?", clientId).
		Order("updated_at DESC, created_at DESC, id DESC").
		Limit(1).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// CurrentReviewRecords returns the latest review row per client for a set of
// clients. Clients without a review are absent from the map.
func CurrentReviewRecords(ctx context.Context, db *gorm.DB, clientIds []int) (map[int]*ReviewRecord, error) {
	out := map[int]*ReviewRecord{}
	if len(clientIds) == 0 {
		return out, nil
	}

	var records []ReviewRecord
	err := db.WithContext(ctx).
		Where("client_id IN ?", clientIds).
		Order("updated_at DESC, created_at DESC, id DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	for i := range records {
		rec := &records[i]
		if _, ok := out[rec.ClientId]; !ok {
			out[rec.ClientId] = rec
		}
	}
	return out, nil
}

// WriteInternalReview records a human-authored review for a client and flips
// sentiment accordingly. Internal text always becomes the primary source.
func WriteInternalReview(ctx context.Context, clientId int, input *NewInternalReview) (*ReviewRecord, error) {
	db := config.GetDB()

	businessId, err := businessIdFromCtx(ctx)
	if err != nil {
		return nil, err
	}

	var client Client
	if err := db.WithContext(ctx).Where("id = ? AND business_id = ?", clientId, businessId).Take(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	sentiment := SentimentBad
	if input.IsHappy != nil && *input.IsHappy {
		sentiment = SentimentGood
	}

	var saved *ReviewRecord
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := CurrentReviewRecord(ctx, tx, clientId)
		if err != nil {
			return err
		}
		if record == nil {
			record = &ReviewRecord{
				BusinessId: businessId,
				ClientId:   clientId,
			}
		}
		record.InternalText = &input.Text
		record.PrimarySource = ReviewSourceInternal
		record.IsHappy = input.IsHappy
		if err := tx.Save(record).Error; err != nil {
			return err
		}
		if err := tx.Model(&Client{}).
			Where("id = ? AND business_id = ?", clientId, businessId).
			Update("sentiment", sentiment).Error; err != nil {
			return err
		}
		saved = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}
