package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/beaconcrm/reviews_backend/config"
)

type Business struct {
	ID          string    `gorm:"primary_key;size:36" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Email       string    `gorm:"size:100" json:"email"`
	Phone       string    `gorm:"size:20" json:"phone"`
	CountryCode string    `gorm:"size:2;default:'GB'" json:"country_code"`
	AppBaseURL  string    `gorm:"size:255" json:"app_base_url"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetBusinessById(ctx context.Context, businessId string) (*Business, error) {
	if businessId == "" {
		return nil, errors.New("business id is required")
	}

	var business Business
	cacheKey := "Business:" + businessId
	exists, err := config.GetRedisObject(cacheKey, &business)
	if err == nil && exists {
		return &business, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Where("id = ?", businessId).Take(&business).Error; err != nil {
		return nil, err
	}

	_ = config.SetRedisObject(cacheKey, business, 10*time.Minute)
	return &business, nil
}
