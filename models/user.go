package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/beaconcrm/reviews_backend/config"
	"bitbucket.org/beaconcrm/reviews_backend/utils"
)

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;size:36;not null" json:"business_id"`
	Username   string    `gorm:"uniqueIndex;size:100;not null" json:"username" binding:"required"`
	Password   string    `gorm:"size:255;not null" json:"-"`
	Role       string    `gorm:"size:20;not null;default:'Staff'" json:"role"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	if username == "" {
		return nil, errors.New("username is required")
	}

	var user User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err == nil && exists {
		return &user, nil
	}

	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	// Users are a platform-level table; lookup happens before the tenant
	// scope is known.
	lookupCtx := utils.SetSkipTenantScopeInContext(ctx, true)
	if err := db.WithContext(lookupCtx).Where("username = ?", username).Take(&user).Error; err != nil {
		return nil, err
	}

	_ = config.SetRedisObject("User:"+username, user, 10*time.Minute)
	return &user, nil
}
