package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/beaconcrm/reviews_backend/config"
	"bitbucket.org/beaconcrm/reviews_backend/utils"
	"gorm.io/gorm"
)

// Client is the canonical customer record for a business. External provider
// data is merged into it; it never stores raw provider payloads.
//
// Uniqueness: (business_id, email) when email is present, and
// (business_id, provider_contact_id) when a provider linkage exists.
type Client struct {
	ID                int            `gorm:"primary_key" json:"id"`
	BusinessId        string         `gorm:"uniqueIndex:idx_clients_email,priority:1;uniqueIndex:idx_clients_provider_contact,priority:1;size:36;not null" json:"business_id"`
	Name              string         `gorm:"size:255;not null" json:"name" binding:"required"`
	Email             *string        `gorm:"uniqueIndex:idx_clients_email,priority:2;size:100" json:"email"`
	Phone             string         `gorm:"size:30" json:"phone"`
	Sentiment         Sentiment      `gorm:"type:enum('good','bad','unreviewed');not null;default:'unreviewed'" json:"sentiment"`
	InvoiceStatus     InvoiceStatus  `gorm:"type:enum('none','draft','sent','paid','overdue','voided');not null;default:'none'" json:"invoice_status"`
	ProviderContactId *string        `gorm:"uniqueIndex:idx_clients_provider_contact,priority:2;size:36" json:"provider_contact_id"`
	ItemDescription   string         `gorm:"type:text" json:"item_description"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

type NewClient struct {
	Name            string    `json:"name" binding:"required"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone"`
	Sentiment       Sentiment `json:"sentiment"`
	ItemDescription string    `json:"item_description"`
}

func businessIdFromCtx(ctx context.Context) (string, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return "", errors.New("business id is required")
	}
	return businessId, nil
}

func CreateClient(ctx context.Context, input *NewClient) (*Client, error) {
	db := config.GetDB()

	businessId, err := businessIdFromCtx(ctx)
	if err != nil {
		return nil, err
	}

	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return nil, errors.New("email is not valid")
	}

	sentiment := input.Sentiment
	if sentiment == "" {
		sentiment = SentimentUnreviewed
	}
	if !sentiment.IsValid() {
		return nil, errors.New("sentiment is not valid")
	}

	business, err := GetBusinessById(ctx, businessId)
	if err != nil {
		return nil, err
	}

	client := Client{
		BusinessId:      businessId,
		Name:            input.Name,
		Phone:           utils.NormalizePhoneNumber(input.Phone, business.CountryCode),
		Sentiment:       sentiment,
		InvoiceStatus:   InvoiceStatusNone,
		ItemDescription: input.ItemDescription,
	}
	if input.Email != "" {
		client.Email = &input.Email
	}

	if err := db.WithContext(ctx).Create(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func UpdateClient(ctx context.Context, id int, input *NewClient) (*Client, error) {
	db := config.GetDB()

	businessId, err := businessIdFromCtx(ctx)
	if err != nil {
		return nil, err
	}

	var client Client
	if err := db.WithContext(ctx).Where("id = ? AND business_id = ?", id, businessId).Take(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	business, err := GetBusinessById(ctx, businessId)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"name":             input.Name,
		"phone":            utils.NormalizePhoneNumber(input.Phone, business.CountryCode),
		"item_description": input.ItemDescription,
	}
	if input.Email != "" {
		if !utils.IsValidEmail(input.Email) {
			return nil, errors.New("email is not valid")
		}
		updates["email"] = input.Email
	}
	if input.Sentiment != "" {
		if !input.Sentiment.IsValid() {
			return nil, errors.New("sentiment is not valid")
		}
		updates["sentiment"] = input.Sentiment
	}

	if err := db.WithContext(ctx).Model(&client).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func GetClient(ctx context.Context, id int) (*Client, error) {
	db := config.GetDB()

	businessId, err := businessIdFromCtx(ctx)
	if err != nil {
		return nil, err
	}

	var client Client
	if err := db.WithContext(ctx).Where("id = ? AND business_id = ?", id, businessId).Take(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &client, nil
}

func ListClients(ctx context.Context, name string, limit int, offset int) ([]Client, error) {
	db := config.GetDB()

	businessId, err := businessIdFromCtx(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != "" {
		query = query.Where("name LIKE ?", "%"+name+"%")
	}

	var clients []Client
	if err := query.Order("name").Limit(limit).Offset(offset).Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}

func DeleteClient(ctx context.Context, id int) error {
	db := config.GetDB()

	businessId, err := businessIdFromCtx(ctx)
	if err != nil {
		return err
	}

	result := db.WithContext(ctx).Where("id = ? AND business_id = ?", id, businessId).Delete(&Client{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}
