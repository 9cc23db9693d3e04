package providersync

import (
	"context"
	"errors"

	"bitbucket.org/beaconcrm/reviews_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// syncStore is the persistence surface one run writes through. Everything
// behind it runs inside the run's transaction, so a fatal fault rolls every
// write back together.
type syncStore interface {
	FindConnection(ctx context.Context, businessId string, provider string, tenantId string) (*models.ProviderConnection, error)
	UpdateConnection(ctx context.Context, businessId string, connectionId uint, updates map[string]interface{}) error
	ListClients(ctx context.Context, businessId string) ([]models.Client, error)
	FindClientByEmail(ctx context.Context, businessId string, email string) (*models.Client, error)
	GetClient(ctx context.Context, businessId string, clientId int) (*models.Client, error)
	CreateClient(ctx context.Context, client *models.Client) error
	UpdateClient(ctx context.Context, businessId string, clientId int, updates map[string]interface{}) error
	CurrentReviewRecord(ctx context.Context, clientId int) (*models.ReviewRecord, error)
	SaveReviewRecord(ctx context.Context, record *models.ReviewRecord) error
	UpsertRawReview(ctx context.Context, raw *models.ExternalReviewRaw) error
	MarkRawReviewLinked(ctx context.Context, businessId string, provider string, externalReviewId string) error
}

// gormSyncStore is the production syncStore, bound to one transaction.
type gormSyncStore struct {
	tx *gorm.DB
}

func (s *gormSyncStore) FindConnection(ctx context.Context, businessId string, provider string, tenantId string) (*models.ProviderConnection, error) {
	return findConnection(ctx, s.tx, businessId, provider, tenantId)
}

func (s *gormSyncStore) UpdateConnection(ctx context.Context, businessId string, connectionId uint, updates map[string]interface{}) error {
	return s.tx.WithContext(ctx).
		Model(&models.ProviderConnection{}).
		Where("id = ? AND business_id = ?", connectionId, businessId).
		Updates(updates).Error
}

func (s *gormSyncStore) ListClients(ctx context.Context, businessId string) ([]models.Client, error) {
	var clients []models.Client
	err := s.tx.WithContext(ctx).
		Where("business_id = ?", businessId).
		Find(&clients).Error
	return clients, err
}

func (s *gormSyncStore) FindClientByEmail(ctx context.Context, businessId string, email string) (*models.Client, error) {
	var client models.Client
	err := s.tx.WithContext(ctx).
		Where("business_id = ? AND email = ?", businessId, email).
		Take(&client).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &client, nil
}

func (s *gormSyncStore) GetClient(ctx context.Context, businessId string, clientId int) (*models.Client, error) {
	var client models.Client
	err := s.tx.WithContext(ctx).
		Where("id = ? AND business_id = ?", clientId, businessId).
		Take(&client).Error
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (s *gormSyncStore) CreateClient(ctx context.Context, client *models.Client) error {
	return s.tx.WithContext(ctx).Create(client).Error
}

func (s *gormSyncStore) UpdateClient(ctx context.Context, businessId string, clientId int, updates map[string]interface{}) error {
	return s.tx.WithContext(ctx).
		Model(&models.Client{}).
		Where("id = ? AND business_id = ?", clientId, businessId).
		Updates(updates).Error
}

func (s *gormSyncStore) CurrentReviewRecord(ctx context.Context, clientId int) (*models.ReviewRecord, error) {
	return models.CurrentReviewRecord(ctx, s.tx, clientId)
}

func (s *gormSyncStore) SaveReviewRecord(ctx context.Context, record *models.ReviewRecord) error {
	return s.tx.WithContext(ctx).Save(record).Error
}

func (s *gormSyncStore) UpsertRawReview(ctx context.Context, raw *models.ExternalReviewRaw) error {
	return s.tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "business_id"}, {Name: "provider"}, {Name: "external_review_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"author_name", "text", "rating", "published_at"}),
		}).
		Create(raw).Error
}

func (s *gormSyncStore) MarkRawReviewLinked(ctx context.Context, businessId string, provider string, externalReviewId string) error {
	return s.tx.WithContext(ctx).
		Model(&models.ExternalReviewRaw{}).
		Where("business_id = ? AND provider = ? AND external_review_id = ?",
			businessId, provider, externalReviewId).
		Update("linked", true).Error
}
