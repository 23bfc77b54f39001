package subscriptions

import (
	"context"
	"time"

	"github.com/echowrite-ai/echowrite-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes subscription persistence operations.
type Repository interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	FindByProviderCustomerID(ctx context.Context, customerID string) (*models.Subscription, error)
	Create(ctx context.Context, sub *models.Subscription) error
	Save(ctx context.Context, sub *models.Subscription) error
	SetCancelAtPeriodEnd(ctx context.Context, userID uuid.UUID, cancel bool, at time.Time) error
	WithTx(tx *gorm.DB) Repository
}

type repository struct {
	db *gorm.DB
}

// NewRepository constructs a subscriptions repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByProviderCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("provider_customer_id = ?", customerID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(sub).Error
}

// Save overwrites the full row.
func (r *repository) Save(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *repository) SetCancelAtPeriodEnd(ctx context.Context, userID uuid.UUID, cancel bool, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		UpdateColumns(map[string]any{
			"cancel_at_period_end": cancel,
			"updated_at":           at,
		}).Error
}
