package entitlements

import (
	"context"

	"github.com/echowrite-ai/echowrite-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes the admin override rows layered over the static catalog.
type Repository interface {
	ListOverrides(ctx context.Context) ([]models.FeatureOverride, error)
	UpsertOverride(ctx context.Context, override *models.FeatureOverride) error
	WithTx(tx *gorm.DB) Repository
}

type repository struct {
	db *gorm.DB
}

// NewRepository constructs an entitlements repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) ListOverrides(ctx context.Context) ([]models.FeatureOverride, error) {
	var overrides []models.FeatureOverride
	err := r.db.WithContext(ctx).
		Order("feature_id ASC").
		Find(&overrides).Error
	if err != nil {
		return nil, err
	}
	return overrides, nil
}

// UpsertOverride writes an override row keyed by feature id, replacing any
// existing row for the same feature.
func (r *repository) UpsertOverride(ctx context.Context, override *models.FeatureOverride) error {
	var existing models.FeatureOverride
	err := r.db.WithContext(ctx).
		Where("feature_id = ?", override.FeatureID).
		First(&existing).Error
	switch {
	case err == nil:
		override.ID = existing.ID
		override.CreatedAt = existing.CreatedAt
		return r.db.WithContext(ctx).Save(override).Error
	case err == gorm.ErrRecordNotFound:
		if override.ID == uuid.Nil {
			override.ID = uuid.New()
		}
		return r.db.WithContext(ctx).Create(override).Error
	default:
		return err
	}
}
