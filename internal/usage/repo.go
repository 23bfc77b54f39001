package usage

import (
	"context"
	"time"

	"github.com/echowrite-ai/echowrite-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes the usage-event log.
type Repository interface {
	CountInWindow(ctx context.Context, userID uuid.UUID, endpoint string, start, end time.Time) (int64, error)
	CreateEvent(ctx context.Context, event *models.UsageEvent) error
	WithTx(tx *gorm.DB) Repository
}

type repository struct {
	db *gorm.DB
}

// NewRepository constructs a usage repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

// CountInWindow counts usage events for the user and endpoint inside
// [start, end).
func (r *repository) CountInWindow(ctx context.Context, userID uuid.UUID, endpoint string, start, end time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Where("user_id = ? AND endpoint = ? AND created_at >= ? AND created_at < ?", userID, endpoint, start, end).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) CreateEvent(ctx context.Context, event *models.UsageEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}
