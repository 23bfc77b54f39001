package payments

import (
	"context"
	"strings"

	"github.com/echowrite-ai/echowrite-backend/pkg/db/models"
	"github.com/echowrite-ai/echowrite-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Page is one page of the payment ledger.
type Page struct {
	Payments   []models.Payment `json:"payments"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// Repository exposes the append-only payment ledger.
type Repository interface {
	FindByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*models.Payment, error)
	Create(ctx context.Context, payment *models.Payment) error
	ListByUser(ctx context.Context, userID uuid.UUID, cursor string, limit int) (Page, error)
	WithTx(tx *gorm.DB) Repository
}

type repository struct {
	db *gorm.DB
}

// NewRepository constructs a payments repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) FindByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_payment_id = ?", provider, providerPaymentID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payment).Error
}

// ListByUser returns a cursor-paginated page of the user's ledger, newest
// first.
func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, cursor string, limit int) (Page, error) {
	normalizedLimit := pagination.NormalizeLimit(limit)
	limitWithBuffer := pagination.LimitWithBuffer(limit)
	decodedCursor, err := pagination.ParseCursor(strings.TrimSpace(cursor))
	if err != nil {
		return Page{}, err
	}

	query := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("user_id = ?", userID)
	if decodedCursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", decodedCursor.CreatedAt, decodedCursor.CreatedAt, decodedCursor.ID)
	}
	query = query.Order("created_at DESC").Order("id DESC").Limit(limitWithBuffer)

	var rows []models.Payment
	if err := query.Find(&rows).Error; err != nil {
		return Page{}, err
	}

	page := Page{Payments: rows}
	if len(rows) > normalizedLimit {
		page.Payments = rows[:normalizedLimit]
		last := page.Payments[len(page.Payments)-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}
