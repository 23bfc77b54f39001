package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/echowrite-ai/echowrite-backend/pkg/enums"
)

// Payment is an append-only ledger row recorded from provider payment
// events. The (provider, provider_payment_id) unique index backs the
// best-effort find-then-create dedup.
type Payment struct {
	ID                uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID            uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID            enums.PlanID        `gorm:"column:plan_id;not null"`
	Amount            decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency          string              `gorm:"column:currency;not null;default:'usd'"`
	Status            enums.PaymentStatus `gorm:"column:status;not null"`
	Provider          string              `gorm:"column:provider;not null;uniqueIndex:idx_payments_provider_payment"`
	ProviderPaymentID string              `gorm:"column:provider_payment_id;not null;uniqueIndex:idx_payments_provider_payment"`
	ProviderInvoiceID *string             `gorm:"column:provider_invoice_id"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
}
