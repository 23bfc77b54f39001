package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/echowrite-ai/echowrite-backend/pkg/enums"
)

// Subscription persists provider subscription state per user. One row per
// user, created lazily on first entitlement check and never deleted.
type Subscription struct {
	ID                     uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                 uuid.UUID                `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	PlanID                 enums.PlanID             `gorm:"column:plan_id;not null;default:'free'"`
	Status                 enums.SubscriptionStatus `gorm:"column:status;not null;default:'active'"`
	ProviderCustomerID     *string                  `gorm:"column:provider_customer_id;index"`
	ProviderSubscriptionID *string                  `gorm:"column:provider_subscription_id"`
	ProviderProductID      *string                  `gorm:"column:provider_product_id"`
	CurrentPeriodStart     *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd       *time.Time               `gorm:"column:current_period_end"`
	CancelAtPeriodEnd      bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	GracePeriodEnds        *time.Time               `gorm:"column:grace_period_ends"`
	// LastEventAt guards the upsert against out-of-order webhook delivery.
	LastEventAt *time.Time `gorm:"column:last_event_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
