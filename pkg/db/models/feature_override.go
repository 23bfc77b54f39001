package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/echowrite-ai/echowrite-backend/pkg/enums"
)

// FeatureOverride is an admin-configured presentation override layered on
// top of the static feature catalog. Overrides can hide a feature or
// adjust its display metadata; they never change tier gating.
type FeatureOverride struct {
	ID           uuid.UUID                  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FeatureID    enums.FeatureID            `gorm:"column:feature_id;not null;uniqueIndex"`
	Hidden       bool                       `gorm:"column:hidden;not null;default:false"`
	Availability *enums.FeatureAvailability `gorm:"column:availability"`
	MinimumPlan  *enums.PlanID              `gorm:"column:minimum_plan"`
	Description  *string                    `gorm:"column:description"`
	CreatedAt    time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}
