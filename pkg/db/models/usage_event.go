package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageEvent logs one metered generation call. Daily usage is derived by
// counting rows inside the user's local-day window, so counters reset
// implicitly at the next local midnight.
type UsageEvent struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;index:idx_usage_events_user_created"`
	Endpoint  string    `gorm:"column:endpoint;not null"`
	Tokens    int64     `gorm:"column:tokens;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index:idx_usage_events_user_created"`
}
