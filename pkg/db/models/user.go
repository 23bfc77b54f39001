package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents the canonical identity entity. Account creation is owned
// by the auth service; billing code only reads these rows.
type User struct {
	ID                 uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email              string     `gorm:"type:text;not null;uniqueIndex"`
	PasswordHash       string     `gorm:"column:password_hash;not null"`
	DisplayName        string     `gorm:"column:display_name;not null"`
	Timezone           string     `gorm:"column:timezone;not null;default:'UTC'"`
	ProviderCustomerID *string    `gorm:"column:provider_customer_id;uniqueIndex"`
	IsActive           bool       `gorm:"column:is_active;not null;default:true"`
	LastLoginAt        *time.Time `gorm:"column:last_login_at"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
