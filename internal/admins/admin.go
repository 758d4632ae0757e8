package admins

import (
	"strings"
	"time"
)

// Admin records an operator who has authenticated against the admin API.
type Admin struct {
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	Email       string    `gorm:"column:admin_email;size:320"`
	DisplayName string    `gorm:"column:admin_display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Admin) TableName() string {
	return "form_builder_admins"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
