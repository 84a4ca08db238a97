// models/profile_mirror.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// ProfileMirror mirrors user contact data from the identity service.
// The notification resolver reads the email address and timezone from here
// so outbound dispatch never calls the identity service inline.
// Table name: profile_mirror
type ProfileMirror struct {
	ID          string    `gorm:"primaryKey;type:uuid;not null" json:"id"`
	UserID      string    `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"` // External user ID
	DisplayName string    `gorm:"type:varchar(128)" json:"display_name"`
	Email       string    `gorm:"type:varchar(256);index" json:"email"`
	Timezone    string    `gorm:"type:varchar(64)" json:"timezone"`
	IsActive    bool      `gorm:"not null" json:"is_active"`
	SyncedAt    time.Time `gorm:"not null" json:"synced_at"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`

	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (ProfileMirror) TableName() string {
	return "profile_mirror"
}
