// models/notification.go
package models

import (
	"time"
)

// Notification kinds — a closed set. The preference record has one toggle
// per kind group.
const (
	NotificationKindNearbyMission    = "nearby_mission"
	NotificationKindOfferReceived    = "offer_received"
	NotificationKindOfferRejected    = "offer_rejected"
	NotificationKindMissionUpdated   = "mission_updated"
	NotificationKindMissionCancelled = "mission_cancelled"
	NotificationKindQuestion         = "question"
	NotificationKindAnswer           = "answer"
	NotificationKindChatMessage      = "chat_message"
	NotificationKindValidationReady  = "validation_ready"
	NotificationKindWithdrawalStatus = "withdrawal_status"
	NotificationKindDispute          = "dispute"
)

// Delivery channels resolved per (recipient, kind).
const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
)

// Notification is the persisted in-app record. Every dispatched notification
// lands here regardless of what other channels fire.
type Notification struct {
	ID        string     `json:"id" gorm:"primaryKey"`
	UserID    string     `json:"user_id" gorm:"not null;index"`
	Kind      string     `json:"kind" gorm:"not null"`
	Title     string     `json:"title" gorm:"not null"`
	Body      string     `json:"body" gorm:"type:text"`
	Data      string     `json:"data,omitempty" gorm:"type:text"` // JSON payload for deep links
	IsRead    bool       `json:"is_read" gorm:"default:false"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" gorm:"autoCreateTime;index"`
}

// NotificationPreference holds one row per user, created lazily with safe
// defaults (in-app + email on, no quiet hours) on first access.
type NotificationPreference struct {
	ID     string `json:"id" gorm:"primaryKey"`
	UserID string `json:"user_id" gorm:"not null;uniqueIndex"`

	// Global channel switches
	EmailEnabled bool `json:"email_enabled" gorm:"default:true"`
	InAppEnabled bool `json:"in_app_enabled" gorm:"default:true"`

	// Quiet hours, minutes since midnight in the user's zone. The window may
	// wrap past midnight (start > end).
	QuietHoursEnabled bool   `json:"quiet_hours_enabled" gorm:"default:false"`
	QuietStartMinute  int    `json:"quiet_start_minute" gorm:"default:0"`
	QuietEndMinute    int    `json:"quiet_end_minute" gorm:"default:0"`
	Timezone          string `json:"timezone" gorm:"default:'UTC'"`

	// Per-kind toggles
	NearbyMission    bool `json:"nearby_mission" gorm:"default:true"`
	OfferActivity    bool `json:"offer_activity" gorm:"default:true"`
	MissionUpdates   bool `json:"mission_updates" gorm:"default:true"`
	Questions        bool `json:"questions" gorm:"default:true"`
	ChatMessages     bool `json:"chat_messages" gorm:"default:true"`
	ValidationReady  bool `json:"validation_ready" gorm:"default:true"`
	WithdrawalStatus bool `json:"withdrawal_status" gorm:"default:true"`
	Disputes         bool `json:"disputes" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// KindEnabled returns the per-kind toggle for a notification kind. Unknown
// kinds default to enabled so new kinds are never silently dropped.
func (p *NotificationPreference) KindEnabled(kind string) bool {
	switch kind {
	case NotificationKindNearbyMission:
		return p.NearbyMission
	case NotificationKindOfferReceived, NotificationKindOfferRejected:
		return p.OfferActivity
	case NotificationKindMissionUpdated, NotificationKindMissionCancelled:
		return p.MissionUpdates
	case NotificationKindQuestion, NotificationKindAnswer:
		return p.Questions
	case NotificationKindChatMessage:
		return p.ChatMessages
	case NotificationKindValidationReady:
		return p.ValidationReady
	case NotificationKindWithdrawalStatus:
		return p.WithdrawalStatus
	case NotificationKindDispute:
		return p.Disputes
	}
	return true
}
