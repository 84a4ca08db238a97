// models/chat.go
package models

import (
	"time"
)

const (
	ChatStatusPending  = "pending"
	ChatStatusActive   = "active"
	ChatStatusRejected = "rejected"
)

// Violation categories recorded on a strike.
const (
	ViolationPhoneNumber  = "phone_number"
	ViolationEmailAddress = "email_address"
	ViolationExternalLink = "external_link"
)

// Chat is the single messaging thread of a mission, between the host and
// the assigned performer. A performer-initiated chat starts pending and the
// performer cannot send again until the host accepts.
type Chat struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	MissionID   string    `json:"mission_id" gorm:"not null;uniqueIndex"`
	HostID      string    `json:"host_id" gorm:"not null;index"`
	PerformerID string    `json:"performer_id" gorm:"not null;index"`
	Status      string    `json:"status" gorm:"not null;default:'pending'"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Messages []ChatMessage `json:"messages,omitempty" gorm:"foreignKey:ChatID"`
}

// ChatMessage is stored even when moderation flags it; IsBlocked messages
// are never delivered to the other participant.
type ChatMessage struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	ChatID      string    `json:"chat_id" gorm:"not null;index"`
	SenderID    string    `json:"sender_id" gorm:"not null;index"`
	Body        string    `json:"body" gorm:"type:text;not null"`
	IsBlocked   bool      `json:"is_blocked" gorm:"default:false"`
	BlockReason string    `json:"block_reason,omitempty"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// ChatStrike is one moderation violation. Strikes past the rolling window
// stop counting toward suspension but stay as an audit trail.
type ChatStrike struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	UserID        string    `json:"user_id" gorm:"not null;index"`
	MessageID     *string   `json:"message_id,omitempty"`
	ViolationType string    `json:"violation_type" gorm:"not null"`
	ExpiresAt     time.Time `json:"expires_at" gorm:"not null;index"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// ChatSuspension blocks a user from sending in any chat until ExpiresAt.
// The sweeper lifts elapsed suspensions.
type ChatSuspension struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"not null;index"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
	Lifted    bool      `json:"lifted" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
