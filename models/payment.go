// models/payment.go
package models

import (
	"time"
)

// Payment status only ever moves forward: pending → held → captured or
// refunded. Webhook events for a state already reached are dropped.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusHeld     = "held"
	PaymentStatusCaptured = "captured"
	PaymentStatusRefunded = "refunded"
)

// Payment mirrors one escrow transaction at the external processor.
// ProcessorRef is the processor's charge identifier and the lookup key for
// inbound webhook events.
type Payment struct {
	ID              string  `json:"id" gorm:"primaryKey"`
	MissionID       string  `json:"mission_id" gorm:"not null;uniqueIndex"`
	ProcessorRef    string  `json:"processor_ref" gorm:"not null;uniqueIndex"`
	Status          string  `json:"status" gorm:"not null;default:'pending';index"`
	Amount          float64 `json:"amount" gorm:"not null"`
	Commission      float64 `json:"commission"`
	PerformerAmount float64 `json:"performer_amount"`
	Currency        string  `json:"currency" gorm:"type:varchar(3);default:'EUR'"`
	RefundReason    string  `json:"refund_reason,omitempty"`

	HeldAt     *time.Time `json:"held_at,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// UserBalance tracks a performer's funds. Available is credited on capture;
// Frozen covers withdrawal requests in flight.
type UserBalance struct {
	UserID    string    `json:"user_id" gorm:"primaryKey"`
	Available float64   `json:"available" gorm:"not null;default:0"`
	Frozen    float64   `json:"frozen" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
