// models/offer.go
package models

import (
	"time"
)

const (
	OfferStatusPending  = "pending"
	OfferStatusAccepted = "accepted"
	OfferStatusRejected = "rejected"
)

// Offer is a performer's bid against an open-priced mission. At most one
// offer per mission is ever accepted; its siblings flip to rejected in the
// same transaction.
type Offer struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	MissionID string    `json:"mission_id" gorm:"not null;index"`
	BidderID  string    `json:"bidder_id" gorm:"not null;index"`
	Amount    float64   `json:"amount" gorm:"not null"`
	Message   string    `json:"message" gorm:"type:text"`
	Status    string    `json:"status" gorm:"not null;default:'pending'"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
