// models/mission.go
package models

import (
	"time"
)

const (
	PriceModeFixed = "fixed"
	PriceModeOpen  = "open"
)

// Canonical mission status vocabulary. The schema the legacy system shipped
// with defined a second, narrower set of strings in a few code paths; those
// are accepted only through NormalizeLegacyStatus at the ingest boundary.
const (
	MissionStatusOpen              = "OPEN"
	MissionStatusNegotiating       = "NEGOTIATING"
	MissionStatusLocked            = "LOCKED"
	MissionStatusInProgress        = "IN_PROGRESS"
	MissionStatusPendingValidation = "PENDING_VALIDATION"
	MissionStatusCompleted         = "COMPLETED"
	MissionStatusDisputed          = "DISPUTED"
	MissionStatusCancelled         = "CANCELLED"
)

// Mission is the unit of requested work. It is created OPEN by the posting
// flow and from then on mutated exclusively through MissionService
// transitions.
type Mission struct {
	ID          string  `json:"id" gorm:"primaryKey"`
	HostID      string  `json:"host_id" gorm:"not null;index"`
	PerformerID *string `json:"performer_id,omitempty" gorm:"index"`
	Title       string  `json:"title" gorm:"not null"`
	Description string  `json:"description" gorm:"type:text"`
	Slug        string  `json:"slug" gorm:"index"`
	PriceMode   string  `json:"price_mode" gorm:"not null;default:'fixed'"`
	Budget      float64 `json:"budget" gorm:"not null"`
	Currency    string  `json:"currency" gorm:"type:varchar(3);default:'EUR'"`
	Status      string  `json:"status" gorm:"not null;default:'OPEN';index"`

	// Address stays hidden from the performer until the escrow hold is
	// confirmed and the host locks the assignment.
	Address         string  `json:"address,omitempty"`
	AddressRevealed bool    `json:"address_revealed" gorm:"default:false"`
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`

	ProofAttachmentURL string `json:"proof_attachment_url,omitempty"`
	ProofNotes         string `json:"proof_notes,omitempty" gorm:"type:text"`

	DisputeReason     string  `json:"dispute_reason,omitempty"`
	DisputeResolvedBy *string `json:"dispute_resolved_by,omitempty"`

	LockedAt            *time.Time `json:"locked_at,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	ValidationStartedAt *time.Time `json:"validation_started_at,omitempty"`
	ValidationDeadline  *time.Time `json:"validation_deadline,omitempty" gorm:"index"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
	DisputeResolvedAt   *time.Time `json:"dispute_resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Offers  []Offer  `json:"offers,omitempty" gorm:"foreignKey:MissionID"`
	Payment *Payment `json:"payment,omitempty" gorm:"foreignKey:MissionID"`
}

// legacyStatusMap reconciles the narrow status vocabulary still emitted by
// older clients with the canonical enum, mirroring the one-time schema
// migration mapping.
var legacyStatusMap = map[string]string{
	"open":      MissionStatusOpen,
	"assigned":  MissionStatusLocked,
	"completed": MissionStatusCompleted,
	"cancelled": MissionStatusCancelled,
}

// NormalizeLegacyStatus maps a legacy status string to its canonical value.
// Canonical values pass through unchanged; unknown strings return ok=false.
func NormalizeLegacyStatus(s string) (string, bool) {
	switch s {
	case MissionStatusOpen, MissionStatusNegotiating, MissionStatusLocked,
		MissionStatusInProgress, MissionStatusPendingValidation,
		MissionStatusCompleted, MissionStatusDisputed, MissionStatusCancelled:
		return s, true
	}
	if canonical, ok := legacyStatusMap[s]; ok {
		return canonical, true
	}
	return "", false
}

// IsTerminal reports whether the mission can never transition again.
func (m *Mission) IsTerminal() bool {
	return m.Status == MissionStatusCompleted || m.Status == MissionStatusCancelled
}
