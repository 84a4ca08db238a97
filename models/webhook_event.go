// models/webhook_event.go
package models

import (
	"time"
)

// Processor webhook event types this service consumes.
const (
	WebhookEventAuthConfirmed        = "charge.authorization_confirmed"
	WebhookEventManualCapturePending = "charge.manual_capture_pending"
	WebhookEventCaptured             = "charge.captured"
	WebhookEventRefunded             = "charge.refunded"
)

// WebhookEvent records every processor event we have applied, keyed on the
// processor's own event id. Processors redeliver on timeout; inserting here
// before any side effect is what makes redelivery a no-op.
type WebhookEvent struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	EventID      string    `json:"event_id" gorm:"not null;uniqueIndex"`
	Type         string    `json:"type" gorm:"not null"`
	ProcessorRef string    `json:"processor_ref" gorm:"not null;index"`
	ReceivedAt   time.Time `json:"received_at" gorm:"autoCreateTime"`
}
