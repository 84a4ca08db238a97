// services/payment_service.go
package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"mission-marketplace/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentService mirrors the processor's charge lifecycle onto local Payment
// rows. Outbound commands (hold/capture/refund) go through the Processor
// client; inbound truth arrives as signed webhook events and is applied
// idempotently.
type PaymentService struct {
	DB             *gorm.DB
	Processor      Processor
	Notifications  *NotificationService
	WebhookSecret  []byte
	CommissionRate float64
	Now            func() time.Time
}

func NewPaymentService(db *gorm.DB, processor Processor, notifications *NotificationService) *PaymentService {
	secret := os.Getenv("PROCESSOR_WEBHOOK_SECRET")
	if secret == "" {
		log.Fatal("PROCESSOR_WEBHOOK_SECRET environment variable not set")
	}

	rate := 0.10
	if raw := os.Getenv("PLATFORM_COMMISSION_RATE"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed >= 1 {
			log.Fatalf("invalid PLATFORM_COMMISSION_RATE %q", raw)
		}
		rate = parsed
	}

	return &PaymentService{
		DB:             db,
		Processor:      processor,
		Notifications:  notifications,
		WebhookSecret:  []byte(secret),
		CommissionRate: rate,
		Now:            time.Now,
	}
}

func (s *PaymentService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Hold opens a manual-capture charge with the processor and creates the
// local pending Payment row inside the caller's transaction. A synchronous
// processor failure surfaces ErrPaymentCommandFailed and writes nothing.
// The payment only becomes held when the processor confirms via webhook —
// browser-side confirmation and processor-side authorization are not atomic.
func (s *PaymentService) Hold(tx *gorm.DB, mission *models.Mission, amount float64) (*models.Payment, string, error) {
	result, err := s.Processor.CreateHold(mission.ID, mission.Currency, amount)
	if err != nil {
		return nil, "", fmt.Errorf("%w: hold: %v", ErrPaymentCommandFailed, err)
	}

	commission := roundCents(amount * s.CommissionRate)
	payment := &models.Payment{
		ID:              uuid.NewString(),
		MissionID:       mission.ID,
		ProcessorRef:    result.ProcessorRef,
		Status:          models.PaymentStatusPending,
		Amount:          amount,
		Commission:      commission,
		PerformerAmount: roundCents(amount - commission),
		Currency:        mission.Currency,
	}
	if err := tx.Create(payment).Error; err != nil {
		return nil, "", err
	}
	return payment, result.ClientToken, nil
}

// Capture finalizes a held charge and credits the performer's available
// balance. Calling it on an already-captured payment is a no-op so webhook
// redelivery and explicit validation can race safely.
func (s *PaymentService) Capture(tx *gorm.DB, payment *models.Payment, performerID string) error {
	if payment.Status == models.PaymentStatusCaptured {
		return nil
	}
	if payment.Status != models.PaymentStatusHeld {
		return fmt.Errorf("%w: capture requires a held payment, have %s", ErrInvalidTransition, payment.Status)
	}

	if err := s.Processor.Capture(payment.ProcessorRef); err != nil {
		return fmt.Errorf("%w: capture: %v", ErrPaymentCommandFailed, err)
	}
	return s.markCaptured(tx, payment, performerID)
}

// Refund reverses a held or captured charge. The processor acknowledges the
// refund synchronously; the later "refunded" webhook is absorbed as a
// duplicate.
func (s *PaymentService) Refund(tx *gorm.DB, payment *models.Payment, reason string) error {
	if payment.Status == models.PaymentStatusRefunded {
		return nil
	}

	if err := s.Processor.Refund(payment.ProcessorRef, reason); err != nil {
		return fmt.Errorf("%w: refund: %v", ErrPaymentCommandFailed, err)
	}
	return s.markRefunded(tx, payment, reason)
}

// markHeld moves pending → held. Returns false when the payment already
// reached or passed held.
func (s *PaymentService) markHeld(tx *gorm.DB, payment *models.Payment) (bool, error) {
	if payment.Status != models.PaymentStatusPending {
		return false, nil
	}
	now := s.now()
	payment.Status = models.PaymentStatusHeld
	payment.HeldAt = &now
	return true, tx.Save(payment).Error
}

// markCaptured moves held → captured and credits the performer exactly once.
func (s *PaymentService) markCaptured(tx *gorm.DB, payment *models.Payment, performerID string) error {
	if payment.Status != models.PaymentStatusHeld {
		return nil
	}
	now := s.now()
	payment.Status = models.PaymentStatusCaptured
	payment.CapturedAt = &now
	if err := tx.Save(payment).Error; err != nil {
		return err
	}
	return s.creditPerformer(tx, performerID, payment.PerformerAmount)
}

// markRefunded is terminal and reachable from any non-refunded state.
func (s *PaymentService) markRefunded(tx *gorm.DB, payment *models.Payment, reason string) error {
	if payment.Status == models.PaymentStatusRefunded {
		return nil
	}
	now := s.now()
	payment.Status = models.PaymentStatusRefunded
	payment.RefundedAt = &now
	payment.RefundReason = reason
	return tx.Save(payment).Error
}

func (s *PaymentService) creditPerformer(tx *gorm.DB, performerID string, amount float64) error {
	if performerID == "" || amount <= 0 {
		return nil
	}
	balance := models.UserBalance{UserID: performerID, Available: amount}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"available": gorm.Expr("user_balances.available + ?", amount)}),
	}).Create(&balance).Error
}

func roundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// VerifyWebhookSignature checks the HMAC-SHA256 hex signature of a raw
// webhook body against the shared secret.
func (s *PaymentService) VerifyWebhookSignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, s.WebhookSecret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type webhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ProcessorRef string `json:"processor_ref"`
		Reason       string `json:"reason"`
	} `json:"data"`
}

// HandleProcessorWebhook is the processor-facing endpoint. Signature failure
// is a 400 with no state change; everything else responds 200 once the event
// is recorded, so the processor never enters a redelivery storm.
func (s *PaymentService) HandleProcessorWebhook(c *fiber.Ctx) error {
	body := c.Body()
	signature := c.Get("X-Processor-Signature")
	if signature == "" || !s.VerifyWebhookSignature(body, signature) {
		log.Printf("[WEBHOOK] rejected event with bad signature from %s", c.IP())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid signature"})
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.ID == "" || payload.Data.ProcessorRef == "" {
		log.Printf("[WEBHOOK] rejected unparseable event: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}

	applied, err := s.ApplyWebhookEvent(payload.ID, payload.Type, payload.Data.ProcessorRef, payload.Data.Reason)
	if err != nil {
		log.Printf("[WEBHOOK] failed to apply event %s (%s): %v", payload.ID, payload.Type, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event not applied"})
	}
	if !applied {
		return c.JSON(fiber.Map{"status": "duplicate"})
	}
	return c.JSON(fiber.Map{"status": "applied"})
}

// ApplyWebhookEvent records the event id and applies the state change in one
// transaction. Returns applied=false for duplicates. Events for charge
// states already reached are absorbed silently — the payment status is
// monotonic.
func (s *PaymentService) ApplyWebhookEvent(eventID, eventType, processorRef, reason string) (bool, error) {
	applied := false
	holdConfirmed := false
	var heldPayment models.Payment

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		event := models.WebhookEvent{
			ID:           uuid.NewString(),
			EventID:      eventID,
			Type:         eventType,
			ProcessorRef: processorRef,
		}
		dedupe := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).Create(&event)
		if dedupe.Error != nil {
			return dedupe.Error
		}
		if dedupe.RowsAffected == 0 {
			// Redelivered event, already applied.
			return nil
		}
		applied = true

		var payment models.Payment
		if err := lockForUpdate(tx).Where("processor_ref = ?", processorRef).First(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Event for a charge we never opened. Keep the event row as
				// an audit record; nothing to update.
				log.Printf("[WEBHOOK] event %s references unknown charge %s", eventID, processorRef)
				return nil
			}
			return err
		}

		moved, err := s.applyChargeEvent(tx, &payment, eventType, reason)
		if err != nil {
			return err
		}
		if moved {
			holdConfirmed = true
			heldPayment = payment
		}
		return nil
	})
	if err == nil && holdConfirmed {
		// Dispatch only after the event is durably recorded; a rolled-back
		// apply must never notify.
		s.notifyHoldConfirmed(&heldPayment)
	}
	return applied, err
}

// applyChargeEvent translates one processor event into a payment update plus
// mission-level signals. Shared by the webhook handler and the reconcile
// worker. Returns whether the event confirmed the hold, so callers can notify
// the host once the transaction commits.
func (s *PaymentService) applyChargeEvent(tx *gorm.DB, payment *models.Payment, eventType, reason string) (bool, error) {
	switch eventType {
	case models.WebhookEventAuthConfirmed, models.WebhookEventManualCapturePending:
		// Manual-capture escrow: both shapes mean the hold is confirmed.
		return s.markHeld(tx, payment)

	case models.WebhookEventCaptured:
		var mission models.Mission
		if err := tx.Where("id = ?", payment.MissionID).First(&mission).Error; err != nil {
			return false, err
		}
		performerID := ""
		if mission.PerformerID != nil {
			performerID = *mission.PerformerID
		}
		return false, s.markCaptured(tx, payment, performerID)

	case models.WebhookEventRefunded:
		return false, s.markRefunded(tx, payment, reason)
	}

	log.Printf("[WEBHOOK] ignoring unhandled event type %q for charge %s", eventType, payment.ProcessorRef)
	return false, nil
}

// notifyHoldConfirmed tells the host the escrow hold is in place and the
// assignment can be confirmed. Called after the applying transaction commits.
func (s *PaymentService) notifyHoldConfirmed(payment *models.Payment) {
	var mission models.Mission
	if err := s.DB.Where("id = ?", payment.MissionID).First(&mission).Error; err != nil {
		log.Printf("[WEBHOOK] hold confirmed for orphan payment %s: %v", payment.ID, err)
		return
	}
	s.Notifications.Dispatch(mission.HostID, models.NotificationKindMissionUpdated,
		"Funds secured",
		"The escrow hold for your mission is confirmed. You can now lock in the assignment.",
		map[string]interface{}{"mission_id": mission.ID})
}

// Reconcile pulls the authoritative charge state for one payment and applies
// it through the same monotonic path as a webhook, healing lost deliveries.
func (s *PaymentService) Reconcile(paymentID string) error {
	var payment models.Payment
	if err := s.DB.Where("id = ?", paymentID).First(&payment).Error; err != nil {
		return err
	}
	if payment.Status == models.PaymentStatusCaptured || payment.Status == models.PaymentStatusRefunded {
		return nil
	}

	state, err := s.Processor.GetCharge(payment.ProcessorRef)
	if err != nil {
		return fmt.Errorf("%w: get charge: %v", ErrPaymentCommandFailed, err)
	}

	var eventType string
	switch state.Status {
	case "held":
		eventType = models.WebhookEventAuthConfirmed
	case "captured":
		eventType = models.WebhookEventCaptured
	case "refunded":
		eventType = models.WebhookEventRefunded
	default:
		return nil
	}

	holdConfirmed := false
	var heldPayment models.Payment
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var locked models.Payment
		if err := lockForUpdate(tx).Where("id = ?", payment.ID).First(&locked).Error; err != nil {
			return err
		}
		moved, err := s.applyChargeEvent(tx, &locked, eventType, state.RefundReason)
		if err != nil {
			return err
		}
		if moved {
			holdConfirmed = true
			heldPayment = locked
		}
		return nil
	})
	if err == nil && holdConfirmed {
		s.notifyHoldConfirmed(&heldPayment)
	}
	return err
}

// GetMissionPayment returns the payment mirror for a mission the caller
// participates in.
func (s *PaymentService) GetMissionPayment(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	missionID := c.Params("id")

	var mission models.Mission
	if err := s.DB.Where("id = ?", missionID).First(&mission).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Mission not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	if mission.HostID != userID && (mission.PerformerID == nil || *mission.PerformerID != userID) {
		return respondError(c, ErrUnauthorized)
	}

	var payment models.Payment
	if err := s.DB.Where("mission_id = ?", missionID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No payment for mission"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(payment)
}

// GetBalance returns the authenticated performer's balance.
func (s *PaymentService) GetBalance(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var balance models.UserBalance
	if err := s.DB.Where("user_id = ?", userID).First(&balance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(models.UserBalance{UserID: userID})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(balance)
}
