// services/mission_service.go
package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"mission-marketplace/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"golang.org/x/text/currency"
	"gorm.io/gorm"
)

// DefaultValidationWindow is how long a host has to validate submitted proof
// before the sweeper force-completes the mission.
const DefaultValidationWindow = 72 * time.Hour

// MissionService drives the mission lifecycle. Every transition runs inside
// a transaction holding the mission row, so user requests, webhooks and the
// sweeper serialize per mission. Side effects (notifications) fire after
// commit and never fail a transition.
type MissionService struct {
	DB               *gorm.DB
	Payments         *PaymentService
	Notifications    *NotificationService
	ValidationWindow time.Duration
	Now              func() time.Time
}

func NewMissionService(db *gorm.DB, payments *PaymentService, notifications *NotificationService) *MissionService {
	return &MissionService{
		DB:               db,
		Payments:         payments,
		Notifications:    notifications,
		ValidationWindow: DefaultValidationWindow,
		Now:              time.Now,
	}
}

func (s *MissionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// validTransitions is the full legality table of the mission state machine.
// Per-event guards (actor relationship, payment held, deadline) are checked
// on top of this in each operation.
var validTransitions = map[string][]string{
	models.MissionStatusOpen:              {models.MissionStatusNegotiating, models.MissionStatusCancelled},
	models.MissionStatusNegotiating:       {models.MissionStatusLocked, models.MissionStatusCancelled},
	models.MissionStatusLocked:            {models.MissionStatusInProgress, models.MissionStatusCancelled},
	models.MissionStatusInProgress:        {models.MissionStatusPendingValidation},
	models.MissionStatusPendingValidation: {models.MissionStatusCompleted, models.MissionStatusDisputed},
	models.MissionStatusDisputed:          {models.MissionStatusCompleted, models.MissionStatusCancelled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s *MissionService) lockMission(tx *gorm.DB, missionID string) (*models.Mission, error) {
	var mission models.Mission
	if err := lockForUpdate(tx).Where("id = ?", missionID).First(&mission).Error; err != nil {
		return nil, err
	}
	return &mission, nil
}

// CreateMissionRecord persists a new OPEN mission on behalf of the posting
// flow. Content validation happens upstream; this only validates state.
func (s *MissionService) CreateMissionRecord(hostID, title, description, priceMode, address, cur string, budget, lat, lng float64) (*models.Mission, error) {
	if priceMode != models.PriceModeFixed && priceMode != models.PriceModeOpen {
		return nil, fmt.Errorf("unknown price mode %q", priceMode)
	}
	if budget <= 0 {
		return nil, fmt.Errorf("budget must be positive")
	}
	if cur == "" {
		cur = "EUR"
	}
	unit, err := currency.ParseISO(cur)
	if err != nil {
		return nil, fmt.Errorf("unknown currency %q", cur)
	}

	mission := &models.Mission{
		ID:          uuid.NewString(),
		HostID:      hostID,
		Title:       title,
		Description: description,
		Slug:        slug.Make(title),
		PriceMode:   priceMode,
		Budget:      budget,
		Currency:    unit.String(),
		Status:      models.MissionStatusOpen,
		Address:     address,
		Lat:         lat,
		Lng:         lng,
	}
	if err := s.DB.Create(mission).Error; err != nil {
		return nil, err
	}
	return mission, nil
}

// beginNegotiation moves OPEN → NEGOTIATING with a chosen performer and
// agreed amount: rejects the remaining pending offers, requests the escrow
// hold and assigns the performer. Caller holds the mission lock.
func (s *MissionService) beginNegotiation(tx *gorm.DB, mission *models.Mission, performerID string, amount float64) (string, error) {
	if !CanTransition(mission.Status, models.MissionStatusNegotiating) {
		return "", fmt.Errorf("%w: mission is %s, not OPEN", ErrInvalidTransition, mission.Status)
	}

	if err := tx.Model(&models.Offer{}).
		Where("mission_id = ? AND status = ?", mission.ID, models.OfferStatusPending).
		Update("status", models.OfferStatusRejected).Error; err != nil {
		return "", err
	}

	mission.PerformerID = &performerID
	mission.Budget = amount
	mission.Status = models.MissionStatusNegotiating
	if err := tx.Save(mission).Error; err != nil {
		return "", err
	}

	_, clientToken, err := s.Payments.Hold(tx, mission, amount)
	if err != nil {
		return "", err
	}
	return clientToken, nil
}

// AcceptFixedPrice lets the host assign a performer on a fixed-price
// mission, firing OPEN → NEGOTIATING at the posted budget.
func (s *MissionService) AcceptFixedPrice(missionID, hostID, performerID string) (*models.Mission, string, error) {
	var mission *models.Mission
	var clientToken string

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		m, err := s.lockMission(tx, missionID)
		if err != nil {
			return err
		}
		if m.HostID != hostID {
			return ErrUnauthorized
		}
		if m.PriceMode != models.PriceModeFixed {
			return fmt.Errorf("%w: mission is open for offers, select a winning offer instead", ErrInvalidTransition)
		}
		if performerID == hostID {
			return ErrUnauthorized
		}

		token, err := s.beginNegotiation(tx, m, performerID, m.Budget)
		if err != nil {
			return err
		}
		mission, clientToken = m, token
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	s.Notifications.Dispatch(performerID, models.NotificationKindMissionUpdated,
		"You were selected",
		fmt.Sprintf("The host picked you for %q. The assignment locks once the payment hold clears.", mission.Title),
		map[string]interface{}{"mission_id": mission.ID})
	return mission, clientToken, nil
}

// ConfirmAssignment fires NEGOTIATING → LOCKED once the escrow hold is
// confirmed. The address is revealed to the performer here and not before.
func (s *MissionService) ConfirmAssignment(missionID, hostID string) (*models.Mission, error) {
	var mission *models.Mission

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		m, err := s.lockMission(tx, missionID)
		if err != nil {
			return err
		}
		if m.HostID != hostID {
			return ErrUnauthorized
		}
		if !CanTransition(m.Status, models.MissionStatusLocked) || m.PerformerID == nil {
			return fmt.Errorf("%w: mission is %s, not NEGOTIATING", ErrInvalidTransition, m.Status)
		}

		// Lock the payment row too: the webhook path serializes on it, not on
		// the mission.
		var payment models.Payment
		if err := lockForUpdate(tx).Where("mission_id = ?", m.ID).First(&payment).Error; err != nil {
			return fmt.Errorf("%w: no payment for mission", ErrInvalidTransition)
		}
		if payment.Status != models.PaymentStatusHeld {
			return fmt.Errorf("%w: escrow hold not confirmed yet", ErrInvalidTransition)
		}

		now := s.now()
		m.Status = models.MissionStatusLocked
		m.AddressRevealed = true
		m.LockedAt = &now
		if err := tx.Save(m).Error; err != nil {
			return err
		}
		mission = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Notifications.Dispatch(*mission.PerformerID, models.NotificationKindMissionUpdated,
		"Mission locked in",
		fmt.Sprintf("%q is confirmed. The address is now visible to you.", mission.Title),
		map[string]interface{}{"mission_id": mission.ID})
	return mission, nil
}

// StartWork fires LOCKED → IN_PROGRESS when the assigned performer starts.
func (s *MissionService) StartWork(missionID, performerID string) (*models.Mission, error) {
	var mission *models.Mission

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		m, err := s.lockMission(tx, missionID)
		if err != nil {
			return err
		}
		if m.PerformerID == nil || *m.PerformerID != performerID {
			return ErrUnauthorized
		}
		if !CanTransition(m.Status, models.MissionStatusInProgress) {
			return fmt.Errorf("%w: mission is %s, not LOCKED", ErrInvalidTransition, m.Status)
		}

		now := s.now()
		m.Status = models.MissionStatusInProgress
		m.StartedAt = &now
		if err := tx.Save(m).Error; err != nil {
			return err
		}
		mission = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Notifications.Dispatch(mission.HostID, models.NotificationKindMissionUpdated,
		"Work started",
		fmt.Sprintf("The performer started working on %q.", mission.Title),
		map[string]interface{}{"mission_id": mission.ID})
	return mission, nil
}

// SubmitProof fires IN_PROGRESS → PENDING_VALIDATION with the completion
// proof reference, opening the validation window.
func (s *MissionService) SubmitProof(missionID, performerID, attachmentURL, notes string) (*models.Mission, error) {
	var mission *models.Mission

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		m, err := s.lockMission(tx, missionID)
		if err != nil {
			return err
		}
		if m.PerformerID == nil || *m.PerformerID != performerID {
			return ErrUnauthorized
		}
		if !CanTransition(m.Status, models.MissionStatusPendingValidation) {
			return fmt.Errorf("%w: mission is %s, not IN_PROGRESS", ErrInvalidTransition, m.Status)
		}

		now := s.now()
		deadline := now.Add(s.ValidationWindow)
		m.Status = models.MissionStatusPendingValidation
		m.ValidationStartedAt = &now
		m.ValidationDeadline = &deadline
		m.ProofAttachmentURL = attachmentURL
		m.ProofNotes = notes
		if err := tx.Save(m).Error; err != nil {
			return err
		}
		mission = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Notifications.Dispatch(mission.HostID, models.NotificationKindValidationReady,
		"Mission ready for validation",
		fmt.Sprintf("Proof was submitted for %q. You have 72 hours to validate or dispute.", mission.Title),
		map[string]interface{}{"mission_id": mission.ID})
	return mission, nil
}

// completeLocked performs the shared PENDING_VALIDATION/DISPUTED → COMPLETED
// work under the caller's lock: capture the escrow and stamp completion. A
// capture failure rolls the whole transition back, leaving the mission where
// it was.
func (s *MissionService) completeLocked(tx *gorm.DB, m *models.Mission) error {
	if !CanTransition(m.Status, models.MissionStatusCompleted) {
		return fmt.Errorf("%w: mission is %s", ErrInvalidTransition, m.Status)
	}

	// The payment must be read under lock: the webhook path serializes on the
	// payment row, and Capture's status check is only safe against a fresh
	// locked read.
	var payment models.Payment
	if err := lockForUpdate(tx).Where("mission_id = ?", m.ID).First(&payment).Error; err != nil {
		return fmt.Errorf("%w: no payment for mission", ErrInvalidTransition)
	}

	performerID := ""
	if m.PerformerID != nil {
		performerID = *m.PerformerID
	}
	if err := s.Payments.Capture(tx, &payment, performerID); err != nil {
		return err
	}

	now := s.now()
	m.Status = models.MissionStatusCompleted
	m.CompletedAt = &now
	m.ValidationDeadline = nil
	return tx.Save(m).Error
}

// Validate fires PENDING_VALIDATION → COMPLETED on explicit host action.
func (s *MissionService) Validate(missionID, hostID string) (*models.Mission, error) {
	var mission *models.Mission

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		m, err := s.lockMission(tx, missionID)
		if err != nil {
			return err
		}
		if m.HostID != hostID {
			return ErrUnauthorized
		}
		if m.Status != models.MissionStatusPendingValidation {
			return fmt.Errorf("%w: mission is %s, not PENDING_VALIDATION", ErrInvalidTransition, m.Status)
		}
		if err := s.completeLocked(tx, m); err != nil {
			return err
		}
		mission = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyCompleted(mission, false)
	return mission, nil
}

// ForceValidate is the sweeper's entry point. It re-checks the guard under
// lock so a host who validated or disputed a moment earlier wins and the
// sweep becomes a no-op, not an error.
func (s *MissionService) ForceValidate(missionID string) (bool, error) {
	completed := false
	var mission *models.Mission

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		m, err := s.lockMission(tx, missionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if m.Status != models.MissionStatusPendingValidation ||
			m.ValidationDeadline == nil || m.ValidationDeadline.After(s.now()) {
			return nil
		}
		if err := s.completeLocked(tx, m); err != nil {
			return err
		}
		mission = m
		completed = true
		return nil
	})
	if err != nil || !completed {
		return false, err
	}

	s.notifyCompleted(mission, true)
	return true, nil
}

func (s *MissionService) notifyCompleted(mission *models.Mission, auto bool) {
	if mission.PerformerID != nil {
		s.Notifications.Dispatch(*mission.PerformerID, models.NotificationKindWithdrawalStatus,
			"Payment released",
			fmt.Sprintf("%q is complete. Your payment has been released to your balance.", mission.Title),
			map[string]interface{}{"mission_id": mission.ID})
	}
	if auto {
		s.Notifications.Dispatch(mission.HostID, models.NotificationKindMissionUpdated,
			"Mission auto-validated",
			fmt.Sprintf("The validation window for %q elapsed, so it was validated automatically and the payment released.", mission.Title),
			map[string]interface{}{"mission_id": mission.ID, "auto": true})
	}
}

// Dispute fires PENDING_VALIDATION → DISPUTED with a required reason and
// cancels the validation deadline.
func (s *MissionService) Dispute(missionID, hostID, reason string) (*models.Mission, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: dispute requires a reason", ErrInvalidTransition)
	}
	var mission *models.Mission

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		m, err := s.lockMission(tx, missionID)
		if err != nil {
			return err
		}
		if m.HostID != hostID {
			return ErrUnauthorized
		}
		if !CanTransition(m.Status, models.MissionStatusDisputed) {
			return fmt.Errorf("%w: mission is %s, not PENDING_VALIDATION", ErrInvalidTransition, m.Status)
		}

		m.Status = models.MissionStatusDisputed
		m.DisputeReason = reason
		m.ValidationDeadline = nil
		if err := tx.Save(m).Error; err != nil {
			return err
		}
		mission = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	if mission.PerformerID != nil {
		s.Notifications.Dispatch(*mission.PerformerID, models.NotificationKindDispute,
			"Mission disputed",
			fmt.Sprintf("The host disputed %q: %s. An administrator will review it.", mission.Title, reason),
			map[string]interface{}{"mission_id": mission.ID})
	}
	log.Printf("[MISSION] %s disputed by host %s: %s", mission.ID, hostID, reason)
	return mission, nil
}

// ResolveDispute fires DISPUTED → COMPLETED (capture) or CANCELLED (refund),
// restricted to administrative resolvers at the handler edge.
func (s *MissionService) ResolveDispute(missionID, resolverID string, complete bool) (*models.Mission, error) {
	var mission *models.Mission

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		m, err := s.lockMission(tx, missionID)
		if err != nil {
			return err
		}
		if m.Status != models.MissionStatusDisputed {
			return fmt.Errorf("%w: mission is %s, not DISPUTED", ErrInvalidTransition, m.Status)
		}

		now := s.now()
		if complete {
			if err := s.completeLocked(tx, m); err != nil {
				return err
			}
		} else {
			var payment models.Payment
			if err := lockForUpdate(tx).Where("mission_id = ?", m.ID).First(&payment).Error; err == nil {
				if err := s.Payments.Refund(tx, &payment, "dispute resolved: "+m.DisputeReason); err != nil {
					return err
				}
			}
			m.Status = models.MissionStatusCancelled
			m.CancelledAt = &now
		}
		m.DisputeResolvedAt = &now
		m.DisputeResolvedBy = &resolverID
		if err := tx.Save(m).Error; err != nil {
			return err
		}
		mission = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome := "cancelled and the payment refunded"
	if complete {
		outcome = "completed and the payment released"
	}
	for _, userID := range missionParticipants(mission) {
		s.Notifications.Dispatch(userID, models.NotificationKindDispute,
			"Dispute resolved",
			fmt.Sprintf("The dispute on %q was resolved: the mission was %s.", mission.Title, outcome),
			map[string]interface{}{"mission_id": mission.ID})
	}
	return mission, nil
}

// Cancel is allowed while the mission is unassigned or before work started;
// it refunds the escrow hold if one exists.
func (s *MissionService) Cancel(missionID, hostID string) (*models.Mission, error) {
	var mission *models.Mission

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		m, err := s.lockMission(tx, missionID)
		if err != nil {
			return err
		}
		if m.HostID != hostID {
			return ErrUnauthorized
		}
		// Narrower than the legality table: DISPUTED → CANCELLED is reserved
		// for dispute resolution, not host cancellation.
		switch m.Status {
		case models.MissionStatusOpen, models.MissionStatusNegotiating, models.MissionStatusLocked:
		default:
			return fmt.Errorf("%w: mission is %s, cancellation allowed only before work starts", ErrInvalidTransition, m.Status)
		}

		var payment models.Payment
		if err := lockForUpdate(tx).Where("mission_id = ?", m.ID).First(&payment).Error; err == nil {
			if err := s.Payments.Refund(tx, &payment, "mission cancelled"); err != nil {
				return err
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := s.now()
		m.Status = models.MissionStatusCancelled
		m.CancelledAt = &now
		if err := tx.Save(m).Error; err != nil {
			return err
		}
		mission = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	if mission.PerformerID != nil {
		s.Notifications.Dispatch(*mission.PerformerID, models.NotificationKindMissionCancelled,
			"Mission cancelled",
			fmt.Sprintf("%q was cancelled by the host.", mission.Title),
			map[string]interface{}{"mission_id": mission.ID})
	}
	return mission, nil
}

func missionParticipants(m *models.Mission) []string {
	participants := []string{m.HostID}
	if m.PerformerID != nil {
		participants = append(participants, *m.PerformerID)
	}
	return participants
}

func isAdmin(c *fiber.Ctx) bool {
	roles, _ := c.Locals("user_roles").([]string)
	for _, r := range roles {
		if r == "admin" {
			return true
		}
	}
	return false
}
