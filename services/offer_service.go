// services/offer_service.go
package services

import (
	"errors"
	"fmt"
	"log"

	"mission-marketplace/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OfferService is the ledger of competing bids against open-priced missions.
// It resolves exactly one winner per mission and hands control to the
// mission state machine in the same transaction.
type OfferService struct {
	DB            *gorm.DB
	Missions      *MissionService
	Notifications *NotificationService
}

func NewOfferService(db *gorm.DB, missions *MissionService, notifications *NotificationService) *OfferService {
	return &OfferService{DB: db, Missions: missions, Notifications: notifications}
}

// Submit records a pending offer. Offers are only allowed against OPEN,
// open-priced missions and never from the host.
func (s *OfferService) Submit(missionID, bidderID string, amount float64, message string) (*models.Offer, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrOfferNotAllowed)
	}

	var offer *models.Offer
	var hostID string

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		mission, err := s.Missions.lockMission(tx, missionID)
		if err != nil {
			return err
		}
		if mission.Status != models.MissionStatusOpen {
			return fmt.Errorf("%w: mission is %s", ErrOfferNotAllowed, mission.Status)
		}
		if mission.PriceMode != models.PriceModeOpen {
			return fmt.Errorf("%w: mission has a fixed price", ErrOfferNotAllowed)
		}
		if mission.HostID == bidderID {
			return ErrUnauthorized
		}

		offer = &models.Offer{
			ID:        uuid.NewString(),
			MissionID: mission.ID,
			BidderID:  bidderID,
			Amount:    amount,
			Message:   message,
			Status:    models.OfferStatusPending,
		}
		hostID = mission.HostID
		return tx.Create(offer).Error
	})
	if err != nil {
		return nil, err
	}

	s.Notifications.Dispatch(hostID, models.NotificationKindOfferReceived,
		"New offer received",
		fmt.Sprintf("A performer offered %.2f on your mission.", amount),
		map[string]interface{}{"mission_id": missionID, "offer_id": offer.ID})
	return offer, nil
}

// SelectWinner accepts one offer, rejects all siblings atomically, rewrites
// the mission budget to the winning amount and fires OPEN → NEGOTIATING.
// Selection is always an explicit host action; the ledger never ranks.
func (s *OfferService) SelectWinner(missionID, offerID, actorID string) (*models.Offer, string, error) {
	var winner *models.Offer
	var clientToken string
	var rejectedBidders []string

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		mission, err := s.Missions.lockMission(tx, missionID)
		if err != nil {
			return err
		}
		if mission.HostID != actorID {
			return ErrUnauthorized
		}
		if mission.Status != models.MissionStatusOpen {
			return fmt.Errorf("%w: mission is %s, not OPEN", ErrInvalidTransition, mission.Status)
		}

		var offer models.Offer
		if err := tx.Where("id = ? AND mission_id = ?", offerID, missionID).First(&offer).Error; err != nil {
			return err
		}
		if offer.Status != models.OfferStatusPending {
			return fmt.Errorf("%w: offer is %s", ErrInvalidTransition, offer.Status)
		}

		var siblings []models.Offer
		if err := tx.Where("mission_id = ? AND id <> ? AND status = ?", missionID, offerID, models.OfferStatusPending).
			Find(&siblings).Error; err != nil {
			return err
		}
		for _, sib := range siblings {
			rejectedBidders = append(rejectedBidders, sib.BidderID)
		}

		// beginNegotiation rejects the pending siblings; flip the winner
		// first so it survives the bulk update.
		offer.Status = models.OfferStatusAccepted
		if err := tx.Save(&offer).Error; err != nil {
			return err
		}

		token, err := s.Missions.beginNegotiation(tx, mission, offer.BidderID, offer.Amount)
		if err != nil {
			return err
		}
		winner, clientToken = &offer, token
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	s.Notifications.Dispatch(winner.BidderID, models.NotificationKindMissionUpdated,
		"Your offer was accepted",
		"The host accepted your offer. The assignment locks once the payment hold clears.",
		map[string]interface{}{"mission_id": missionID, "offer_id": winner.ID})
	for _, bidderID := range rejectedBidders {
		s.Notifications.Dispatch(bidderID, models.NotificationKindOfferRejected,
			"Offer not selected",
			"The host went with another offer this time.",
			map[string]interface{}{"mission_id": missionID})
	}
	return winner, clientToken, nil
}

// --- Handlers ---

func (s *OfferService) SubmitOffer(c *fiber.Ctx) error {
	bidderID := c.Locals("user_id").(string)
	missionID := c.Params("id")

	var req struct {
		Amount  float64 `json:"amount"`
		Message string  `json:"message"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	offer, err := s.Submit(missionID, bidderID, req.Amount, req.Message)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Mission not found"})
		}
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(offer)
}

func (s *OfferService) SelectWinnerHandler(c *fiber.Ctx) error {
	actorID := c.Locals("user_id").(string)

	winner, clientToken, err := s.SelectWinner(c.Params("id"), c.Params("offer_id"), actorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Mission or offer not found"})
		}
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"offer":        winner,
		"client_token": clientToken,
	})
}

// ListOffers shows a mission's offers: the host sees all, a bidder only
// their own.
func (s *OfferService) ListOffers(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	missionID := c.Params("id")

	var mission models.Mission
	if err := s.DB.Where("id = ?", missionID).First(&mission).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Mission not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	query := s.DB.Where("mission_id = ?", missionID).Order("created_at ASC")
	if mission.HostID != userID {
		query = query.Where("bidder_id = ?", userID)
	}

	var offers []models.Offer
	if err := query.Find(&offers).Error; err != nil {
		log.Printf("DB Error fetching offers: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch offers"})
	}
	return c.JSON(offers)
}
