// services/mission_handlers.go
package services

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"mission-marketplace/models"
	"mission-marketplace/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateMission is the posting surface: fields arrive pre-validated from the
// posting flow, this core only establishes the OPEN record.
func (s *MissionService) CreateMission(c *fiber.Ctx) error {
	hostID := c.Locals("user_id").(string)

	var req struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		PriceMode   string  `json:"price_mode"`
		Budget      float64 `json:"budget"`
		Currency    string  `json:"currency"`
		Address     string  `json:"address"`
		Lat         float64 `json:"lat"`
		Lng         float64 `json:"lng"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "title is required"})
	}

	mission, err := s.CreateMissionRecord(hostID, req.Title, req.Description, req.PriceMode, req.Address, req.Currency, req.Budget, req.Lat, req.Lng)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(mission)
}

// GetMission returns one mission. The address is stripped unless it has been
// revealed and the viewer is a participant.
func (s *MissionService) GetMission(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	id := c.Params("id")

	var mission models.Mission
	if err := s.DB.Preload("Offers").Where("id = ?", id).First(&mission).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Mission not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	isParticipant := mission.HostID == userID ||
		(mission.PerformerID != nil && *mission.PerformerID == userID)
	if mission.HostID != userID && !(mission.AddressRevealed && isParticipant) {
		mission.Address = ""
	}
	return c.JSON(mission)
}

// ListMissions lists missions, filterable by status (legacy status strings
// are normalized) and by the caller's relationship (mine=host|performer).
func (s *MissionService) ListMissions(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	query := s.DB.Order("created_at DESC")

	if statusStr := c.Query("status"); statusStr != "" {
		canonical, ok := models.NormalizeLegacyStatus(statusStr)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unknown status"})
		}
		query = query.Where("status = ?", canonical)
	}
	switch c.Query("mine") {
	case "host":
		query = query.Where("host_id = ?", userID)
	case "performer":
		query = query.Where("performer_id = ?", userID)
	}

	var missions []models.Mission
	if err := query.Limit(100).Find(&missions).Error; err != nil {
		log.Printf("DB Error fetching missions: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch missions"})
	}

	for i := range missions {
		if missions[i].HostID != userID {
			missions[i].Address = ""
		}
	}
	return c.JSON(missions)
}

// AcceptPerformer handles host acceptance of a fixed-price mission.
func (s *MissionService) AcceptPerformer(c *fiber.Ctx) error {
	hostID := c.Locals("user_id").(string)
	missionID := c.Params("id")

	var req struct {
		PerformerID string `json:"performer_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.PerformerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "performer_id is required"})
	}
	if _, err := uuid.Parse(req.PerformerID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid performer_id"})
	}

	mission, clientToken, err := s.AcceptFixedPrice(missionID, hostID, req.PerformerID)
	if err != nil {
		return s.transitionError(c, err)
	}
	return c.JSON(fiber.Map{
		"mission":      mission,
		"client_token": clientToken,
	})
}

// Confirm handles the host's explicit lock-in after the hold cleared.
func (s *MissionService) Confirm(c *fiber.Ctx) error {
	hostID := c.Locals("user_id").(string)

	mission, err := s.ConfirmAssignment(c.Params("id"), hostID)
	if err != nil {
		return s.transitionError(c, err)
	}
	return c.JSON(mission)
}

// Start handles the performer starting work.
func (s *MissionService) Start(c *fiber.Ctx) error {
	performerID := c.Locals("user_id").(string)

	mission, err := s.StartWork(c.Params("id"), performerID)
	if err != nil {
		return s.transitionError(c, err)
	}
	return c.JSON(mission)
}

// SubmitProofHandler accepts the completion proof (multipart attachment +
// notes) and fires IN_PROGRESS → PENDING_VALIDATION.
func (s *MissionService) SubmitProofHandler(c *fiber.Ctx) error {
	performerID := c.Locals("user_id").(string)
	missionID := c.Params("id")
	notes := c.FormValue("notes")

	var attachmentURL string
	if fileHeader, err := c.FormFile("attachment"); err == nil {
		key := fmt.Sprintf("proofs/%s/%s%s", missionID, uuid.NewString(), filepath.Ext(fileHeader.Filename))
		url, err := utils.UploadProofAttachment(fileHeader, key)
		if err != nil {
			log.Printf("Proof upload failed for mission %s: %v", missionID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to store attachment"})
		}
		attachmentURL = url
	}

	mission, err := s.SubmitProof(missionID, performerID, attachmentURL, notes)
	if err != nil {
		return s.transitionError(c, err)
	}
	return c.JSON(mission)
}

// ValidateHandler handles explicit host validation.
func (s *MissionService) ValidateHandler(c *fiber.Ctx) error {
	hostID := c.Locals("user_id").(string)

	mission, err := s.Validate(c.Params("id"), hostID)
	if err != nil {
		return s.transitionError(c, err)
	}
	return c.JSON(mission)
}

// DisputeHandler handles a host dispute with its required reason.
func (s *MissionService) DisputeHandler(c *fiber.Ctx) error {
	hostID := c.Locals("user_id").(string)

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil || req.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "reason is required"})
	}

	mission, err := s.Dispute(c.Params("id"), hostID, req.Reason)
	if err != nil {
		return s.transitionError(c, err)
	}
	return c.JSON(mission)
}

// ResolveDisputeHandler is admin-only: resolution is "complete" or "cancel".
func (s *MissionService) ResolveDisputeHandler(c *fiber.Ctx) error {
	if !isAdmin(c) {
		return respondError(c, ErrUnauthorized)
	}
	resolverID := c.Locals("user_id").(string)

	var req struct {
		Resolution string `json:"resolution"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Resolution != "complete" && req.Resolution != "cancel" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "resolution must be 'complete' or 'cancel'"})
	}

	mission, err := s.ResolveDispute(c.Params("id"), resolverID, req.Resolution == "complete")
	if err != nil {
		return s.transitionError(c, err)
	}
	return c.JSON(mission)
}

// CancelHandler handles host cancellation before work starts.
func (s *MissionService) CancelHandler(c *fiber.Ctx) error {
	hostID := c.Locals("user_id").(string)

	mission, err := s.Cancel(c.Params("id"), hostID)
	if err != nil {
		return s.transitionError(c, err)
	}
	return c.JSON(mission)
}

func (s *MissionService) transitionError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Mission not found"})
	}
	if status := statusForError(err); status != fiber.StatusInternalServerError {
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
	log.Printf("Mission transition failed: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Transition failed"})
}
