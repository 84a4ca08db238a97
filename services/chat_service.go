// services/chat_service.go
package services

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"mission-marketplace/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// StrikeThreshold is the number of non-expired strikes that triggers a
	// suspension.
	StrikeThreshold = 3
	// StrikeWindow is the rolling window a strike counts toward the
	// threshold. Older strikes stay as an audit trail only.
	StrikeWindow = 30 * 24 * time.Hour
	// SuspensionDuration is how long chat privileges are revoked.
	SuspensionDuration = 7 * 24 * time.Hour
)

// Contact-information leak patterns. Phone matching is deliberately loose:
// spaced and dotted groupings count.
var (
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	linkPattern  = regexp.MustCompile(`(?i)(https?://|www\.)\S+`)
)

// ChatService gates chat existence on mission assignment and screens every
// outgoing message for contact-information leakage before it is persisted.
type ChatService struct {
	DB            *gorm.DB
	Notifications *NotificationService
	Now           func() time.Time
}

func NewChatService(db *gorm.DB, notifications *NotificationService) *ChatService {
	return &ChatService{DB: db, Notifications: notifications, Now: time.Now}
}

func (s *ChatService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// OpenChat creates (or returns) the mission's single chat thread. A chat
// only exists once a performer is assigned. Performer-initiated chats start
// pending; the host opening or replying promotes to active.
func (s *ChatService) OpenChat(missionID, initiatorID string) (*models.Chat, error) {
	var mission models.Mission
	if err := s.DB.Where("id = ?", missionID).First(&mission).Error; err != nil {
		return nil, err
	}
	if mission.PerformerID == nil {
		return nil, fmt.Errorf("%w: mission has no assigned performer yet", ErrInvalidTransition)
	}
	if initiatorID != mission.HostID && initiatorID != *mission.PerformerID {
		return nil, ErrUnauthorized
	}

	var chat models.Chat
	err := s.DB.Where("mission_id = ?", missionID).First(&chat).Error
	if err == nil {
		if chat.Status == models.ChatStatusPending && initiatorID == chat.HostID {
			chat.Status = models.ChatStatusActive
			if err := s.DB.Save(&chat).Error; err != nil {
				return nil, err
			}
		}
		return &chat, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	status := models.ChatStatusActive
	if initiatorID == *mission.PerformerID {
		status = models.ChatStatusPending
	}
	chat = models.Chat{
		ID:          uuid.NewString(),
		MissionID:   missionID,
		HostID:      mission.HostID,
		PerformerID: *mission.PerformerID,
		Status:      status,
	}
	if err := s.DB.Create(&chat).Error; err != nil {
		return nil, err
	}
	return &chat, nil
}

// ActiveSuspension returns the sender's unexpired suspension, if any.
func (s *ChatService) ActiveSuspension(userID string, now time.Time) (*models.ChatSuspension, error) {
	var suspension models.ChatSuspension
	err := s.DB.Where("user_id = ? AND lifted = ? AND expires_at > ?", userID, false, now).
		Order("expires_at DESC").First(&suspension).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &suspension, nil
}

// scanViolations returns the violation category of the first contact-info
// pattern found in the message body.
func scanViolations(body string) (string, bool) {
	// Emails first: an address also contains digits and dots that could
	// trip the phone pattern.
	if emailPattern.MatchString(body) {
		return models.ViolationEmailAddress, true
	}
	if linkPattern.MatchString(body) {
		return models.ViolationExternalLink, true
	}
	if phonePattern.MatchString(body) {
		return models.ViolationPhoneNumber, true
	}
	return "", false
}

// CountActiveStrikes counts strikes still inside the rolling window.
func (s *ChatService) CountActiveStrikes(userID string, now time.Time) (int64, error) {
	var count int64
	err := s.DB.Model(&models.ChatStrike{}).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Count(&count).Error
	return count, err
}

// SendMessage screens and persists one outgoing message. Violating messages
// are stored flagged (never delivered) and strike the sender; the third
// active strike suspends chat privileges for seven days. A suspended
// sender's message is rejected outright and never stored.
func (s *ChatService) SendMessage(chatID, senderID, body string) (*models.ChatMessage, error) {
	now := s.now()

	var chat models.Chat
	if err := s.DB.Where("id = ?", chatID).First(&chat).Error; err != nil {
		return nil, err
	}
	if senderID != chat.HostID && senderID != chat.PerformerID {
		return nil, ErrUnauthorized
	}

	// A host replying into a pending chat accepts it, but only once the
	// message itself clears the suspension and moderation screens below.
	promoteChat := false
	switch chat.Status {
	case models.ChatStatusRejected:
		return nil, ErrChatRejected
	case models.ChatStatusPending:
		if senderID == chat.PerformerID {
			return nil, ErrChatPendingApproval
		}
		promoteChat = true
	}

	suspension, err := s.ActiveSuspension(senderID, now)
	if err != nil {
		return nil, err
	}
	if suspension != nil {
		return nil, fmt.Errorf("%w until %s", ErrChatSuspended, suspension.ExpiresAt.Format(time.RFC3339))
	}

	violation, found := scanViolations(body)
	if !found {
		if promoteChat {
			chat.Status = models.ChatStatusActive
			if err := s.DB.Save(&chat).Error; err != nil {
				return nil, err
			}
		}
		message := &models.ChatMessage{
			ID:       uuid.NewString(),
			ChatID:   chat.ID,
			SenderID: senderID,
			Body:     body,
		}
		if err := s.DB.Create(message).Error; err != nil {
			return nil, err
		}

		recipient := chat.HostID
		if senderID == chat.HostID {
			recipient = chat.PerformerID
		}
		s.Notifications.Dispatch(recipient, models.NotificationKindChatMessage,
			"New message",
			"You received a new message on your mission chat.",
			map[string]interface{}{"chat_id": chat.ID, "mission_id": chat.MissionID})
		return message, nil
	}

	return s.recordViolation(&chat, senderID, body, violation, now)
}

// recordViolation stores the flagged message, strikes the sender and
// escalates to a suspension at the threshold.
func (s *ChatService) recordViolation(chat *models.Chat, senderID, body, violation string, now time.Time) (*models.ChatMessage, error) {
	var message *models.ChatMessage
	var strikes int64

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		message = &models.ChatMessage{
			ID:          uuid.NewString(),
			ChatID:      chat.ID,
			SenderID:    senderID,
			Body:        body,
			IsBlocked:   true,
			BlockReason: violation,
		}
		if err := tx.Create(message).Error; err != nil {
			return err
		}

		strike := models.ChatStrike{
			ID:            uuid.NewString(),
			UserID:        senderID,
			MessageID:     &message.ID,
			ViolationType: violation,
			ExpiresAt:     now.Add(StrikeWindow),
		}
		if err := tx.Create(&strike).Error; err != nil {
			return err
		}

		var err error
		strikes, err = countActiveStrikesTx(tx, senderID, now)
		if err != nil {
			return err
		}

		if strikes >= StrikeThreshold {
			suspension := models.ChatSuspension{
				ID:        uuid.NewString(),
				UserID:    senderID,
				Reason:    fmt.Sprintf("%d contact-information violations", strikes),
				ExpiresAt: now.Add(SuspensionDuration),
			}
			if err := tx.Create(&suspension).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if strikes >= StrikeThreshold {
		log.Printf("[MODERATION] user %s suspended after %d strikes (%s)", senderID, strikes, violation)
		s.Notifications.Dispatch(senderID, models.NotificationKindChatMessage,
			"Chat suspended",
			"Sharing contact information is not allowed. Your chat privileges are suspended for 7 days.",
			map[string]interface{}{"chat_id": chat.ID})
	} else {
		s.Notifications.Dispatch(senderID, models.NotificationKindChatMessage,
			"Message blocked",
			"Your message was blocked for sharing contact information. Further violations will suspend your chat privileges.",
			map[string]interface{}{"chat_id": chat.ID})
	}
	return message, nil
}

func countActiveStrikesTx(tx *gorm.DB, userID string, now time.Time) (int64, error) {
	var count int64
	err := tx.Model(&models.ChatStrike{}).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Count(&count).Error
	return count, err
}

// --- Handlers ---

func (s *ChatService) OpenChatHandler(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	chat, err := s.OpenChat(c.Params("id"), userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Mission not found"})
		}
		return respondError(c, err)
	}
	return c.JSON(chat)
}

// AcceptChat lets the host approve a performer-initiated chat.
func (s *ChatService) AcceptChat(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	return s.setChatStatus(c, userID, models.ChatStatusActive)
}

// RejectChat closes the thread to both sides.
func (s *ChatService) RejectChat(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	return s.setChatStatus(c, userID, models.ChatStatusRejected)
}

func (s *ChatService) setChatStatus(c *fiber.Ctx, userID, status string) error {
	var chat models.Chat
	if err := s.DB.Where("id = ?", c.Params("id")).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Chat not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	if chat.HostID != userID {
		return respondError(c, ErrUnauthorized)
	}
	if chat.Status != models.ChatStatusPending {
		return respondError(c, ErrInvalidTransition)
	}

	chat.Status = status
	if err := s.DB.Save(&chat).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update chat"})
	}
	return c.JSON(chat)
}

func (s *ChatService) SendMessageHandler(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req struct {
		Body string `json:"body"`
	}
	if err := c.BodyParser(&req); err != nil || req.Body == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "body is required"})
	}

	message, err := s.SendMessage(c.Params("id"), userID, req.Body)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Chat not found"})
		}
		return respondError(c, err)
	}
	if message.IsBlocked {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"message": message,
			"warning": "message blocked: " + message.BlockReason,
		})
	}
	return c.Status(fiber.StatusCreated).JSON(message)
}

// ListMessages returns the thread. Blocked messages are only visible to
// their sender.
func (s *ChatService) ListMessages(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var chat models.Chat
	if err := s.DB.Where("id = ?", c.Params("id")).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Chat not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	if userID != chat.HostID && userID != chat.PerformerID {
		return respondError(c, ErrUnauthorized)
	}

	var messages []models.ChatMessage
	if err := s.DB.Where("chat_id = ?", chat.ID).
		Where("is_blocked = ? OR sender_id = ?", false, userID).
		Order("created_at ASC").Find(&messages).Error; err != nil {
		log.Printf("DB Error fetching messages: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch messages"})
	}
	return c.JSON(messages)
}
