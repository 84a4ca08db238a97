// services/notification_service.go
package services

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"mission-marketplace/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NotificationService struct {
	DB     *gorm.DB
	Mailer Mailer
	Now    func() time.Time
}

func NewNotificationService(db *gorm.DB, mailer Mailer) *NotificationService {
	return &NotificationService{DB: db, Mailer: mailer, Now: time.Now}
}

func (s *NotificationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// GetOrCreatePreference returns the user's preference row, creating it with
// defaults on first access. Exactly one row per user.
func (s *NotificationService) GetOrCreatePreference(userID string) (*models.NotificationPreference, error) {
	var pref models.NotificationPreference
	err := s.DB.Where("user_id = ?", userID).First(&pref).Error
	if err == nil {
		return &pref, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	pref = models.NotificationPreference{
		ID:               uuid.NewString(),
		UserID:           userID,
		EmailEnabled:     true,
		InAppEnabled:     true,
		Timezone:         "UTC",
		NearbyMission:    true,
		OfferActivity:    true,
		MissionUpdates:   true,
		Questions:        true,
		ChatMessages:     true,
		ValidationReady:  true,
		WithdrawalStatus: true,
		Disputes:         true,
	}
	if err := s.DB.Create(&pref).Error; err != nil {
		// Concurrent first access can race the unique index; fall back to
		// the row the other writer won with.
		if readErr := s.DB.Where("user_id = ?", userID).First(&pref).Error; readErr == nil {
			return &pref, nil
		}
		return nil, err
	}
	return &pref, nil
}

// quietHoursActive reports whether now falls inside the user's quiet window,
// evaluated in the user's configured zone. The window may wrap past
// midnight; a zero-length window is never active.
func quietHoursActive(pref *models.NotificationPreference, now time.Time) bool {
	if !pref.QuietHoursEnabled || pref.QuietStartMinute == pref.QuietEndMinute {
		return false
	}
	loc, err := time.LoadLocation(pref.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	start, end := pref.QuietStartMinute, pref.QuietEndMinute
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// ResolveChannels decides which delivery channels to use for one
// notification. During quiet hours only in-app is used; suppressed emails
// are dropped, never queued. An empty result falls back to in-app so every
// notification is recorded somewhere.
func (s *NotificationService) ResolveChannels(userID, kind string, now time.Time) []string {
	pref, err := s.GetOrCreatePreference(userID)
	if err != nil {
		log.Printf("[NOTIFY] preference lookup failed for %s, using in-app default: %v", userID, err)
		return []string{models.ChannelInApp}
	}

	if quietHoursActive(pref, now) {
		return []string{models.ChannelInApp}
	}

	var channels []string
	if pref.InAppEnabled && pref.KindEnabled(kind) {
		channels = append(channels, models.ChannelInApp)
	}
	if pref.EmailEnabled && pref.KindEnabled(kind) {
		channels = append(channels, models.ChannelEmail)
	}
	if len(channels) == 0 {
		channels = []string{models.ChannelInApp}
	}
	return channels
}

// Dispatch fans one notification out to the recipient's resolved channels.
// It never returns an error: notification delivery is fire-and-forget
// relative to the state transition that triggered it.
func (s *NotificationService) Dispatch(userID, kind, title, body string, data map[string]interface{}) {
	now := s.now()
	channels := s.ResolveChannels(userID, kind, now)

	var dataJSON string
	if data != nil {
		raw, _ := json.Marshal(data)
		dataJSON = string(raw)
	}

	for _, ch := range channels {
		switch ch {
		case models.ChannelInApp:
			n := models.Notification{
				ID:     uuid.NewString(),
				UserID: userID,
				Kind:   kind,
				Title:  title,
				Body:   body,
				Data:   dataJSON,
			}
			if err := s.DB.Create(&n).Error; err != nil {
				log.Printf("[NOTIFY] failed to persist %s notification for %s: %v", kind, userID, err)
			}
		case models.ChannelEmail:
			if s.Mailer == nil {
				continue
			}
			go func() {
				var profile models.ProfileMirror
				if err := s.DB.Where("user_id = ?", userID).First(&profile).Error; err != nil {
					log.Printf("[NOTIFY] no profile mirror for %s, skipping email", userID)
					return
				}
				if profile.Email == "" {
					return
				}
				if err := s.Mailer.Send(profile.Email, title, body); err != nil {
					log.Printf("[NOTIFY] email dispatch failed for %s: %v", userID, err)
				}
			}()
		}
	}
}

// --- Handlers ---

// ListNotifications returns the authenticated user's in-app notifications,
// newest first.
func (s *NotificationService) ListNotifications(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	query := s.DB.Where("user_id = ?", userID).Order("created_at DESC")
	if c.Query("unread") == "true" {
		query = query.Where("is_read = ?", false)
	}

	var notifications []models.Notification
	if err := query.Limit(100).Find(&notifications).Error; err != nil {
		log.Printf("DB Error fetching notifications: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch notifications"})
	}
	return c.JSON(notifications)
}

// MarkNotificationRead marks a single notification as read (idempotent).
func (s *NotificationService) MarkNotificationRead(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	id := c.Params("id")

	var n models.Notification
	if err := s.DB.Where("id = ? AND user_id = ?", id, userID).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Notification not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	if !n.IsRead {
		now := s.now()
		n.IsRead = true
		n.ReadAt = &now
		if err := s.DB.Save(&n).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to mark as read"})
		}
	}
	return c.JSON(fiber.Map{"message": "OK", "notification_id": n.ID})
}

// MarkAllNotificationsRead marks every unread notification read.
func (s *NotificationService) MarkAllNotificationsRead(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	now := s.now()

	result := s.DB.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": now})
	if result.Error != nil {
		log.Printf("Bulk mark read failed: %v", result.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update notifications"})
	}

	return c.JSON(fiber.Map{"message": "OK", "marked_count": result.RowsAffected})
}

// GetPreferences returns the user's preference record, creating defaults on
// first access.
func (s *NotificationService) GetPreferences(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	pref, err := s.GetOrCreatePreference(userID)
	if err != nil {
		log.Printf("DB Error fetching preferences: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch preferences"})
	}
	return c.JSON(pref)
}

// UpdatePreferences applies partial updates to the user's preference record.
func (s *NotificationService) UpdatePreferences(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	pref, err := s.GetOrCreatePreference(userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch preferences"})
	}

	var req struct {
		EmailEnabled      *bool   `json:"email_enabled"`
		InAppEnabled      *bool   `json:"in_app_enabled"`
		QuietHoursEnabled *bool   `json:"quiet_hours_enabled"`
		QuietStartMinute  *int    `json:"quiet_start_minute"`
		QuietEndMinute    *int    `json:"quiet_end_minute"`
		Timezone          *string `json:"timezone"`
		NearbyMission     *bool   `json:"nearby_mission"`
		OfferActivity     *bool   `json:"offer_activity"`
		MissionUpdates    *bool   `json:"mission_updates"`
		Questions         *bool   `json:"questions"`
		ChatMessages      *bool   `json:"chat_messages"`
		ValidationReady   *bool   `json:"validation_ready"`
		WithdrawalStatus  *bool   `json:"withdrawal_status"`
		Disputes          *bool   `json:"disputes"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unknown timezone"})
		}
		pref.Timezone = *req.Timezone
	}
	if req.QuietStartMinute != nil {
		if *req.QuietStartMinute < 0 || *req.QuietStartMinute >= 24*60 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "quiet_start_minute out of range"})
		}
		pref.QuietStartMinute = *req.QuietStartMinute
	}
	if req.QuietEndMinute != nil {
		if *req.QuietEndMinute < 0 || *req.QuietEndMinute >= 24*60 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "quiet_end_minute out of range"})
		}
		pref.QuietEndMinute = *req.QuietEndMinute
	}
	if req.EmailEnabled != nil {
		pref.EmailEnabled = *req.EmailEnabled
	}
	if req.InAppEnabled != nil {
		pref.InAppEnabled = *req.InAppEnabled
	}
	if req.QuietHoursEnabled != nil {
		pref.QuietHoursEnabled = *req.QuietHoursEnabled
	}
	if req.NearbyMission != nil {
		pref.NearbyMission = *req.NearbyMission
	}
	if req.OfferActivity != nil {
		pref.OfferActivity = *req.OfferActivity
	}
	if req.MissionUpdates != nil {
		pref.MissionUpdates = *req.MissionUpdates
	}
	if req.Questions != nil {
		pref.Questions = *req.Questions
	}
	if req.ChatMessages != nil {
		pref.ChatMessages = *req.ChatMessages
	}
	if req.ValidationReady != nil {
		pref.ValidationReady = *req.ValidationReady
	}
	if req.WithdrawalStatus != nil {
		pref.WithdrawalStatus = *req.WithdrawalStatus
	}
	if req.Disputes != nil {
		pref.Disputes = *req.Disputes
	}

	if err := s.DB.Save(pref).Error; err != nil {
		log.Printf("DB Error updating preferences: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update preferences"})
	}
	return c.JSON(pref)
}
