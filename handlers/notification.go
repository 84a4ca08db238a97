package handlers

import (
	"mission-marketplace/middleware"
	"mission-marketplace/services"

	"github.com/gofiber/fiber/v2"
)

func SetupNotificationRoutes(app *fiber.App, notificationService *services.NotificationService, identityClient *services.IdentityClient) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Get("/notifications", notificationService.ListNotifications)
	secured.Patch("/notifications/:id/read", notificationService.MarkNotificationRead)
	secured.Post("/notifications/read-all", notificationService.MarkAllNotificationsRead)

	secured.Get("/notification-preferences", notificationService.GetPreferences)
	secured.Put("/notification-preferences", notificationService.UpdatePreferences)

	app.Get("/notifications/stream", middleware.SSEAuthMiddleware(identityClient), notificationService.StreamUserNotificationsSSE)
}
