// middleware/sse_auth.go
package middleware

import (
	"log"
	"strings"

	"mission-marketplace/services"

	"github.com/gofiber/fiber/v2"
)

// SSEAuthMiddleware validates a `token` query param via the identity
// service. Browsers cannot set headers on EventSource connections, so SSE
// routes authenticate from the query string instead of gateway headers.
//
// Usage:
//
//	app.Get("/notifications/stream", middleware.SSEAuthMiddleware(identityClient), notificationService.StreamUserNotificationsSSE)
func SSEAuthMiddleware(identityClient *services.IdentityClient) func(*fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(string(c.Request().URI().QueryArgs().Peek("token")))
		if accessToken == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing token in query",
			})
		}

		resp, err := identityClient.ValidateToken(accessToken)
		if err != nil {
			log.Printf("[SSEAuth] ❌ Validation failed for token (prefix: %.10s...): %v", accessToken, err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		c.Locals("user_id", resp.UserID)
		c.Locals("user_roles", resp.Roles)
		return c.Next()
	}
}
