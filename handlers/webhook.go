package handlers

import (
	"mission-marketplace/services"

	"github.com/gofiber/fiber/v2"
)

// SetupWebhookRoutes registers the processor-facing endpoint. It is exempt
// from gateway auth (the gateway middleware skips /webhooks/) because the
// processor authenticates with an HMAC signature over the raw body.
func SetupWebhookRoutes(app *fiber.App, paymentService *services.PaymentService) {
	app.Post("/webhooks/payments", paymentService.HandleProcessorWebhook)
}
