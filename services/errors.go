// services/errors.go
package services

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Sentinel errors for every caller-visible failure. Handlers translate these
// at the edge; nothing below the handler layer writes HTTP statuses.
var (
	// ErrInvalidTransition means the requested state change is not legal from
	// the mission's current status. Recoverable: re-read and retry.
	ErrInvalidTransition = errors.New("invalid mission transition")

	// ErrUnauthorized means the actor lacks the required relationship to the
	// mission or chat (not the host, not the assigned performer).
	ErrUnauthorized = errors.New("actor not authorized for this resource")

	// ErrPaymentCommandFailed means a synchronous processor call failed.
	// Mission and payment state are untouched; the command can be retried.
	ErrPaymentCommandFailed = errors.New("payment processor command failed")

	// ErrWebhookRejected means a webhook payload failed signature
	// verification or could not be parsed. No state change.
	ErrWebhookRejected = errors.New("webhook rejected")

	// ErrOfferNotAllowed means an offer was submitted against a mission that
	// is not open for offers.
	ErrOfferNotAllowed = errors.New("offer not allowed on this mission")

	// ErrChatSuspended means the sender is under an active chat suspension.
	ErrChatSuspended = errors.New("chat privileges suspended")

	// ErrChatRejected means the chat refuses messages from either side.
	ErrChatRejected = errors.New("chat rejected")

	// ErrChatPendingApproval means the performer opened the chat and must
	// wait for the host to accept before sending again.
	ErrChatPendingApproval = errors.New("chat awaiting host approval")
)

// statusForError maps a taxonomy error to an HTTP status code.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return fiber.StatusForbidden
	case errors.Is(err, ErrPaymentCommandFailed):
		return fiber.StatusBadGateway
	case errors.Is(err, ErrWebhookRejected):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrOfferNotAllowed):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, ErrChatSuspended), errors.Is(err, ErrChatPendingApproval):
		return fiber.StatusLocked
	case errors.Is(err, ErrChatRejected):
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusInternalServerError
}

// respondError writes the taxonomy error as JSON with its mapped status.
func respondError(c *fiber.Ctx, err error) error {
	return c.Status(statusForError(err)).JSON(fiber.Map{"error": err.Error()})
}
