package handlers

import (
	"mission-marketplace/middleware"
	"mission-marketplace/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMissionRoutes(app *fiber.App, missionService *services.MissionService, offerService *services.OfferService, paymentService *services.PaymentService) {
	// 🔐 Authenticated routes — every mission operation needs an acting user
	secured := app.Group("/", middleware.UserContextMiddleware())

	// Mission posting + reads
	secured.Post("/missions", missionService.CreateMission)
	secured.Get("/missions", missionService.ListMissions)
	secured.Get("/missions/:id", missionService.GetMission)

	// Lifecycle transitions
	secured.Post("/missions/:id/accept", missionService.AcceptPerformer)        // host, fixed-price
	secured.Post("/missions/:id/confirm", missionService.Confirm)               // host, after hold clears
	secured.Post("/missions/:id/start", missionService.Start)                   // performer
	secured.Post("/missions/:id/proof", missionService.SubmitProofHandler)      // performer, multipart
	secured.Post("/missions/:id/validate", missionService.ValidateHandler)      // host
	secured.Post("/missions/:id/dispute", missionService.DisputeHandler)        // host
	secured.Post("/missions/:id/resolve", missionService.ResolveDisputeHandler) // admin
	secured.Post("/missions/:id/cancel", missionService.CancelHandler)          // host

	// Offer ledger
	secured.Post("/missions/:id/offers", offerService.SubmitOffer)
	secured.Get("/missions/:id/offers", offerService.ListOffers)
	secured.Post("/missions/:id/offers/:offer_id/select", offerService.SelectWinnerHandler)

	// Payment mirror + balances
	secured.Get("/missions/:id/payment", paymentService.GetMissionPayment)
	secured.Get("/users/me/balance", paymentService.GetBalance)
}
