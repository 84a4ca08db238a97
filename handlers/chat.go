package handlers

import (
	"mission-marketplace/middleware"
	"mission-marketplace/services"

	"github.com/gofiber/fiber/v2"
)

func SetupChatRoutes(app *fiber.App, chatService *services.ChatService, identityClient *services.IdentityClient) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/missions/:id/chat", chatService.OpenChatHandler)
	secured.Post("/chats/:id/accept", chatService.AcceptChat)
	secured.Post("/chats/:id/reject", chatService.RejectChat)
	secured.Post("/chats/:id/messages", chatService.SendMessageHandler)
	secured.Get("/chats/:id/messages", chatService.ListMessages)

	// SSE cannot carry gateway headers — query-token auth instead
	app.Get("/chats/:id/stream", middleware.SSEAuthMiddleware(identityClient), chatService.StreamChatSSE)
}
