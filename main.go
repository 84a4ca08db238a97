package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mission-marketplace/handlers"
	"mission-marketplace/middleware"
	"mission-marketplace/models"
	"mission-marketplace/services"
	"mission-marketplace/utils"
	"mission-marketplace/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024, // 50MB — proof attachments
	})

	// 🔐 GLOBAL: only Gateway requests allowed (processor webhooks carry
	// their own signature and are exempted inside the middleware)
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Mission{},
		&models.Offer{},
		&models.Payment{},
		&models.UserBalance{},
		&models.WebhookEvent{},
		&models.Chat{},
		&models.ChatMessage{},
		&models.ChatStrike{},
		&models.ChatSuspension{},
		&models.Notification{},
		&models.NotificationPreference{},
		&models.ProfileMirror{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	if err := utils.EnsureUploadDir(); err != nil {
		log.Fatal("failed to ensure upload dir:", err)
	}

	identityServiceURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityServiceURL == "" {
		log.Fatal("IDENTITY_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("MARKETPLACE_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("MARKETPLACE_SERVICE_TOKEN environment variable not set")
	}

	identityClient := services.NewIdentityClient(identityServiceURL, serviceToken)
	notificationService := services.NewNotificationService(db, services.NewMailerClient())
	paymentService := services.NewPaymentService(db, services.NewProcessorClient(), notificationService)
	missionService := services.NewMissionService(db, paymentService, notificationService)
	offerService := services.NewOfferService(db, missionService, notificationService)
	chatService := services.NewChatService(db, notificationService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profileSyncClient := workers.NewProfileSyncClient(db)
	go workers.PollProfiles(ctx, profileSyncClient, 30*time.Second)
	go workers.PollPaymentReconciliation(ctx, db, paymentService, 1*time.Minute)

	sweeper := services.NewSweeper(db, missionService)
	sched := sweeper.Start()
	defer func() { _ = sched.Shutdown() }()

	handlers.SetupWebhookRoutes(app, paymentService)
	handlers.SetupMissionRoutes(app, missionService, offerService, paymentService)
	handlers.SetupChatRoutes(app, chatService, identityClient)
	handlers.SetupNotificationRoutes(app, notificationService, identityClient)

	app.Static("/uploads", "./uploads")

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Profile sync polling running (every 30s)")
	log.Println("✅ Payment reconciliation running (every 1m)")
	log.Println("✅ Deadline sweeper running (every 1m)")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
