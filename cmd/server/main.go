package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	swagger "github.com/gofiber/swagger"
	"github.com/mindmesh/mindmesh/internal/config"
	"github.com/mindmesh/mindmesh/internal/database"
	"github.com/mindmesh/mindmesh/internal/handlers"
	"github.com/mindmesh/mindmesh/internal/middleware"
	"github.com/mindmesh/mindmesh/internal/models"
	"github.com/mindmesh/mindmesh/internal/realtime"
	"github.com/mindmesh/mindmesh/internal/services"
	"github.com/mindmesh/mindmesh/internal/types"

	_ "github.com/mindmesh/mindmesh/docs/api" // Swagger docs
)

// @title MindMesh API
// @version 1.0.0
// @description Real-time collaborative mind-map sync service
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url https://github.com/mindmesh/mindmesh

// @license.name AGPL-3.0
// @license.url https://www.gnu.org/licenses/agpl-3.0.html

// @host localhost:3000
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name cookie_session

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to database (app pool)
	appDB, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to app database: %v", err)
	}
	defer database.Close(appDB)

	// Connect to database (sharing pool, separate credentials)
	shareDB, err := database.ConnectUser(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to sharing database: %v", err)
	}
	defer database.Close(shareDB)

	// Run auto-migrations
	if err := database.AutoMigrate(appDB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Realtime hub plus its websocket front end on a second listener
	hub := realtime.NewHub()
	repo := &services.GormRepository{DB: appDB}
	wsServer := realtime.NewWSServer(hub, realtime.DefaultWSSettings())
	wsServer.OnTrack = func(mapID string, fields realtime.PresenceFields) {
		row := models.UserPresence{
			UserID:       fields.UserID,
			MapID:        mapID,
			Status:       fields.Status,
			Color:        fields.Color,
			SessionID:    fields.SessionID,
			DisplayName:  fields.DisplayName,
			LastActivity: time.Now(),
		}
		if err := repo.UpsertPresence(context.Background(), row); err != nil {
			log.Printf("presence mirror upsert failed: %v", err)
		}
	}
	wsServer.OnLeave = func(mapID, userID string) {
		if err := repo.RemovePresence(context.Background(), userID, mapID); err != nil {
			log.Printf("presence mirror remove failed: %v", err)
		}
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	go func() {
		addr := ":" + cfg.RealtimePort
		log.Printf("Starting realtime listener on %s", addr)
		if err := wsServer.ListenAndServe(rootCtx, addr); err != nil {
			log.Printf("Realtime listener stopped: %v", err)
		}
	}()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: false,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New())

	// Prometheus metrics
	prometheus := fiberprometheus.New("mindmesh")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	// Health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		result := services.HealthCheck(cfg, appDB)
		status := fiber.StatusOK
		if result.Status != "healthy" {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(result)
	})

	// API routes under /api
	api := app.Group("/api")

	// Version middleware
	api.Use(middleware.VersionMiddleware())

	// Create handlers
	shareHandler := &handlers.ShareHandler{DB: shareDB, Cfg: cfg, Hub: hub}
	mapHandler := &handlers.MapHandler{DB: appDB, Hub: hub}

	// Share routes. Join and room-info are public: guests arrive with
	// nothing but a room code.
	share := api.Group("/share")
	share.Post("/join-room", middleware.AuthOptional(), shareHandler.JoinRoom)
	share.Get("/room-info/:token", shareHandler.GetRoomInfo)
	share.Post("/create-room-code", middleware.AuthUser(), shareHandler.CreateRoomCode)
	share.Post("/revoke/:tokenId", middleware.AuthUser(), shareHandler.RevokeToken)
	share.Post("/refresh/:tokenId", middleware.AuthUser(), shareHandler.RefreshToken)

	// Map routes, open to registered users and scoped guests alike
	maps := api.Group("/maps", middleware.AuthParticipant(cfg))
	maps.Post("/", mapHandler.CreateMap)
	maps.Get("/:mapId/graph", mapHandler.GetMapGraph)
	maps.Post("/:mapId/nodes", mapHandler.CreateNode)
	maps.Put("/:mapId/nodes/:nodeId", mapHandler.SaveNode)
	maps.Delete("/:mapId/nodes", mapHandler.DeleteNodes)
	maps.Post("/:mapId/edges", mapHandler.CreateEdge)
	maps.Delete("/:mapId/edges", mapHandler.DeleteEdges)
	maps.Post("/:mapId/comments", mapHandler.CreateComment)
	maps.Put("/:mapId/comments/:commentId", mapHandler.UpdateComment)
	maps.Post("/:mapId/comments/:commentId/resolve", mapHandler.ResolveComment)
	maps.Delete("/:mapId/comments/:commentId", mapHandler.DeleteComment)
	maps.Post("/:mapId/comments/:commentId/reactions", mapHandler.ToggleReaction)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status":    fiber.StatusNotFound,
			"message":   "[404] Resource Not Found",
			"ok":        false,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"url":       c.OriginalURL(),
		})
	})

	// Authorizer is initialized lazily on the first authenticated request
	log.Printf("Authorizer will be initialized on first authenticated request")

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("Gracefully shutting down...")
		rootCancel()
		_ = app.Shutdown()
	}()

	// Start server
	port := cfg.Port
	log.Printf("Starting server on port %s", port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Println("Server stopped")
}

// customErrorHandler handles errors globally
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()
	errorType := "unknown"

	// Check if it's a Fiber error
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Typed errors from the auth middleware carry their own status
	if e, ok := err.(*types.CustomError); ok {
		code = e.Code
		message = e.Message
		errorType = e.Type
	}

	return c.Status(code).JSON(fiber.Map{
		"status":    code,
		"message":   message,
		"ok":        false,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"url":       c.OriginalURL(),
		"type":      errorType,
	})
}
