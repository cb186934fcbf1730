package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/chatsync-api/internal/config"
	"github.com/noah-isme/chatsync-api/internal/handler"
	"github.com/noah-isme/chatsync-api/internal/middleware"
	"github.com/noah-isme/chatsync-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	RoomHandler    *handler.RoomHandler
	MessageHandler *handler.MessageHandler
	SyncHandler    *handler.SyncHandler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	session := middleware.Session()

	if deps.RoomHandler != nil {
		rooms := api.Group("/rooms", session)
		deps.RoomHandler.Register(rooms)

		if deps.MessageHandler != nil {
			messages := rooms.Group("/:roomID/messages")
			deps.MessageHandler.Register(messages)
		}
	}

	if deps.SyncHandler != nil {
		sync := api.Group("/sync", session)
		deps.SyncHandler.Register(sync)
	}
}
