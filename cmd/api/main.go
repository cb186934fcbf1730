package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync-api/internal/config"
	"github.com/noah-isme/chatsync-api/internal/database"
	"github.com/noah-isme/chatsync-api/internal/handler"
	"github.com/noah-isme/chatsync-api/internal/middleware"
	"github.com/noah-isme/chatsync-api/internal/repository"
	"github.com/noah-isme/chatsync-api/internal/router"
	"github.com/noah-isme/chatsync-api/internal/service"
	"github.com/noah-isme/chatsync-api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&repository.DocumentRow{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New(validator.WithRequiredStructEnabled())

	documentRepo := repository.NewDocumentRepository(db)
	documents := store.NewDocumentStore(documentRepo, redisClient, cfg.ChannelBase, natsConn, logger)
	documents.Start(runCtx)

	ephemeralOpts := store.EphemeralOptions{
		Prefix:            cfg.ChannelBase,
		HeartbeatInterval: cfg.PresenceHeartbeat,
		SessionTTL:        cfg.PresenceTTL,
	}

	janitor := store.NewPresenceJanitor(redisClient, ephemeralOpts, logger)
	go janitor.Start(runCtx, cfg.JanitorInterval)

	// A non-started ephemeral store serves as the pattern feed for the
	// durable presence mirror; it owns no session of its own.
	presenceFeed := store.NewRedisEphemeralStore(redisClient, ephemeralOpts, logger)
	mirror := service.NewPresenceMirror(documents, presenceFeed, logger)
	if err := mirror.Start(runCtx); err != nil {
		log.Fatalf("failed to start presence mirror: %v", err)
	}
	defer mirror.Stop()

	roomService := service.NewRoomService(documents, logger)
	mentionResolver := service.NewMentionResolver(documents, logger)
	messageService := service.NewMessageService(documents, mentionResolver, logger)
	reactionAggregator := service.NewReactionAggregator(documents, logger)
	engine := service.NewEngine(documents, redisClient, ephemeralOpts, roomService, logger)

	roomHandler := handler.NewRoomHandler(roomService, validate, logger)
	messageHandler := handler.NewMessageHandler(messageService, reactionAggregator, validate, logger)
	syncHandler := handler.NewSyncHandler(engine, messageService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		RoomHandler:    roomHandler,
		MessageHandler: messageHandler,
		SyncHandler:    syncHandler,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(runCtx, app)
}

func waitForShutdown(runCtx context.Context, app *fiber.App) {
	<-runCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
