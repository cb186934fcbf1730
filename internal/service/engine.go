package service

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync-api/internal/observability"
	"github.com/noah-isme/chatsync-api/internal/store"
)

// Engine builds per-connection sync sessions. One EngineSession exists per
// live client connection and dies with it.
type Engine struct {
	docs   store.DocumentStore
	redis  *redis.Client
	opts   store.EphemeralOptions
	rooms  *RoomService
	logger zerolog.Logger
}

// NewEngine constructs the session factory.
func NewEngine(docs store.DocumentStore, redisClient *redis.Client, opts store.EphemeralOptions, rooms *RoomService, logger zerolog.Logger) *Engine {
	return &Engine{
		docs:   docs,
		redis:  redisClient,
		opts:   opts,
		rooms:  rooms,
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// EngineSession bundles the per-connection presence, indexing and typing
// machinery. Open starts everything; Close tears it down in reverse order.
type EngineSession struct {
	Session   Session
	Ephemeral *store.RedisEphemeralStore
	Presence  *PresenceTracker
	Indexer   *ConversationIndexer
	Typing    *TypingCoordinator

	logger    zerolog.Logger
	closeOnce sync.Once
}

// Open creates and starts a session for the connected user.
func (e *Engine) Open(ctx context.Context, session Session) (*EngineSession, error) {
	logger := e.logger.With().Str("user_id", session.UserID).Logger()

	if err := e.rooms.EnsureProfile(ctx, session); err != nil {
		return nil, err
	}

	ephemeral := store.NewRedisEphemeralStore(e.redis, e.opts, logger)
	presence := NewPresenceTracker(session, e.docs, ephemeral, logger)
	indexer := NewConversationIndexer(session, e.docs, logger)
	typing := NewTypingCoordinator(session, e.docs, logger)

	ephemeral.Start(ctx)
	if err := presence.Start(ctx); err != nil {
		ephemeral.Close(ctx)
		return nil, err
	}
	if err := indexer.Start(ctx); err != nil {
		presence.Stop(ctx)
		ephemeral.Close(ctx)
		return nil, err
	}

	observability.EngineSessions().Inc()
	logger.Info().Str("session_id", ephemeral.SessionID()).Msg("engine session opened")

	return &EngineSession{
		Session:   session,
		Ephemeral: ephemeral,
		Presence:  presence,
		Indexer:   indexer,
		Typing:    typing,
		logger:    logger,
	}, nil
}

// Close tears the session down: typing records first so rooms stop showing
// the user as composing, then indexer subscriptions, then presence, then the
// ephemeral session itself. Idempotent.
func (s *EngineSession) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		s.Typing.Close(shutdownCtx)
		s.Indexer.Stop()
		s.Presence.Stop(shutdownCtx)
		s.Ephemeral.Close(shutdownCtx)

		observability.EngineSessions().Dec()
		s.logger.Info().Msg("engine session closed")
	})
}
