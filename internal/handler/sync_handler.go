package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync-api/internal/dto"
	"github.com/noah-isme/chatsync-api/internal/middleware"
	"github.com/noah-isme/chatsync-api/internal/models"
	"github.com/noah-isme/chatsync-api/internal/service"
	"github.com/noah-isme/chatsync-api/internal/store"
)

// Client frame types accepted on the sync socket.
const (
	frameKeystroke   = "keystroke"
	frameSent        = "sent"
	frameWatchRoom   = "watch_room"
	frameUnwatchRoom = "unwatch_room"
)

// Server frame types emitted on the sync socket.
const (
	frameStatus   = "status"
	frameTyping   = "typing"
	frameMessages = "messages"
	frameError    = "error"
)

type clientFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type serverFrame struct {
	Type     string                    `json:"type"`
	RoomID   string                    `json:"room_id,omitempty"`
	Rooms    map[string]dto.RoomStatus `json:"rooms,omitempty"`
	Typing   []dto.TypingUserResponse  `json:"typing,omitempty"`
	Messages []dto.MessageResponse     `json:"messages,omitempty"`
	Message  string                    `json:"message,omitempty"`
}

// SyncHandler owns the websocket that carries the live sync surface: room
// status updates, per-room message streams and typing indicators. One engine
// session exists per connection and is torn down when the socket closes.
type SyncHandler struct {
	engine   *service.Engine
	messages *service.MessageService
	logger   zerolog.Logger
}

// NewSyncHandler creates a sync handler instance.
func NewSyncHandler(engine *service.Engine, messages *service.MessageService, logger zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		engine:   engine,
		messages: messages,
		logger:   logger.With().Str("component", "sync_handler").Logger(),
	}
}

// Register binds the websocket upgrade under the provided router group.
func (h *SyncHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *SyncHandler) handleConnection(conn *websocket.Conn) {
	session := websocketSession(conn)
	if !session.Valid() {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user identity missing"))
		_ = conn.Close()
		return
	}

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	logger := h.logger.With().Str("user_id", session.UserID).Logger()

	engineSession, err := h.engine.Open(ctx, session)
	if err != nil {
		logger.Error().Err(err).Msg("engine session open failed")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session open failed"))
		_ = conn.Close()
		return
	}
	defer engineSession.Close(context.WithoutCancel(ctx))

	logger.Info().Msg("sync websocket connected")
	defer logger.Info().Msg("sync websocket disconnected")

	writer := newFrameWriter(conn, logger)
	defer writer.close()

	// Room status stream.
	statusCh, cancelStatus := engineSession.Indexer.Subscribe()
	defer cancelStatus()
	go func() {
		for status := range statusCh {
			writer.send(serverFrame{Type: frameStatus, Rooms: status})
		}
	}()

	watches := newRoomWatches()
	defer watches.cancelAll()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			writer.send(serverFrame{Type: frameError, Message: "malformed frame"})
			continue
		}
		h.handleFrame(ctx, engineSession, writer, watches, frame)
	}
}

func (h *SyncHandler) handleFrame(ctx context.Context, es *service.EngineSession, writer *frameWriter, watches *roomWatches, frame clientFrame) {
	roomID := strings.TrimSpace(frame.RoomID)
	if roomID == "" {
		writer.send(serverFrame{Type: frameError, Message: "room_id required"})
		return
	}

	switch frame.Type {
	case frameKeystroke:
		es.Typing.Keystroke(ctx, roomID)

	case frameSent:
		es.Typing.Sent(ctx, roomID)

	case frameWatchRoom:
		if watches.active(roomID) {
			return
		}
		typingSub, err := es.Typing.WatchRoom(ctx, roomID, func(records []models.TypingRecord) {
			writer.send(serverFrame{Type: frameTyping, RoomID: roomID, Typing: dto.NewTypingUserResponses(records)})
		})
		if err != nil {
			writer.send(serverFrame{Type: frameError, RoomID: roomID, Message: "typing watch failed"})
			return
		}
		messageSub, err := h.messages.Watch(ctx, es.Session, roomID, func(messages []models.Message, err error) {
			if err != nil {
				writer.send(serverFrame{Type: frameError, RoomID: roomID, Message: "message stream degraded"})
				return
			}
			writer.send(serverFrame{Type: frameMessages, RoomID: roomID, Messages: dto.NewMessageResponseSlice(messages, es.Session.UserID)})
		})
		if err != nil {
			typingSub.Cancel()
			writer.send(serverFrame{Type: frameError, RoomID: roomID, Message: fmt.Sprintf("room watch failed: %s", err)})
			return
		}
		watches.add(roomID, typingSub, messageSub)

	case frameUnwatchRoom:
		watches.cancel(roomID)

	default:
		writer.send(serverFrame{Type: frameError, Message: "unknown frame type"})
	}
}

func websocketSession(conn *websocket.Conn) service.Session {
	session := service.Session{}
	if v, ok := conn.Locals("user_id").(string); ok {
		session.UserID = strings.TrimSpace(v)
	}
	if v, ok := conn.Locals("display_name").(string); ok {
		session.DisplayName = strings.TrimSpace(v)
	}
	if session.DisplayName == "" {
		session.DisplayName = session.UserID
	}
	return session
}

// frameWriter serialises concurrent frame producers onto the single
// websocket writer goroutine.
type frameWriter struct {
	frames chan serverFrame
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func newFrameWriter(conn *websocket.Conn, logger zerolog.Logger) *frameWriter {
	w := &frameWriter{
		frames: make(chan serverFrame, 32),
		done:   make(chan struct{}),
		logger: logger,
	}

	go func() {
		for {
			select {
			case frame := <-w.frames:
				if err := conn.WriteJSON(frame); err != nil {
					w.logger.Debug().Err(err).Msg("websocket write failed")
					return
				}
			case <-w.done:
				return
			}
		}
	}()

	return w
}

// send enqueues a frame without blocking; a slow consumer loses updates
// rather than stalling the store callbacks feeding it.
func (w *frameWriter) send(frame serverFrame) {
	select {
	case <-w.done:
	case w.frames <- frame:
	default:
		w.logger.Debug().Str("type", frame.Type).Msg("frame dropped, slow consumer")
	}
}

func (w *frameWriter) close() {
	w.once.Do(func() { close(w.done) })
}

// roomWatches tracks the per-room subscriptions opened over one socket.
type roomWatches struct {
	mu   sync.Mutex
	subs map[string][]store.Subscription
}

func newRoomWatches() *roomWatches {
	return &roomWatches{subs: make(map[string][]store.Subscription)}
}

func (r *roomWatches) active(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[roomID]
	return ok
}

func (r *roomWatches) add(roomID string, subs ...store.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[roomID] = subs
}

func (r *roomWatches) cancel(roomID string) {
	r.mu.Lock()
	subs := r.subs[roomID]
	delete(r.subs, roomID)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

func (r *roomWatches) cancelAll() {
	r.mu.Lock()
	all := r.subs
	r.subs = make(map[string][]store.Subscription)
	r.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.Cancel()
		}
	}
}
