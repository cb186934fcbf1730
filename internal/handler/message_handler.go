package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync-api/internal/dto"
	"github.com/noah-isme/chatsync-api/internal/middleware"
	"github.com/noah-isme/chatsync-api/internal/service"
	"github.com/noah-isme/chatsync-api/internal/utils"
)

// MessageHandler exposes message lifecycle and reaction endpoints. Typing
// signals ride the sync websocket instead; they are too chatty for HTTP.
type MessageHandler struct {
	messages  *service.MessageService
	reactions *service.ReactionAggregator
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewMessageHandler creates a message handler instance.
func NewMessageHandler(messages *service.MessageService, reactions *service.ReactionAggregator, validator *validator.Validate, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		messages:  messages,
		reactions: reactions,
		validator: validator,
		logger:    logger.With().Str("component", "message_handler").Logger(),
	}
}

// Register binds message routes under the provided router group. Routes are
// room-scoped: the group is expected to carry a :roomID parameter.
func (h *MessageHandler) Register(router fiber.Router) {
	router.Get("/", h.history)
	router.Post("/", h.send)
	router.Patch("/:messageID", h.edit)
	router.Delete("/:messageID", h.remove)
	router.Post("/:messageID/reactions", h.toggleReaction)
}

func (h *MessageHandler) history(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	session := middleware.SessionFromCtx(c)
	messages, err := h.messages.History(requestContext(c), session, c.Params("roomID"), limit)
	if err != nil {
		return utils.SendError(c, statusForError(err), err.Error())
	}
	return utils.SendSuccess(c, "message history", dto.NewMessageResponseSlice(messages, session.UserID))
}

func (h *MessageHandler) send(c *fiber.Ctx) error {
	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.RoomID = c.Params("roomID")
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	session := middleware.SessionFromCtx(c)
	message, err := h.messages.Send(requestContext(c), session, req)
	if err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Str("room_id", req.RoomID).Msg("message send failed")
		return utils.SendError(c, statusForError(err), err.Error())
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", dto.NewMessageResponse(message, session.UserID))
}

func (h *MessageHandler) edit(c *fiber.Ctx) error {
	var req dto.EditMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.RoomID = c.Params("roomID")
	req.MessageID = c.Params("messageID")
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	session := middleware.SessionFromCtx(c)
	message, err := h.messages.Edit(requestContext(c), session, req)
	if err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Str("message_id", req.MessageID).Msg("message edit failed")
		return utils.SendError(c, statusForError(err), err.Error())
	}
	return utils.SendSuccess(c, "message edited", dto.NewMessageResponse(message, session.UserID))
}

func (h *MessageHandler) remove(c *fiber.Ctx) error {
	session := middleware.SessionFromCtx(c)
	if err := h.messages.Delete(requestContext(c), session, c.Params("roomID"), c.Params("messageID")); err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Str("message_id", c.Params("messageID")).Msg("message delete failed")
		return utils.SendError(c, statusForError(err), err.Error())
	}
	return utils.SendSuccess(c, "message deleted", nil)
}

func (h *MessageHandler) toggleReaction(c *fiber.Ctx) error {
	var req dto.ReactionToggleRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	session := middleware.SessionFromCtx(c)
	roomID := c.Params("roomID")
	messageID := c.Params("messageID")
	if err := h.reactions.Toggle(requestContext(c), session.UserID, roomID, messageID, req.Emoji); err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Str("message_id", messageID).Msg("reaction toggle failed")
		return utils.SendError(c, statusForError(err), err.Error())
	}

	summary, err := h.reactions.Summary(requestContext(c), session.UserID, roomID, messageID)
	if err != nil {
		return utils.SendError(c, statusForError(err), err.Error())
	}
	return utils.SendSuccess(c, "reaction toggled", summary)
}
