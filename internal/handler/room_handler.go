package handler

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync-api/internal/dto"
	"github.com/noah-isme/chatsync-api/internal/middleware"
	"github.com/noah-isme/chatsync-api/internal/service"
	"github.com/noah-isme/chatsync-api/internal/utils"
)

// RoomHandler exposes room lifecycle and membership endpoints.
type RoomHandler struct {
	rooms     *service.RoomService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewRoomHandler creates a room handler instance.
func NewRoomHandler(rooms *service.RoomService, validator *validator.Validate, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		rooms:     rooms,
		validator: validator,
		logger:    logger.With().Str("component", "room_handler").Logger(),
	}
}

// Register binds room routes under the provided router group.
func (h *RoomHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Post("/", h.create)
	router.Get("/:roomID", h.get)
	router.Post("/:roomID/join", h.join)
	router.Get("/:roomID/members", h.members)
	router.Post("/:roomID/read", h.markRead)
}

func (h *RoomHandler) list(c *fiber.Ctx) error {
	rooms, err := h.rooms.List(requestContext(c))
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("room listing failed")
		return utils.SendError(c, statusForError(err), err.Error())
	}
	return utils.SendSuccess(c, "rooms", dto.NewRoomResponseSlice(rooms))
}

func (h *RoomHandler) create(c *fiber.Ctx) error {
	var req dto.CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	room, err := h.rooms.Create(requestContext(c), middleware.SessionFromCtx(c), req)
	if err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Str("name", req.Name).Msg("room creation failed")
		return utils.SendError(c, statusForError(err), err.Error())
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "room created", dto.NewRoomResponse(room))
}

func (h *RoomHandler) get(c *fiber.Ctx) error {
	room, err := h.rooms.Get(requestContext(c), c.Params("roomID"))
	if err != nil {
		return utils.SendError(c, statusForError(err), err.Error())
	}
	return utils.SendSuccess(c, "room", dto.NewRoomResponse(room))
}

func (h *RoomHandler) join(c *fiber.Ctx) error {
	room, err := h.rooms.Join(requestContext(c), middleware.SessionFromCtx(c), c.Params("roomID"))
	if err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Str("room_id", c.Params("roomID")).Msg("room join failed")
		return utils.SendError(c, statusForError(err), err.Error())
	}
	return utils.SendSuccess(c, "room joined", dto.NewRoomResponse(room))
}

func (h *RoomHandler) members(c *fiber.Ctx) error {
	members, err := h.rooms.Members(requestContext(c), c.Params("roomID"))
	if err != nil {
		return utils.SendError(c, statusForError(err), err.Error())
	}

	out := make([]dto.MemberResponse, 0, len(members))
	for _, member := range members {
		out = append(out, dto.NewMemberResponse(member))
	}
	return utils.SendSuccess(c, "room members", out)
}

func (h *RoomHandler) markRead(c *fiber.Ctx) error {
	var req dto.MarkReadRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	at := time.Time{}
	if req.At != nil {
		at = *req.At
	}

	if err := h.rooms.MarkRead(requestContext(c), middleware.SessionFromCtx(c), c.Params("roomID"), at); err != nil {
		requestLogger(h.logger, c).Error().Err(err).Str("room_id", c.Params("roomID")).Msg("mark read failed")
		return utils.SendError(c, statusForError(err), err.Error())
	}
	return utils.SendSuccess(c, "read cursor updated", nil)
}
