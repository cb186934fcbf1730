package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync-api/internal/middleware"
	"github.com/noah-isme/chatsync-api/internal/service"
)

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

// statusForError maps service errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrRoomNotFound), errors.Is(err, service.ErrMessageNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrNotRoomMember), errors.Is(err, service.ErrNotSender):
		return fiber.StatusForbidden
	case errors.Is(err, service.ErrRoomExists):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrNotEditable), errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrInvalidPayload):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
