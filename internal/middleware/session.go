package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/chatsync-api/internal/service"
	"github.com/noah-isme/chatsync-api/internal/utils"
)

// Identity header names. The service trusts the fronting gateway to have
// authenticated the caller; all writes arrive as trusted client writes.
const (
	HeaderUserID      = "X-User-ID"
	HeaderDisplayName = "X-Display-Name"
)

// Session extracts the caller identity from trusted headers and rejects
// requests without one. The resolved session is stored in locals for
// handlers to pick up.
func Session() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get(HeaderUserID))
		if userID == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "user identity missing")
		}

		displayName := strings.TrimSpace(c.Get(HeaderDisplayName))
		if displayName == "" {
			displayName = userID
		}

		c.Locals("user_id", userID)
		c.Locals("display_name", displayName)
		return c.Next()
	}
}

// SessionFromCtx returns the identity bound by the Session middleware.
func SessionFromCtx(c *fiber.Ctx) service.Session {
	session := service.Session{}
	if v, ok := c.Locals("user_id").(string); ok {
		session.UserID = v
	}
	if v, ok := c.Locals("display_name").(string); ok {
		session.DisplayName = v
	}
	return session
}
