package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const userIDKey = "user_id"

// maxUserIDLength matches the user_id column width.
const maxUserIDLength = 255

// GetUserID returns the user id resolved by one of the middlewares below.
func GetUserID(c *fiber.Ctx) string {
	if id, ok := c.Locals(userIDKey).(string); ok {
		return id
	}
	return ""
}

// UserFromParam resolves the user from the :id route parameter.
func UserFromParam() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := validUserID(c.Params("id"))
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "A valid user id is required",
			})
		}
		c.Locals(userIDKey, id)
		return c.Next()
	}
}

// WebSocketUpgrade admits only websocket upgrades that name a user in the
// user_id query parameter.
func WebSocketUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		id, ok := validUserID(c.Query(userIDKey))
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "user_id query parameter is required",
			})
		}
		c.Locals(userIDKey, id)
		return c.Next()
	}
}

func validUserID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxUserIDLength {
		return "", false
	}
	return id, true
}
