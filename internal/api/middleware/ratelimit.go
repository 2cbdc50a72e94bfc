package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// APIRateLimit returns a rate limiter for REST endpoints keyed by user when
// known, otherwise by IP
func APIRateLimit(max int, expiration time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID := GetUserID(c); userID != "" {
				return fmt.Sprintf("api:user:%s", userID)
			}
			return fmt.Sprintf("api:ip:%s", c.IP())
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "API rate limit exceeded. Please slow down your requests.",
			})
		},
	})
}

// ConnectRateLimit limits websocket connection attempts per IP (per minute).
// A client stuck in a reconnect loop cannot flood the server.
func ConnectRateLimit(perMinute int) fiber.Handler {
	if perMinute <= 0 {
		perMinute = 30
	}
	return limiter.New(limiter.Config{
		Max:        perMinute,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return fmt.Sprintf("ws:ip:%s", c.IP())
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many connection attempts. Please try again later.",
			})
		},
	})
}
