package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/agentx/aitalk/internal/llm"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health handles GET /api/v1/health
func Health(db Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status":   "unhealthy",
					"service":  "aitalk",
					"database": err.Error(),
				})
			}
		}

		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "aitalk",
		})
	}
}

// StatsSource exposes upstream call counters.
type StatsSource interface {
	Snapshot() map[string]llm.CallStats
}

// Metrics handles GET /api/v1/metrics
func Metrics(stats StatsSource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		upstream := map[string]llm.CallStats{}
		if stats != nil {
			upstream = stats.Snapshot()
		}
		return c.JSON(fiber.Map{"upstream": upstream})
	}
}
