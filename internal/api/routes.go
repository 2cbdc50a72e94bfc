package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/agentx/aitalk/internal/api/handlers"
	"github.com/agentx/aitalk/internal/api/middleware"
	"github.com/agentx/aitalk/internal/config"
	"github.com/agentx/aitalk/internal/repository"
)

// Dependencies are the collaborators the routes are wired to
type Dependencies struct {
	Conversation handlers.Conversation
	Summaries    handlers.SummaryRunner
	TurnRepo     repository.TurnRepository
	SummaryRepo  repository.SummaryRepository
	DB           handlers.Pinger
	Metrics      handlers.StatsSource
	Config       config.ServerConfig
	Logger       logrus.FieldLogger
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, deps Dependencies) {
	api := app.Group("/api/v1")

	api.Get("/health", handlers.Health(deps.DB))
	api.Get("/metrics", handlers.Metrics(deps.Metrics))

	history := handlers.NewHistoryHandler(deps.TurnRepo, deps.SummaryRepo, deps.Summaries, deps.Logger)
	users := api.Group("/users/:id", middleware.UserFromParam(), middleware.APIRateLimit(120, 1*time.Minute))
	users.Get("/turns", history.ListTurns)
	users.Get("/summaries", history.ListSummaries)
	users.Post("/summaries", history.GenerateSummary)

	// WebSocket routes
	chat := handlers.NewChatHandler(deps.Conversation, deps.Logger)
	app.Use("/ws", middleware.ConnectRateLimit(deps.Config.WSConnectionsPerIP), middleware.WebSocketUpgrade())
	app.Get("/ws/chat", websocket.New(chat.Serve))
}
