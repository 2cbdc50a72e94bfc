package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/agentx/aitalk/internal/api"
	"github.com/agentx/aitalk/internal/config"
	"github.com/agentx/aitalk/internal/database"
	"github.com/agentx/aitalk/internal/llm"
	"github.com/agentx/aitalk/internal/logging"
	"github.com/agentx/aitalk/internal/memory"
	"github.com/agentx/aitalk/internal/repository/sqlstore"
	"github.com/agentx/aitalk/internal/scheduler"
	"github.com/agentx/aitalk/internal/services"
	"github.com/agentx/aitalk/internal/speech"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log)

	if cfg.OpenAI.APIKey == "" {
		logger.Warn("OPENAI_API_KEY is not set; transcription and replies will fail")
	}

	// Connect to database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := database.RunMigrations(ctx, db, cfg.Database); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	// Repositories
	turnRepo := sqlstore.NewTurnRepository(db.DB)
	summaryRepo := sqlstore.NewSummaryRepository(db.DB)

	// Upstream AI services share one client and one breaker.
	client := llm.NewClient(cfg.OpenAI)
	breaker := llm.NewCircuitBreaker(llm.DefaultBreakerConfig(), logger)
	metrics := llm.NewMetricsCollector()
	provider := llm.NewOpenAIProvider(client, cfg.OpenAI)
	chat := llm.Guard(provider, breaker, "chat").WithMetrics(metrics)
	reporter := llm.Guard(provider.WithMaxTokens(cfg.Summary.MaxTokens), breaker, "summary").WithMetrics(metrics)

	var mem services.MemoryStore
	if cfg.Memory.Enabled {
		store, err := memory.Open(cfg.Memory, memory.OpenAIEmbeddings(client, cfg.OpenAI.EmbeddingModel), chat, logger)
		if err != nil {
			logger.WithError(err).Warn("Long-term memory disabled")
		} else {
			mem = store
		}
	}

	summaries := services.NewSummaryService(turnRepo, summaryRepo, reporter, cfg.Summary.Window, logger)
	conversation := services.NewConversationService(
		turnRepo,
		speech.NewWhisperTranscriber(client, cfg.OpenAI),
		chat,
		mem,
		summaries,
		cfg.Server,
		logger,
	)

	cron := scheduler.New(summaries, turnRepo, cfg.Summary, logger)
	if err := cron.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start summary scheduler")
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "aitalk",
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	api.SetupRoutes(app, api.Dependencies{
		Conversation: conversation,
		Summaries:    summaries,
		TurnRepo:     turnRepo,
		SummaryRepo:  summaryRepo,
		DB:           db,
		Metrics:      metrics,
		Config:       cfg.Server,
		Logger:       logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"addr": addr, "driver": cfg.Database.Driver}).Info("aitalk server starting")
		errCh <- app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Server stopped")
		}
	}

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.WithError(err).Warn("Server shutdown")
	}
	cron.Stop()
	// Let session wrap-ups (memory, summary) finish before closing the DB.
	conversation.Wait()
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": strings.TrimSpace(err.Error()),
		"code":  code,
	})
}
