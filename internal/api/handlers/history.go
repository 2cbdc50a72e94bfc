package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/agentx/aitalk/internal/api/middleware"
	"github.com/agentx/aitalk/internal/repository"
	"github.com/agentx/aitalk/internal/services"
)

// SummaryRunner triggers a summary check for one user.
type SummaryRunner interface {
	Run(ctx context.Context, userID string) (*services.SummaryResult, error)
}

// HistoryHandler exposes stored turns and summaries
type HistoryHandler struct {
	turns     repository.TurnRepository
	summaries repository.SummaryRepository
	runner    SummaryRunner
	logger    logrus.FieldLogger
}

func NewHistoryHandler(turns repository.TurnRepository, summaries repository.SummaryRepository, runner SummaryRunner, logger logrus.FieldLogger) *HistoryHandler {
	return &HistoryHandler{
		turns:     turns,
		summaries: summaries,
		runner:    runner,
		logger:    logger,
	}
}

// ListTurns handles GET /api/v1/users/:id/turns
func (h *HistoryHandler) ListTurns(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	turns, err := h.turns.ListByUser(c.UserContext(), userID, c.QueryInt("limit", 50))
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to list turns")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch turns",
		})
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"turns":   turns,
	})
}

// ListSummaries handles GET /api/v1/users/:id/summaries
func (h *HistoryHandler) ListSummaries(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	summaries, err := h.summaries.ListByUser(c.UserContext(), userID, c.QueryInt("limit", 20))
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to list summaries")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch summaries",
		})
	}

	return c.JSON(fiber.Map{
		"user_id":   userID,
		"summaries": summaries,
	})
}

// GenerateSummary handles POST /api/v1/users/:id/summaries
func (h *HistoryHandler) GenerateSummary(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	result, err := h.runner.Run(c.UserContext(), userID)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("Summary run failed")
		status := fiber.StatusInternalServerError
		if errors.Is(err, services.ErrUpstream) {
			status = fiber.StatusBadGateway
		}
		return c.Status(status).JSON(fiber.Map{
			"error": "Failed to generate summary",
		})
	}

	status := fiber.StatusOK
	if result.Record != nil {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(result)
}
