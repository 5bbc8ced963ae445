package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/analysis"
	"github.com/newsprism/backend/pkg/logger"
)

type AnalysisReader interface {
	ListSaved(ctx context.Context, hoursBack, limit, offset int) (*analysis.SavedPage, error)
	CompareArticles(ctx context.Context, articleA, articleB string) (*analysis.SimilarityResult, error)
}

type AnalysesHandler struct {
	analyses AnalysisReader
	logger   *zap.Logger
}

func NewAnalysesHandler(analyses AnalysisReader, log *zap.Logger) *AnalysesHandler {
	return &AnalysesHandler{
		analyses: analyses,
		logger:   logger.OrNop(log).Named("analyses_handler"),
	}
}

func (h *AnalysesHandler) ListAnalyses(c *fiber.Ctx) error {
	page, err := h.analyses.ListSaved(c.Context(),
		c.QueryInt("hours_back", analysis.DefaultSavedHoursBack),
		c.QueryInt("limit", analysis.DefaultSavedLimit),
		c.QueryInt("offset", 0),
	)
	if err != nil {
		h.logger.Error("Failed to list analyses", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list analyses",
		})
	}
	return c.JSON(page)
}

func (h *AnalysesHandler) CompareArticles(c *fiber.Ctx) error {
	var req struct {
		ArticleA string `json:"article_a"`
		ArticleB string `json:"article_b"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.ArticleA == "" || req.ArticleB == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "article_a and article_b are required",
		})
	}

	res, err := h.analyses.CompareArticles(c.Context(), req.ArticleA, req.ArticleB)
	if errors.Is(err, analysis.ErrMissingEmbeddings) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		h.logger.Error("Failed to compare articles", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compare articles",
		})
	}
	return c.JSON(res)
}
