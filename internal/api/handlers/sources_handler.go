package handlers

import (
	"context"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/kg/neo4j"
	"github.com/newsprism/backend/pkg/logger"
)

type SourceGraph interface {
	SourceTopics(ctx context.Context, source string, limit int) ([]neo4j.SourceCoverage, error)
}

const maxSourceTopics = 100

type SourcesHandler struct {
	graph  SourceGraph
	logger *zap.Logger
}

// NewSourcesHandler accepts a nil graph; its routes then answer 503.
func NewSourcesHandler(graph SourceGraph, log *zap.Logger) *SourcesHandler {
	return &SourcesHandler{
		graph:  graph,
		logger: logger.OrNop(log).Named("sources_handler"),
	}
}

// SourceTopics lists the recent topics a source has covered and the
// sentiment it framed them with.
func (h *SourcesHandler) SourceTopics(c *fiber.Ctx) error {
	if h.graph == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "knowledge graph is not configured",
		})
	}

	name, err := url.PathUnescape(c.Params("name"))
	name = strings.TrimSpace(name)
	if err != nil || name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "source name is required",
		})
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 {
		limit = 20
	}
	if limit > maxSourceTopics {
		limit = maxSourceTopics
	}

	topics, err := h.graph.SourceTopics(c.Context(), name, limit)
	if err != nil {
		h.logger.Error("Graph query failed", zap.String("source", name), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "graph query failed",
		})
	}
	if topics == nil {
		topics = []neo4j.SourceCoverage{}
	}

	return c.JSON(fiber.Map{
		"source": name,
		"topics": topics,
		"count":  len(topics),
	})
}
