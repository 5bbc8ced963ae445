package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/storage/models"
	"github.com/newsprism/backend/internal/storage/sqlite"
	"github.com/newsprism/backend/internal/vector/zilliz"
	"github.com/newsprism/backend/pkg/logger"
)

type ArticleStore interface {
	ListArticles(ctx context.Context, f sqlite.ArticleFilter) ([]models.Article, error)
	GetArticle(ctx context.Context, id string) (*models.Article, error)
	ChunksForArticles(ctx context.Context, ids []string) ([]models.ChunkWithArticle, error)
	ArticleRefs(ctx context.Context, ids []string) (map[string]models.ArticleRef, error)
}

type EmbeddingStatusReader interface {
	Status(ctx context.Context) (*models.EmbeddingStatus, error)
}

type RelatedFinder interface {
	FindRelated(ctx context.Context, vectors [][]float32, articleID string, limit int) ([]zilliz.Match, error)
}

type ArticlesHandler struct {
	store   ArticleStore
	status  EmbeddingStatusReader
	related RelatedFinder
	logger  *zap.Logger
}

// NewArticlesHandler builds the read API for articles. related may be nil,
// in which case the related-articles endpoint answers 503.
func NewArticlesHandler(store ArticleStore, status EmbeddingStatusReader, related RelatedFinder, log *zap.Logger) *ArticlesHandler {
	return &ArticlesHandler{
		store:   store,
		status:  status,
		related: related,
		logger:  logger.OrNop(log).Named("articles_handler"),
	}
}

func (h *ArticlesHandler) ListArticles(c *fiber.Ctx) error {
	f := sqlite.ArticleFilter{
		Source:   c.Query("source"),
		Category: c.Query("category"),
		Tag:      c.Query("tag"),
		Limit:    c.QueryInt("limit", 20),
		Offset:   c.QueryInt("offset", 0),
	}

	articles, err := h.store.ListArticles(c.Context(), f)
	if err != nil {
		h.logger.Error("Failed to list articles", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list articles",
		})
	}

	return c.JSON(fiber.Map{
		"articles": articles,
		"limit":    f.Limit,
		"offset":   f.Offset,
		"has_more": len(articles) == f.Limit,
	})
}

func (h *ArticlesHandler) GetArticle(c *fiber.Ctx) error {
	article, err := h.store.GetArticle(c.Context(), c.Params("id"))
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "article not found",
		})
	}
	if err != nil {
		h.logger.Error("Failed to load article", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load article",
		})
	}
	return c.JSON(article)
}

func (h *ArticlesHandler) EmbeddingStatus(c *fiber.Ctx) error {
	st, err := h.status.Status(c.Context())
	if err != nil {
		h.logger.Error("Failed to load embedding status", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load embedding status",
		})
	}
	return c.JSON(st)
}

type relatedArticle struct {
	models.ArticleRef
	Score float32 `json:"score"`
}

func (h *ArticlesHandler) RelatedArticles(c *fiber.Ctx) error {
	if h.related == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "vector search is not enabled",
		})
	}

	id := c.Params("id")
	chunks, err := h.store.ChunksForArticles(c.Context(), []string{id})
	if err != nil {
		h.logger.Error("Failed to load chunks", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load article chunks",
		})
	}
	if len(chunks) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "article has no embeddings",
		})
	}

	vectors := make([][]float32, 0, len(chunks))
	for _, ch := range chunks {
		vectors = append(vectors, ch.Embedding)
	}

	matches, err := h.related.FindRelated(c.Context(), vectors, id, c.QueryInt("limit", 5))
	if err != nil {
		h.logger.Error("Vector search failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "vector search failed",
		})
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ArticleID)
	}
	refs, err := h.store.ArticleRefs(c.Context(), ids)
	if err != nil {
		h.logger.Error("Failed to resolve related articles", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resolve related articles",
		})
	}

	out := make([]relatedArticle, 0, len(matches))
	for _, m := range matches {
		ref, ok := refs[m.ArticleID]
		if !ok {
			continue
		}
		out = append(out, relatedArticle{ArticleRef: ref, Score: m.Score})
	}

	return c.JSON(fiber.Map{
		"article_id": id,
		"related":    out,
	})
}
