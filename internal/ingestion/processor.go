package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/metrics"
	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/internal/storage/models"
	"github.com/newsprism/backend/pkg/logger"
)

const (
	DefaultBatchLimit = 10
	DefaultDelay      = 100 * time.Millisecond
)

// ErrNoEmbeddings is returned when not a single chunk of an article could be embedded.
var ErrNoEmbeddings = errors.New("no chunk embeddings generated")

type Store interface {
	ArticlesWithoutEmbeddings(ctx context.Context, limit int) ([]models.Article, error)
	GetArticle(ctx context.Context, id string) (*models.Article, error)
	DeleteChunks(ctx context.Context, articleID string) (int, error)
	InsertChunk(ctx context.Context, chunk *models.ArticleChunk) error
	MarkEmbedded(ctx context.Context, articleID string, at time.Time) error
	ClearEmbedded(ctx context.Context, articleID string) error
	EmbeddingStatus(ctx context.Context) (*models.EmbeddingStatus, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorMirror receives an article's freshly generated chunks.
type VectorMirror interface {
	ReplaceArticleChunks(ctx context.Context, articleID, source string, chunks []models.ArticleChunk) error
}

type Options struct {
	ChunkSize    int
	OverlapRatio float64
	Delay        time.Duration
	BatchLimit   int
}

// Processor turns stored articles into embedded chunks.
type Processor struct {
	store        Store
	embedder     Embedder
	mirror       VectorMirror
	chunkSize    int
	overlapRatio float64
	delay        time.Duration
	batchLimit   int
	logger       *zap.Logger
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewProcessor builds an embedding processor. mirror may be nil.
func NewProcessor(store Store, embedder Embedder, mirror VectorMirror, opts Options, log *zap.Logger) *Processor {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.OverlapRatio < 0 || opts.OverlapRatio >= 1 {
		opts.OverlapRatio = DefaultOverlapRatio
	}
	if opts.Delay < 0 {
		opts.Delay = DefaultDelay
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = DefaultBatchLimit
	}
	return &Processor{
		store:        store,
		embedder:     embedder,
		mirror:       mirror,
		chunkSize:    opts.ChunkSize,
		overlapRatio: opts.OverlapRatio,
		delay:        opts.Delay,
		batchLimit:   opts.BatchLimit,
		logger:       logger.OrNop(log).Named("embedding"),
		now:          time.Now,
		sleep:        sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// EmbeddingInput is the text embedded for an article.
func EmbeddingInput(a *models.Article) string {
	parts := []string{
		"Source: " + a.Source,
		"Title: " + a.Title,
	}
	if strings.TrimSpace(a.Description) != "" {
		parts = append(parts, "Description: "+a.Description)
	}
	if strings.TrimSpace(a.Content) != "" {
		parts = append(parts, a.Content)
	}
	return strings.Join(parts, "\n\n")
}

// GenerateBatch embeds up to limit articles that have no embeddings yet.
// limit <= 0 uses the configured batch limit.
func (p *Processor) GenerateBatch(ctx context.Context, limit int) (*pipeline.Summary, error) {
	if limit <= 0 {
		limit = p.batchLimit
	}

	articles, err := p.store.ArticlesWithoutEmbeddings(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load articles: %w", err)
	}

	summary := pipeline.NewSummary(pipeline.StageEmbed)
	for i := range articles {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		n, err := p.generate(ctx, &articles[i])
		summary.Add("chunks", n)
		if err != nil {
			summary.Errored++
			p.logger.Error("Embedding generation failed",
				zap.String("article_id", articles[i].ID),
				zap.Error(err),
			)
			continue
		}
		summary.Processed++
	}

	p.logger.Info("Embedding batch finished",
		zap.Int("articles", len(articles)),
		zap.Int("processed", summary.Processed),
		zap.Int("errored", summary.Errored),
	)

	if _, err := p.Status(ctx); err != nil {
		p.logger.Warn("Failed to refresh embedding status", zap.Error(err))
	}
	return summary, nil
}

// GenerateForArticle regenerates one article's chunks, whatever its flag says,
// and returns the number of chunks stored.
func (p *Processor) GenerateForArticle(ctx context.Context, articleID string) (int, error) {
	article, err := p.store.GetArticle(ctx, articleID)
	if err != nil {
		return 0, fmt.Errorf("failed to load article: %w", err)
	}
	return p.generate(ctx, article)
}

func (p *Processor) generate(ctx context.Context, article *models.Article) (int, error) {
	log := p.logger.With(zap.String("article_id", article.ID))

	chunks := ChunkText(EmbeddingInput(article), p.chunkSize, p.overlapRatio)

	removed, err := p.store.DeleteChunks(ctx, article.ID)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Debug("Removed previous chunks", zap.Int("count", removed))
	}

	stored := make([]models.ArticleChunk, 0, len(chunks))
	for i, ch := range chunks {
		if i > 0 {
			if err := p.sleep(ctx, p.delay); err != nil {
				return len(stored), err
			}
		}

		vec, err := p.embedder.Embed(ctx, ch.Text)
		if err != nil {
			metrics.ChunksEmbedded.WithLabelValues("failed").Inc()
			log.Warn("Chunk embedding failed", zap.Int("chunk", ch.Index), zap.Error(err))
			continue
		}

		at := p.now()
		row := models.ArticleChunk{
			ID:                   uuid.New().String(),
			ArticleID:            article.ID,
			ChunkIndex:           len(stored),
			ChunkText:            ch.Text,
			WordCount:            ch.WordCount,
			Embedding:            vec,
			EmbeddingGenerated:   true,
			EmbeddingGeneratedAt: &at,
			CreatedAt:            at,
		}
		if err := p.store.InsertChunk(ctx, &row); err != nil {
			metrics.ChunksEmbedded.WithLabelValues("failed").Inc()
			log.Warn("Failed to store chunk", zap.Int("chunk", ch.Index), zap.Error(err))
			continue
		}
		metrics.ChunksEmbedded.WithLabelValues("stored").Inc()
		stored = append(stored, row)
	}

	if len(stored) == 0 {
		// Prior chunks are gone, so the flag must not claim otherwise.
		if err := p.store.ClearEmbedded(ctx, article.ID); err != nil {
			return 0, err
		}
		if p.mirror != nil && article.EmbeddingGenerated {
			if err := p.mirror.ReplaceArticleChunks(ctx, article.ID, article.Source, nil); err != nil {
				log.Warn("Failed to drop mirrored vectors", zap.Error(err))
			}
		}
		return 0, ErrNoEmbeddings
	}

	if err := p.store.MarkEmbedded(ctx, article.ID, p.now()); err != nil {
		return len(stored), err
	}

	if p.mirror != nil {
		if err := p.mirror.ReplaceArticleChunks(ctx, article.ID, article.Source, stored); err != nil {
			log.Warn("Failed to mirror chunk vectors", zap.Error(err))
		}
	}

	log.Info("Article embedded", zap.Int("chunks", len(stored)), zap.Int("total_chunks", len(chunks)))
	return len(stored), nil
}

// Status reports embedding coverage and updates the completion gauge.
func (p *Processor) Status(ctx context.Context) (*models.EmbeddingStatus, error) {
	status, err := p.store.EmbeddingStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding status: %w", err)
	}
	metrics.EmbeddingCompletion.Set(float64(status.CompletionPercentage))
	return status, nil
}
