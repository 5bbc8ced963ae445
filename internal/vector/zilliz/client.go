package zilliz

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/storage/models"
	"github.com/newsprism/backend/pkg/logger"
)

// Client mirrors chunk embeddings into a Milvus/Zilliz collection so related
// articles can be found without scanning the record store.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	logger         *zap.Logger
}

type Match struct {
	ChunkID   string
	ArticleID string
	Source    string
	Score     float32
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int, log *zap.Logger) (*Client, error) {
	log = logger.OrNop(log).Named("zilliz")

	cfg := client.Config{Address: endpoint}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.EnableTLSAuth = strings.HasPrefix(endpoint, "https://")
	}

	c, err := client.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	log.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		logger:         log,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) CreateCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		z.logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return z.client.LoadCollection(ctx, z.collectionName, false)
	}

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Article chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "article_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "source",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "256",
				},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(z.vectorDim),
				},
			},
		},
	}

	err = z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	err = z.client.CreateIndex(ctx, z.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = z.client.LoadCollection(ctx, z.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	z.logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))

	return nil
}

func articleExpr(articleID string) string {
	return fmt.Sprintf(`article_id == "%s"`, strings.ReplaceAll(articleID, `"`, `\"`))
}

// ReplaceArticleChunks drops every vector of the article and inserts the
// given chunks, mirroring the delete-then-regenerate rule of the record store.
func (z *Client) ReplaceArticleChunks(ctx context.Context, articleID, source string, chunks []models.ArticleChunk) error {
	if err := z.client.Delete(ctx, z.collectionName, "", articleExpr(articleID)); err != nil {
		return fmt.Errorf("failed to delete article vectors: %w", err)
	}

	rows := make([]models.ArticleChunk, 0, len(chunks))
	for _, ch := range chunks {
		if len(ch.Embedding) == z.vectorDim {
			rows = append(rows, ch)
		}
	}
	if len(rows) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(rows))
	articleIDs := make([]string, len(rows))
	sources := make([]string, len(rows))
	indexes := make([]int64, len(rows))
	embeddings := make([][]float32, len(rows))

	for i, ch := range rows {
		chunkIDs[i] = ch.ID
		articleIDs[i] = articleID
		sources[i] = source
		indexes[i] = int64(ch.ChunkIndex)
		embeddings[i] = ch.Embedding
	}

	_, err := z.client.Insert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnVarChar("article_id", articleIDs),
		entity.NewColumnVarChar("source", sources),
		entity.NewColumnInt64("chunk_index", indexes),
		entity.NewColumnFloatVector("embedding", z.vectorDim, embeddings),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	err = z.client.Flush(ctx, z.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	z.logger.Debug("Article vectors mirrored", zap.String("article_id", articleID), zap.Int("count", len(rows)))

	return nil
}

// Search returns the chunks nearest to vector, skipping excludeArticleID.
func (z *Client) Search(ctx context.Context, vector []float32, topK int, excludeArticleID string) ([]Match, error) {
	expr := ""
	if excludeArticleID != "" {
		expr = fmt.Sprintf(`article_id != "%s"`, strings.ReplaceAll(excludeArticleID, `"`, `\"`))
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id", "article_id", "source"},
		[]entity.Vector{entity.FloatVector(vector)},
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]Match, 0)
	for _, sr := range searchResult {
		chunkIDCol := sr.Fields.GetColumn("chunk_id")
		articleIDCol := sr.Fields.GetColumn("article_id")
		sourceCol := sr.Fields.GetColumn("source")
		if chunkIDCol == nil || articleIDCol == nil || sourceCol == nil {
			continue
		}

		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := chunkIDCol.GetAsString(i)
			articleID, _ := articleIDCol.GetAsString(i)
			source, _ := sourceCol.GetAsString(i)

			results = append(results, Match{
				ChunkID:   chunkID,
				ArticleID: articleID,
				Source:    source,
				Score:     sr.Scores[i],
			})
		}
	}

	z.logger.Debug("Vector search completed", zap.Int("topK", topK), zap.Int("results", len(results)))

	return results, nil
}

// RelatedArticles collapses chunk matches to distinct articles, keeping each
// article's best score, in descending score order.
func RelatedArticles(matches []Match, limit int) []Match {
	best := make(map[string]int)
	out := make([]Match, 0)
	for _, m := range matches {
		if i, ok := best[m.ArticleID]; ok {
			if m.Score > out[i].Score {
				out[i] = m
			}
			continue
		}
		best[m.ArticleID] = len(out)
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FindRelated searches with every chunk vector of an article and returns the
// closest other articles, best chunk score first.
func (z *Client) FindRelated(ctx context.Context, vectors [][]float32, articleID string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 5
	}

	var all []Match
	for _, v := range vectors {
		if len(v) != z.vectorDim {
			continue
		}
		matches, err := z.Search(ctx, v, limit*3, articleID)
		if err != nil {
			return nil, err
		}
		all = append(all, matches...)
	}

	return RelatedArticles(all, limit), nil
}
