package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/newsprism/backend/internal/storage/models"
)

func (c *Client) DeleteChunks(ctx context.Context, articleID string) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM article_chunks WHERE article_id = ?`, articleID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (c *Client) InsertChunk(ctx context.Context, chunk *models.ArticleChunk) error {
	embeddingJSON, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	query := `
		INSERT INTO article_chunks (id, article_id, chunk_index, chunk_text, word_count, embedding,
			embedding_generated, embedding_generated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.ExecContext(ctx, query,
		chunk.ID,
		chunk.ArticleID,
		chunk.ChunkIndex,
		chunk.ChunkText,
		chunk.WordCount,
		string(embeddingJSON),
		boolToInt(chunk.EmbeddingGenerated),
		nullableUnix(chunk.EmbeddingGeneratedAt),
		chunk.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}

	return nil
}

const chunkWithArticleColumns = `ch.id, ch.article_id, ch.chunk_index, ch.chunk_text, ch.word_count, ch.embedding,
	ch.embedding_generated, ch.embedding_generated_at, ch.created_at,
	a.title, a.link, a.source, a.author, a.pub_date`

func (c *Client) queryChunks(ctx context.Context, b sq.SelectBuilder) ([]models.ChunkWithArticle, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.ChunkWithArticle
	for rows.Next() {
		var ch models.ChunkWithArticle
		var embedding, author sql.NullString
		var embedded int
		var embeddedAt sql.NullInt64
		var createdAt, pubDate int64

		err := rows.Scan(&ch.ID, &ch.ArticleID, &ch.ChunkIndex, &ch.ChunkText, &ch.WordCount, &embedding,
			&embedded, &embeddedAt, &createdAt,
			&ch.Title, &ch.Link, &ch.Source, &author, &pubDate)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if embedding.Valid && embedding.String != "" && embedding.String != "null" {
			if err := json.Unmarshal([]byte(embedding.String), &ch.Embedding); err != nil {
				return nil, fmt.Errorf("failed to unmarshal embedding for chunk %s: %w", ch.ID, err)
			}
		}
		ch.EmbeddingGenerated = embedded == 1
		ch.EmbeddingGeneratedAt = timePtr(embeddedAt)
		ch.CreatedAt = unixTime(createdAt)
		ch.Author = author.String
		ch.PubDate = unixTime(pubDate)

		chunks = append(chunks, ch)
	}

	return chunks, rows.Err()
}

// RecentChunks returns embedded chunks of embedded articles published or
// stored since the cutoff, newest article first, chunks in index order.
func (c *Client) RecentChunks(ctx context.Context, since time.Time) ([]models.ChunkWithArticle, error) {
	b := sq.Select(chunkWithArticleColumns).
		From("article_chunks ch").
		Join("articles a ON a.id = ch.article_id").
		Where(sq.Eq{"a.embedding_generated": 1, "ch.embedding_generated": 1}).
		Where(sq.Or{sq.GtOrEq{"a.pub_date": since.Unix()}, sq.GtOrEq{"a.created_at": since.Unix()}}).
		OrderBy("a.created_at DESC", "a.id", "ch.chunk_index ASC")

	return c.queryChunks(ctx, b)
}

// ChunksForArticles returns the embedded chunks of the given articles.
func (c *Client) ChunksForArticles(ctx context.Context, articleIDs []string) ([]models.ChunkWithArticle, error) {
	if len(articleIDs) == 0 {
		return nil, nil
	}

	b := sq.Select(chunkWithArticleColumns).
		From("article_chunks ch").
		Join("articles a ON a.id = ch.article_id").
		Where(sq.Eq{"ch.article_id": articleIDs, "ch.embedding_generated": 1}).
		OrderBy("ch.article_id", "ch.chunk_index ASC")

	return c.queryChunks(ctx, b)
}
