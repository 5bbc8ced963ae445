package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/storage/models"
)

// UpsertArticle inserts an article or refreshes the one with the same link.
// A refreshed article loses its embedding flag so the next embedding batch
// regenerates its chunks. It returns the stored article id.
func (c *Client) UpsertArticle(ctx context.Context, a *models.Article) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := c.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tags: %w", err)
	}

	var websiteID sql.NullInt64
	if a.WebsiteID != nil {
		websiteID = sql.NullInt64{Int64: *a.WebsiteID, Valid: true}
	}

	query := `
		INSERT INTO articles (id, title, link, description, content, source, category, author, pub_date,
			tags, image_url, language_code, website_id, embedding_generated, word_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(link) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			content = excluded.content,
			source = excluded.source,
			category = excluded.category,
			author = excluded.author,
			pub_date = excluded.pub_date,
			tags = excluded.tags,
			image_url = excluded.image_url,
			language_code = excluded.language_code,
			website_id = COALESCE(excluded.website_id, articles.website_id),
			embedding_generated = 0,
			embedding_generated_at = NULL,
			word_count = excluded.word_count,
			updated_at = excluded.updated_at
		RETURNING id
	`

	var id string
	err = c.db.QueryRowContext(ctx, query,
		a.ID,
		a.Title,
		a.Link,
		a.Description,
		a.Content,
		a.Source,
		a.Category,
		a.Author,
		a.PubDate.Unix(),
		string(tagsJSON),
		a.ImageURL,
		a.LanguageCode,
		websiteID,
		a.WordCount,
		a.CreatedAt.Unix(),
		a.UpdatedAt.Unix(),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to upsert article: %w", err)
	}

	a.ID = id
	c.logger.Debug("Article upserted", zap.String("article_id", id), zap.String("link", a.Link))
	return id, nil
}

const articleColumns = `id, title, link, description, content, source, category, author, pub_date, tags,
	image_url, language_code, website_id, embedding_generated, embedding_generated_at, word_count, created_at, updated_at`

func scanArticle(row interface{ Scan(...any) error }) (*models.Article, error) {
	var a models.Article
	var description, content, category, author, tags, imageURL, lang sql.NullString
	var pubDate, createdAt, updatedAt int64
	var websiteID, embeddedAt sql.NullInt64
	var embedded int

	err := row.Scan(&a.ID, &a.Title, &a.Link, &description, &content, &a.Source, &category, &author, &pubDate, &tags,
		&imageURL, &lang, &websiteID, &embedded, &embeddedAt, &a.WordCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.Description = description.String
	a.Content = content.String
	a.Category = category.String
	a.Author = author.String
	a.ImageURL = imageURL.String
	a.LanguageCode = lang.String
	a.PubDate = unixTime(pubDate)
	a.CreatedAt = unixTime(createdAt)
	a.UpdatedAt = unixTime(updatedAt)
	a.EmbeddingGenerated = embedded == 1
	a.EmbeddingGeneratedAt = timePtr(embeddedAt)
	if websiteID.Valid {
		id := websiteID.Int64
		a.WebsiteID = &id
	}

	a.Tags = []string{}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &a.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	return &a, nil
}

func (c *Client) GetArticle(ctx context.Context, id string) (*models.Article, error) {
	a, err := scanArticle(c.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return a, nil
}

func (c *Client) queryArticles(ctx context.Context, b sq.SelectBuilder) ([]models.Article, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	articles := make([]models.Article, 0)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		articles = append(articles, *a)
	}

	return articles, rows.Err()
}

// ArticlesWithoutEmbeddings returns up to limit articles whose embedding flag
// is false, oldest first.
func (c *Client) ArticlesWithoutEmbeddings(ctx context.Context, limit int) ([]models.Article, error) {
	b := sq.Select(articleColumns).
		From("articles").
		Where(sq.Eq{"embedding_generated": 0}).
		OrderBy("created_at ASC", "rowid ASC").
		Limit(uint64(limit))

	return c.queryArticles(ctx, b)
}

type ArticleFilter struct {
	Source   string
	Category string
	Tag      string
	Limit    int
	Offset   int
}

// ListArticles returns the newest articles matching the filter, without content.
func (c *Client) ListArticles(ctx context.Context, f ArticleFilter) ([]models.Article, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}

	b := sq.Select(articleColumns).From("articles")
	if f.Source != "" {
		b = b.Where(sq.Eq{"source": f.Source})
	}
	if f.Category != "" {
		b = b.Where(sq.Eq{"category": f.Category})
	}
	if f.Tag != "" {
		b = b.Where("EXISTS (SELECT 1 FROM json_each(articles.tags) WHERE json_each.value = ?)", f.Tag)
	}
	b = b.OrderBy("pub_date DESC", "created_at DESC").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset))

	articles, err := c.queryArticles(ctx, b)
	if err != nil {
		return nil, err
	}
	for i := range articles {
		articles[i].Content = ""
	}
	return articles, nil
}

// ArticleRefs resolves ids to display references. Unknown ids are omitted.
func (c *Client) ArticleRefs(ctx context.Context, ids []string) (map[string]models.ArticleRef, error) {
	refs := make(map[string]models.ArticleRef, len(ids))
	if len(ids) == 0 {
		return refs, nil
	}

	query, args, err := sq.Select("id", "title", "source", "link").
		From("articles").
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get article refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.ArticleRef
		if err := rows.Scan(&r.ID, &r.Title, &r.Source, &r.Link); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		refs[r.ID] = r
	}
	return refs, rows.Err()
}

func (c *Client) MarkEmbedded(ctx context.Context, articleID string, at time.Time) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE articles SET embedding_generated = 1, embedding_generated_at = ? WHERE id = ?`,
		at.Unix(), articleID)
	if err != nil {
		return fmt.Errorf("failed to mark article embedded: %w", err)
	}
	return nil
}

// ClearEmbedded resets the flag so the batch embed stage picks the article up again.
func (c *Client) ClearEmbedded(ctx context.Context, articleID string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE articles SET embedding_generated = 0, embedding_generated_at = NULL WHERE id = ?`,
		articleID)
	if err != nil {
		return fmt.Errorf("failed to clear article embedding flag: %w", err)
	}
	return nil
}

func (c *Client) EmbeddingStatus(ctx context.Context) (*models.EmbeddingStatus, error) {
	var total, with int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(embedding_generated), 0) FROM articles`).Scan(&total, &with)
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding status: %w", err)
	}

	status := &models.EmbeddingStatus{
		TotalArticles:     total,
		WithEmbeddings:    with,
		WithoutEmbeddings: total - with,
	}
	if total > 0 {
		status.CompletionPercentage = int(math.Round(float64(with) / float64(total) * 100))
	}
	return status, nil
}
