package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/storage/models"
)

// ErrDuplicateAnalysis means an analysis over the same article set is already stored.
var ErrDuplicateAnalysis = errors.New("analysis for this article set already exists")

// articleSetKey is the canonical, order-independent encoding of an article id set.
func articleSetKey(ids []string) (string, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	data, err := json.Marshal(sorted)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Client) AnalysisExists(ctx context.Context, articleIDs []string) (bool, error) {
	key, err := articleSetKey(articleIDs)
	if err != nil {
		return false, fmt.Errorf("failed to encode article ids: %w", err)
	}

	var n int
	err = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comparative_analyses WHERE article_ids = ?`, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check analysis: %w", err)
	}
	return n > 0, nil
}

// InsertAnalysis stores an analysis. The article id set is unique across
// analyses; a second insert for the same set returns ErrDuplicateAnalysis.
func (c *Client) InsertAnalysis(ctx context.Context, a *models.ComparativeAnalysis) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = c.now()
	}

	key, err := articleSetKey(a.ArticleIDs)
	if err != nil {
		return fmt.Errorf("failed to encode article ids: %w", err)
	}
	perspectives := a.SourcePerspectives
	if perspectives == nil {
		perspectives = []models.SourcePerspective{}
	}
	perspectivesJSON, err := json.Marshal(perspectives)
	if err != nil {
		return fmt.Errorf("failed to marshal perspectives: %w", err)
	}

	query := `
		INSERT INTO comparative_analyses (id, topic_id, topic_summary, aggregate_summary, source_perspectives,
			article_ids, similarity_threshold, total_articles, fallback, analysis_timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.ExecContext(ctx, query,
		a.ID,
		a.TopicID,
		a.TopicSummary,
		a.AggregateSummary,
		string(perspectivesJSON),
		key,
		a.SimilarityThreshold,
		a.TotalArticles,
		boolToInt(a.Fallback),
		a.AnalysisTimestamp.Unix(),
		a.CreatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: comparative_analyses.article_ids") {
			return ErrDuplicateAnalysis
		}
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	c.logger.Info("Comparative analysis stored",
		zap.String("analysis_id", a.ID),
		zap.String("topic", a.TopicSummary),
		zap.Int("articles", a.TotalArticles),
		zap.Bool("fallback", a.Fallback),
	)
	return nil
}

// ListAnalyses returns analyses stamped at or after since, newest first.
func (c *Client) ListAnalyses(ctx context.Context, since time.Time, limit, offset int) ([]models.ComparativeAnalysis, error) {
	query := `
		SELECT id, topic_id, topic_summary, aggregate_summary, source_perspectives, article_ids,
			similarity_threshold, total_articles, fallback, analysis_timestamp, created_at
		FROM comparative_analyses
		WHERE analysis_timestamp >= ?
		ORDER BY analysis_timestamp DESC, created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := c.db.QueryContext(ctx, query, since.Unix(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	analyses := make([]models.ComparativeAnalysis, 0)
	for rows.Next() {
		var a models.ComparativeAnalysis
		var perspectivesJSON, idsJSON string
		var fallback int
		var analysedAt, createdAt int64

		err := rows.Scan(&a.ID, &a.TopicID, &a.TopicSummary, &a.AggregateSummary, &perspectivesJSON, &idsJSON,
			&a.SimilarityThreshold, &a.TotalArticles, &fallback, &analysedAt, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(perspectivesJSON), &a.SourcePerspectives); err != nil {
			return nil, fmt.Errorf("failed to unmarshal perspectives: %w", err)
		}
		if err := json.Unmarshal([]byte(idsJSON), &a.ArticleIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal article ids: %w", err)
		}
		a.Fallback = fallback == 1
		a.AnalysisTimestamp = unixTime(analysedAt)
		a.CreatedAt = unixTime(createdAt)

		analyses = append(analyses, a)
	}

	return analyses, rows.Err()
}
