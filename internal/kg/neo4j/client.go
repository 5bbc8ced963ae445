package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/metrics"
	"github.com/newsprism/backend/internal/storage/models"
	"github.com/newsprism/backend/pkg/circuitbreaker"
	"github.com/newsprism/backend/pkg/logger"
	"github.com/newsprism/backend/pkg/retry"
)

// Client keeps a coverage graph of sources, articles and analysed topics:
// (:Source)-[:PUBLISHED]->(:Article)-[:COVERS]->(:Topic), plus a FRAMES edge
// from each source to the topic carrying that source's perspective.
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	logger      *zap.Logger
}

// SourceCoverage is one row of a source's topic history.
type SourceCoverage struct {
	TopicID      string `json:"topic_id"`
	TopicSummary string `json:"topic_summary"`
	Sentiment    string `json:"sentiment"`
	Articles     int    `json:"articles"`
}

func NewClient(ctx context.Context, uri, username, password, database string, log *zap.Logger) (*Client, error) {
	log = logger.OrNop(log).Named("neo4j")

	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	err = driver.VerifyConnectivity(ctx)
	if err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	if database == "" {
		database = "neo4j"
	}

	cb := circuitbreaker.New("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OnStateChange:    metrics.BreakerStateChanged,
		Logger:           log,
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         log,
	}

	log.Info("Neo4j client initialized", zap.String("uri", uri), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
		logger:      log,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// EnsureConstraints creates the uniqueness constraints the MERGE statements rely on.
func (c *Client) EnsureConstraints(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT source_name IF NOT EXISTS FOR (s:Source) REQUIRE s.name IS UNIQUE`,
		`CREATE CONSTRAINT article_id IF NOT EXISTS FOR (a:Article) REQUIRE a.id IS UNIQUE`,
		`CREATE CONSTRAINT topic_id IF NOT EXISTS FOR (t:Topic) REQUIRE t.id IS UNIQUE`,
	}

	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		for _, stmt := range statements {
			if _, err := session.Run(ctx, stmt, nil); err != nil {
				return fmt.Errorf("failed to create constraint: %w", err)
			}
		}
		return nil
	})
}

const recordTopicQuery = `
	MERGE (t:Topic {id: $topic_id})
	SET t.summary = $topic_summary,
	    t.aggregate_summary = $aggregate_summary,
	    t.analysis_id = $analysis_id,
	    t.fallback = $fallback,
	    t.analysed_at = $analysed_at
`

const recordArticlesQuery = `
	UNWIND $articles AS art
	MERGE (s:Source {name: art.source})
	MERGE (a:Article {id: art.id})
	SET a.title = art.title,
	    a.link = art.link
	MERGE (s)-[:PUBLISHED]->(a)
	WITH a
	MATCH (t:Topic {id: $topic_id})
	MERGE (a)-[:COVERS]->(t)
`

const recordPerspectivesQuery = `
	UNWIND $perspectives AS p
	MERGE (s:Source {name: p.source_name})
	SET s.category = p.source_category,
	    s.country = p.source_country
	WITH s, p
	MATCH (t:Topic {id: $topic_id})
	MERGE (s)-[f:FRAMES]->(t)
	SET f.sentiment = p.sentiment,
	    f.key_themes = p.key_themes,
	    f.article_count = p.article_count
`

// analysisParams flattens an analysis into driver-friendly parameter maps.
// Articles without a resolved reference still get a node keyed by id.
func analysisParams(a *models.ComparativeAnalysis, refs map[string]models.ArticleRef) map[string]any {
	articles := make([]any, 0, len(a.ArticleIDs))
	for _, id := range a.ArticleIDs {
		ref, ok := refs[id]
		if !ok {
			ref = models.ArticleRef{ID: id, Source: "unknown"}
		}
		articles = append(articles, map[string]any{
			"id":     id,
			"title":  ref.Title,
			"link":   ref.Link,
			"source": ref.Source,
		})
	}

	perspectives := make([]any, 0, len(a.SourcePerspectives))
	for _, p := range a.SourcePerspectives {
		themes := make([]any, 0, len(p.KeyThemes))
		for _, th := range p.KeyThemes {
			themes = append(themes, th)
		}
		perspectives = append(perspectives, map[string]any{
			"source_name":     p.SourceName,
			"source_category": p.SourceCategory,
			"source_country":  p.SourceCountry,
			"sentiment":       string(p.Sentiment),
			"key_themes":      themes,
			"article_count":   int64(p.ArticleCount),
		})
	}

	return map[string]any{
		"topic_id":          a.TopicID,
		"topic_summary":     a.TopicSummary,
		"aggregate_summary": a.AggregateSummary,
		"analysis_id":       a.ID,
		"fallback":          a.Fallback,
		"analysed_at":       a.AnalysisTimestamp.Unix(),
		"articles":          articles,
		"perspectives":      perspectives,
	}
}

// RecordAnalysis writes a stored analysis into the graph in one write transaction.
func (c *Client) RecordAnalysis(ctx context.Context, a *models.ComparativeAnalysis, refs map[string]models.ArticleRef) error {
	params := analysisParams(a, refs)

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			for _, q := range []string{recordTopicQuery, recordArticlesQuery, recordPerspectivesQuery} {
				res, err := tx.Run(ctx, q, params)
				if err != nil {
					return nil, err
				}
				if _, err := res.Consume(ctx); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record analysis: %w", err)
	}

	c.logger.Debug("Analysis recorded in graph",
		zap.String("topic_id", a.TopicID),
		zap.Int("articles", len(a.ArticleIDs)),
	)
	return nil
}

// SourceTopics lists the most recent topics a source has framed.
func (c *Client) SourceTopics(ctx context.Context, source string, limit int) ([]SourceCoverage, error) {
	query := `
		MATCH (s:Source {name: $source})-[f:FRAMES]->(t:Topic)
		OPTIONAL MATCH (s)-[:PUBLISHED]->(a:Article)-[:COVERS]->(t)
		RETURN t.id AS topic_id, t.summary AS summary, f.sentiment AS sentiment, count(a) AS articles
		ORDER BY t.analysed_at DESC
		LIMIT $limit
	`

	var out []SourceCoverage
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		out = out[:0]
		result, err := session.Run(ctx, query, map[string]any{
			"source": source,
			"limit":  int64(limit),
		})
		if err != nil {
			return err
		}

		for result.Next(ctx) {
			record := result.Record()
			topicID, _ := record.Get("topic_id")
			summary, _ := record.Get("summary")
			sentiment, _ := record.Get("sentiment")
			articles, _ := record.Get("articles")

			row := SourceCoverage{}
			row.TopicID, _ = topicID.(string)
			row.TopicSummary, _ = summary.(string)
			row.Sentiment, _ = sentiment.(string)
			if n, ok := articles.(int64); ok {
				row.Articles = int(n)
			}
			out = append(out, row)
		}
		return result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query source topics: %w", err)
	}

	return out, nil
}
