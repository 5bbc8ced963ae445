// Package app assembles the pipeline components from configuration. Both the
// API server and the one-shot CLI build on it.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/analysis"
	"github.com/newsprism/backend/internal/cache/redis"
	"github.com/newsprism/backend/internal/discovery"
	"github.com/newsprism/backend/internal/feeds"
	"github.com/newsprism/backend/internal/ingestion"
	"github.com/newsprism/backend/internal/kg/neo4j"
	"github.com/newsprism/backend/internal/language"
	"github.com/newsprism/backend/internal/llm"
	"github.com/newsprism/backend/internal/metrics"
	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/internal/queue"
	"github.com/newsprism/backend/internal/relevance"
	"github.com/newsprism/backend/internal/scheduler"
	"github.com/newsprism/backend/internal/scraper"
	"github.com/newsprism/backend/internal/scraper/direct"
	"github.com/newsprism/backend/internal/scraper/firecrawl"
	"github.com/newsprism/backend/internal/storage/models"
	"github.com/newsprism/backend/internal/storage/sqlite"
	"github.com/newsprism/backend/internal/vector/zilliz"
	"github.com/newsprism/backend/internal/worker"
	"github.com/newsprism/backend/pkg/config"
	"github.com/newsprism/backend/pkg/logger"
)

type App struct {
	Config *config.Config
	Store  *sqlite.Client
	Cache  *redis.Client
	Vector *zilliz.Client
	Graph  *neo4j.Client

	Discoverer *discovery.Discoverer
	Queue      *queue.Worker
	Embeddings *ingestion.Processor
	Analyzer   *analysis.Analyzer
	Feeds      *feeds.Fetcher
	Runner     *worker.Runner

	logger *zap.Logger
}

// New opens the stores and builds every stage. Optional backends (redis,
// zilliz, neo4j) that fail to connect are logged and left disabled.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	log = logger.OrNop(log)
	metrics.Init()

	store, err := sqlite.NewClient(cfg.SQLite.Path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	if err := store.InitSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := store.SeedWebsites(ctx, websiteSeeds(cfg.Websites)); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to seed websites: %w", err)
	}
	if err := store.SeedFeeds(ctx, feedSeeds(cfg.Feeds.Sources)); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to seed feeds: %w", err)
	}

	a := &App{Config: cfg, Store: store, logger: log.Named("app")}

	if cfg.Redis.Enabled {
		c, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			a.logger.Warn("Redis unavailable, continuing without cache and locks", zap.Error(err))
		} else {
			a.Cache = c
		}
	}

	if cfg.Zilliz.Enabled {
		c, err := zilliz.NewClient(ctx, cfg.Zilliz.Endpoint, cfg.Zilliz.APIKey, cfg.Zilliz.CollectionName, cfg.Zilliz.VectorDim, log)
		if err == nil {
			err = c.CreateCollection(ctx)
			if err != nil {
				c.Close()
			}
		}
		if err != nil {
			a.logger.Warn("Vector index unavailable, continuing without mirror", zap.Error(err))
		} else {
			a.Vector = c
		}
	}

	if cfg.Neo4j.Enabled {
		c, err := neo4j.NewClient(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database, log)
		if err == nil {
			err = c.EnsureConstraints(ctx)
			if err != nil {
				c.Close(ctx)
			}
		}
		if err != nil {
			a.logger.Warn("Neo4j unavailable, continuing without topic graph", zap.Error(err))
		} else {
			a.Graph = c
		}
	}

	var cache llm.EmbeddingCache
	if a.Cache != nil {
		cache = a.Cache
	}
	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		CacheTTL:       cfg.Redis.EmbeddingTTL,
	}, cache, log)

	pageScraper := newScraper(cfg.Scraper, log)
	filter := relevance.New(cfg.Relevance.URLKeywords, cfg.Relevance.ContentKeywords)
	detector := language.NewDetector()

	a.Discoverer = discovery.New(store, pageScraper, filter, cfg.Discovery.ExistenceBatchSize, log)

	a.Queue = queue.NewWorker(store, pageScraper, filter, detector, queue.Options{
		BatchSize:   cfg.Queue.BatchSize,
		MaxAttempts: cfg.Queue.MaxAttempts,
		StaleAfter:  cfg.Queue.StaleAfter,
	}, log)

	var mirror ingestion.VectorMirror
	if a.Vector != nil {
		mirror = a.Vector
	}
	a.Embeddings = ingestion.NewProcessor(store, llmClient, mirror, ingestion.Options{
		ChunkSize:    cfg.Embedding.ChunkSize,
		OverlapRatio: cfg.Embedding.OverlapRatio,
		Delay:        cfg.Embedding.Delay,
		BatchLimit:   cfg.Embedding.BatchLimit,
	}, log)

	var graph analysis.GraphRecorder
	if a.Graph != nil {
		graph = a.Graph
	}
	a.Analyzer = analysis.NewAnalyzer(store, llmClient, graph, analysis.Options{
		HoursBack:    cfg.Analysis.HoursBack,
		Threshold:    cfg.Analysis.SimilarityThreshold,
		ContentLimit: cfg.Analysis.ContentLimit,
	}, log)

	a.Feeds = feeds.NewFetcher(store, detector, feeds.Options{
		ItemsPerFeed: cfg.Feeds.ItemsPerFeed,
		Timeout:      time.Duration(cfg.Feeds.TimeoutSec) * time.Second,
		UserAgent:    cfg.Scraper.UserAgent,
		TitleOnly:    cfg.Feeds.TitleOnly,
	}, log)

	var (
		locker  worker.Locker
		counter worker.Counter
	)
	if a.Cache != nil {
		locker, counter = a.Cache, a.Cache
	}
	a.Runner = worker.NewRunner(worker.Options{}, locker, counter, log)

	return a, nil
}

func newScraper(cfg config.ScraperConfig, log *zap.Logger) scraper.Scraper {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if cfg.Provider == "direct" {
		return direct.NewClient(cfg.UserAgent, timeout, cfg.MapLimit, log)
	}
	return firecrawl.NewClient(cfg.APIKey, cfg.BaseURL, timeout, cfg.MapLimit, log)
}

func websiteSeeds(seeds []config.WebsiteSeed) []models.Website {
	out := make([]models.Website, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, models.Website{
			URL:             s.URL,
			Name:            s.Name,
			Description:     s.Description,
			Category:        s.Category,
			IsActive:        s.Active,
			ScrapingEnabled: s.ScrapingEnabled,
		})
	}
	return out
}

func feedSeeds(seeds []config.FeedSeed) []models.Feed {
	out := make([]models.Feed, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, models.Feed{
			URL:         s.URL,
			Name:        s.Name,
			Description: s.Description,
			Category:    s.Category,
			IsActive:    s.Active,
		})
	}
	return out
}

// Start runs the background runner, wires the scrape-to-embed trigger and,
// when enabled, the stage scheduler.
func (a *App) Start(ctx context.Context) *scheduler.Scheduler {
	a.Runner.Start(ctx)

	a.Queue.OnArticle(func(articleID string) {
		if _, _, err := a.Runner.Submit(a.EmbedArticleTask(articleID)); err != nil {
			a.logger.Warn("Failed to queue article embedding", zap.String("article_id", articleID), zap.Error(err))
		}
	})

	if !a.Config.Schedule.Enabled {
		return nil
	}

	intervals := map[pipeline.Stage]time.Duration{
		pipeline.StageDiscover: a.Config.Schedule.Discover,
		pipeline.StageScrape:   a.Config.Schedule.Scrape,
		pipeline.StageEmbed:    a.Config.Schedule.Embed,
		pipeline.StageAnalyze:  a.Config.Schedule.Analyze,
	}
	if a.Config.Feeds.Enabled {
		intervals[pipeline.StageFeeds] = a.Config.Schedule.Feeds
	}

	s := scheduler.New(a.Runner, a.StageTask, intervals, a.logger)
	s.Start(ctx)
	return s
}

// Close stops the runner and releases every backend.
func (a *App) Close(ctx context.Context) {
	a.Runner.Stop()
	if a.Graph != nil {
		a.Graph.Close(ctx)
	}
	if a.Vector != nil {
		a.Vector.Close()
	}
	if a.Cache != nil {
		a.Cache.Close()
	}
	a.Store.Close()
}

// Ready pings the record store and, when enabled, redis.
func (a *App) Ready(ctx context.Context) error {
	if err := a.Store.Ping(ctx); err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	if a.Cache != nil {
		if err := a.Cache.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
