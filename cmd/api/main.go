package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/api/handlers"
	"github.com/newsprism/backend/internal/app"
	"github.com/newsprism/backend/internal/metrics"
	"github.com/newsprism/backend/internal/middleware/ratelimit"
	"github.com/newsprism/backend/internal/middleware/security"
	"github.com/newsprism/backend/internal/middleware/validation"
	"github.com/newsprism/backend/pkg/config"
	"github.com/newsprism/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("NEWSPRISM_CONFIG"))
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(false, false); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	log.Info("Starting NewsPrism API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to build application", zap.Error(err))
	}
	sched := application.Start(ctx)

	server := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimit,
		Logger:               log,
	})
	defer limiter.Stop()

	server.Use(recover.New())
	server.Use(fiberlogger.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	server.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Logging.Format == "console",
	}))

	pipelineHandler := handlers.NewPipelineHandler(application.Runner, application, log)
	var related handlers.RelatedFinder
	if application.Vector != nil {
		related = application.Vector
	}
	articlesHandler := handlers.NewArticlesHandler(application.Store, application.Embeddings, related, log)
	analysesHandler := handlers.NewAnalysesHandler(application.Analyzer, log)
	var counters handlers.RunCounterReader
	if application.Cache != nil {
		counters = application.Cache
	}
	queueHandler := handlers.NewQueueHandler(application.Store, counters, log)
	var graph handlers.SourceGraph
	if application.Graph != nil {
		graph = application.Graph
	}
	sourcesHandler := handlers.NewSourcesHandler(graph, log)
	eventsHandler := handlers.NewEventsHandler(application.Runner, log)

	server.Get("/metrics", metrics.MetricsHandler())

	api := server.Group("/api/v1", limiter.Middleware(), validation.Middleware(validation.Config{Logger: log}))

	api.Post("/pipeline/:stage", pipelineHandler.TriggerStage)
	api.Get("/runs/:id", pipelineHandler.GetRun)
	api.Get("/queue/status", queueHandler.Status)
	api.Get("/queue/jobs/:id", queueHandler.GetJob)

	api.Get("/articles", articlesHandler.ListArticles)
	api.Get("/articles/:id", articlesHandler.GetArticle)
	api.Get("/articles/:id/related", articlesHandler.RelatedArticles)
	api.Post("/articles/:id/embeddings", pipelineHandler.EmbedArticle)
	api.Get("/embeddings/status", articlesHandler.EmbeddingStatus)

	api.Get("/analyses", analysesHandler.ListAnalyses)
	api.Post("/similarity", analysesHandler.CompareArticles)
	api.Get("/sources/:name/topics", sourcesHandler.SourceTopics)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if err := application.Ready(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
				"error":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	server.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	server.Get("/ws/events", websocket.New(eventsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Server shutting down gracefully...")
	if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn("Server shutdown incomplete", zap.Error(err))
	}
	cancel()
	if sched != nil {
		sched.Wait()
	}
	application.Close(context.Background())
	log.Info("Server stopped")
}
