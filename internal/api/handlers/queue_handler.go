package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/internal/storage/models"
	"github.com/newsprism/backend/internal/storage/sqlite"
	"github.com/newsprism/backend/internal/worker"
	"github.com/newsprism/backend/pkg/logger"
)

type JobStore interface {
	JobCounts(ctx context.Context) (map[models.JobStatus]int, error)
	GetJob(ctx context.Context, id string) (*models.ScrapeJob, error)
}

// RunCounterReader reads the shared per-stage run totals. Optional.
type RunCounterReader interface {
	RunCounter(ctx context.Context, stage, outcome string) (int64, error)
}

var (
	countedStages   = []pipeline.Stage{pipeline.StageDiscover, pipeline.StageScrape, pipeline.StageEmbed, pipeline.StageAnalyze, pipeline.StageFeeds}
	countedOutcomes = []worker.RunStatus{worker.RunSucceeded, worker.RunFailed, worker.RunSkipped}
)

type QueueHandler struct {
	jobs     JobStore
	counters RunCounterReader
	logger   *zap.Logger
}

func NewQueueHandler(jobs JobStore, counters RunCounterReader, log *zap.Logger) *QueueHandler {
	return &QueueHandler{
		jobs:     jobs,
		counters: counters,
		logger:   logger.OrNop(log).Named("queue_handler"),
	}
}

// Status reports scrape jobs per status and, when a shared cache is
// configured, finished runs per stage and outcome.
func (h *QueueHandler) Status(c *fiber.Ctx) error {
	counts, err := h.jobs.JobCounts(c.Context())
	if err != nil {
		h.logger.Error("Failed to count jobs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to count jobs",
		})
	}

	jobs := fiber.Map{}
	for _, s := range []models.JobStatus{models.JobPending, models.JobProcessing, models.JobCompleted, models.JobFailed} {
		jobs[string(s)] = counts[s]
	}
	body := fiber.Map{"jobs": jobs}

	if h.counters != nil {
		runs := fiber.Map{}
		for _, stage := range countedStages {
			outcomes := fiber.Map{}
			for _, outcome := range countedOutcomes {
				n, err := h.counters.RunCounter(c.Context(), string(stage), string(outcome))
				if err != nil {
					h.logger.Warn("Failed to read run counter",
						zap.String("stage", string(stage)),
						zap.String("outcome", string(outcome)),
						zap.Error(err),
					)
					continue
				}
				outcomes[string(outcome)] = n
			}
			runs[string(stage)] = outcomes
		}
		body["runs"] = runs
	}

	return c.JSON(body)
}

func (h *QueueHandler) GetJob(c *fiber.Ctx) error {
	job, err := h.jobs.GetJob(c.Context(), c.Params("id"))
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "job not found",
		})
	}
	if err != nil {
		h.logger.Error("Failed to load job", zap.String("id", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load job",
		})
	}
	return c.JSON(job)
}
