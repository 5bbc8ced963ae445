package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/analysis"
	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/internal/worker"
	"github.com/newsprism/backend/pkg/logger"
)

type RunQueue interface {
	Submit(task worker.Task) (string, bool, error)
	Get(id string) (worker.Run, bool)
}

// TaskBuilder turns trigger requests into runnable tasks.
type TaskBuilder interface {
	StageTask(stage pipeline.Stage) worker.Task
	AnalyzeTask(p analysis.Params) worker.Task
	EmbedArticleTask(articleID string) worker.Task
}

type PipelineHandler struct {
	runs   RunQueue
	tasks  TaskBuilder
	logger *zap.Logger
}

func NewPipelineHandler(runs RunQueue, tasks TaskBuilder, log *zap.Logger) *PipelineHandler {
	return &PipelineHandler{
		runs:   runs,
		tasks:  tasks,
		logger: logger.OrNop(log).Named("pipeline_handler"),
	}
}

// TriggerStage queues a stage run and answers 202 with its run id.
func (h *PipelineHandler) TriggerStage(c *fiber.Ctx) error {
	stage, err := pipeline.ParseStage(c.Params("stage"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	task := h.tasks.StageTask(stage)
	if stage == pipeline.StageAnalyze {
		hours, _ := strconv.Atoi(c.Query("hours_back"))
		threshold, _ := strconv.ParseFloat(c.Query("similarity_threshold"), 64)
		task = h.tasks.AnalyzeTask(analysis.Params{HoursBack: hours, Threshold: threshold})
	}

	return h.submit(c, task)
}

// EmbedArticle queues a forced re-embedding of one article.
func (h *PipelineHandler) EmbedArticle(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "article id is required",
		})
	}
	return h.submit(c, h.tasks.EmbedArticleTask(id))
}

func (h *PipelineHandler) submit(c *fiber.Ctx, task worker.Task) error {
	id, created, err := h.runs.Submit(task)
	if err != nil {
		h.logger.Warn("Failed to submit run", zap.String("stage", string(task.Stage)), zap.Error(err))
		status := fiber.StatusInternalServerError
		if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrStopped) {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	run, _ := h.runs.Get(id)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"run_id":  id,
		"stage":   task.Stage,
		"status":  run.Status,
		"created": created,
	})
}

func (h *PipelineHandler) GetRun(c *fiber.Ctx) error {
	run, ok := h.runs.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "run not found",
		})
	}
	return c.JSON(run)
}
