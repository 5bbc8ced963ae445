// Package queue consumes pending scrape jobs: it scrapes each URL, decides
// relevance and persists the resulting article.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/metrics"
	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/internal/relevance"
	"github.com/newsprism/backend/internal/scraper"
	"github.com/newsprism/backend/internal/storage/models"
	"github.com/newsprism/backend/internal/storage/sqlite"
	"github.com/newsprism/backend/pkg/logger"
	"github.com/newsprism/backend/pkg/utils"
)

const (
	DefaultBatchSize   = 3
	DefaultMaxAttempts = 3
	DefaultStaleAfter  = 15 * time.Minute

	notRelevantLog = "Article content not relevant to Iran"
	staleLog       = "processing timed out"
)

type Store interface {
	ReclaimStale(ctx context.Context, cutoff time.Time, maxAttempts int, reason string) (requeued, failed int, err error)
	PendingJobs(ctx context.Context, limit int) ([]models.ScrapeJob, error)
	MarkProcessing(ctx context.Context, id string, at time.Time) (int, error)
	SetJobStatus(ctx context.Context, id string, status models.JobStatus, errorLog *string) error
	GetWebsite(ctx context.Context, id int64) (*models.Website, error)
	UpsertArticle(ctx context.Context, a *models.Article) (string, error)
}

type PageScraper interface {
	Scrape(ctx context.Context, pageURL string) (*scraper.Page, error)
}

type LanguageDetector interface {
	Detect(text string) string
}

type Options struct {
	BatchSize   int
	MaxAttempts int
	StaleAfter  time.Duration
}

type Worker struct {
	store       Store
	scraper     PageScraper
	filter      *relevance.Filter
	detector    LanguageDetector
	batchSize   int
	maxAttempts int
	staleAfter  time.Duration
	onArticle   func(articleID string)
	logger      *zap.Logger
	now         func() time.Time
}

// NewWorker builds a queue worker. detector may be nil.
func NewWorker(store Store, s PageScraper, filter *relevance.Filter, detector LanguageDetector, opts Options, log *zap.Logger) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	return &Worker{
		store:       store,
		scraper:     s,
		filter:      filter,
		detector:    detector,
		batchSize:   opts.BatchSize,
		maxAttempts: opts.MaxAttempts,
		staleAfter:  opts.StaleAfter,
		logger:      logger.OrNop(log).Named("queue"),
		now:         time.Now,
	}
}

// OnArticle registers a callback invoked with the id of every stored article.
func (w *Worker) OnArticle(fn func(articleID string)) {
	w.onArticle = fn
}

// ProcessBatch reclaims stale jobs and then works through up to batchSize of
// the oldest pending jobs, one at a time.
func (w *Worker) ProcessBatch(ctx context.Context) (*pipeline.Summary, error) {
	summary := pipeline.NewSummary(pipeline.StageScrape)

	requeued, failed, err := w.store.ReclaimStale(ctx, w.now().Add(-w.staleAfter), w.maxAttempts, staleLog)
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	if requeued+failed > 0 {
		w.logger.Warn("Reclaimed stale jobs", zap.Int("requeued", requeued), zap.Int("failed", failed))
		summary.Add("stale_requeued", requeued)
		summary.Add("stale_failed", failed)
	}

	jobs, err := w.store.PendingJobs(ctx, w.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending jobs: %w", err)
	}

	sites := make(map[int64]*models.Website)
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		status, err := w.processJob(ctx, job, sites)
		if status == "" {
			if errors.Is(err, sqlite.ErrNotFound) {
				summary.Skipped++
			} else {
				summary.Errored++
				w.logger.Error("Failed to claim job", zap.String("job_id", job.ID), zap.Error(err))
			}
			continue
		}

		switch {
		case err != nil:
			summary.Errored++
		case status == models.JobNotRelevant:
			summary.Skipped++
		default:
			summary.Processed++
		}
		summary.Add(string(status), 1)
		metrics.ScrapeJobs.WithLabelValues(string(status)).Inc()
	}

	w.logger.Info("Scrape batch finished",
		zap.Int("jobs", len(jobs)),
		zap.Int("completed", summary.Processed),
		zap.Int("errored", summary.Errored),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// processJob runs one job through the state machine and returns the status
// it was left in. An empty status means the job was claimed elsewhere.
func (w *Worker) processJob(ctx context.Context, job models.ScrapeJob, sites map[int64]*models.Website) (models.JobStatus, error) {
	log := w.logger.With(zap.String("job_id", job.ID), zap.String("url", job.URL))

	attempts, err := w.store.MarkProcessing(ctx, job.ID, w.now())
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			log.Debug("Job no longer pending")
		}
		return "", err
	}

	articleID, err := w.ingest(ctx, job, sites)
	if errors.Is(err, pipeline.ErrNotRelevant) {
		msg := notRelevantLog
		if err := w.store.SetJobStatus(ctx, job.ID, models.JobNotRelevant, &msg); err != nil {
			return models.JobProcessing, fmt.Errorf("failed to mark job not relevant: %w", err)
		}
		log.Info("Article not relevant")
		return models.JobNotRelevant, nil
	}

	if err != nil {
		next := models.JobPending
		if attempts >= w.maxAttempts {
			next = models.JobFailed
		}
		msg := err.Error()
		if serr := w.store.SetJobStatus(ctx, job.ID, next, &msg); serr != nil {
			log.Error("Failed to record job error", zap.Error(serr))
		}
		log.Warn("Scrape job failed",
			zap.Int("attempts", attempts),
			zap.String("next_status", string(next)),
			zap.Error(err),
		)
		return next, err
	}

	if err := w.store.SetJobStatus(ctx, job.ID, models.JobCompleted, nil); err != nil {
		return models.JobProcessing, fmt.Errorf("failed to complete job: %w", err)
	}
	log.Info("Scrape job completed", zap.String("article_id", articleID), zap.Int("attempts", attempts))

	if w.onArticle != nil {
		w.onArticle(articleID)
	}
	return models.JobCompleted, nil
}

func (w *Worker) ingest(ctx context.Context, job models.ScrapeJob, sites map[int64]*models.Website) (string, error) {
	site, ok := sites[job.WebsiteID]
	if !ok {
		var err error
		site, err = w.store.GetWebsite(ctx, job.WebsiteID)
		if err != nil {
			return "", fmt.Errorf("failed to load website %d: %w", job.WebsiteID, err)
		}
		sites[job.WebsiteID] = site
	}

	page, err := w.scraper.Scrape(ctx, job.URL)
	if err != nil {
		return "", err
	}

	fields := scraper.ExtractArticle(page, w.now())

	if !w.filter.ContentRelevant(fields.Title, fields.Description, fields.Content, site.Category) {
		return "", pipeline.ErrNotRelevant
	}
	if site.Category != models.CategoryIranSpecific {
		if k, ok := w.filter.MatchedKeyword(fields.Title + " " + fields.Description + " " + fields.Content); ok {
			w.logger.Debug("Article matched relevance keyword", zap.String("url", job.URL), zap.String("keyword", k))
		}
	}

	websiteID := site.ID
	article := &models.Article{
		Title:       fields.Title,
		Link:        job.URL,
		Description: fields.Description,
		Content:     fields.Content,
		Source:      site.Name,
		Category:    site.Category,
		Author:      fields.Author,
		PubDate:     fields.PubDate,
		Tags:        fields.Tags,
		ImageURL:    fields.ImageURL,
		WebsiteID:   &websiteID,
		WordCount:   utils.WordCount(fields.Content),
	}
	if w.detector != nil {
		article.LanguageCode = w.detector.Detect(fields.Title + "\n" + fields.Description + "\n" + utils.Truncate(fields.Content, 1000))
	}

	id, err := w.store.UpsertArticle(ctx, article)
	if err != nil {
		return "", err
	}
	metrics.ArticlesUpserted.WithLabelValues("scrape").Inc()
	return id, nil
}
