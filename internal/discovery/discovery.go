// Package discovery maps configured news sites and queues scrape jobs for
// links the pipeline has not seen yet.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/metrics"
	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/internal/relevance"
	"github.com/newsprism/backend/internal/storage/models"
	"github.com/newsprism/backend/pkg/logger"
)

const DefaultExistenceBatchSize = 100

var socialDomains = []string{
	"twitter.com", "x.com", "facebook.com", "linkedin.com",
	"instagram.com", "youtube.com", "t.me",
}

type Store interface {
	ActiveWebsites(ctx context.Context) ([]models.Website, error)
	ExistingLinks(ctx context.Context, urls []string, batchSize int) (map[string]struct{}, error)
	InsertJobs(ctx context.Context, jobs []models.ScrapeJob) (int, error)
	TouchWebsite(ctx context.Context, id int64, at time.Time) error
}

type SiteMapper interface {
	MapSite(ctx context.Context, siteURL string) ([]string, error)
}

type Discoverer struct {
	store     Store
	mapper    SiteMapper
	filter    *relevance.Filter
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

func New(store Store, mapper SiteMapper, filter *relevance.Filter, batchSize int, log *zap.Logger) *Discoverer {
	if batchSize <= 0 {
		batchSize = DefaultExistenceBatchSize
	}
	return &Discoverer{
		store:     store,
		mapper:    mapper,
		filter:    filter,
		batchSize: batchSize,
		logger:    logger.OrNop(log).Named("discovery"),
		now:       time.Now,
	}
}

// SiteResult is the outcome of discovering one website.
type SiteResult struct {
	Mapped      int
	Filtered    int
	Existing    int
	Irrelevant  int
	JobsCreated int
}

// Run discovers every active, scraping-enabled website. A failing site is
// logged and counted; the remaining sites are still processed.
func (d *Discoverer) Run(ctx context.Context) (*pipeline.Summary, error) {
	sites, err := d.store.ActiveWebsites(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load websites: %w", err)
	}

	summary := pipeline.NewSummary(pipeline.StageDiscover)
	for _, site := range sites {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		res, err := d.Discover(ctx, site)
		if err != nil {
			summary.Errored++
			d.logger.Error("Discovery failed for website",
				zap.String("website", site.Name),
				zap.String("url", site.URL),
				zap.Error(err),
			)
			continue
		}

		summary.Processed++
		summary.Add("mapped", res.Mapped)
		summary.Add("existing", res.Existing)
		summary.Add("irrelevant", res.Irrelevant)
		summary.Add("jobs_created", res.JobsCreated)
	}

	d.logger.Info("Discovery run finished",
		zap.Int("websites", len(sites)),
		zap.Int("errored", summary.Errored),
		zap.Int("jobs_created", summary.Details["jobs_created"]),
	)
	return summary, nil
}

// Discover maps one website and queues its new, relevant links.
func (d *Discoverer) Discover(ctx context.Context, site models.Website) (*SiteResult, error) {
	links, err := d.mapper.MapSite(ctx, site.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to map site: %w", err)
	}

	res := &SiteResult{Mapped: len(links)}

	candidates := FilterLinks(site.URL, links)
	res.Filtered = len(links) - len(candidates)
	metrics.DiscoveredURLs.WithLabelValues("filtered").Add(float64(res.Filtered))

	if len(candidates) > 0 {
		existing, err := d.store.ExistingLinks(ctx, candidates, d.batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing links: %w", err)
		}

		createdAt := d.now()
		jobs := make([]models.ScrapeJob, 0, len(candidates))
		for _, link := range candidates {
			if _, ok := existing[link]; ok {
				res.Existing++
				continue
			}
			if !d.filter.URLRelevant(link, site.Category) {
				res.Irrelevant++
				continue
			}
			jobs = append(jobs, models.ScrapeJob{
				ID:        uuid.New().String(),
				URL:       link,
				WebsiteID: site.ID,
				Status:    models.JobPending,
				CreatedAt: createdAt,
			})
		}
		metrics.DiscoveredURLs.WithLabelValues("existing").Add(float64(res.Existing))
		metrics.DiscoveredURLs.WithLabelValues("irrelevant").Add(float64(res.Irrelevant))

		if len(jobs) > 0 {
			n, err := d.store.InsertJobs(ctx, jobs)
			if err != nil {
				return nil, fmt.Errorf("failed to insert jobs: %w", err)
			}
			res.JobsCreated = n
			metrics.DiscoveredURLs.WithLabelValues("queued").Add(float64(n))
		}
	}

	if err := d.store.TouchWebsite(ctx, site.ID, d.now()); err != nil {
		d.logger.Warn("Failed to stamp website", zap.Int64("website_id", site.ID), zap.Error(err))
	}

	d.logger.Info("Website discovered",
		zap.String("website", site.Name),
		zap.Int("mapped", res.Mapped),
		zap.Int("existing", res.Existing),
		zap.Int("irrelevant", res.Irrelevant),
		zap.Int("jobs_created", res.JobsCreated),
	)
	return res, nil
}

// FilterLinks drops the homepage, non-web schemes, social media links,
// unparseable URLs and duplicates, keeping the first-seen order.
func FilterLinks(baseURL string, links []string) []string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))

	for _, raw := range links {
		link := strings.TrimSpace(raw)
		if link == "" {
			continue
		}
		lower := strings.ToLower(link)
		if strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
			continue
		}
		if strings.TrimRight(link, "/") == base {
			continue
		}

		u, err := url.Parse(link)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		if u.Path == "" || u.Path == "/" {
			if u.RawQuery == "" {
				continue
			}
		}
		if isSocial(u.Hostname()) {
			continue
		}

		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}

func isSocial(host string) bool {
	host = strings.ToLower(host)
	for _, d := range socialDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
