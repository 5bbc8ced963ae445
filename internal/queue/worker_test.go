package queue

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/newsprism/backend/internal/relevance"
	"github.com/newsprism/backend/internal/scraper"
	"github.com/newsprism/backend/internal/storage/models"
	"github.com/newsprism/backend/internal/storage/sqlite"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	jobs     map[string]*models.ScrapeJob
	sites    map[int64]*models.Website
	articles map[string]*models.Article
}

func newMemStore(sites ...models.Website) *memStore {
	s := &memStore{
		jobs:     map[string]*models.ScrapeJob{},
		sites:    map[int64]*models.Website{},
		articles: map[string]*models.Article{},
	}
	for i := range sites {
		s.sites[sites[i].ID] = &sites[i]
	}
	return s
}

func (s *memStore) addJob(id, url string, websiteID int64, created time.Time) {
	s.jobs[id] = &models.ScrapeJob{ID: id, URL: url, WebsiteID: websiteID, Status: models.JobPending, CreatedAt: created}
}

func (s *memStore) ReclaimStale(ctx context.Context, cutoff time.Time, maxAttempts int, reason string) (int, int, error) {
	requeued, failed := 0, 0
	for _, j := range s.jobs {
		if j.Status != models.JobProcessing || j.LastProcessedAt == nil || !j.LastProcessedAt.Before(cutoff) {
			continue
		}
		msg := reason
		j.ErrorLog = &msg
		if j.Attempts < maxAttempts {
			j.Status = models.JobPending
			requeued++
		} else {
			j.Status = models.JobFailed
			failed++
		}
	}
	return requeued, failed, nil
}

func (s *memStore) PendingJobs(ctx context.Context, limit int) ([]models.ScrapeJob, error) {
	out := []models.ScrapeJob{}
	for _, j := range s.jobs {
		if j.Status == models.JobPending {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkProcessing(ctx context.Context, id string, at time.Time) (int, error) {
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobPending {
		return 0, sqlite.ErrNotFound
	}
	j.Status = models.JobProcessing
	j.Attempts++
	j.LastProcessedAt = &at
	return j.Attempts, nil
}

func (s *memStore) SetJobStatus(ctx context.Context, id string, status models.JobStatus, errorLog *string) error {
	j, ok := s.jobs[id]
	if !ok {
		return sqlite.ErrNotFound
	}
	j.Status = status
	j.ErrorLog = errorLog
	return nil
}

func (s *memStore) GetWebsite(ctx context.Context, id int64) (*models.Website, error) {
	w, ok := s.sites[id]
	if !ok {
		return nil, sqlite.ErrNotFound
	}
	return w, nil
}

func (s *memStore) UpsertArticle(ctx context.Context, a *models.Article) (string, error) {
	if existing, ok := s.articles[a.Link]; ok {
		a.ID = existing.ID
	} else {
		a.ID = "art-" + a.Link
	}
	s.articles[a.Link] = a
	return a.ID, nil
}

type fakeScraper struct {
	pages    map[string]*scraper.Page
	failures map[string]int
	calls    map[string]int
}

func (f *fakeScraper) Scrape(ctx context.Context, pageURL string) (*scraper.Page, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[pageURL]++
	if f.failures[pageURL] > 0 {
		f.failures[pageURL]--
		return nil, errors.New("firecrawl error: 502 - bad gateway")
	}
	return f.pages[pageURL], nil
}

type fixedDetector string

func (d fixedDetector) Detect(string) string { return string(d) }

func newTestWorker(store Store, s PageScraper) *Worker {
	w := NewWorker(store, s, relevance.New(nil, nil), fixedDetector("en"), Options{}, nil)
	w.now = func() time.Time { return baseTime }
	return w
}

var (
	international = models.Website{ID: 1, Name: "Wire Service", URL: "https://wire.example.com", Category: "International"}
	iranSpecific  = models.Website{ID: 2, Name: "Tehran Daily", URL: "https://tehran.example.com", Category: models.CategoryIranSpecific}
)

func TestFailTwiceThenSucceed(t *testing.T) {
	url := "https://wire.example.com/iran-talks"
	store := newMemStore(international)
	store.addJob("j1", url, 1, baseTime)
	sc := &fakeScraper{
		pages: map[string]*scraper.Page{
			url: {URL: url, Markdown: "Iran and the E3 resumed nuclear talks in Vienna.", Metadata: map[string]string{"title": "Talks resume"}},
		},
		failures: map[string]int{url: 2},
	}
	w := newTestWorker(store, sc)

	var notified []string
	w.OnArticle(func(id string) { notified = append(notified, id) })

	for i := 0; i < 3; i++ {
		_, err := w.ProcessBatch(context.Background())
		assert.Equal(t, nil, err)
	}

	job := store.jobs["j1"]
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, true, job.ErrorLog == nil)

	article := store.articles[url]
	assert.Equal(t, "Talks resume", article.Title)
	assert.Equal(t, "Wire Service", article.Source)
	assert.Equal(t, "International", article.Category)
	assert.Equal(t, "en", article.LanguageCode)
	assert.Equal(t, 9, article.WordCount)
	assert.Equal(t, []string{article.ID}, notified)
}

func TestFailsPermanentlyAfterThreeAttempts(t *testing.T) {
	url := "https://wire.example.com/iran-down"
	store := newMemStore(international)
	store.addJob("j1", url, 1, baseTime)
	sc := &fakeScraper{failures: map[string]int{url: 10}}
	w := newTestWorker(store, sc)

	for i := 0; i < 5; i++ {
		_, err := w.ProcessBatch(context.Background())
		assert.Equal(t, nil, err)
	}

	job := store.jobs["j1"]
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, "firecrawl error: 502 - bad gateway", *job.ErrorLog)
	assert.Equal(t, 3, sc.calls[url])
}

func TestNotRelevantContent(t *testing.T) {
	url := "https://wire.example.com/iran-football"
	store := newMemStore(international)
	store.addJob("j1", url, 1, baseTime)
	sc := &fakeScraper{pages: map[string]*scraper.Page{
		url: {URL: url, Markdown: "The league final ended in a draw.", Metadata: map[string]string{"title": "Cup final"}},
	}}
	w := newTestWorker(store, sc)

	summary, err := w.ProcessBatch(context.Background())

	assert.Equal(t, nil, err)
	assert.Equal(t, 1, summary.Skipped)
	job := store.jobs["j1"]
	assert.Equal(t, models.JobNotRelevant, job.Status)
	assert.Equal(t, "Article content not relevant to Iran", *job.ErrorLog)
	assert.Equal(t, 0, len(store.articles))
}

func TestRelevantArticleLogsMatchedKeyword(t *testing.T) {
	url := "https://wire.example.com/world/vienna"
	store := newMemStore(international)
	store.addJob("j1", url, 1, baseTime)
	sc := &fakeScraper{pages: map[string]*scraper.Page{
		url: {URL: url, Markdown: "Negotiators discussed uranium enrichment limits.", Metadata: map[string]string{"title": "Vienna round"}},
	}}
	core, logs := observer.New(zapcore.DebugLevel)
	w := NewWorker(store, sc, relevance.New(nil, nil), nil, Options{}, zap.New(core))
	w.now = func() time.Time { return baseTime }

	_, err := w.ProcessBatch(context.Background())
	assert.Equal(t, nil, err)

	matched := logs.FilterMessage("Article matched relevance keyword").All()
	assert.Equal(t, 1, len(matched))
	assert.Equal(t, "uranium enrichment", matched[0].ContextMap()["keyword"])
}

func TestIranSpecificBypassesContentFilter(t *testing.T) {
	url := "https://tehran.example.com/culture/festival"
	store := newMemStore(iranSpecific)
	store.addJob("j1", url, 2, baseTime)
	sc := &fakeScraper{pages: map[string]*scraper.Page{
		url: {URL: url, Markdown: "The film festival opened on Friday."},
	}}
	w := newTestWorker(store, sc)

	summary, err := w.ProcessBatch(context.Background())

	assert.Equal(t, nil, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, models.JobCompleted, store.jobs["j1"].Status)
	assert.Equal(t, "Untitled", store.articles[url].Title)
	assert.Equal(t, baseTime, store.articles[url].PubDate)
}

func TestBatchTakesOldestFirstAndIsolatesFailures(t *testing.T) {
	store := newMemStore(iranSpecific)
	store.addJob("newest", "https://tehran.example.com/d", 2, baseTime.Add(3*time.Minute))
	store.addJob("oldest", "https://tehran.example.com/a", 2, baseTime)
	store.addJob("second", "https://tehran.example.com/b", 2, baseTime.Add(time.Minute))
	store.addJob("third", "https://tehran.example.com/c", 2, baseTime.Add(2*time.Minute))

	sc := &fakeScraper{
		pages: map[string]*scraper.Page{
			"https://tehran.example.com/a": {Markdown: "a"},
			"https://tehran.example.com/c": {Markdown: "c"},
		},
		failures: map[string]int{"https://tehran.example.com/b": 1},
	}
	w := newTestWorker(store, sc)

	summary, err := w.ProcessBatch(context.Background())

	assert.Equal(t, nil, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, models.JobCompleted, store.jobs["oldest"].Status)
	assert.Equal(t, models.JobPending, store.jobs["second"].Status)
	assert.Equal(t, 1, store.jobs["second"].Attempts)
	assert.Equal(t, models.JobCompleted, store.jobs["third"].Status)
	assert.Equal(t, models.JobPending, store.jobs["newest"].Status)
	assert.Equal(t, 0, store.jobs["newest"].Attempts)
}

func TestStaleProcessingJobsAreReclaimed(t *testing.T) {
	store := newMemStore(iranSpecific)
	store.addJob("stuck", "https://tehran.example.com/stuck", 2, baseTime)
	store.addJob("dead", "https://tehran.example.com/dead", 2, baseTime)

	old := baseTime.Add(-time.Hour)
	store.jobs["stuck"].Status = models.JobProcessing
	store.jobs["stuck"].Attempts = 1
	store.jobs["stuck"].LastProcessedAt = &old
	store.jobs["dead"].Status = models.JobProcessing
	store.jobs["dead"].Attempts = 3
	store.jobs["dead"].LastProcessedAt = &old

	sc := &fakeScraper{pages: map[string]*scraper.Page{
		"https://tehran.example.com/stuck": {Markdown: "recovered"},
	}}
	w := newTestWorker(store, sc)

	summary, err := w.ProcessBatch(context.Background())

	assert.Equal(t, nil, err)
	assert.Equal(t, 1, summary.Details["stale_requeued"])
	assert.Equal(t, 1, summary.Details["stale_failed"])
	assert.Equal(t, models.JobCompleted, store.jobs["stuck"].Status)
	assert.Equal(t, 2, store.jobs["stuck"].Attempts)
	assert.Equal(t, models.JobFailed, store.jobs["dead"].Status)
	assert.Equal(t, "processing timed out", *store.jobs["dead"].ErrorLog)
}
