package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/newsprism/backend/internal/storage/models"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	c.now = func() time.Time { return baseTime }

	if err := c.InitSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return c
}

func seedSite(t *testing.T, c *Client, url, category string) models.Website {
	t.Helper()
	ctx := context.Background()
	err := c.SeedWebsites(ctx, []models.Website{{
		URL: url, Name: "Site " + url, Category: category, IsActive: true, ScrapingEnabled: true,
	}})
	assert.Equal(t, nil, err)

	sites, err := c.ActiveWebsites(ctx)
	assert.Equal(t, nil, err)
	for _, s := range sites {
		if s.URL == url {
			return s
		}
	}
	t.Fatalf("site %s not seeded", url)
	return models.Website{}
}

func TestSeedWebsitesIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	sites := []models.Website{
		{URL: "https://a.example", Name: "A", Category: models.CategoryIranSpecific, IsActive: true, ScrapingEnabled: true},
		{URL: "https://b.example", Name: "B", Category: "General", IsActive: true, ScrapingEnabled: false},
		{URL: "https://c.example", Name: "C", Category: "General", IsActive: false, ScrapingEnabled: true},
	}
	assert.Equal(t, nil, c.SeedWebsites(ctx, sites))
	assert.Equal(t, nil, c.SeedWebsites(ctx, sites))

	active, err := c.ActiveWebsites(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(active))
	assert.Equal(t, "A", active[0].Name)

	assert.Equal(t, nil, c.TouchWebsite(ctx, active[0].ID, baseTime))
	w, err := c.GetWebsite(ctx, active[0].ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, baseTime, *w.LastScrapedAt)

	_, err = c.GetWebsite(ctx, 999)
	assert.Equal(t, ErrNotFound, err)
}

func TestJobLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	site := seedSite(t, c, "https://a.example", "General")

	jobs := []models.ScrapeJob{
		{ID: "j1", URL: "https://a.example/1", WebsiteID: site.ID, Status: models.JobPending, CreatedAt: baseTime},
		{ID: "j2", URL: "https://a.example/2", WebsiteID: site.ID, Status: models.JobPending, CreatedAt: baseTime.Add(time.Minute)},
		{ID: "j3", URL: "https://a.example/1", WebsiteID: site.ID, Status: models.JobPending, CreatedAt: baseTime},
	}
	n, err := c.InsertJobs(ctx, jobs)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, n)

	pending, err := c.PendingJobs(ctx, 1)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(pending))
	assert.Equal(t, "j1", pending[0].ID)
	assert.Equal(t, 0, pending[0].Attempts)

	attempts, err := c.MarkProcessing(ctx, "j1", baseTime)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, attempts)

	_, err = c.MarkProcessing(ctx, "j1", baseTime)
	assert.Equal(t, ErrNotFound, err)

	msg := "boom"
	assert.Equal(t, nil, c.SetJobStatus(ctx, "j1", models.JobPending, &msg))
	j, err := c.GetJob(ctx, "j1")
	assert.Equal(t, nil, err)
	assert.Equal(t, models.JobPending, j.Status)
	assert.Equal(t, "boom", *j.ErrorLog)

	_, _ = c.MarkProcessing(ctx, "j1", baseTime)
	assert.Equal(t, nil, c.SetJobStatus(ctx, "j1", models.JobCompleted, nil))
	j, _ = c.GetJob(ctx, "j1")
	assert.Equal(t, models.JobCompleted, j.Status)
	assert.Equal(t, 2, j.Attempts)
	assert.Equal(t, true, j.ErrorLog == nil)

	counts, err := c.JobCounts(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, counts[models.JobCompleted])
	assert.Equal(t, 1, counts[models.JobPending])
}

func TestInsertJobsStampsCreationTime(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	site := seedSite(t, c, "https://a.example", "General")

	c.now = func() time.Time { return baseTime.Add(time.Hour) }
	_, err := c.InsertJobs(ctx, []models.ScrapeJob{
		{ID: "late", URL: "https://a.example/late", WebsiteID: site.ID, Status: models.JobPending},
	})
	assert.Equal(t, nil, err)

	c.now = func() time.Time { return baseTime }
	_, err = c.InsertJobs(ctx, []models.ScrapeJob{
		{ID: "early", URL: "https://a.example/early", WebsiteID: site.ID, Status: models.JobPending},
	})
	assert.Equal(t, nil, err)

	late, err := c.GetJob(ctx, "late")
	assert.Equal(t, nil, err)
	assert.Equal(t, baseTime.Add(time.Hour), late.CreatedAt)

	pending, err := c.PendingJobs(ctx, 2)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(pending))
	assert.Equal(t, "early", pending[0].ID)
	assert.Equal(t, false, pending[0].CreatedAt.IsZero())
	assert.Equal(t, "late", pending[1].ID)
}

func TestReclaimStale(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	site := seedSite(t, c, "https://a.example", "General")

	_, err := c.InsertJobs(ctx, []models.ScrapeJob{
		{ID: "fresh", URL: "https://a.example/fresh", WebsiteID: site.ID, Status: models.JobPending, CreatedAt: baseTime},
		{ID: "retry", URL: "https://a.example/retry", WebsiteID: site.ID, Status: models.JobPending, CreatedAt: baseTime},
		{ID: "dead", URL: "https://a.example/dead", WebsiteID: site.ID, Status: models.JobPending, CreatedAt: baseTime},
	})
	assert.Equal(t, nil, err)

	old := baseTime.Add(-time.Hour)
	_, _ = c.MarkProcessing(ctx, "fresh", baseTime)
	_, _ = c.MarkProcessing(ctx, "retry", old)
	for i := 0; i < 3; i++ {
		_, _ = c.MarkProcessing(ctx, "dead", old)
		if i < 2 {
			_ = c.SetJobStatus(ctx, "dead", models.JobPending, nil)
		}
	}

	requeued, failed, err := c.ReclaimStale(ctx, baseTime.Add(-15*time.Minute), 3, "processing timed out")
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 1, failed)

	fresh, _ := c.GetJob(ctx, "fresh")
	retry, _ := c.GetJob(ctx, "retry")
	dead, _ := c.GetJob(ctx, "dead")
	assert.Equal(t, models.JobProcessing, fresh.Status)
	assert.Equal(t, models.JobPending, retry.Status)
	assert.Equal(t, models.JobFailed, dead.Status)
	assert.Equal(t, "processing timed out", *dead.ErrorLog)
}

func TestExistingLinksBatches(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	site := seedSite(t, c, "https://a.example", "General")

	_, err := c.InsertJobs(ctx, []models.ScrapeJob{
		{ID: "j1", URL: "https://a.example/queued", WebsiteID: site.ID, Status: models.JobPending, CreatedAt: baseTime},
	})
	assert.Equal(t, nil, err)
	_, err = c.UpsertArticle(ctx, &models.Article{Title: "t", Link: "https://a.example/stored", Source: "A", PubDate: baseTime})
	assert.Equal(t, nil, err)

	urls := []string{"https://a.example/new", "https://a.example/queued", "https://a.example/other", "https://a.example/stored"}
	existing, err := c.ExistingLinks(ctx, urls, 1)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(existing))
	_, queued := existing["https://a.example/queued"]
	_, stored := existing["https://a.example/stored"]
	assert.Equal(t, true, queued)
	assert.Equal(t, true, stored)
}

func TestUpsertArticleResetsEmbeddingFlag(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	a := &models.Article{
		Title: "First", Link: "https://a.example/1", Source: "A", PubDate: baseTime,
		Tags: []string{"iran", "talks"}, WordCount: 3,
	}
	id, err := c.UpsertArticle(ctx, a)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, c.MarkEmbedded(ctx, id, baseTime))

	again, err := c.UpsertArticle(ctx, &models.Article{Title: "Second", Link: "https://a.example/1", Source: "A", PubDate: baseTime})
	assert.Equal(t, nil, err)
	assert.Equal(t, id, again)

	got, err := c.GetArticle(ctx, id)
	assert.Equal(t, nil, err)
	assert.Equal(t, "Second", got.Title)
	assert.Equal(t, false, got.EmbeddingGenerated)
	assert.Equal(t, true, got.EmbeddingGeneratedAt == nil)
	assert.Equal(t, []string{}, got.Tags)

	pending, err := c.ArticlesWithoutEmbeddings(ctx, 10)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(pending))

	_, err = c.GetArticle(ctx, "missing")
	assert.Equal(t, ErrNotFound, err)
}

func TestClearEmbedded(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id, err := c.UpsertArticle(ctx, &models.Article{Title: "A", Link: "https://a.example/a", Source: "SA", PubDate: baseTime})
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, c.MarkEmbedded(ctx, id, baseTime))

	pending, _ := c.ArticlesWithoutEmbeddings(ctx, 10)
	assert.Equal(t, 0, len(pending))

	assert.Equal(t, nil, c.ClearEmbedded(ctx, id))

	got, err := c.GetArticle(ctx, id)
	assert.Equal(t, nil, err)
	assert.Equal(t, false, got.EmbeddingGenerated)
	assert.Equal(t, true, got.EmbeddingGeneratedAt == nil)

	pending, _ = c.ArticlesWithoutEmbeddings(ctx, 10)
	assert.Equal(t, 1, len(pending))
}

func TestChunksAndEmbeddingStatus(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	idA, _ := c.UpsertArticle(ctx, &models.Article{Title: "A", Link: "https://a.example/a", Source: "SA", PubDate: baseTime})
	idB, _ := c.UpsertArticle(ctx, &models.Article{Title: "B", Link: "https://a.example/b", Source: "SB", PubDate: baseTime.Add(-48 * time.Hour)})
	_, _ = c.UpsertArticle(ctx, &models.Article{Title: "C", Link: "https://a.example/c", Source: "SC", PubDate: baseTime})

	for i, id := range []string{idA, idA, idB} {
		err := c.InsertChunk(ctx, &models.ArticleChunk{
			ID: id + "-" + string(rune('0'+i)), ArticleID: id, ChunkIndex: i % 2, ChunkText: "text",
			WordCount: 1, Embedding: []float32{1, 0}, EmbeddingGenerated: true, CreatedAt: baseTime,
		})
		assert.Equal(t, nil, err)
	}
	assert.Equal(t, nil, c.MarkEmbedded(ctx, idA, baseTime))
	assert.Equal(t, nil, c.MarkEmbedded(ctx, idB, baseTime))

	status, err := c.EmbeddingStatus(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, status.TotalArticles)
	assert.Equal(t, 2, status.WithEmbeddings)
	assert.Equal(t, 1, status.WithoutEmbeddings)
	assert.Equal(t, 67, status.CompletionPercentage)

	chunks, err := c.ChunksForArticles(ctx, []string{idA, idB})
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(chunks))
	assert.Equal(t, []float32{1, 0}, chunks[0].Embedding)

	deleted, err := c.DeleteChunks(ctx, idA)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, deleted)

	chunks, err = c.ChunksForArticles(ctx, []string{idA})
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(chunks))
}

func TestRecentChunksWindow(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	recent, _ := c.UpsertArticle(ctx, &models.Article{Title: "R", Link: "https://a.example/r", Source: "S", PubDate: baseTime})

	c.now = func() time.Time { return baseTime.Add(-72 * time.Hour) }
	old, _ := c.UpsertArticle(ctx, &models.Article{Title: "O", Link: "https://a.example/o", Source: "S", PubDate: baseTime.Add(-72 * time.Hour)})
	c.now = func() time.Time { return baseTime }

	for _, id := range []string{recent, old} {
		_ = c.InsertChunk(ctx, &models.ArticleChunk{ID: id + "-0", ArticleID: id, ChunkText: "x", WordCount: 1,
			Embedding: []float32{1}, EmbeddingGenerated: true, CreatedAt: baseTime})
		_ = c.MarkEmbedded(ctx, id, baseTime)
	}

	chunks, err := c.RecentChunks(ctx, baseTime.Add(-12*time.Hour))
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(chunks))
	assert.Equal(t, recent, chunks[0].ArticleID)
	assert.Equal(t, "R", chunks[0].Title)
}

func TestAnalysesUniqueBySet(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	a := &models.ComparativeAnalysis{
		TopicID: "cluster_1_0", TopicSummary: "Vienna talks", AggregateSummary: "Summary",
		ArticleIDs: []string{"b", "a"}, SimilarityThreshold: 0.5, TotalArticles: 2, AnalysisTimestamp: baseTime,
		SourcePerspectives: []models.SourcePerspective{{SourceName: "S", ArticleCount: 2, Sentiment: models.SentimentNeutral, KeyThemes: []string{}}},
	}
	assert.Equal(t, nil, c.InsertAnalysis(ctx, a))

	exists, err := c.AnalysisExists(ctx, []string{"a", "b"})
	assert.Equal(t, nil, err)
	assert.Equal(t, true, exists)

	err = c.InsertAnalysis(ctx, &models.ComparativeAnalysis{ArticleIDs: []string{"a", "b"}, AnalysisTimestamp: baseTime})
	assert.Equal(t, ErrDuplicateAnalysis, err)

	list, err := c.ListAnalyses(ctx, baseTime.Add(-time.Hour), 10, 0)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(list))
	assert.Equal(t, []string{"a", "b"}, list[0].ArticleIDs)
	assert.Equal(t, "S", list[0].SourcePerspectives[0].SourceName)

	list, err = c.ListAnalyses(ctx, baseTime.Add(time.Hour), 10, 0)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(list))
}

func TestListArticlesFilters(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, _ = c.UpsertArticle(ctx, &models.Article{Title: "1", Link: "l1", Source: "PressTV", Category: models.CategoryIranSpecific, PubDate: baseTime, Tags: []string{"nuclear"}, Content: "body"})
	_, _ = c.UpsertArticle(ctx, &models.Article{Title: "2", Link: "l2", Source: "BBC", Category: "General", PubDate: baseTime.Add(time.Hour), Tags: []string{"sanctions"}})
	_, _ = c.UpsertArticle(ctx, &models.Article{Title: "3", Link: "l3", Source: "BBC", Category: "General", PubDate: baseTime.Add(2 * time.Hour), Tags: []string{"nuclear"}})

	all, err := c.ListArticles(ctx, ArticleFilter{})
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(all))
	assert.Equal(t, "3", all[0].Title)
	assert.Equal(t, "", all[2].Content)

	bbc, _ := c.ListArticles(ctx, ArticleFilter{Source: "BBC", Limit: 1, Offset: 1})
	assert.Equal(t, 1, len(bbc))
	assert.Equal(t, "2", bbc[0].Title)

	nuclear, _ := c.ListArticles(ctx, ArticleFilter{Tag: "nuclear"})
	assert.Equal(t, 2, len(nuclear))

	refs, err := c.ArticleRefs(ctx, []string{all[0].ID, "missing"})
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(refs))
	assert.Equal(t, "l3", refs[all[0].ID].Link)
}
