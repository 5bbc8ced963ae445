package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/newsprism/backend/internal/relevance"
	"github.com/newsprism/backend/internal/storage/models"
)

type fakeStore struct {
	sites    []models.Website
	existing map[string]struct{}
	jobs     []models.ScrapeJob
	touched  []int64
	batches  []int
}

func (f *fakeStore) ActiveWebsites(ctx context.Context) ([]models.Website, error) {
	return f.sites, nil
}

func (f *fakeStore) ExistingLinks(ctx context.Context, urls []string, batchSize int) (map[string]struct{}, error) {
	f.batches = append(f.batches, batchSize)
	out := map[string]struct{}{}
	for _, u := range urls {
		if _, ok := f.existing[u]; ok {
			out[u] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeStore) InsertJobs(ctx context.Context, jobs []models.ScrapeJob) (int, error) {
	f.jobs = append(f.jobs, jobs...)
	return len(jobs), nil
}

func (f *fakeStore) TouchWebsite(ctx context.Context, id int64, at time.Time) error {
	f.touched = append(f.touched, id)
	return nil
}

type fakeMapper struct {
	links map[string][]string
	fail  map[string]bool
}

func (m *fakeMapper) MapSite(ctx context.Context, siteURL string) ([]string, error) {
	if m.fail[siteURL] {
		return nil, errors.New("map failed")
	}
	return m.links[siteURL], nil
}

func TestFilterLinks(t *testing.T) {
	links := []string{
		"https://news.example.com/",
		"https://news.example.com",
		"mailto:desk@example.com",
		"tel:+100000",
		"https://twitter.com/example",
		"https://www.facebook.com/example",
		"https://t.me/example",
		"://broken",
		"/relative/path",
		"https://news.example.com/world/iran-talks",
		"https://news.example.com/world/iran-talks",
		"https://news.example.com/sport/football",
	}

	got := FilterLinks("https://news.example.com/", links)

	assert.Equal(t, []string{
		"https://news.example.com/world/iran-talks",
		"https://news.example.com/sport/football",
	}, got)
}

func TestDiscoverQueuesNewRelevantLinks(t *testing.T) {
	site := models.Website{ID: 7, URL: "https://news.example.com", Name: "Example", Category: "International"}
	store := &fakeStore{
		existing: map[string]struct{}{"https://news.example.com/iran/known": {}},
	}
	mapper := &fakeMapper{links: map[string][]string{
		site.URL: {
			"https://news.example.com/iran/known",
			"https://news.example.com/iran/new-sanctions",
			"https://news.example.com/sport/football",
			"https://x.com/example",
		},
	}}

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	d := New(store, mapper, relevance.New(nil, nil), 50, nil)
	d.now = func() time.Time { return at }
	res, err := d.Discover(context.Background(), site)

	assert.Equal(t, nil, err)
	assert.Equal(t, 4, res.Mapped)
	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, 1, res.Existing)
	assert.Equal(t, 1, res.Irrelevant)
	assert.Equal(t, 1, res.JobsCreated)
	assert.Equal(t, []int{50}, store.batches)

	assert.Equal(t, 1, len(store.jobs))
	job := store.jobs[0]
	assert.Equal(t, "https://news.example.com/iran/new-sanctions", job.URL)
	assert.Equal(t, int64(7), job.WebsiteID)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.NotEqual(t, "", job.ID)
	assert.Equal(t, at, job.CreatedAt)
	assert.Equal(t, []int64{7}, store.touched)
}

func TestDiscoverIranSpecificSkipsURLKeywords(t *testing.T) {
	site := models.Website{ID: 1, URL: "https://ir.example.com", Category: models.CategoryIranSpecific}
	store := &fakeStore{}
	mapper := &fakeMapper{links: map[string][]string{
		site.URL: {"https://ir.example.com/culture/festival", "https://ir.example.com/economy/markets"},
	}}

	d := New(store, mapper, relevance.New(nil, nil), 0, nil)
	res, err := d.Discover(context.Background(), site)

	assert.Equal(t, nil, err)
	assert.Equal(t, 2, res.JobsCreated)
	assert.Equal(t, []int{DefaultExistenceBatchSize}, store.batches)
}

func TestRunContinuesAfterSiteFailure(t *testing.T) {
	broken := models.Website{ID: 1, Name: "Broken", URL: "https://broken.example.com", Category: models.CategoryIranSpecific}
	healthy := models.Website{ID: 2, Name: "Healthy", URL: "https://ok.example.com", Category: models.CategoryIranSpecific}
	store := &fakeStore{sites: []models.Website{broken, healthy}}
	mapper := &fakeMapper{
		fail:  map[string]bool{broken.URL: true},
		links: map[string][]string{healthy.URL: {"https://ok.example.com/a", "https://ok.example.com/b"}},
	}

	d := New(store, mapper, relevance.New(nil, nil), 0, nil)
	summary, err := d.Run(context.Background())

	assert.Equal(t, nil, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, 2, summary.Details["jobs_created"])
	assert.Equal(t, []int64{2}, store.touched)
}
