// Package feeds ingests articles straight from configured RSS/Atom feeds.
package feeds

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/metrics"
	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/internal/storage/models"
	"github.com/newsprism/backend/pkg/logger"
	"github.com/newsprism/backend/pkg/utils"
)

const (
	DefaultItemsPerFeed = 5
	DefaultTimeout      = 30 * time.Second
)

var (
	iranIncludeKeywords = []string{
		"iran", "tehran", "politics", "government", "diplomacy",
		"sanctions", "nuclear", "regime", "protest", "economy",
	}
	excludeKeywords = []string{"sports", "entertainment"}
)

type Store interface {
	ActiveFeeds(ctx context.Context) ([]models.Feed, error)
	UpsertArticle(ctx context.Context, a *models.Article) (string, error)
}

type LanguageDetector interface {
	Detect(text string) string
}

// ItemFilter decides which feed items are ingested. A disabled filter accepts everything.
type ItemFilter struct {
	Enabled         bool
	IncludeKeywords []string
	ExcludeKeywords []string
	TitleOnly       bool
}

// FilterFor returns the item filter for a feed: only Iran-Specific feeds are
// filtered. titleOnly restricts keyword matching to item titles.
func FilterFor(feed models.Feed, titleOnly bool) ItemFilter {
	if feed.Category != models.CategoryIranSpecific {
		return ItemFilter{}
	}
	return ItemFilter{
		Enabled:         true,
		IncludeKeywords: iranIncludeKeywords,
		ExcludeKeywords: excludeKeywords,
		TitleOnly:       titleOnly,
	}
}

// Accept applies exclude keywords first, then include keywords.
func (f ItemFilter) Accept(title, description string) bool {
	if !f.Enabled {
		return true
	}

	text := title
	if !f.TitleOnly {
		text = title + " " + description
	}
	text = strings.ToLower(text)

	for _, k := range f.ExcludeKeywords {
		if strings.Contains(text, strings.ToLower(k)) {
			return false
		}
	}
	if len(f.IncludeKeywords) == 0 {
		return true
	}
	for _, k := range f.IncludeKeywords {
		if strings.Contains(text, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

type Options struct {
	ItemsPerFeed int
	Timeout      time.Duration
	UserAgent    string
	// TitleOnly matches filter keywords against titles only.
	TitleOnly bool
}

type Fetcher struct {
	store        Store
	detector     LanguageDetector
	parser       *gofeed.Parser
	itemsPerFeed int
	timeout      time.Duration
	titleOnly    bool
	logger       *zap.Logger
	now          func() time.Time
}

// NewFetcher builds a feed fetcher. detector may be nil.
func NewFetcher(store Store, detector LanguageDetector, opts Options, log *zap.Logger) *Fetcher {
	if opts.ItemsPerFeed <= 0 {
		opts.ItemsPerFeed = DefaultItemsPerFeed
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: opts.Timeout}
	if opts.UserAgent != "" {
		parser.UserAgent = opts.UserAgent
	}

	return &Fetcher{
		store:        store,
		detector:     detector,
		parser:       parser,
		itemsPerFeed: opts.ItemsPerFeed,
		timeout:      opts.Timeout,
		titleOnly:    opts.TitleOnly,
		logger:       logger.OrNop(log).Named("feeds"),
		now:          time.Now,
	}
}

// Run fetches every active feed. A failing feed is logged and the rest continue.
func (f *Fetcher) Run(ctx context.Context) (*pipeline.Summary, error) {
	feeds, err := f.store.ActiveFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load feeds: %w", err)
	}

	summary := pipeline.NewSummary(pipeline.StageFeeds)
	for _, feed := range feeds {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		stored, filtered, err := f.FetchFeed(ctx, feed)
		summary.Add("articles", stored)
		summary.Add("filtered", filtered)
		if err != nil {
			summary.Errored++
			f.logger.Error("Feed fetch failed", zap.String("feed", feed.Name), zap.String("url", feed.URL), zap.Error(err))
			continue
		}
		summary.Processed++
	}

	f.logger.Info("Feed run finished",
		zap.Int("feeds", len(feeds)),
		zap.Int("articles", summary.Details["articles"]),
		zap.Int("errored", summary.Errored),
	)
	return summary, nil
}

// FetchFeed ingests the first items of one feed and returns how many were
// stored and how many the item filter rejected.
func (f *Fetcher) FetchFeed(ctx context.Context, feed models.Feed) (stored, filtered int, err error) {
	fctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	parsed, err := f.parser.ParseURLWithContext(feed.URL, fctx)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("rss", "error").Inc()
		return 0, 0, fmt.Errorf("failed to parse feed: %w", err)
	}
	metrics.ProviderRequests.WithLabelValues("rss", "success").Inc()

	filter := FilterFor(feed, f.titleOnly)
	items := parsed.Items
	if len(items) > f.itemsPerFeed {
		items = items[:f.itemsPerFeed]
	}

	for _, item := range items {
		if item == nil || strings.TrimSpace(item.Title) == "" || strings.TrimSpace(item.Link) == "" {
			continue
		}

		description := plainText(item.Description)
		if !filter.Accept(item.Title, description) {
			filtered++
			continue
		}

		article := f.toArticle(feed, item, description)
		if _, err := f.store.UpsertArticle(ctx, article); err != nil {
			f.logger.Warn("Failed to store feed item", zap.String("link", item.Link), zap.Error(err))
			continue
		}
		metrics.ArticlesUpserted.WithLabelValues("feed").Inc()
		stored++
	}

	f.logger.Debug("Feed fetched",
		zap.String("feed", feed.Name),
		zap.Int("items", len(parsed.Items)),
		zap.Int("stored", stored),
		zap.Int("filtered", filtered),
	)
	return stored, filtered, nil
}

func (f *Fetcher) toArticle(feed models.Feed, item *gofeed.Item, description string) *models.Article {
	pubDate := f.now().UTC()
	if item.PublishedParsed != nil {
		pubDate = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		pubDate = item.UpdatedParsed.UTC()
	}

	author := ""
	if item.Author != nil {
		author = item.Author.Name
	} else if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = item.Authors[0].Name
	}

	image := ""
	if item.Image != nil {
		image = item.Image.URL
	}

	category := feed.Category
	if category == "" {
		category = "General"
	}

	title := strings.TrimSpace(item.Title)
	article := &models.Article{
		Title:       title,
		Link:        strings.TrimSpace(item.Link),
		Description: description,
		Content:     description,
		Source:      feed.Name,
		Category:    category,
		Author:      author,
		PubDate:     pubDate,
		Tags:        item.Categories,
		ImageURL:    image,
		WordCount:   utils.WordCount(description),
	}
	if f.detector != nil {
		article.LanguageCode = f.detector.Detect(title + "\n" + description)
	}
	return article
}

// plainText strips markup from feed descriptions.
func plainText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
