// Package direct scrapes pages itself with goquery, for deployments that run
// without a hosted scraping provider.
package direct

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/internal/scraper"
	"github.com/newsprism/backend/pkg/logger"
	"github.com/newsprism/backend/pkg/retry"
)

const (
	providerName = "direct"
	maxBodyBytes = 5 << 20
)

// metaKeys maps HTML meta names/properties to the metadata keys scraper.ExtractArticle reads.
var metaKeys = map[string]string{
	"description":            "description",
	"author":                 "author",
	"og:title":               "ogTitle",
	"og:description":         "ogDescription",
	"og:image":               "og:image",
	"twitter:image":          "twitter:image",
	"article:published_time": "article:published_time",
	"article:modified_time":  "article:modified_time",
	"article:author":         "author",
	"pubdate":                "publishedTime",
	"date":                   "publishedTime",
}

type Client struct {
	userAgent   string
	mapLimit    int
	httpClient  *http.Client
	retryConfig retry.Config
	logger      *zap.Logger
}

func NewClient(userAgent string, timeout time.Duration, mapLimit int, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if mapLimit <= 0 {
		mapLimit = 2000
	}
	log = logger.OrNop(log).Named("direct_scraper")

	return &Client{
		userAgent:  userAgent,
		mapLimit:   mapLimit,
		httpClient: &http.Client{Timeout: timeout},
		retryConfig: retry.Config{
			MaxAttempts:    2,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       2 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         log,
		},
		logger: log,
	}
}

// MapSite collects same-host links from the site's landing page.
func (c *Client) MapSite(ctx context.Context, siteURL string) ([]string, error) {
	base, err := url.Parse(siteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid site url: %w", err)
	}

	doc, err := c.fetch(ctx, siteURL)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", siteURL, err)
	}

	seen := make(map[string]struct{})
	links := make([]string, 0)
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		if abs.Host != base.Host || (abs.Scheme != "http" && abs.Scheme != "https") {
			return true
		}
		abs.Fragment = ""
		link := abs.String()
		if _, ok := seen[link]; ok {
			return true
		}
		seen[link] = struct{}{}
		links = append(links, link)
		return len(links) < c.mapLimit
	})

	c.logger.Debug("Site mapped", zap.String("url", siteURL), zap.Int("links", len(links)))
	return links, nil
}

func (c *Client) Scrape(ctx context.Context, pageURL string) (*scraper.Page, error) {
	doc, err := c.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		metadata["title"] = title
	}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("property")
		if !ok {
			name, _ = s.Attr("name")
		}
		key, known := metaKeys[strings.ToLower(strings.TrimSpace(name))]
		if !known {
			return
		}
		content, _ := s.Attr("content")
		content = strings.TrimSpace(content)
		if content != "" && metadata[key] == "" {
			metadata[key] = content
		}
	})

	var tags []string
	doc.Find(`meta[property="article:tag"]`).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("content"); ok {
			tags = append(tags, v)
		}
	})
	if len(tags) == 0 {
		if kw, ok := doc.Find(`meta[name="keywords"]`).Attr("content"); ok {
			tags = strings.Split(kw, ",")
		}
	}

	var published string
	if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		published = dt
	}

	return &scraper.Page{
		URL:      pageURL,
		Markdown: bodyText(doc),
		Extracted: scraper.Extracted{
			Tags:          tags,
			PublishedDate: published,
		},
		Metadata: metadata,
	}, nil
}

func (c *Client) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() (*goquery.Document, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &pipeline.ProviderError{Provider: providerName, Message: err.Error()}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			pe := &pipeline.ProviderError{Provider: providerName, Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
			if !pe.Transient() {
				return nil, retry.Permanent(pe)
			}
			return nil, pe
		}

		doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, retry.Permanent(&pipeline.ParseError{What: "HTML", Err: err})
		}
		return doc, nil
	})
}

// bodyText renders the article body as paragraphs separated by blank lines.
func bodyText(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header, aside, noscript, form").Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var paragraphs []string
	root.Find("h1, h2, h3, p, li, blockquote").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		if goquery.NodeName(s) == "h1" || goquery.NodeName(s) == "h2" || goquery.NodeName(s) == "h3" {
			text = "## " + text
		}
		paragraphs = append(paragraphs, text)
	})

	if len(paragraphs) == 0 {
		return strings.Join(strings.Fields(root.Text()), " ")
	}
	return strings.Join(paragraphs, "\n\n")
}
