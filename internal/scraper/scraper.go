// Package scraper defines the page-scraping capability used by discovery and
// the scrape queue, and turns a scraped page into article fields.
package scraper

import (
	"context"
	"strings"
	"time"
)

type Scraper interface {
	// MapSite lists the links reachable from a site's base URL.
	MapSite(ctx context.Context, siteURL string) ([]string, error)
	Scrape(ctx context.Context, pageURL string) (*Page, error)
}

// Extracted is the structured output a provider derived from the page body.
type Extracted struct {
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	PublishedDate string   `json:"publishedDate"`
	Summary       string   `json:"summary"`
	Content       string   `json:"content"`
	Tags          []string `json:"tags"`
	Image         string   `json:"image"`
}

type Page struct {
	URL       string
	Markdown  string
	Extracted Extracted
	// Metadata holds page meta tags keyed by their provider names
	// (title, description, ogTitle, og:image, article:published_time, ...).
	Metadata map[string]string
}

type ArticleFields struct {
	Title       string
	Description string
	Content     string
	Author      string
	ImageURL    string
	PubDate     time.Time
	Tags        []string
}

var dateKeys = []string{"publishedTime", "article:published_time", "modifiedTime", "article:modified_time"}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"January 2, 2006",
	"2 January 2006",
}

// ExtractArticle picks article fields from a scraped page: structured output
// first, then page metadata, then fixed defaults. now is used when no date parses.
func ExtractArticle(p *Page, now time.Time) ArticleFields {
	md := p.Metadata
	if md == nil {
		md = map[string]string{}
	}
	ex := p.Extracted

	f := ArticleFields{
		Title:       firstNonEmpty(ex.Title, md["title"], md["ogTitle"], "Untitled"),
		Description: firstNonEmpty(ex.Summary, md["description"], md["ogDescription"]),
		Content:     p.Markdown,
		Author:      firstNonEmpty(ex.Author, md["author"]),
		ImageURL:    firstNonEmpty(md["ogImage"], md["og:image"], md["twitter:image"], ex.Image),
		PubDate:     now.UTC(),
		Tags:        cleanTags(ex.Tags),
	}
	if strings.TrimSpace(f.Content) == "" {
		f.Content = ex.Content
	}

	candidates := make([]string, 0, len(dateKeys)+1)
	for _, k := range dateKeys {
		candidates = append(candidates, md[k])
	}
	candidates = append(candidates, ex.PublishedDate)

	for _, c := range candidates {
		if t, ok := ParseDate(c); ok {
			f.PubDate = t
			break
		}
	}

	return f
}

// ParseDate accepts the date shapes news sites commonly put in meta tags.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
