package scraper

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestExtractArticlePrefersStructuredOutput(t *testing.T) {
	p := &Page{
		Markdown: "Body text",
		Extracted: Extracted{
			Title:         "Structured title",
			Author:        "Jane Doe",
			Summary:       "Structured summary",
			PublishedDate: "2025-02-10T08:00:00Z",
			Tags:          []string{"iran", " nuclear ", "iran", ""},
			Image:         "https://img.example.com/json.jpg",
		},
		Metadata: map[string]string{
			"title":         "Meta title",
			"description":   "Meta description",
			"author":        "Meta author",
			"twitter:image": "https://img.example.com/tw.jpg",
		},
	}

	f := ExtractArticle(p, fixedNow)

	assert.Equal(t, "Structured title", f.Title)
	assert.Equal(t, "Structured summary", f.Description)
	assert.Equal(t, "Jane Doe", f.Author)
	assert.Equal(t, "Body text", f.Content)
	assert.Equal(t, "https://img.example.com/tw.jpg", f.ImageURL)
	assert.Equal(t, []string{"iran", "nuclear"}, f.Tags)
	assert.Equal(t, time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC), f.PubDate)
}

func TestExtractArticleFallsBackToMetadata(t *testing.T) {
	p := &Page{
		Metadata: map[string]string{
			"ogTitle":       "OG title",
			"ogDescription": "OG description",
			"ogImage":       "https://img.example.com/og.jpg",
			"og:image":      "https://img.example.com/other.jpg",
		},
		Extracted: Extracted{Content: "extracted body"},
	}

	f := ExtractArticle(p, fixedNow)

	assert.Equal(t, "OG title", f.Title)
	assert.Equal(t, "OG description", f.Description)
	assert.Equal(t, "https://img.example.com/og.jpg", f.ImageURL)
	assert.Equal(t, "extracted body", f.Content)
	assert.Equal(t, 0, len(f.Tags))
}

func TestExtractArticleDefaults(t *testing.T) {
	f := ExtractArticle(&Page{}, fixedNow)

	assert.Equal(t, "Untitled", f.Title)
	assert.Equal(t, "", f.Description)
	assert.Equal(t, fixedNow, f.PubDate)
}

func TestExtractArticleDatePrecedence(t *testing.T) {
	p := &Page{
		Metadata: map[string]string{
			"publishedTime":          "not a date",
			"article:published_time": "",
			"modifiedTime":           "2025-01-05",
			"article:modified_time":  "2025-01-06T00:00:00Z",
		},
		Extracted: Extracted{PublishedDate: "2024-12-31"},
	}

	f := ExtractArticle(p, fixedNow)
	assert.Equal(t, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), f.PubDate)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2025-02-10T08:00:00+03:30", time.Date(2025, 2, 10, 4, 30, 0, 0, time.UTC), true},
		{"Mon, 10 Feb 2025 08:00:00 +0000", time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC), true},
		{"2025-02-10 08:00:00", time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC), true},
		{"yesterday", time.Time{}, false},
		{"  ", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
