// Package firecrawl is a client for Firecrawl-compatible map and scrape APIs.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/metrics"
	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/internal/scraper"
	"github.com/newsprism/backend/pkg/circuitbreaker"
	"github.com/newsprism/backend/pkg/logger"
	"github.com/newsprism/backend/pkg/retry"
	"github.com/newsprism/backend/pkg/utils"
)

const (
	providerName    = "firecrawl"
	DefaultBaseURL  = "https://api.firecrawl.dev"
	DefaultMapLimit = 2000

	// maxResponseBytes caps a single provider response held in memory.
	maxResponseBytes = 16 << 20
)

// articleSchema asks the provider for the structured fields read by scraper.ExtractArticle.
var articleSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":         map[string]any{"type": "string", "description": "Article title"},
		"author":        map[string]any{"type": "string", "description": "Article author or byline"},
		"publishedDate": map[string]any{"type": "string", "description": "Article publication date in ISO format"},
		"summary":       map[string]any{"type": "string", "description": "Article summary or description"},
		"content":       map[string]any{"type": "string", "description": "Main article content"},
		"tags": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "An array of relevant keywords or tags for the article",
		},
	},
}

type Client struct {
	apiKey      string
	baseURL     string
	mapLimit    int
	maxBody     int64
	httpClient  *http.Client
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	logger      *zap.Logger
}

type mapRequest struct {
	URL            string         `json:"url"`
	CrawlerOptions crawlerOptions `json:"crawlerOptions"`
}

type crawlerOptions struct {
	IncludeSubdomains bool `json:"includeSubdomains"`
	MaxDepth          int  `json:"maxDepth"`
	Limit             int  `json:"limit"`
}

type mapResponse struct {
	Success bool     `json:"success"`
	Links   []string `json:"links"`
	Error   string   `json:"error"`
}

type scrapeRequest struct {
	URL         string      `json:"url"`
	Formats     []string    `json:"formats"`
	JSONOptions jsonOptions `json:"jsonOptions"`
}

type jsonOptions struct {
	Schema map[string]any `json:"schema"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    *struct {
		Markdown string             `json:"markdown"`
		JSON     *scraper.Extracted `json:"json"`
		Metadata map[string]any     `json:"metadata"`
	} `json:"data"`
}

func NewClient(apiKey, baseURL string, timeout time.Duration, mapLimit int, log *zap.Logger) *Client {
	log = logger.OrNop(log).Named("firecrawl")

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if mapLimit <= 0 {
		mapLimit = DefaultMapLimit
	}

	cb := circuitbreaker.New(providerName, circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        countsAgainstBreaker,
		OnStateChange:    metrics.BreakerStateChanged,
		Logger:           log,
	})

	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		mapLimit:   mapLimit,
		maxBody:    maxResponseBytes,
		httpClient: &http.Client{Timeout: timeout},
		cb:         cb,
		retryConfig: retry.Config{
			MaxAttempts:    2,
			InitialDelay:   time.Second,
			MaxDelay:       5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         log,
		},
		logger: log,
	}
}

func (c *Client) MapSite(ctx context.Context, siteURL string) ([]string, error) {
	body := mapRequest{
		URL: siteURL,
		CrawlerOptions: crawlerOptions{
			IncludeSubdomains: false,
			MaxDepth:          1,
			Limit:             c.mapLimit,
		},
	}

	var resp mapResponse
	if err := c.post(ctx, "/v1/map", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", siteURL, err)
	}

	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "no links returned"
		}
		return nil, &pipeline.ProviderError{Provider: providerName, Message: msg}
	}

	c.logger.Debug("Site mapped", zap.String("url", siteURL), zap.Int("links", len(resp.Links)))
	return resp.Links, nil
}

func (c *Client) Scrape(ctx context.Context, pageURL string) (*scraper.Page, error) {
	body := scrapeRequest{
		URL:         pageURL,
		Formats:     []string{"markdown", "json"},
		JSONOptions: jsonOptions{Schema: articleSchema},
	}

	var resp scrapeResponse
	if err := c.post(ctx, "/v1/scrape", body, &resp); err != nil {
		return nil, err
	}

	if !resp.Success || resp.Data == nil {
		msg := resp.Error
		if msg == "" {
			msg = fmt.Sprintf("Scraping failed for %s", pageURL)
		}
		return nil, &pipeline.ProviderError{Provider: providerName, Message: msg}
	}

	page := &scraper.Page{
		URL:      pageURL,
		Markdown: resp.Data.Markdown,
		Metadata: flattenMetadata(resp.Data.Metadata),
	}
	if resp.Data.JSON != nil {
		page.Extracted = *resp.Data.JSON
	}

	return page, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	err = c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
			if err != nil {
				return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+c.apiKey)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					return retry.Permanent(ctx.Err())
				}
				return &pipeline.ProviderError{Provider: providerName, Message: err.Error()}
			}
			defer resp.Body.Close()

			raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
			if err != nil {
				return &pipeline.ProviderError{Provider: providerName, Message: fmt.Sprintf("failed to read response: %v", err)}
			}
			if int64(len(raw)) > c.maxBody {
				return retry.Permanent(&pipeline.ProviderError{
					Provider: providerName,
					Status:   resp.StatusCode,
					Message:  fmt.Sprintf("response exceeds %d bytes", c.maxBody),
				})
			}

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				pe := &pipeline.ProviderError{
					Provider: providerName,
					Status:   resp.StatusCode,
					Message:  utils.Truncate(strings.TrimSpace(string(raw)), 500),
				}
				if !pe.Transient() {
					return retry.Permanent(pe)
				}
				return pe
			}

			if err := json.Unmarshal(raw, out); err != nil {
				return retry.Permanent(&pipeline.ParseError{
					What: "firecrawl response " + utils.Truncate(string(raw), 100),
					Err:  err,
				})
			}
			return nil
		})
	})
	recordRequest(err)

	return err
}

// flattenMetadata keeps string values and the first element of string lists.
func flattenMetadata(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case []any:
			if len(val) > 0 {
				if s, ok := val[0].(string); ok {
					out[k] = s
				}
			}
		}
	}
	return out
}

func countsAgainstBreaker(err error) bool {
	if err == nil {
		return false
	}
	var pe *pipeline.ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	var parseErr *pipeline.ParseError
	return !errors.As(err, &parseErr)
}

func recordRequest(err error) {
	status := "ok"
	var pe *pipeline.ProviderError
	switch {
	case err == nil:
	case errors.As(err, &pe) && pe.Status > 0:
		status = strconv.Itoa(pe.Status)
	default:
		status = "error"
	}
	metrics.ProviderRequests.WithLabelValues(providerName, status).Inc()
}
