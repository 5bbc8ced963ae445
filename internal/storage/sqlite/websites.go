package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/storage/models"
)

// SeedWebsites inserts or refreshes the configured websites by URL.
func (c *Client) SeedWebsites(ctx context.Context, sites []models.Website) error {
	query := `
		INSERT INTO websites (url, name, description, category, is_active, scraping_enabled)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			is_active = excluded.is_active,
			scraping_enabled = excluded.scraping_enabled
	`

	for _, w := range sites {
		_, err := c.db.ExecContext(ctx, query,
			w.URL,
			w.Name,
			w.Description,
			w.Category,
			boolToInt(w.IsActive),
			boolToInt(w.ScrapingEnabled),
		)
		if err != nil {
			return fmt.Errorf("failed to seed website %s: %w", w.URL, err)
		}
	}

	c.logger.Info("Websites seeded", zap.Int("count", len(sites)))
	return nil
}

const websiteColumns = `id, url, name, description, category, is_active, scraping_enabled, last_scraped_at`

func scanWebsite(row interface{ Scan(...any) error }) (*models.Website, error) {
	var w models.Website
	var description sql.NullString
	var active, enabled int
	var lastScraped sql.NullInt64

	err := row.Scan(&w.ID, &w.URL, &w.Name, &description, &w.Category, &active, &enabled, &lastScraped)
	if err != nil {
		return nil, err
	}

	w.Description = description.String
	w.IsActive = active == 1
	w.ScrapingEnabled = enabled == 1
	w.LastScrapedAt = timePtr(lastScraped)
	return &w, nil
}

// ActiveWebsites returns websites that are both active and enabled for scraping.
func (c *Client) ActiveWebsites(ctx context.Context) ([]models.Website, error) {
	query := `SELECT ` + websiteColumns + ` FROM websites WHERE is_active = 1 AND scraping_enabled = 1 ORDER BY id`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get active websites: %w", err)
	}
	defer rows.Close()

	var sites []models.Website
	for rows.Next() {
		w, err := scanWebsite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sites = append(sites, *w)
	}

	return sites, rows.Err()
}

func (c *Client) GetWebsite(ctx context.Context, id int64) (*models.Website, error) {
	query := `SELECT ` + websiteColumns + ` FROM websites WHERE id = ?`

	w, err := scanWebsite(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get website: %w", err)
	}
	return w, nil
}

func (c *Client) TouchWebsite(ctx context.Context, id int64, at time.Time) error {
	_, err := c.db.ExecContext(ctx, `UPDATE websites SET last_scraped_at = ? WHERE id = ?`, at.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update website: %w", err)
	}
	return nil
}

func (c *Client) SeedFeeds(ctx context.Context, feeds []models.Feed) error {
	query := `
		INSERT INTO rss_feeds (url, name, description, category, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			is_active = excluded.is_active
	`

	for _, f := range feeds {
		_, err := c.db.ExecContext(ctx, query, f.URL, f.Name, f.Description, f.Category, boolToInt(f.IsActive))
		if err != nil {
			return fmt.Errorf("failed to seed feed %s: %w", f.URL, err)
		}
	}
	return nil
}

func (c *Client) ActiveFeeds(ctx context.Context) ([]models.Feed, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, url, name, description, category, is_active FROM rss_feeds WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get active feeds: %w", err)
	}
	defer rows.Close()

	var feeds []models.Feed
	for rows.Next() {
		var f models.Feed
		var description sql.NullString
		var active int
		if err := rows.Scan(&f.ID, &f.URL, &f.Name, &description, &f.Category, &active); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		f.Description = description.String
		f.IsActive = active == 1
		feeds = append(feeds, f)
	}

	return feeds, rows.Err()
}
