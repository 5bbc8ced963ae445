package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/newsprism/backend/pkg/logger"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

type Client struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewClient(dbPath string, log *zap.Logger) (*Client, error) {
	log = logger.OrNop(log).Named("sqlite")

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows one writer; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	log.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, logger: log, now: time.Now}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS websites (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		category TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		scraping_enabled INTEGER NOT NULL DEFAULT 1,
		last_scraped_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS scrape_jobs (
		id TEXT PRIMARY KEY,
		url TEXT UNIQUE NOT NULL,
		website_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_processed_at INTEGER,
		error_log TEXT,
		FOREIGN KEY (website_id) REFERENCES websites(id)
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON scrape_jobs(status, created_at);

	CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		link TEXT UNIQUE NOT NULL,
		description TEXT,
		content TEXT,
		source TEXT NOT NULL,
		category TEXT,
		author TEXT,
		pub_date INTEGER NOT NULL,
		tags TEXT,
		image_url TEXT,
		language_code TEXT,
		website_id INTEGER,
		embedding_generated INTEGER NOT NULL DEFAULT 0,
		embedding_generated_at INTEGER,
		word_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_articles_embedding ON articles(embedding_generated, created_at);
	CREATE INDEX IF NOT EXISTS idx_articles_pub_date ON articles(pub_date);
	CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source);

	CREATE TABLE IF NOT EXISTS article_chunks (
		id TEXT PRIMARY KEY,
		article_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		chunk_text TEXT NOT NULL,
		word_count INTEGER NOT NULL,
		embedding TEXT,
		embedding_generated INTEGER NOT NULL DEFAULT 0,
		embedding_generated_at INTEGER,
		created_at INTEGER NOT NULL,
		UNIQUE (article_id, chunk_index),
		FOREIGN KEY (article_id) REFERENCES articles(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_article ON article_chunks(article_id);

	CREATE TABLE IF NOT EXISTS comparative_analyses (
		id TEXT PRIMARY KEY,
		topic_id TEXT NOT NULL,
		topic_summary TEXT NOT NULL,
		aggregate_summary TEXT NOT NULL,
		source_perspectives TEXT NOT NULL,
		article_ids TEXT NOT NULL UNIQUE,
		similarity_threshold REAL NOT NULL,
		total_articles INTEGER NOT NULL,
		fallback INTEGER NOT NULL DEFAULT 0,
		analysis_timestamp INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_timestamp ON comparative_analyses(analysis_timestamp);

	CREATE TABLE IF NOT EXISTS rss_feeds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		category TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1
	);
	`

	_, err := c.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	c.logger.Info("SQLite schema initialized")
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func unixTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}
