package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/storage/models"
)

const defaultExistenceBatch = 100

// ExistingLinks reports which of urls are already known as an article link or
// a queued job URL. Lookups run in IN-batches of at most batchSize values.
func (c *Client) ExistingLinks(ctx context.Context, urls []string, batchSize int) (map[string]struct{}, error) {
	if batchSize <= 0 {
		batchSize = defaultExistenceBatch
	}

	existing := make(map[string]struct{})
	for start := 0; start < len(urls); start += batchSize {
		end := start + batchSize
		if end > len(urls) {
			end = len(urls)
		}
		batch := urls[start:end]

		articles := sq.Select("link").From("articles").Where(sq.Eq{"link": batch})
		jobs := sq.Select("url").From("scrape_jobs").Where(sq.Eq{"url": batch})

		for _, b := range []sq.SelectBuilder{articles, jobs} {
			if err := c.collectStrings(ctx, b, existing); err != nil {
				return nil, fmt.Errorf("failed to check existing links: %w", err)
			}
		}
	}

	return existing, nil
}

func (c *Client) collectStrings(ctx context.Context, b sq.SelectBuilder, into map[string]struct{}) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return err
		}
		into[s] = struct{}{}
	}
	return rows.Err()
}

// InsertJobs adds pending jobs, ignoring URLs that are already queued. A job
// without a creation time is stamped with the current time.
// It returns the number of rows actually inserted.
func (c *Client) InsertJobs(ctx context.Context, jobs []models.ScrapeJob) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO scrape_jobs (id, url, website_id, status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := c.now()
	inserted := 0
	for _, j := range jobs {
		createdAt := j.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		res, err := stmt.ExecContext(ctx, j.ID, j.URL, j.WebsiteID, string(j.Status), j.Attempts, createdAt.Unix())
		if err != nil {
			return 0, fmt.Errorf("failed to insert job %s: %w", j.URL, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit jobs: %w", err)
	}

	c.logger.Debug("Scrape jobs queued", zap.Int("requested", len(jobs)), zap.Int("inserted", inserted))
	return inserted, nil
}

const jobColumns = `id, url, website_id, status, attempts, created_at, last_processed_at, error_log`

func scanJob(row interface{ Scan(...any) error }) (*models.ScrapeJob, error) {
	var j models.ScrapeJob
	var status string
	var createdAt int64
	var lastProcessed sql.NullInt64
	var errorLog sql.NullString

	err := row.Scan(&j.ID, &j.URL, &j.WebsiteID, &status, &j.Attempts, &createdAt, &lastProcessed, &errorLog)
	if err != nil {
		return nil, err
	}

	j.Status = models.JobStatus(status)
	j.CreatedAt = unixTime(createdAt)
	j.LastProcessedAt = timePtr(lastProcessed)
	if errorLog.Valid {
		msg := errorLog.String
		j.ErrorLog = &msg
	}
	return &j, nil
}

// PendingJobs returns up to limit pending jobs, oldest first.
func (c *Client) PendingJobs(ctx context.Context, limit int) ([]models.ScrapeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs WHERE status = ? ORDER BY created_at ASC, rowid ASC LIMIT ?`

	rows, err := c.db.QueryContext(ctx, query, string(models.JobPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ScrapeJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		jobs = append(jobs, *j)
	}

	return jobs, rows.Err()
}

func (c *Client) GetJob(ctx context.Context, id string) (*models.ScrapeJob, error) {
	j, err := scanJob(c.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// MarkProcessing claims a pending job, increments its attempts and stamps
// last_processed_at. ErrNotFound means the job was no longer pending.
func (c *Client) MarkProcessing(ctx context.Context, id string, at time.Time) (int, error) {
	var attempts int
	err := c.db.QueryRowContext(ctx, `
		UPDATE scrape_jobs
		SET status = ?, attempts = attempts + 1, last_processed_at = ?
		WHERE id = ? AND status = ?
		RETURNING attempts
	`, string(models.JobProcessing), at.Unix(), id, string(models.JobPending)).Scan(&attempts)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to mark job processing: %w", err)
	}
	return attempts, nil
}

// SetJobStatus moves a job to status. A nil errorLog clears the column.
func (c *Client) SetJobStatus(ctx context.Context, id string, status models.JobStatus, errorLog *string) error {
	var logValue sql.NullString
	if errorLog != nil {
		logValue = sql.NullString{String: *errorLog, Valid: true}
	}

	res, err := c.db.ExecContext(ctx, `UPDATE scrape_jobs SET status = ?, error_log = ? WHERE id = ?`, string(status), logValue, id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReclaimStale returns jobs stuck in processing since before cutoff to the
// queue, or fails them once maxAttempts is reached.
func (c *Client) ReclaimStale(ctx context.Context, cutoff time.Time, maxAttempts int, reason string) (requeued, failed int, err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE scrape_jobs SET status = ?, error_log = ?
		WHERE status = ? AND last_processed_at < ? AND attempts < ?
	`, string(models.JobPending), reason, string(models.JobProcessing), cutoff.Unix(), maxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	requeued = int(n)

	res, err = tx.ExecContext(ctx, `
		UPDATE scrape_jobs SET status = ?, error_log = ?
		WHERE status = ? AND last_processed_at < ? AND attempts >= ?
	`, string(models.JobFailed), reason, string(models.JobProcessing), cutoff.Unix(), maxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	n, _ = res.RowsAffected()
	failed = int(n)

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit stale job reclaim: %w", err)
	}

	return requeued, failed, nil
}

// JobCounts returns the number of jobs in each status.
func (c *Client) JobCounts(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM scrape_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		counts[models.JobStatus(status)] = n
	}
	return counts, rows.Err()
}
