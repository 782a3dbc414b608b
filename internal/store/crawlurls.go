package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// CrawlURLStatus is the frontier's state machine (spec §4.2).
type CrawlURLStatus string

const (
	CrawlStatusPending  CrawlURLStatus = "pending"
	CrawlStatusFetching CrawlURLStatus = "fetching"
	CrawlStatusFetched  CrawlURLStatus = "fetched"
	CrawlStatusSkipped  CrawlURLStatus = "skipped"
	CrawlStatusFailed   CrawlURLStatus = "failed"
)

// CrawlURL mirrors the `crawl_urls` table (spec §3).
type CrawlURL struct {
	ID               int64
	SourceID         string
	URL              string
	Status           CrawlURLStatus
	DiscoveryMethod  string
	ParentURL        *string
	Depth            int
	DiscoveredAt     time.Time
	FetchedAt        *time.Time
	RetryCount       int
	LastError        *string
	NextRetryAt      *time.Time
	ETag             *string
	LastModified     *string
	ContentHash      *string
	DocumentID       *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AddURL inserts a new pending crawl URL iff no row exists yet for
// (source_id, url). Returns whether the insert happened (spec §4.2
// "Discovery events", idempotent).
func (s *Store) AddURL(ctx context.Context, sourceID, url string, discoveryMethod string, parentURL *string, depth int) (bool, error) {
	const q = `
		INSERT INTO crawl_urls (source_id, url, status, discovery_method, parent_url, depth)
		VALUES ($1, $2, 'pending', $3, $4, $5)
		ON CONFLICT (source_id, url) DO NOTHING`
	tag, err := s.Pool.Exec(ctx, q, sourceID, url, discoveryMethod, parentURL, depth)
	if err != nil {
		return false, wrapErr("AddURL", err)
	}
	return tag.RowsAffected() > 0, nil
}

// NextPending yields up to limit pending URLs for source whose
// next_retry_at is null or past, ordered by discovery order (spec §4.2
// "next_pending").
func (s *Store) NextPending(ctx context.Context, sourceID string, limit int, now time.Time) ([]CrawlURL, error) {
	const q = `
		SELECT id, source_id, url, status, discovery_method, parent_url, depth,
		       discovered_at, fetched_at, retry_count, last_error, next_retry_at,
		       etag, last_modified, content_hash, document_id, created_at, updated_at
		FROM crawl_urls
		WHERE source_id = $1 AND status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= $2)
		ORDER BY id ASC
		LIMIT $3`
	rows, err := s.Pool.Query(ctx, q, sourceID, now, limit)
	if err != nil {
		return nil, wrapErr("NextPending", err)
	}
	defer rows.Close()

	var out []CrawlURL
	for rows.Next() {
		var u CrawlURL
		if err := rows.Scan(
			&u.ID, &u.SourceID, &u.URL, &u.Status, &u.DiscoveryMethod, &u.ParentURL, &u.Depth,
			&u.DiscoveredAt, &u.FetchedAt, &u.RetryCount, &u.LastError, &u.NextRetryAt,
			&u.ETag, &u.LastModified, &u.ContentHash, &u.DocumentID, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, wrapErr("NextPending scan", err)
		}
		out = append(out, u)
	}
	return out, wrapErr("NextPending rows", rows.Err())
}

// MarkFetching claims a pending URL for fetching. It only succeeds if the
// row is currently pending — this is the compare-and-swap that guarantees
// at most one worker holds `fetching` at a time (spec §5).
func (s *Store) MarkFetching(ctx context.Context, id int64) (bool, error) {
	const q = `UPDATE crawl_urls SET status = 'fetching', updated_at = now() WHERE id = $1 AND status = 'pending'`
	tag, err := s.Pool.Exec(ctx, q, id)
	if err != nil {
		return false, wrapErr("MarkFetching", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFetched transitions fetching -> fetched, recording the new content
// hash, ETag/Last-Modified, and linked document.
func (s *Store) MarkFetched(ctx context.Context, id int64, fetchedAt time.Time, etag, lastModified *string, contentHash, documentID string) error {
	const q = `
		UPDATE crawl_urls
		SET status = 'fetched', fetched_at = $2, etag = $3, last_modified = $4,
		    content_hash = $5, document_id = $6, updated_at = now()
		WHERE id = $1 AND status = 'fetching'`
	tag, err := s.Pool.Exec(ctx, q, id, fetchedAt, etag, lastModified, contentHash, documentID)
	if err != nil {
		return wrapErr("MarkFetched", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSkipped transitions fetching -> skipped(reason). reason is not
// persisted as a distinct column — it rides in last_error for
// observability, matching the audit-only nature of the transition.
func (s *Store) MarkSkipped(ctx context.Context, id int64, reason string, fetchedAt time.Time) error {
	const q = `
		UPDATE crawl_urls
		SET status = 'skipped', last_error = $2, fetched_at = $3, updated_at = now()
		WHERE id = $1 AND status = 'fetching'`
	tag, err := s.Pool.Exec(ctx, q, id, reason, fetchedAt)
	if err != nil {
		return wrapErr("MarkSkipped", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRetry transitions fetching -> pending with a scheduled next attempt,
// incrementing retry_count (spec §4.2 "Retry policy").
func (s *Store) MarkRetry(ctx context.Context, id int64, lastError string, nextRetryAt time.Time) error {
	const q = `
		UPDATE crawl_urls
		SET status = 'pending', last_error = $2, next_retry_at = $3,
		    retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1 AND status = 'fetching'`
	tag, err := s.Pool.Exec(ctx, q, id, lastError, nextRetryAt)
	if err != nil {
		return wrapErr("MarkRetry", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseToPending transitions fetching -> pending without incrementing
// retry_count or scheduling next_retry_at (spec §7 "Rate-limit signal: no
// retry increment; the URL remains pending and the limiter absorbs the
// signal"). The row becomes immediately eligible for next_pending again;
// pacing is enforced by the rate limiter, not by a schedule on this row.
func (s *Store) ReleaseToPending(ctx context.Context, id int64, lastError string) error {
	const q = `
		UPDATE crawl_urls
		SET status = 'pending', last_error = $2, updated_at = now()
		WHERE id = $1 AND status = 'fetching'`
	tag, err := s.Pool.Exec(ctx, q, id, lastError)
	if err != nil {
		return wrapErr("ReleaseToPending", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed transitions fetching -> failed, terminally.
func (s *Store) MarkFailed(ctx context.Context, id int64, lastError string) error {
	const q = `
		UPDATE crawl_urls
		SET status = 'failed', last_error = $2, updated_at = now()
		WHERE id = $1 AND status = 'fetching'`
	tag, err := s.Pool.Exec(ctx, q, id, lastError)
	if err != nil {
		return wrapErr("MarkFailed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reenqueue transitions failed -> pending, the only permitted re-entry
// into the frontier from a terminal state (spec §4.2).
func (s *Store) Reenqueue(ctx context.Context, id int64) error {
	const q = `
		UPDATE crawl_urls
		SET status = 'pending', retry_count = 0, last_error = NULL, next_retry_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'failed'`
	tag, err := s.Pool.Exec(ctx, q, id)
	if err != nil {
		return wrapErr("Reenqueue", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountURLsByStatus returns the number of crawl_urls rows per status for
// sourceID, the frontier half of the orchestrator's stats surface (spec
// §7 "the orchestrator surfaces only counts"). Statuses with zero rows are
// omitted.
func (s *Store) CountURLsByStatus(ctx context.Context, sourceID string) (map[CrawlURLStatus]int64, error) {
	const q = `SELECT status, count(*) FROM crawl_urls WHERE source_id = $1 GROUP BY status`
	rows, err := s.Pool.Query(ctx, q, sourceID)
	if err != nil {
		return nil, wrapErr("CountURLsByStatus", err)
	}
	defer rows.Close()

	out := make(map[CrawlURLStatus]int64)
	for rows.Next() {
		var status CrawlURLStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapErr("CountURLsByStatus scan", err)
		}
		out[status] = n
	}
	return out, wrapErr("CountURLsByStatus rows", rows.Err())
}

// GetCrawlURL fetches a single row by id.
func (s *Store) GetCrawlURL(ctx context.Context, id int64) (CrawlURL, error) {
	const q = `
		SELECT id, source_id, url, status, discovery_method, parent_url, depth,
		       discovered_at, fetched_at, retry_count, last_error, next_retry_at,
		       etag, last_modified, content_hash, document_id, created_at, updated_at
		FROM crawl_urls WHERE id = $1`
	var u CrawlURL
	err := s.Pool.QueryRow(ctx, q, id).Scan(
		&u.ID, &u.SourceID, &u.URL, &u.Status, &u.DiscoveryMethod, &u.ParentURL, &u.Depth,
		&u.DiscoveredAt, &u.FetchedAt, &u.RetryCount, &u.LastError, &u.NextRetryAt,
		&u.ETag, &u.LastModified, &u.ContentHash, &u.DocumentID, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return CrawlURL{}, ErrNotFound
	}
	if err != nil {
		return CrawlURL{}, wrapErr("GetCrawlURL", err)
	}
	return u, nil
}
