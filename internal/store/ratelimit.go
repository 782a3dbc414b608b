package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// RateLimitDomainState mirrors the `rate_limit_state` table (spec §3): the
// store-backed reflection of the in-memory per-domain limiter state, read
// back on process restart.
type RateLimitDomainState struct {
	Domain             string
	CurrentDelayMS     int64
	LastRequestAt      *time.Time
	ConsecutiveSuccess int
	InBackoff          bool
	TotalRequests      int64
	RateLimitHits      int64
}

// UpsertRateLimitState performs the transactional read-modify-write the
// spec requires of acquire and the report_* operations under the store
// backend (spec §4.1 "Persistence"): begin a serializable transaction,
// read-or-insert the row, let fn compute the next state, write it back,
// commit. Sleeping (if any) must happen after commit, by the caller.
func (s *Store) UpsertRateLimitState(ctx context.Context, domain string, baseDelayMS int64, fn func(RateLimitDomainState) RateLimitDomainState) (RateLimitDomainState, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return RateLimitDomainState{}, wrapErr("UpsertRateLimitState begin", err)
	}
	defer tx.Rollback(ctx)

	var st RateLimitDomainState
	err = tx.QueryRow(ctx, `
		SELECT domain, current_delay_ms, last_request_at, consecutive_success, in_backoff, total_requests, rate_limit_hits
		FROM rate_limit_state WHERE domain = $1 FOR UPDATE`, domain,
	).Scan(&st.Domain, &st.CurrentDelayMS, &st.LastRequestAt, &st.ConsecutiveSuccess, &st.InBackoff, &st.TotalRequests, &st.RateLimitHits)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		st = RateLimitDomainState{Domain: domain, CurrentDelayMS: baseDelayMS}
	case err != nil:
		return RateLimitDomainState{}, wrapErr("UpsertRateLimitState select", err)
	}

	next := fn(st)

	const upsert = `
		INSERT INTO rate_limit_state (domain, current_delay_ms, last_request_at, consecutive_success, in_backoff, total_requests, rate_limit_hits, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (domain) DO UPDATE SET
			current_delay_ms = EXCLUDED.current_delay_ms,
			last_request_at = EXCLUDED.last_request_at,
			consecutive_success = EXCLUDED.consecutive_success,
			in_backoff = EXCLUDED.in_backoff,
			total_requests = EXCLUDED.total_requests,
			rate_limit_hits = EXCLUDED.rate_limit_hits,
			updated_at = now()`
	if _, err := tx.Exec(ctx, upsert,
		next.Domain, next.CurrentDelayMS, next.LastRequestAt, next.ConsecutiveSuccess,
		next.InBackoff, next.TotalRequests, next.RateLimitHits,
	); err != nil {
		return RateLimitDomainState{}, wrapErr("UpsertRateLimitState upsert", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return RateLimitDomainState{}, wrapErr("UpsertRateLimitState commit", err)
	}
	return next, nil
}

// GetRateLimitState reads the current state without mutation (used by
// find_ready_url across processes).
func (s *Store) GetRateLimitState(ctx context.Context, domain string) (RateLimitDomainState, error) {
	const q = `
		SELECT domain, current_delay_ms, last_request_at, consecutive_success, in_backoff, total_requests, rate_limit_hits
		FROM rate_limit_state WHERE domain = $1`
	var st RateLimitDomainState
	err := s.Pool.QueryRow(ctx, q, domain).Scan(&st.Domain, &st.CurrentDelayMS, &st.LastRequestAt, &st.ConsecutiveSuccess, &st.InBackoff, &st.TotalRequests, &st.RateLimitHits)
	if errors.Is(err, pgx.ErrNoRows) {
		return RateLimitDomainState{}, ErrNotFound
	}
	return st, wrapErr("GetRateLimitState", err)
}

// Record403Event appends a 403 sighting for distinct-URL pattern detection
// (spec §4.1).
func (s *Store) Record403Event(ctx context.Context, domain, url string, at time.Time) error {
	const q = `INSERT INTO rate_limit_403_events (domain, url, occurred_at) VALUES ($1, $2, $3)`
	_, err := s.Pool.Exec(ctx, q, domain, url, at)
	return wrapErr("Record403Event", err)
}

// CountDistinct403URLs counts distinct URLs that received a 403 for domain
// within window of now, backed by the (domain, occurred_at) index (spec
// §4.1, §6).
func (s *Store) CountDistinct403URLs(ctx context.Context, domain string, window time.Duration, now time.Time) (int, error) {
	const q = `
		SELECT count(DISTINCT url) FROM rate_limit_403_events
		WHERE domain = $1 AND occurred_at > $2`
	var n int
	err := s.Pool.QueryRow(ctx, q, domain, now.Add(-window)).Scan(&n)
	return n, wrapErr("CountDistinct403URLs", err)
}

// PruneOld403Events deletes events older than window, keeping the table
// bounded (spec §3 "aged out").
func (s *Store) PruneOld403Events(ctx context.Context, domain string, window time.Duration, now time.Time) error {
	const q = `DELETE FROM rate_limit_403_events WHERE domain = $1 AND occurred_at <= $2`
	_, err := s.Pool.Exec(ctx, q, domain, now.Add(-window))
	return wrapErr("PruneOld403Events", err)
}
