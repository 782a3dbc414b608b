package frontier

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/foiacquire/crawler/internal/store"
)

// Backend is the slice of *store.Store the frontier needs, named
// explicitly so tests can fake it without a database (mirrors
// limiter.StoreBackend).
type Backend interface {
	AddURL(ctx context.Context, sourceID, url string, discoveryMethod string, parentURL *string, depth int) (bool, error)
	NextPending(ctx context.Context, sourceID string, limit int, now time.Time) ([]store.CrawlURL, error)
	MarkFetching(ctx context.Context, id int64) (bool, error)
	MarkFetched(ctx context.Context, id int64, fetchedAt time.Time, etag, lastModified *string, contentHash, documentID string) error
	MarkSkipped(ctx context.Context, id int64, reason string, fetchedAt time.Time) error
	MarkRetry(ctx context.Context, id int64, lastError string, nextRetryAt time.Time) error
	ReleaseToPending(ctx context.Context, id int64, lastError string) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
	Reenqueue(ctx context.Context, id int64) error
	GetCrawlURL(ctx context.Context, id int64) (store.CrawlURL, error)
}

// Params configures the retry schedule (spec §4.2 "Retry policy").
type Params struct {
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
	MaxRetries     int
}

// Frontier is the durable crawl queue: add, claim, and resolve URLs
// against the transition table documented in data.go.
type Frontier struct {
	backend Backend
	params  Params
}

func New(backend Backend, params Params) *Frontier {
	return &Frontier{backend: backend, params: params}
}

// AddURL is the discovery entrypoint scrapers call (spec §4.2 "Discovery
// events"): idempotent per (source, url), returns whether it was newly
// enqueued.
func (f *Frontier) AddURL(ctx context.Context, sourceID string, u url.URL, discoveryMethod string, meta DiscoveryMetadata) (bool, error) {
	return f.backend.AddURL(ctx, sourceID, u.String(), discoveryMethod, meta.parentURL, meta.depth)
}

// NextBatch claims up to limit pending URLs for sourceID. Rows another
// worker claims first between NextPending and MarkFetching are silently
// skipped (spec §5 "others observing fetching skip"), so the returned
// slice may be shorter than limit even when more pending rows exist.
func (f *Frontier) NextBatch(ctx context.Context, sourceID string, limit int, now time.Time) ([]CandidateURL, error) {
	rows, err := f.backend.NextPending(ctx, sourceID, limit, now)
	if err != nil {
		return nil, err
	}

	out := make([]CandidateURL, 0, len(rows))
	for _, row := range rows {
		claimed, err := f.backend.MarkFetching(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			continue
		}

		u, err := url.Parse(row.URL)
		if err != nil {
			// A malformed stored URL is an invariant violation, not a
			// transient fetch error: it could never have passed AddURL's
			// caller without having been a valid url.URL to begin with.
			return nil, fmt.Errorf("frontier: stored URL %q for row %d does not parse: %w", row.URL, row.ID, err)
		}

		out = append(out, CandidateURL{
			ID:           row.ID,
			URL:          *u,
			SourceID:     row.SourceID,
			ETag:         row.ETag,
			LastModified: row.LastModified,
			retryCount:   row.RetryCount,
		})
	}
	return out, nil
}

// Complete resolves a claimed candidate per outcome, applying exactly one
// of the allowed fetching-> transitions (spec §4.2).
func (f *Frontier) Complete(ctx context.Context, candidate CandidateURL, outcome FetchOutcome) error {
	switch outcome.kind {
	case outcomeFetched:
		return f.backend.MarkFetched(ctx, candidate.ID, outcome.fetchedAt, outcome.etag, outcome.lastModified, outcome.contentHash, outcome.documentID)

	case outcomeSkipped:
		return f.backend.MarkSkipped(ctx, candidate.ID, outcome.skipReason, outcome.fetchedAt)

	case outcomeRetry:
		if candidate.retryCount+1 >= f.params.MaxRetries {
			return f.backend.MarkFailed(ctx, candidate.ID, outcome.err.Error())
		}
		delay := retryDelay(f.params, candidate.retryCount)
		return f.backend.MarkRetry(ctx, candidate.ID, outcome.err.Error(), time.Now().Add(delay))

	case outcomeFailed:
		return f.backend.MarkFailed(ctx, candidate.ID, outcome.err.Error())

	case outcomeRateLimited:
		return f.backend.ReleaseToPending(ctx, candidate.ID, outcome.err.Error())

	default:
		return fmt.Errorf("frontier: unknown outcome kind %d", outcome.kind)
	}
}

// retryDelay computes base_backoff x 2^retry_count, capped at
// MaxRetryDelay (spec §4.2 "Retry policy").
func retryDelay(p Params, retryCount int) time.Duration {
	delay := p.RetryBaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= p.MaxRetryDelay {
			return p.MaxRetryDelay
		}
	}
	if delay > p.MaxRetryDelay {
		delay = p.MaxRetryDelay
	}
	return delay
}

// Reenqueue is the only permitted re-entry from failed back to pending
// (spec §4.2).
func (f *Frontier) Reenqueue(ctx context.Context, id int64) error {
	return f.backend.Reenqueue(ctx, id)
}

// Get fetches a single row, mainly for tests and observability.
func (f *Frontier) Get(ctx context.Context, id int64) (store.CrawlURL, error) {
	return f.backend.GetCrawlURL(ctx, id)
}
