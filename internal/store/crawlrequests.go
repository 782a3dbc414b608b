package store

import (
	"context"
	"time"
)

// CrawlRequest mirrors the append-only `crawl_requests` audit log (spec
// §3, §4.2 "Request log"). One row per HTTP attempt, regardless of
// outcome.
type CrawlRequest struct {
	SourceID        string
	URL             string
	Method          string
	SentHeaders     map[string]string
	ResponseStatus  *int
	ReceivedHeaders map[string]string
	Bytes           int64
	Duration        time.Duration
	Error           *string
	WasConditional  bool
	WasNotModified  bool
}

// InsertCrawlRequest appends one audit row. This log is purely
// observational (spec §4.2) — it never gates any decision.
func (s *Store) InsertCrawlRequest(ctx context.Context, r CrawlRequest) error {
	const q = `
		INSERT INTO crawl_requests
			(source_id, url, method, sent_headers, response_status, received_headers,
			 bytes, duration_ms, error, was_conditional, was_not_modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.Pool.Exec(ctx, q,
		r.SourceID, r.URL, r.Method, headersOrEmpty(r.SentHeaders), r.ResponseStatus,
		headersOrEmpty(r.ReceivedHeaders), r.Bytes, r.Duration.Milliseconds(), r.Error,
		r.WasConditional, r.WasNotModified,
	)
	return wrapErr("InsertCrawlRequest", err)
}

func headersOrEmpty(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}
