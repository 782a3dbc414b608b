// Package fetcher is the HTTP boundary of spec §4.2: conditional GETs,
// content-disposition filename parsing, user-agent selection, and the
// single acquire/report_* round trip per request through internal/limiter.
//
// Grounded in the teacher's internal/fetcher package (FetchParam /
// FetchResult / FetchError shape), generalized from an HTML-only fetch to
// an arbitrary-document conditional fetch and the full §7 error taxonomy.
package fetcher

import (
	"net/http"
	"net/url"
	"time"
)

// Request is one conditional-GET attempt (spec §4.2 "Conditional fetch").
type Request struct {
	url          url.URL
	etag         *string
	lastModified *string
	userAgent    string
}

func NewRequest(u url.URL, etag, lastModified *string, userAgent string) Request {
	return Request{url: u, etag: etag, lastModified: lastModified, userAgent: userAgent}
}

func (r Request) URL() url.URL          { return r.url }
func (r Request) ETag() *string         { return r.etag }
func (r Request) LastModified() *string { return r.lastModified }
func (r Request) UserAgent() string     { return r.userAgent }

// Response is a completed HTTP round trip's outcome, before any
// frontier/document-store reconciliation.
type Response struct {
	statusCode  int
	headers     http.Header
	body        []byte
	duration    time.Duration
	sentHeaders map[string]string
}

func (r Response) StatusCode() int                { return r.statusCode }
func (r Response) Headers() http.Header           { return r.headers }
func (r Response) Body() []byte                   { return r.body }
func (r Response) Duration() time.Duration        { return r.duration }
func (r Response) SentHeaders() map[string]string { return r.sentHeaders }

// NotModified reports whether the server answered 304.
func (r Response) NotModified() bool { return r.statusCode == http.StatusNotModified }

// HasRetryAfter reports whether the response carried a Retry-After header,
// the signal the limiter treats as a definite rate-limit escalation
// regardless of the distinct-URL pattern (spec §4.1, §4.2).
func (r Response) HasRetryAfter() bool { return r.headers.Get("Retry-After") != "" }
