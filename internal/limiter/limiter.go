// Package limiter implements the adaptive per-domain rate limiter of spec
// §4.1: a single current inter-request delay per domain, adapted from
// observed server signals, coordinated across concurrent workers (and,
// via the store-backed implementation, across processes).
//
// The shape follows the teacher's pkg/limiter.RateLimiter — a narrow
// interface plus a concurrency-safe map keyed by host — generalized from
// a crawl-politeness delay into the full state machine spec §4.1
// describes: backoff/recovery curves, a 403 pattern detector, and request
// counters.
package limiter

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Limiter is the contract every crawl worker gates HTTP calls through.
// Acquire only delays; it returns an error only when u has no host or, in
// the store-backed implementation, when the store transaction fails. The
// fetcher reports such an error as an invariant violation, which ends the
// calling crawl worker.
type Limiter interface {
	// Acquire parses u's host, waits until that domain is ready, and
	// returns the domain name.
	Acquire(ctx context.Context, u url.URL) (string, error)
	// ReportRateLimit handles a definite rate-limit signal (429 or 503).
	ReportRateLimit(ctx context.Context, domain string) error
	// Report403 handles an ambiguous 403. hasRetryAfter, if true, treats
	// it as a definite signal. Otherwise the distinct-URL-in-window
	// pattern is evaluated; the bool return reports whether this call
	// tipped the domain into backoff.
	Report403(ctx context.Context, domain, rawURL string, hasRetryAfter bool) (bool, error)
	// ReportServerError handles a non-503 5xx: a mild bump, no backoff flag.
	ReportServerError(ctx context.Context, domain string) error
	// ReportSuccess records a successful request and, if in backoff and
	// enough consecutive successes have accrued, shrinks the delay.
	ReportSuccess(ctx context.Context, domain string) error
	// FindReadyURL returns the URL among candidates whose domain has the
	// smallest time-until-ready, short-circuiting at zero wait.
	FindReadyURL(ctx context.Context, candidates []url.URL) (url.URL, error)
	// Snapshot returns the current state of domain for observability and
	// tests. ok is false if the domain has never been contacted.
	Snapshot(ctx context.Context, domain string) (DomainSnapshot, bool, error)
}

// Params configures the limiter's curve, shared by both backends (spec
// §8 boundary behaviors name exactly these knobs).
type Params struct {
	BaseDelay             time.Duration
	MinDelay              time.Duration
	MaxDelay              time.Duration
	BackoffMultiplier     float64
	MildBackoffMultiplier float64
	RecoveryMultiplier    float64
	RecoveryThreshold     int
	ForbiddenThreshold    int
	ForbiddenWindow       time.Duration
}

// DomainSnapshot is a read-only view of one domain's state.
type DomainSnapshot struct {
	Domain             string
	CurrentDelay       time.Duration
	InBackoff          bool
	ConsecutiveSuccess int
	TotalRequests      int64
	RateLimitHits      int64
}

// HostOf extracts the lowercase host from u, the limiter's domain key.
func HostOf(u url.URL) string {
	host := strings.ToLower(u.Hostname())
	return host
}
