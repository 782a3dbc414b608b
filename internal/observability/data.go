// Package observability carries the crawler's structured-logging and
// metrics surface. It generalizes the teacher's metadata.Recorder concept
// — a typed, closed vocabulary of observable events — onto a real logging
// library (zerolog) instead of a stub, and adds the prometheus counters
// and gauges the orchestrator's stats surface (spec §7) exposes.
package observability

import "time"

// EventCause is a closed, canonical classification used exclusively for
// observability (logging, metrics, reporting). It is distinct from
// failure.Category: Category drives control flow, EventCause only labels
// a log line or metric series. Pipeline packages map their local errors
// to both, but EventCause must never gain a control-flow meaning.
type EventCause string

const (
	CauseUnknown           EventCause = "unknown"
	CauseNetworkFailure    EventCause = "network_failure"
	CauseRateLimited       EventCause = "rate_limited"
	CauseAccessDenied      EventCause = "access_denied"
	CauseNotFound          EventCause = "not_found"
	CauseContentUnchanged  EventCause = "content_unchanged"
	CauseToolMissing       EventCause = "tool_missing"
	CauseToolFailure       EventCause = "tool_failure"
	CauseStorageFailure    EventCause = "storage_failure"
	CauseInvariantViolated EventCause = "invariant_violation"
)

// FetchEvent describes one completed HTTP attempt, mirroring the
// CrawlRequest audit row (spec §3) so the recorder and the store log the
// same facts.
type FetchEvent struct {
	SourceID        string
	URL             string
	Domain          string
	Method          string
	Status          int
	Duration        time.Duration
	Bytes           int
	WasConditional  bool
	WasNotModified  bool
	Err             error
	Cause           EventCause
}

// AnalysisEvent describes one claim/complete transition in the analysis
// pipeline.
type AnalysisEvent struct {
	DocumentID string
	VersionID  int64
	Method     string
	Backend    string
	Succeeded  bool
	Cause      EventCause
	Duration   time.Duration
}

// LimiterEvent describes one rate-limiter state transition (entering or
// leaving backoff, a mild bump, a confirmed 403 pattern).
type LimiterEvent struct {
	Domain        string
	CurrentDelay  time.Duration
	InBackoff     bool
	Reason        string
}
