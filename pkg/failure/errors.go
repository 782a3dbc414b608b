package failure

// Severity controls whether a worker treats an error as recoverable
// (retry through the normal state machine) or fatal (stop, surface to the
// operator).
type Severity int

const (
	SeverityFatal Severity = iota
	SeverityRecoverable
)

// Category is the closed taxonomy of §7: every error the crawl or analysis
// pipeline can produce maps to exactly one of these. Unlike the teacher's
// metadata.ErrorCause, Category IS allowed to influence control flow —
// that's the whole point of this taxonomy existing.
type Category int

const (
	CategoryUnknown Category = iota
	// CategoryTransient covers timeouts, resets, DNS failures, 5xx (not 503), 408.
	CategoryTransient
	// CategoryRateLimit covers 429, 503, and confirmed-403 rate-limit signals.
	CategoryRateLimit
	// CategoryAccessDenied covers 401, 403 that did not match the rate-limit
	// pattern, and 451.
	CategoryAccessDenied
	// CategoryNotFound covers 404 and 410.
	CategoryNotFound
	// CategoryContentUnchanged covers 304 and content-hash matches.
	CategoryContentUnchanged
	// CategoryToolMissing means the external binary could not be located.
	CategoryToolMissing
	// CategoryToolFailure means the external binary ran and exited non-zero.
	CategoryToolFailure
	// CategoryInvariantViolation means store inconsistency or impossible
	// state; the worker must exit rather than paper over it.
	CategoryInvariantViolation
)

func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryRateLimit:
		return "rate_limit"
	case CategoryAccessDenied:
		return "access_denied"
	case CategoryNotFound:
		return "not_found"
	case CategoryContentUnchanged:
		return "content_unchanged"
	case CategoryToolMissing:
		return "tool_missing"
	case CategoryToolFailure:
		return "tool_failure"
	case CategoryInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// ClassifiedError is any error a worker can record and move past without
// propagating. Unrecoverable invariant violations are the one exception
// (§7, §9): those use SeverityFatal and the caller must stop the worker.
type ClassifiedError interface {
	error
	Severity() Severity
}

// CategorizedError additionally names which taxonomy bucket the error
// belongs to, so callers can decide state transitions without re-deriving
// the classification from an HTTP status or errno each time.
type CategorizedError interface {
	ClassifiedError
	Category() Category
}

// Retryable reports whether err should be retried through the frontier's
// backoff schedule rather than failed terminally. Transient and rate-limit
// categories are retryable; everything else terminal.
func Retryable(err CategorizedError) bool {
	switch err.Category() {
	case CategoryTransient, CategoryRateLimit:
		return true
	default:
		return false
	}
}
