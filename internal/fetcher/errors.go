package fetcher

import (
	"fmt"

	"github.com/foiacquire/crawler/pkg/failure"
)

// FetchError is the fetcher's classified error, generalizing the teacher's
// FetchError onto the full §7 taxonomy instead of a local HTML-only cause
// string: every non-2xx/304 response and every transport failure maps to
// exactly one failure.Category.
type FetchError struct {
	Message  string
	category failure.Category
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetcher: %s: %s", e.category, e.Message)
}

func (e *FetchError) Severity() failure.Severity {
	if e.category == failure.CategoryInvariantViolation {
		return failure.SeverityFatal
	}
	return failure.SeverityRecoverable
}

func (e *FetchError) Category() failure.Category { return e.category }

func newFetchError(category failure.Category, format string, args ...any) *FetchError {
	return &FetchError{Message: fmt.Sprintf(format, args...), category: category}
}
