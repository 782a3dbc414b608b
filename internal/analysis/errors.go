package analysis

import (
	"fmt"

	"github.com/foiacquire/crawler/pkg/failure"
)

// AnalysisError is the pipeline's classified error, covering the
// §4.3 "Failure taxonomy (pipeline)": tool missing, tool failure, and
// invariant/storage failures. Format-unsupported is deliberately not an
// error — it is recorded as a success with empty output, per spec.
type AnalysisError struct {
	Message  string
	category failure.Category
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis: %s: %s", e.category, e.Message)
}

func (e *AnalysisError) Severity() failure.Severity {
	if e.category == failure.CategoryInvariantViolation {
		return failure.SeverityFatal
	}
	return failure.SeverityRecoverable
}

func (e *AnalysisError) Category() failure.Category { return e.category }

func newAnalysisError(category failure.Category, format string, args ...any) *AnalysisError {
	return &AnalysisError{Message: fmt.Sprintf(format, args...), category: category}
}
