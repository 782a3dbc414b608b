package store

import (
	"errors"
	"fmt"

	"github.com/foiacquire/crawler/pkg/failure"
)

// ErrNotFound is returned by single-row lookups that found nothing; callers
// use errors.Is to distinguish "absent" from a real store failure.
var ErrNotFound = errors.New("store: not found")

// StoreError wraps an underlying driver error as an invariant-violation
// class failure (spec §7: "Storage error: propagate; the orchestrator
// should abort the worker rather than corrupt state").
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Severity() failure.Severity { return failure.SeverityFatal }

func (e *StoreError) Category() failure.Category { return failure.CategoryInvariantViolation }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
