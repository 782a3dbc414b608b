package orchestrator

import (
	"context"
	"time"
)

// step performs one unit of work and reports whether it did anything.
// A non-nil error is always fatal (spec §7 "invariant violation: logged,
// the worker exits") — every recoverable failure a step can hit must
// already have been recorded into a row and swallowed before step
// returns, following the teacher's "pipeline stages detect and classify
// failure, but never decide retry/continuation/abortion."
type step func(ctx context.Context) (didWork bool, err error)

// runLoop is the generalized shape of the pack's worker.Loop: run step
// repeatedly, sleeping pollInterval between iterations that did no work
// (so an idle worker doesn't busy-spin), and returning cleanly when ctx is
// canceled (spec §5 "Cancellation... finish the current work item... and
// exit").
func runLoop(ctx context.Context, pollInterval time.Duration, s step) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		didWork, err := s(ctx)
		if err != nil {
			return err
		}
		if didWork {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pollInterval):
		}
	}
}
