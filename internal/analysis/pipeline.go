package analysis

import (
	"context"
	"time"

	"github.com/foiacquire/crawler/internal/observability"
	"github.com/foiacquire/crawler/internal/store"
	"github.com/foiacquire/crawler/pkg/failure"
)

// Pipeline drives claim_analysis / store_analysis_result around a
// Handler, and paginates through get_needing_analysis for worker loops
// (spec §4.3, §4.4 "Analysis work pulls by get_needing_analysis").
type Pipeline struct {
	backend       Backend
	rec           observability.Recorder
	retryInterval time.Duration
}

func New(backend Backend, rec observability.Recorder, retryInterval time.Duration) *Pipeline {
	return &Pipeline{backend: backend, rec: rec, retryInterval: retryInterval}
}

// RunOne attempts to claim and execute one (document, version) pair for
// handler.Method(). claimed is false when another worker already holds
// the claim (spec §4.3 "Claim protocol") — the caller should move on to
// the next candidate rather than treat it as an error.
func (p *Pipeline) RunOne(ctx context.Context, documentID string, versionID int64, handler Handler) (claimed bool, err error) {
	method := handler.Method()

	ok, err := p.backend.ClaimAnalysis(ctx, documentID, versionID, method)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	start := time.Now()
	output, runErr := handler.Run(ctx, documentID, versionID)
	duration := time.Since(start)

	var errMsg *string
	backendName := method
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}

	if storeErr := p.backend.StoreAnalysisResult(ctx, documentID, versionID, method, backendName, output, errMsg); storeErr != nil {
		return true, storeErr
	}

	if p.rec != nil {
		p.rec.Analysis(observability.AnalysisEvent{
			DocumentID: documentID,
			VersionID:  versionID,
			Method:     method,
			Backend:    backendName,
			Succeeded:  runErr == nil,
			Cause:      analysisCause(runErr),
			Duration:   duration,
		})
	}

	if runErr != nil && runErr.Severity() == failure.SeverityFatal {
		return true, runErr
	}
	return true, nil
}

// PollAndRun pulls up to limit eligible (document, version) pairs for
// handler.Method() and runs each through RunOne, skipping claim races
// silently. It returns the cursor to resume from (the last document id
// seen) and the count of pairs it actually completed (claimed and ran).
func (p *Pipeline) PollAndRun(ctx context.Context, filter store.AnalysisFilter, handler Handler, now time.Time) (cursor string, ran int, err error) {
	items, err := p.backend.GetNeedingAnalysis(ctx, handler.Method(), filter, p.retryInterval, now)
	if err != nil {
		return filter.Cursor, 0, err
	}

	for _, item := range items {
		cursor = item.DocumentID
		claimed, runErr := p.RunOne(ctx, item.DocumentID, item.VersionID, handler)
		if runErr != nil {
			var fe *AnalysisError
			if asAnalysisError(runErr, &fe) && fe.Severity() == failure.SeverityFatal {
				return cursor, ran, runErr
			}
			if _, isStoreErr := runErr.(*store.StoreError); isStoreErr {
				return cursor, ran, runErr
			}
			continue
		}
		if claimed {
			ran++
		}
	}
	return cursor, ran, nil
}

func asAnalysisError(err error, target **AnalysisError) bool {
	ae, ok := err.(*AnalysisError)
	if !ok {
		return false
	}
	*target = ae
	return true
}

func analysisCause(err *AnalysisError) observability.EventCause {
	if err == nil {
		return observability.CauseUnknown
	}
	switch err.Category() {
	case failure.CategoryToolMissing:
		return observability.CauseToolMissing
	case failure.CategoryToolFailure:
		return observability.CauseToolFailure
	case failure.CategoryInvariantViolation:
		return observability.CauseInvariantViolated
	default:
		return observability.CauseUnknown
	}
}
