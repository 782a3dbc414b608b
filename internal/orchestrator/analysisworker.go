package orchestrator

import (
	"context"
	"time"

	"github.com/foiacquire/crawler/internal/analysis"
	"github.com/foiacquire/crawler/internal/store"
)

// AnalysisWorker drives one analysis method's pipeline to exhaustion each
// poll: it keeps pulling batches via Pipeline.PollAndRun, advancing the
// cursor, until a batch returns nothing to do (spec §4.4 "Analysis work
// pulls by get_needing_analysis" — workers never propagate per-item
// errors, only invariant violations).
type AnalysisWorker struct {
	pipeline  *analysis.Pipeline
	handler   analysis.Handler
	filter    store.AnalysisFilter
	batchSize int
}

func NewAnalysisWorker(pipeline *analysis.Pipeline, handler analysis.Handler, filter store.AnalysisFilter, batchSize int) *AnalysisWorker {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &AnalysisWorker{pipeline: pipeline, handler: handler, filter: filter, batchSize: batchSize}
}

func (w *AnalysisWorker) Run(ctx context.Context, pollInterval time.Duration) error {
	return runLoop(ctx, pollInterval, w.step)
}

func (w *AnalysisWorker) step(ctx context.Context) (bool, error) {
	filter := w.filter
	filter.Limit = w.batchSize

	cursor, ran, err := w.pipeline.PollAndRun(ctx, filter, w.handler, time.Now())
	if err != nil {
		return ran > 0, err
	}
	if cursor != "" {
		w.filter.Cursor = cursor
	}
	if ran == 0 {
		w.filter.Cursor = ""
		return false, nil
	}
	return true, nil
}
