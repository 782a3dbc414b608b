// Package orchestrator is the worker-pool layer of spec §4.4: a
// configurable number of crawl-fetch and analysis workers, each looping
// "pick work, do it, repeat, terminate on shutdown signal," plus the
// stats surface spec §7 says is the only thing workers may surface
// upward ("the orchestrator surfaces only counts").
//
// Grounded in the pack's platform/worker.Loop (poll-step-wait, context
// cancellation, no propagation of per-item errors out of the loop) and in
// the teacher's Scheduler being "the sole control-plane authority" —
// generalized from one synchronous scheduler into N independent worker
// goroutines that each own their own pick/do/repeat cycle.
package orchestrator

import (
	"context"
	"time"

	"github.com/foiacquire/crawler/internal/store"
)

// Params configures one orchestrator instance (spec §6 "fetch workers",
// "analysis workers", plus the batch/poll knobs §4.4 names but leaves to
// the implementer).
type Params struct {
	FetchWorkers    int
	AnalysisWorkers int
	CrawlBatchSize  int
	AnalysisBatch   int
	PollInterval    time.Duration
	RetryInterval   time.Duration
}

// StatsBackend is the slice of *store.Store the stats surface needs.
type StatsBackend interface {
	CountURLsByStatus(ctx context.Context, sourceID string) (map[store.CrawlURLStatus]int64, error)
	CountPendingAnalysis(ctx context.Context, method string) (int64, error)
	CountSucceeded(ctx context.Context, method string) (int64, error)
	CountRecentFailures(ctx context.Context, method string, retryInterval time.Duration, now time.Time) (int64, error)
	CountNeedingAnalysis(ctx context.Context, method string, filter store.AnalysisFilter, retryInterval time.Duration, now time.Time) (int64, error)
	CountEligibleDocuments(ctx context.Context, filter store.AnalysisFilter) (int64, error)
}

// CrawlStats mirrors the frontier's per-source counts by status.
type CrawlStats struct {
	SourceID string
	Pending  int64
	Fetching int64
	Fetched  int64
	Skipped  int64
	Failed   int64
}

// AnalysisStats mirrors one method's counts, satisfying the universal
// invariant of spec §8: Pending + Succeeded + RecentFailures + Needing =
// Eligible.
type AnalysisStats struct {
	Method         string
	Pending        int64
	Succeeded      int64
	RecentFailures int64
	Needing        int64
	Eligible       int64
}

func crawlStats(sourceID string, counts map[store.CrawlURLStatus]int64) CrawlStats {
	return CrawlStats{
		SourceID: sourceID,
		Pending:  counts[store.CrawlStatusPending],
		Fetching: counts[store.CrawlStatusFetching],
		Fetched:  counts[store.CrawlStatusFetched],
		Skipped:  counts[store.CrawlStatusSkipped],
		Failed:   counts[store.CrawlStatusFailed],
	}
}
