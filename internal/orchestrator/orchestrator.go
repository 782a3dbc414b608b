package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/foiacquire/crawler/internal/analysis"
	"github.com/foiacquire/crawler/internal/fetcher"
	"github.com/foiacquire/crawler/internal/frontier"
	"github.com/foiacquire/crawler/internal/limiter"
	"github.com/foiacquire/crawler/internal/observability"
	"github.com/foiacquire/crawler/internal/scraper"
	"github.com/foiacquire/crawler/internal/store"
)

// Orchestrator is the sole control-plane authority fanning work out to N
// independent crawl-fetch workers and M analysis workers, each running
// its own pick/do/repeat loop (spec §4.4). It owns nothing about HTTP or
// the claim protocol directly — those live in internal/fetcher and
// internal/analysis — only the worker counts, shutdown coordination, and
// stats surface.
type Orchestrator struct {
	params Params
	stats  *Stats

	sourceID   string
	sourceKind string
	frontier   *frontier.Frontier
	docs       frontier.DocumentBackend
	fetcher    *fetcher.Client
	lim        limiter.Limiter
	rec        observability.Recorder
	dispatch   *scraper.Dispatcher
	dataDir    string

	analysisPipeline *analysis.Pipeline
	handlers         []analysis.Handler
	analysisFilter   store.AnalysisFilter
}

func New(params Params, statsBackend StatsBackend, sourceID, sourceKind string, fr *frontier.Frontier, docs frontier.DocumentBackend, fc *fetcher.Client, lim limiter.Limiter, rec observability.Recorder, dispatch *scraper.Dispatcher, dataDir string, analysisPipeline *analysis.Pipeline, handlers []analysis.Handler, analysisFilter store.AnalysisFilter) *Orchestrator {
	return &Orchestrator{
		params:           params,
		stats:            NewStats(statsBackend, params.RetryInterval),
		sourceID:         sourceID,
		sourceKind:       sourceKind,
		frontier:         fr,
		docs:             docs,
		fetcher:          fc,
		lim:              lim,
		rec:              rec,
		dispatch:         dispatch,
		dataDir:          dataDir,
		analysisPipeline: analysisPipeline,
		handlers:         handlers,
		analysisFilter:   analysisFilter,
	}
}

// Run starts params.FetchWorkers crawl workers and params.AnalysisWorkers
// workers per handler, and blocks until ctx is canceled or any worker
// returns a fatal error (spec §5 "a shutdown signal causes workers to
// finish the current work item... and exit"). The first fatal error from
// any worker cancels the rest via the group's shared context.
func (o *Orchestrator) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	for i := 0; i < o.params.FetchWorkers; i++ {
		worker := NewCrawlWorker(o.sourceID, o.sourceKind, o.frontier, o.docs, o.fetcher, o.lim, o.rec, o.dispatch, o.dataDir, o.params.CrawlBatchSize)
		group.Go(func() error {
			return worker.Run(gctx, o.params.PollInterval)
		})
	}

	for _, handler := range o.handlers {
		for i := 0; i < o.params.AnalysisWorkers; i++ {
			worker := NewAnalysisWorker(o.analysisPipeline, handler, o.analysisFilter, o.params.AnalysisBatch)
			group.Go(func() error {
				return worker.Run(gctx, o.params.PollInterval)
			})
		}
	}

	return group.Wait()
}

// Stats exposes the read-only reporting surface (spec §7).
func (o *Orchestrator) Stats() *Stats { return o.stats }
