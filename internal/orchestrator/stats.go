package orchestrator

import (
	"context"
	"time"

	"github.com/foiacquire/crawler/internal/store"
)

// Stats is the orchestrator's read-only reporting surface (spec §7 "the
// orchestrator surfaces only counts"): it never exposes per-item errors,
// only the aggregate counts a `stats` CLI subcommand or dashboard needs.
type Stats struct {
	backend       StatsBackend
	retryInterval time.Duration
}

func NewStats(backend StatsBackend, retryInterval time.Duration) *Stats {
	return &Stats{backend: backend, retryInterval: retryInterval}
}

// Crawl reports crawl_urls counts by status for sourceID.
func (s *Stats) Crawl(ctx context.Context, sourceID string) (CrawlStats, error) {
	counts, err := s.backend.CountURLsByStatus(ctx, sourceID)
	if err != nil {
		return CrawlStats{}, err
	}
	return crawlStats(sourceID, counts), nil
}

// Analysis reports one method's counts, satisfying the spec §8 invariant
// pending + succeeded + recent-failures + needing = eligible.
func (s *Stats) Analysis(ctx context.Context, method string, filter store.AnalysisFilter) (AnalysisStats, error) {
	now := time.Now()

	pending, err := s.backend.CountPendingAnalysis(ctx, method)
	if err != nil {
		return AnalysisStats{}, err
	}
	succeeded, err := s.backend.CountSucceeded(ctx, method)
	if err != nil {
		return AnalysisStats{}, err
	}
	recentFailures, err := s.backend.CountRecentFailures(ctx, method, s.retryInterval, now)
	if err != nil {
		return AnalysisStats{}, err
	}
	needing, err := s.backend.CountNeedingAnalysis(ctx, method, filter, s.retryInterval, now)
	if err != nil {
		return AnalysisStats{}, err
	}
	eligible, err := s.backend.CountEligibleDocuments(ctx, filter)
	if err != nil {
		return AnalysisStats{}, err
	}

	return AnalysisStats{
		Method:         method,
		Pending:        pending,
		Succeeded:      succeeded,
		RecentFailures: recentFailures,
		Needing:        needing,
		Eligible:       eligible,
	}, nil
}
