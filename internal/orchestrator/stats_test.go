package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foiacquire/crawler/internal/store"
)

type fakeStatsBackend struct {
	urlCounts      map[store.CrawlURLStatus]int64
	pending        int64
	succeeded      int64
	recentFailures int64
	needing        int64
	eligible       int64
}

func (f *fakeStatsBackend) CountURLsByStatus(ctx context.Context, sourceID string) (map[store.CrawlURLStatus]int64, error) {
	return f.urlCounts, nil
}

func (f *fakeStatsBackend) CountPendingAnalysis(ctx context.Context, method string) (int64, error) {
	return f.pending, nil
}

func (f *fakeStatsBackend) CountSucceeded(ctx context.Context, method string) (int64, error) {
	return f.succeeded, nil
}

func (f *fakeStatsBackend) CountRecentFailures(ctx context.Context, method string, retryInterval time.Duration, now time.Time) (int64, error) {
	return f.recentFailures, nil
}

func (f *fakeStatsBackend) CountNeedingAnalysis(ctx context.Context, method string, filter store.AnalysisFilter, retryInterval time.Duration, now time.Time) (int64, error) {
	return f.needing, nil
}

func (f *fakeStatsBackend) CountEligibleDocuments(ctx context.Context, filter store.AnalysisFilter) (int64, error) {
	return f.eligible, nil
}

func TestStats_CrawlMapsStatusCountsBySourceID(t *testing.T) {
	backend := &fakeStatsBackend{urlCounts: map[store.CrawlURLStatus]int64{
		store.CrawlStatusPending: 5,
		store.CrawlStatusFetched: 12,
		store.CrawlStatusFailed:  1,
	}}
	stats := NewStats(backend, time.Hour)

	got, err := stats.Crawl(context.Background(), "src-1")
	require.NoError(t, err)

	assert.Equal(t, "src-1", got.SourceID)
	assert.Equal(t, int64(5), got.Pending)
	assert.Equal(t, int64(12), got.Fetched)
	assert.Equal(t, int64(1), got.Failed)
	assert.Zero(t, got.Skipped)
}

func TestStats_AnalysisSatisfiesTheCountInvariant(t *testing.T) {
	backend := &fakeStatsBackend{pending: 3, succeeded: 40, recentFailures: 2, needing: 5, eligible: 50}
	stats := NewStats(backend, time.Hour)

	got, err := stats.Analysis(context.Background(), "ocr", store.AnalysisFilter{})
	require.NoError(t, err)

	assert.Equal(t, "ocr", got.Method)
	assert.Equal(t, got.Pending+got.Succeeded+got.RecentFailures+got.Needing, got.Eligible)
}
