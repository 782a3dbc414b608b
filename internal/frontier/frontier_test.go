package frontier

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foiacquire/crawler/internal/store"
)

// fakeBackend is an in-memory stand-in for *store.Store satisfying
// Backend, letting the state machine's transition logic be tested without
// a database.
type fakeBackend struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*store.CrawlURL
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{rows: make(map[int64]*store.CrawlURL)}
}

func (f *fakeBackend) AddURL(ctx context.Context, sourceID, u string, discoveryMethod string, parentURL *string, depth int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.SourceID == sourceID && row.URL == u {
			return false, nil
		}
	}
	f.nextID++
	f.rows[f.nextID] = &store.CrawlURL{
		ID: f.nextID, SourceID: sourceID, URL: u, Status: store.CrawlStatusPending,
		DiscoveryMethod: discoveryMethod, ParentURL: parentURL, Depth: depth,
		DiscoveredAt: time.Now(), CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	return true, nil
}

func (f *fakeBackend) NextPending(ctx context.Context, sourceID string, limit int, now time.Time) ([]store.CrawlURL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.CrawlURL
	for _, row := range f.rows {
		if row.SourceID != sourceID || row.Status != store.CrawlStatusPending {
			continue
		}
		if row.NextRetryAt != nil && row.NextRetryAt.After(now) {
			continue
		}
		out = append(out, *row)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeBackend) MarkFetching(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	if row.Status != store.CrawlStatusPending {
		return false, nil
	}
	row.Status = store.CrawlStatusFetching
	return true, nil
}

func (f *fakeBackend) MarkFetched(ctx context.Context, id int64, fetchedAt time.Time, etag, lastModified *string, contentHash, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	if row.Status != store.CrawlStatusFetching {
		return store.ErrNotFound
	}
	row.Status = store.CrawlStatusFetched
	row.FetchedAt = &fetchedAt
	row.ETag = etag
	row.LastModified = lastModified
	row.ContentHash = &contentHash
	row.DocumentID = &documentID
	return nil
}

func (f *fakeBackend) MarkSkipped(ctx context.Context, id int64, reason string, fetchedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	if row.Status != store.CrawlStatusFetching {
		return store.ErrNotFound
	}
	row.Status = store.CrawlStatusSkipped
	row.LastError = &reason
	row.FetchedAt = &fetchedAt
	return nil
}

func (f *fakeBackend) MarkRetry(ctx context.Context, id int64, lastError string, nextRetryAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	if row.Status != store.CrawlStatusFetching {
		return store.ErrNotFound
	}
	row.Status = store.CrawlStatusPending
	row.LastError = &lastError
	row.NextRetryAt = &nextRetryAt
	row.RetryCount++
	return nil
}

func (f *fakeBackend) ReleaseToPending(ctx context.Context, id int64, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	if row.Status != store.CrawlStatusFetching {
		return store.ErrNotFound
	}
	row.Status = store.CrawlStatusPending
	row.LastError = &lastError
	return nil
}

func (f *fakeBackend) MarkFailed(ctx context.Context, id int64, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	if row.Status != store.CrawlStatusFetching {
		return store.ErrNotFound
	}
	row.Status = store.CrawlStatusFailed
	row.LastError = &lastError
	return nil
}

func (f *fakeBackend) Reenqueue(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	if row.Status != store.CrawlStatusFailed {
		return store.ErrNotFound
	}
	row.Status = store.CrawlStatusPending
	row.RetryCount = 0
	row.LastError = nil
	row.NextRetryAt = nil
	return nil
}

func (f *fakeBackend) GetCrawlURL(ctx context.Context, id int64) (store.CrawlURL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return store.CrawlURL{}, store.ErrNotFound
	}
	return *row, nil
}

func testFrontierParams() Params {
	return Params{RetryBaseDelay: time.Second, MaxRetryDelay: 10 * time.Minute, MaxRetries: 5}
}

func mustParseURL(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return *u
}

func TestFrontier_AddURLIsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	f := New(backend, testFrontierParams())
	ctx := context.Background()
	u := mustParseURL(t, "https://example.gov/doc.pdf")

	added1, err := f.AddURL(ctx, "src-1", u, "seed", DiscoveryMetadata{})
	require.NoError(t, err)
	assert.True(t, added1)

	added2, err := f.AddURL(ctx, "src-1", u, "seed", DiscoveryMetadata{})
	require.NoError(t, err)
	assert.False(t, added2)

	assert.Len(t, backend.rows, 1)
}

func TestFrontier_NextBatchClaimsAndExcludesFetching(t *testing.T) {
	backend := newFakeBackend()
	f := New(backend, testFrontierParams())
	ctx := context.Background()

	_, err := f.AddURL(ctx, "src-1", mustParseURL(t, "https://example.gov/a"), "seed", DiscoveryMetadata{})
	require.NoError(t, err)
	_, err = f.AddURL(ctx, "src-1", mustParseURL(t, "https://example.gov/b"), "seed", DiscoveryMetadata{})
	require.NoError(t, err)

	batch, err := f.NextBatch(ctx, "src-1", 10, time.Now())
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	again, err := f.NextBatch(ctx, "src-1", 10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, again, "claimed rows must not be returned again until resolved")
}

func TestFrontier_CompleteFetchedTransitionsToFetched(t *testing.T) {
	backend := newFakeBackend()
	f := New(backend, testFrontierParams())
	ctx := context.Background()

	_, err := f.AddURL(ctx, "src-1", mustParseURL(t, "https://example.gov/a"), "seed", DiscoveryMetadata{})
	require.NoError(t, err)
	batch, err := f.NextBatch(ctx, "src-1", 10, time.Now())
	require.NoError(t, err)
	require.Len(t, batch, 1)

	err = f.Complete(ctx, batch[0], OutcomeFetched(time.Now(), nil, nil, "hash1", "doc-1"))
	require.NoError(t, err)

	row, err := f.Get(ctx, batch[0].ID)
	require.NoError(t, err)
	assert.Equal(t, store.CrawlStatusFetched, row.Status)
	require.NotNil(t, row.ContentHash)
	assert.Equal(t, "hash1", *row.ContentHash)
}

func TestFrontier_CompleteSkippedNotModified(t *testing.T) {
	backend := newFakeBackend()
	f := New(backend, testFrontierParams())
	ctx := context.Background()

	_, err := f.AddURL(ctx, "src-1", mustParseURL(t, "https://example.gov/a"), "seed", DiscoveryMetadata{})
	require.NoError(t, err)
	batch, err := f.NextBatch(ctx, "src-1", 10, time.Now())
	require.NoError(t, err)

	err = f.Complete(ctx, batch[0], OutcomeSkipped(time.Now(), "not-modified"))
	require.NoError(t, err)

	row, err := f.Get(ctx, batch[0].ID)
	require.NoError(t, err)
	assert.Equal(t, store.CrawlStatusSkipped, row.Status)
}

func TestFrontier_TransientErrorRetriesUntilMaxThenFails(t *testing.T) {
	backend := newFakeBackend()
	params := testFrontierParams()
	params.MaxRetries = 3
	f := New(backend, params)
	ctx := context.Background()

	_, err := f.AddURL(ctx, "src-1", mustParseURL(t, "https://example.gov/a"), "seed", DiscoveryMetadata{})
	require.NoError(t, err)

	var id int64
	for i := 0; i < 3; i++ {
		batch, err := f.NextBatch(ctx, "src-1", 10, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, batch, 1, "attempt %d", i)
		id = batch[0].ID

		err = f.Complete(ctx, batch[0], OutcomeTransientError(errors.New("timeout")))
		require.NoError(t, err)

		row, err := f.Get(ctx, id)
		require.NoError(t, err)
		if i < 2 {
			assert.Equal(t, store.CrawlStatusPending, row.Status, "attempt %d", i)
		} else {
			assert.Equal(t, store.CrawlStatusFailed, row.Status, "attempt %d should hit max retries", i)
		}
	}
}

func TestFrontier_TerminalErrorFailsImmediately(t *testing.T) {
	backend := newFakeBackend()
	f := New(backend, testFrontierParams())
	ctx := context.Background()

	_, err := f.AddURL(ctx, "src-1", mustParseURL(t, "https://example.gov/a"), "seed", DiscoveryMetadata{})
	require.NoError(t, err)
	batch, err := f.NextBatch(ctx, "src-1", 10, time.Now())
	require.NoError(t, err)

	err = f.Complete(ctx, batch[0], OutcomeTerminalError(errors.New("404 not found")))
	require.NoError(t, err)

	row, err := f.Get(ctx, batch[0].ID)
	require.NoError(t, err)
	assert.Equal(t, store.CrawlStatusFailed, row.Status)
}

func TestFrontier_RateLimitedReleasesWithoutRetryPenalty(t *testing.T) {
	backend := newFakeBackend()
	f := New(backend, testFrontierParams())
	ctx := context.Background()

	_, err := f.AddURL(ctx, "src-1", mustParseURL(t, "https://example.gov/a"), "seed", DiscoveryMetadata{})
	require.NoError(t, err)
	batch, err := f.NextBatch(ctx, "src-1", 10, time.Now())
	require.NoError(t, err)

	err = f.Complete(ctx, batch[0], OutcomeRateLimited(errors.New("429 too many requests")))
	require.NoError(t, err)

	row, err := f.Get(ctx, batch[0].ID)
	require.NoError(t, err)
	assert.Equal(t, store.CrawlStatusPending, row.Status)
	assert.Zero(t, row.RetryCount, "rate-limit signals must not consume a retry attempt")
}

func TestFrontier_ReenqueueOnlyFromFailed(t *testing.T) {
	backend := newFakeBackend()
	f := New(backend, testFrontierParams())
	ctx := context.Background()

	_, err := f.AddURL(ctx, "src-1", mustParseURL(t, "https://example.gov/a"), "seed", DiscoveryMetadata{})
	require.NoError(t, err)
	batch, err := f.NextBatch(ctx, "src-1", 10, time.Now())
	require.NoError(t, err)

	require.NoError(t, f.Complete(ctx, batch[0], OutcomeTerminalError(errors.New("gone"))))

	require.NoError(t, f.Reenqueue(ctx, batch[0].ID))
	row, err := f.Get(ctx, batch[0].ID)
	require.NoError(t, err)
	assert.Equal(t, store.CrawlStatusPending, row.Status)
	assert.Zero(t, row.RetryCount)
}

func TestRetryDelay_GrowsGeometricallyAndCaps(t *testing.T) {
	params := Params{RetryBaseDelay: time.Second, MaxRetryDelay: 10 * time.Second, MaxRetries: 10}
	assert.Equal(t, time.Second, retryDelay(params, 0))
	assert.Equal(t, 2*time.Second, retryDelay(params, 1))
	assert.Equal(t, 4*time.Second, retryDelay(params, 2))
	assert.Equal(t, 10*time.Second, retryDelay(params, 10), "must cap at MaxRetryDelay")
}
