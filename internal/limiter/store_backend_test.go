package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foiacquire/crawler/internal/store"
)

// fakeStoreBackend is an in-memory stand-in for *store.Store satisfying
// StoreBackend, letting the store-backed limiter's transition logic be
// tested without a database.
type fakeStoreBackend struct {
	mu     sync.Mutex
	states map[string]store.RateLimitDomainState
	events map[string][]fake403Event
}

type fake403Event struct {
	url string
	at  time.Time
}

func newFakeStoreBackend() *fakeStoreBackend {
	return &fakeStoreBackend{
		states: make(map[string]store.RateLimitDomainState),
		events: make(map[string][]fake403Event),
	}
}

func (f *fakeStoreBackend) UpsertRateLimitState(ctx context.Context, domain string, baseDelayMS int64, fn func(store.RateLimitDomainState) store.RateLimitDomainState) (store.RateLimitDomainState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.states[domain]
	if !ok {
		st = store.RateLimitDomainState{Domain: domain, CurrentDelayMS: baseDelayMS}
	}
	next := fn(st)
	next.Domain = domain
	f.states[domain] = next
	return next, nil
}

func (f *fakeStoreBackend) GetRateLimitState(ctx context.Context, domain string) (store.RateLimitDomainState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[domain]
	if !ok {
		return store.RateLimitDomainState{}, store.ErrNotFound
	}
	return st, nil
}

func (f *fakeStoreBackend) Record403Event(ctx context.Context, domain, url string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[domain] = append(f.events[domain], fake403Event{url: url, at: at})
	return nil
}

func (f *fakeStoreBackend) CountDistinct403URLs(ctx context.Context, domain string, window time.Duration, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := now.Add(-window)
	seen := make(map[string]struct{})
	for _, e := range f.events[domain] {
		if e.at.After(cutoff) {
			seen[e.url] = struct{}{}
		}
	}
	return len(seen), nil
}

func (f *fakeStoreBackend) PruneOld403Events(ctx context.Context, domain string, window time.Duration, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := now.Add(-window)
	kept := f.events[domain][:0]
	for _, e := range f.events[domain] {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	f.events[domain] = kept
	return nil
}

func TestStoreLimiter_TenConsecutive429sSaturateAtMaxDelay(t *testing.T) {
	backend := newFakeStoreBackend()
	l := NewStoreLimiter(backend, testParams(), &fakeSleeper{}, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.ReportRateLimit(ctx, "example.gov"))
	}

	snap, ok, err := l.Snapshot(ctx, "example.gov")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, snap.InBackoff)
	assert.Equal(t, 60000*time.Millisecond, snap.CurrentDelay)
}

func TestStoreLimiter_SameURL403sNeverTipIntoBackoff(t *testing.T) {
	backend := newFakeStoreBackend()
	l := NewStoreLimiter(backend, testParams(), &fakeSleeper{}, nil)
	ctx := context.Background()

	var lastTipped bool
	for i := 0; i < 10; i++ {
		tipped, err := l.Report403(ctx, "example.gov", "https://example.gov/same", false)
		require.NoError(t, err)
		lastTipped = tipped
	}
	assert.False(t, lastTipped)
}

func TestStoreLimiter_ThreeDistinctURL403sTipOnThird(t *testing.T) {
	backend := newFakeStoreBackend()
	l := NewStoreLimiter(backend, testParams(), &fakeSleeper{}, nil)
	ctx := context.Background()

	tipped1, err := l.Report403(ctx, "example.gov", "https://example.gov/1", false)
	require.NoError(t, err)
	assert.False(t, tipped1)

	tipped2, err := l.Report403(ctx, "example.gov", "https://example.gov/2", false)
	require.NoError(t, err)
	assert.False(t, tipped2)

	tipped3, err := l.Report403(ctx, "example.gov", "https://example.gov/3", false)
	require.NoError(t, err)
	assert.True(t, tipped3)
}

func TestStoreLimiter_SnapshotUnknownDomainReturnsFalse(t *testing.T) {
	backend := newFakeStoreBackend()
	l := NewStoreLimiter(backend, testParams(), &fakeSleeper{}, nil)
	_, ok, err := l.Snapshot(context.Background(), "never-seen.gov")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreLimiter_AcquireFirstCallDoesNotWait(t *testing.T) {
	backend := newFakeStoreBackend()
	sleeper := &fakeSleeper{}
	l := NewStoreLimiter(backend, testParams(), sleeper, nil)

	domain, err := l.Acquire(context.Background(), mustURL(t, "https://example.gov/a"))
	require.NoError(t, err)
	assert.Equal(t, "example.gov", domain)
	assert.Zero(t, sleeper.calls)
}

func TestStoreLimiter_ReportSuccessClearsForbiddenEvents(t *testing.T) {
	backend := newFakeStoreBackend()
	l := NewStoreLimiter(backend, testParams(), &fakeSleeper{}, nil)
	ctx := context.Background()

	_, err := l.Report403(ctx, "example.gov", "https://example.gov/1", false)
	require.NoError(t, err)
	_, err = l.Report403(ctx, "example.gov", "https://example.gov/2", false)
	require.NoError(t, err)

	require.NoError(t, l.ReportSuccess(ctx, "example.gov"))

	tipped, err := l.Report403(ctx, "example.gov", "https://example.gov/3", false)
	require.NoError(t, err)
	assert.False(t, tipped, "forbidden ring should have been cleared by the intervening success")
}
