package limiter

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSleeper struct {
	total time.Duration
	calls int
}

func (f *fakeSleeper) Sleep(d time.Duration) {
	f.total += d
	f.calls++
}

func testParams() Params {
	return Params{
		BaseDelay:             100 * time.Millisecond,
		MinDelay:              50 * time.Millisecond,
		MaxDelay:              60000 * time.Millisecond,
		BackoffMultiplier:     2.0,
		MildBackoffMultiplier: 1.5,
		RecoveryMultiplier:    0.8,
		RecoveryThreshold:     5,
		ForbiddenThreshold:    3,
		ForbiddenWindow:       60 * time.Second,
	}
}

func mustURL(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return *u
}

func TestMemoryLimiter_AcquireFirstCallDoesNotWait(t *testing.T) {
	sleeper := &fakeSleeper{}
	l := NewMemoryLimiter(testParams(), sleeper, nil)

	domain, err := l.Acquire(context.Background(), mustURL(t, "https://example.gov/a"))
	require.NoError(t, err)
	assert.Equal(t, "example.gov", domain)
	assert.Zero(t, sleeper.calls)
}

func TestMemoryLimiter_TenConsecutive429sSaturateAtMaxDelay(t *testing.T) {
	l := NewMemoryLimiter(testParams(), &fakeSleeper{}, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.ReportRateLimit(ctx, "example.gov"))
	}

	snap, ok, err := l.Snapshot(ctx, "example.gov")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, snap.InBackoff)
	assert.Equal(t, 60000*time.Millisecond, snap.CurrentDelay)
	assert.Equal(t, int64(10), snap.RateLimitHits)
}

func TestMemoryLimiter_FiftySuccessesRecoverGeometrically(t *testing.T) {
	l := NewMemoryLimiter(testParams(), &fakeSleeper{}, nil)
	ctx := context.Background()
	domain := "example.gov"

	l.mu.Lock()
	st := l.getOrCreate(domain)
	st.currentDelay = 2000 * time.Millisecond
	st.inBackoff = true
	l.mu.Unlock()

	for i := 0; i < 50; i++ {
		require.NoError(t, l.ReportSuccess(ctx, domain))
	}

	snap, ok, err := l.Snapshot(ctx, domain)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 214.75, float64(snap.CurrentDelay.Milliseconds()), 1.0)
	assert.True(t, snap.InBackoff)
}

func TestMemoryLimiter_RecoveryEventuallySnapsToBaseDelay(t *testing.T) {
	params := testParams()
	l := NewMemoryLimiter(params, &fakeSleeper{}, nil)
	ctx := context.Background()
	domain := "example.gov"

	l.mu.Lock()
	st := l.getOrCreate(domain)
	st.currentDelay = 200 * time.Millisecond
	st.inBackoff = true
	l.mu.Unlock()

	// Four reduction steps: 200 -> 160 -> 128 -> 102.4 -> 81.92ms, which is
	// at or below BaseDelay and snaps back to it.
	for i := 0; i < 20; i++ {
		require.NoError(t, l.ReportSuccess(ctx, domain))
	}

	snap, ok, err := l.Snapshot(ctx, domain)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, snap.InBackoff)
	assert.Equal(t, params.BaseDelay, snap.CurrentDelay)
}

func TestMemoryLimiter_SameURL403sNeverTipIntoBackoff(t *testing.T) {
	l := NewMemoryLimiter(testParams(), &fakeSleeper{}, nil)
	ctx := context.Background()

	var lastTipped bool
	for i := 0; i < 10; i++ {
		tipped, err := l.Report403(ctx, "example.gov", "https://example.gov/same", false)
		require.NoError(t, err)
		lastTipped = tipped
	}

	assert.False(t, lastTipped)
	snap, ok, err := l.Snapshot(ctx, "example.gov")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, snap.InBackoff)
}

func TestMemoryLimiter_ThreeDistinctURL403sTipOnThird(t *testing.T) {
	l := NewMemoryLimiter(testParams(), &fakeSleeper{}, nil)
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

	snap, ok, err := l.Snapshot(ctx, "example.gov")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, snap.InBackoff)
}

func TestMemoryLimiter_403WithRetryAfterEscalatesImmediately(t *testing.T) {
	l := NewMemoryLimiter(testParams(), &fakeSleeper{}, nil)
	ctx := context.Background()

	tipped, err := l.Report403(ctx, "example.gov", "https://example.gov/once", true)
	require.NoError(t, err)
	assert.True(t, tipped)

	snap, ok, err := l.Snapshot(ctx, "example.gov")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, snap.InBackoff)
	assert.Equal(t, 200*time.Millisecond, snap.CurrentDelay)
}

func TestMemoryLimiter_ServerErrorAppliesMildBumpWithoutBackoffFlag(t *testing.T) {
	l := NewMemoryLimiter(testParams(), &fakeSleeper{}, nil)
	ctx := context.Background()

	require.NoError(t, l.ReportServerError(ctx, "example.gov"))

	snap, ok, err := l.Snapshot(ctx, "example.gov")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, snap.InBackoff)
	assert.Equal(t, 150*time.Millisecond, snap.CurrentDelay)
}

func TestMemoryLimiter_AcquireSleepsForRemainingDelay(t *testing.T) {
	sleeper := &fakeSleeper{}
	l := NewMemoryLimiter(testParams(), sleeper, nil)
	ctx := context.Background()
	u := mustURL(t, "https://example.gov/a")

	_, err := l.Acquire(ctx, u)
	require.NoError(t, err)
	assert.Zero(t, sleeper.calls)

	_, err = l.Acquire(ctx, u)
	require.NoError(t, err)
	require.Equal(t, 1, sleeper.calls)
	assert.LessOrEqual(t, sleeper.total, 100*time.Millisecond)
	assert.Greater(t, sleeper.total, time.Duration(0))
}

func TestMemoryLimiter_FindReadyURLShortCircuitsOnZeroWait(t *testing.T) {
	l := NewMemoryLimiter(testParams(), &fakeSleeper{}, nil)
	ctx := context.Background()

	busy := mustURL(t, "https://busy.gov/a")
	_, err := l.Acquire(ctx, busy)
	require.NoError(t, err)

	ready := mustURL(t, "https://ready.gov/a")
	candidates := []url.URL{busy, ready}

	chosen, err := l.FindReadyURL(ctx, candidates)
	require.NoError(t, err)
	assert.Equal(t, "ready.gov", chosen.Hostname())
}

func TestMemoryLimiter_SnapshotUnknownDomainReturnsFalse(t *testing.T) {
	l := NewMemoryLimiter(testParams(), &fakeSleeper{}, nil)
	_, ok, err := l.Snapshot(context.Background(), "never-seen.gov")
	require.NoError(t, err)
	assert.False(t, ok)
}
