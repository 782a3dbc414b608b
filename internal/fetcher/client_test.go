package fetcher

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foiacquire/crawler/internal/limiter"
	"github.com/foiacquire/crawler/pkg/failure"
)

// fakeLimiter is a limiter.Limiter stand-in that records every report call
// and lets a test force Report403's tipped return, without a real clock or
// backoff curve.
type fakeLimiter struct {
	report403Tipped bool
	rateLimitCalls  int
	serverErrCalls  int
	successCalls    int
	report403Calls  int
}

func (f *fakeLimiter) Acquire(ctx context.Context, u url.URL) (string, error) { return u.Host, nil }
func (f *fakeLimiter) ReportRateLimit(ctx context.Context, domain string) error {
	f.rateLimitCalls++
	return nil
}
func (f *fakeLimiter) Report403(ctx context.Context, domain, rawURL string, hasRetryAfter bool) (bool, error) {
	f.report403Calls++
	return f.report403Tipped, nil
}
func (f *fakeLimiter) ReportServerError(ctx context.Context, domain string) error {
	f.serverErrCalls++
	return nil
}
func (f *fakeLimiter) ReportSuccess(ctx context.Context, domain string) error {
	f.successCalls++
	return nil
}
func (f *fakeLimiter) FindReadyURL(ctx context.Context, candidates []url.URL) (url.URL, error) {
	return candidates[0], nil
}
func (f *fakeLimiter) Snapshot(ctx context.Context, domain string) (limiter.DomainSnapshot, bool, error) {
	return limiter.DomainSnapshot{}, false, nil
}

func classifyWith(t *testing.T, lim *fakeLimiter, statusCode int) *FetchError {
	t.Helper()
	c := &Client{limiter: lim}
	resp := Response{statusCode: statusCode, headers: http.Header{}}
	return c.classify(context.Background(), "example.gov", "https://example.gov/doc", resp)
}

func TestClassify_RoutineClientErrorsAreNeverFatal(t *testing.T) {
	for _, status := range []int{400, 401, 405, 406, 409, 410, 451} {
		lim := &fakeLimiter{}
		err := classifyWith(t, lim, status)
		require.NotNil(t, err, "status %d", status)
		assert.Equal(t, failure.SeverityRecoverable, err.Severity(), "status %d must not be fatal", status)
	}
}

func TestClassify_401And451MapToAccessDenied(t *testing.T) {
	for _, status := range []int{401, 451} {
		lim := &fakeLimiter{}
		err := classifyWith(t, lim, status)
		require.NotNil(t, err)
		assert.Equal(t, failure.CategoryAccessDenied, err.Category(), "status %d", status)
	}
}

func TestClassify_410MapsToNotFound(t *testing.T) {
	lim := &fakeLimiter{}
	err := classifyWith(t, lim, http.StatusGone)
	require.NotNil(t, err)
	assert.Equal(t, failure.CategoryNotFound, err.Category())
}

func TestClassify_408MapsToTransient(t *testing.T) {
	lim := &fakeLimiter{}
	err := classifyWith(t, lim, http.StatusRequestTimeout)
	require.NotNil(t, err)
	assert.Equal(t, failure.CategoryTransient, err.Category())
	assert.Equal(t, 1, lim.serverErrCalls)
}

func TestClassify_UnlistedClientErrorDefaultsToAccessDeniedNotInvariantViolation(t *testing.T) {
	lim := &fakeLimiter{}
	err := classifyWith(t, lim, 409)
	require.NotNil(t, err)
	assert.Equal(t, failure.CategoryAccessDenied, err.Category())
	assert.NotEqual(t, failure.CategoryInvariantViolation, err.Category())
}

func TestClassify_ExhaustedRedirectsAreTransientNotInvariantViolation(t *testing.T) {
	lim := &fakeLimiter{}
	err := classifyWith(t, lim, http.StatusMultipleChoices)
	require.NotNil(t, err)
	assert.Equal(t, failure.CategoryTransient, err.Category())
	assert.Equal(t, failure.SeverityRecoverable, err.Severity())
}

func TestClassify_UnconfirmedForbiddenIsAccessDenied(t *testing.T) {
	lim := &fakeLimiter{report403Tipped: false}
	err := classifyWith(t, lim, http.StatusForbidden)
	require.NotNil(t, err)
	assert.Equal(t, failure.CategoryAccessDenied, err.Category())
	assert.Equal(t, 1, lim.report403Calls)
}

func TestClassify_ConfirmedForbiddenTipsIntoRateLimit(t *testing.T) {
	lim := &fakeLimiter{report403Tipped: true}
	err := classifyWith(t, lim, http.StatusForbidden)
	require.NotNil(t, err)
	assert.Equal(t, failure.CategoryRateLimit, err.Category(),
		"a confirmed 403 must route like a rate-limit signal, not a terminal failure")
}

func TestClassify_429And503AreRateLimit(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		lim := &fakeLimiter{}
		err := classifyWith(t, lim, status)
		require.NotNil(t, err)
		assert.Equal(t, failure.CategoryRateLimit, err.Category())
	}
}

func TestClassify_SuccessAndNotModifiedReturnNil(t *testing.T) {
	lim := &fakeLimiter{}
	assert.Nil(t, classifyWith(t, lim, http.StatusOK))
	assert.Nil(t, classifyWith(t, lim, http.StatusNotModified))
}
