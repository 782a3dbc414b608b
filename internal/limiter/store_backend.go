package limiter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/foiacquire/crawler/internal/observability"
	"github.com/foiacquire/crawler/internal/store"
	"github.com/foiacquire/crawler/pkg/timeutil"
)

// StoreBackend is the minimal slice of *store.Store the limiter needs,
// named explicitly so tests can fake it without a real database.
type StoreBackend interface {
	UpsertRateLimitState(ctx context.Context, domain string, baseDelayMS int64, fn func(store.RateLimitDomainState) store.RateLimitDomainState) (store.RateLimitDomainState, error)
	GetRateLimitState(ctx context.Context, domain string) (store.RateLimitDomainState, error)
	Record403Event(ctx context.Context, domain, url string, at time.Time) error
	CountDistinct403URLs(ctx context.Context, domain string, window time.Duration, now time.Time) (int, error)
	PruneOld403Events(ctx context.Context, domain string, window time.Duration, now time.Time) error
}

// StoreLimiter is the multi-process backend (spec §4.1 "Persistence" /
// "Shared store"): every mutating operation upserts rate_limit_state and
// records 403 events, with acquire computing the wait inside the store's
// serialized transaction and sleeping only after commit.
type StoreLimiter struct {
	backend StoreBackend
	params  Params
	sleeper timeutil.Sleeper
	rec     observability.Recorder
}

func NewStoreLimiter(backend StoreBackend, params Params, sleeper timeutil.Sleeper, rec observability.Recorder) *StoreLimiter {
	return &StoreLimiter{backend: backend, params: params, sleeper: sleeper, rec: rec}
}

func (l *StoreLimiter) Acquire(ctx context.Context, u url.URL) (string, error) {
	domain := HostOf(u)
	if domain == "" {
		return "", fmt.Errorf("limiter: url has no host: %s", u.String())
	}

	now := time.Now()
	var wait time.Duration
	_, err := l.backend.UpsertRateLimitState(ctx, domain, l.params.BaseDelay.Milliseconds(), func(st store.RateLimitDomainState) store.RateLimitDomainState {
		lastAt := now
		if st.LastRequestAt != nil {
			lastAt = *st.LastRequestAt
		}
		wait = computeWait(time.Duration(st.CurrentDelayMS)*time.Millisecond, orZero(st.LastRequestAt), now)
		if st.LastRequestAt == nil {
			wait = 0
		}
		next := now.Add(wait)
		st.LastRequestAt = &next
		st.TotalRequests++
		_ = lastAt
		return st
	})
	if err != nil {
		return "", err
	}

	if wait > 0 {
		l.sleeper.Sleep(wait)
	}
	return domain, nil
}

func orZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (l *StoreLimiter) ReportRateLimit(ctx context.Context, domain string) error {
	st, err := l.backend.UpsertRateLimitState(ctx, domain, l.params.BaseDelay.Milliseconds(), func(st store.RateLimitDomainState) store.RateLimitDomainState {
		st.InBackoff = true
		st.ConsecutiveSuccess = 0
		st.CurrentDelayMS = int64(capDelay(scaleDelay(time.Duration(st.CurrentDelayMS)*time.Millisecond, l.params.BackoffMultiplier), l.params.MaxDelay) / time.Millisecond)
		st.RateLimitHits++
		return st
	})
	if err != nil {
		return err
	}
	l.record(domainSnapshot(st), "rate_limit")
	return nil
}

func (l *StoreLimiter) Report403(ctx context.Context, domain, rawURL string, hasRetryAfter bool) (bool, error) {
	if hasRetryAfter {
		return true, l.ReportRateLimit(ctx, domain)
	}

	now := time.Now()
	if err := l.backend.Record403Event(ctx, domain, rawURL, now); err != nil {
		return false, err
	}
	if err := l.backend.PruneOld403Events(ctx, domain, l.params.ForbiddenWindow, now); err != nil {
		return false, err
	}
	distinct, err := l.backend.CountDistinct403URLs(ctx, domain, l.params.ForbiddenWindow, now)
	if err != nil {
		return false, err
	}

	tipped := distinct >= l.params.ForbiddenThreshold
	if !tipped {
		return false, nil
	}

	st, err := l.backend.UpsertRateLimitState(ctx, domain, l.params.BaseDelay.Milliseconds(), func(st store.RateLimitDomainState) store.RateLimitDomainState {
		st.InBackoff = true
		st.ConsecutiveSuccess = 0
		st.CurrentDelayMS = int64(capDelay(scaleDelay(time.Duration(st.CurrentDelayMS)*time.Millisecond, l.params.BackoffMultiplier), l.params.MaxDelay) / time.Millisecond)
		st.RateLimitHits++
		return st
	})
	if err != nil {
		return false, err
	}
	l.record(domainSnapshot(st), "403_pattern")
	return true, nil
}

func (l *StoreLimiter) ReportServerError(ctx context.Context, domain string) error {
	st, err := l.backend.UpsertRateLimitState(ctx, domain, l.params.BaseDelay.Milliseconds(), func(st store.RateLimitDomainState) store.RateLimitDomainState {
		st.CurrentDelayMS = int64(capDelay(scaleDelay(time.Duration(st.CurrentDelayMS)*time.Millisecond, l.params.MildBackoffMultiplier), l.params.MaxDelay) / time.Millisecond)
		return st
	})
	if err != nil {
		return err
	}
	l.record(domainSnapshot(st), "server_error")
	return nil
}

func (l *StoreLimiter) ReportSuccess(ctx context.Context, domain string) error {
	st, err := l.backend.UpsertRateLimitState(ctx, domain, l.params.BaseDelay.Milliseconds(), func(st store.RateLimitDomainState) store.RateLimitDomainState {
		st.ConsecutiveSuccess++
		if st.InBackoff && st.ConsecutiveSuccess >= l.params.RecoveryThreshold {
			st.CurrentDelayMS = int64(floorDelay(scaleDelay(time.Duration(st.CurrentDelayMS)*time.Millisecond, l.params.RecoveryMultiplier), l.params.MinDelay) / time.Millisecond)
			st.ConsecutiveSuccess = 0
			if time.Duration(st.CurrentDelayMS)*time.Millisecond <= l.params.BaseDelay {
				st.InBackoff = false
				st.CurrentDelayMS = l.params.BaseDelay.Milliseconds()
			}
		}
		return st
	})
	if err != nil {
		return err
	}
	_ = l.backend.PruneOld403Events(ctx, domain, 0, time.Now())
	l.record(domainSnapshot(st), "success")
	return nil
}

func (l *StoreLimiter) FindReadyURL(ctx context.Context, candidates []url.URL) (url.URL, error) {
	if len(candidates) == 0 {
		return url.URL{}, fmt.Errorf("limiter: no candidates")
	}

	now := time.Now()
	best := candidates[0]
	bestWait, err := l.timeUntilReady(ctx, HostOf(best), now)
	if err != nil {
		return url.URL{}, err
	}
	if bestWait == 0 {
		return best, nil
	}

	for _, c := range candidates[1:] {
		wait, err := l.timeUntilReady(ctx, HostOf(c), now)
		if err != nil {
			return url.URL{}, err
		}
		if wait == 0 {
			return c, nil
		}
		if wait < bestWait {
			best, bestWait = c, wait
		}
	}
	return best, nil
}

func (l *StoreLimiter) timeUntilReady(ctx context.Context, domain string, now time.Time) (time.Duration, error) {
	st, err := l.backend.GetRateLimitState(ctx, domain)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return computeWait(time.Duration(st.CurrentDelayMS)*time.Millisecond, orZero(st.LastRequestAt), now), nil
}

func (l *StoreLimiter) Snapshot(ctx context.Context, domain string) (DomainSnapshot, bool, error) {
	st, err := l.backend.GetRateLimitState(ctx, domain)
	if errors.Is(err, store.ErrNotFound) {
		return DomainSnapshot{}, false, nil
	}
	if err != nil {
		return DomainSnapshot{}, false, err
	}
	return domainSnapshot(st), true, nil
}

func domainSnapshot(st store.RateLimitDomainState) DomainSnapshot {
	return DomainSnapshot{
		Domain:             st.Domain,
		CurrentDelay:       time.Duration(st.CurrentDelayMS) * time.Millisecond,
		InBackoff:          st.InBackoff,
		ConsecutiveSuccess: st.ConsecutiveSuccess,
		TotalRequests:      st.TotalRequests,
		RateLimitHits:      st.RateLimitHits,
	}
}

func (l *StoreLimiter) record(snap DomainSnapshot, reason string) {
	if l.rec == nil {
		return
	}
	l.rec.Limiter(observability.LimiterEvent{
		Domain:       snap.Domain,
		CurrentDelay: snap.CurrentDelay,
		InBackoff:    snap.InBackoff,
		Reason:       reason,
	})
}
