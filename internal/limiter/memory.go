package limiter

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/foiacquire/crawler/internal/observability"
	"github.com/foiacquire/crawler/pkg/timeutil"
)

type forbiddenEvent struct {
	url string
	at  time.Time
}

type domainState struct {
	currentDelay       time.Duration
	lastRequestAt      time.Time
	consecutiveSuccess int
	inBackoff          bool
	totalRequests       int64
	rateLimitHits       int64
	forbidden           []forbiddenEvent
}

// MemoryLimiter is the in-memory-only backend (spec §4.1 "Persistence"):
// a mutex-protected domain map, used for single-process deployments.
// It mirrors the teacher's ConcurrentRateLimiter shape (one RWMutex
// guarding a map[string]hostTiming) generalized to the full backoff /
// recovery / 403-pattern state machine.
type MemoryLimiter struct {
	mu      sync.Mutex
	domains map[string]*domainState
	params  Params
	sleeper timeutil.Sleeper
	rec     observability.Recorder
}

func NewMemoryLimiter(params Params, sleeper timeutil.Sleeper, rec observability.Recorder) *MemoryLimiter {
	return &MemoryLimiter{
		domains: make(map[string]*domainState),
		params:  params,
		sleeper: sleeper,
		rec:     rec,
	}
}

func (m *MemoryLimiter) getOrCreate(domain string) *domainState {
	st, ok := m.domains[domain]
	if !ok {
		st = &domainState{currentDelay: m.params.BaseDelay}
		m.domains[domain] = st
	}
	return st
}

// Acquire computes the wait (spec §4.1: max(0, d - (now - t_last))),
// reserves the slot by advancing t_last, then sleeps outside the lock so
// concurrent requests to other domains are never blocked by this one.
func (m *MemoryLimiter) Acquire(ctx context.Context, u url.URL) (string, error) {
	domain := HostOf(u)
	if domain == "" {
		return "", fmt.Errorf("limiter: url has no host: %s", u.String())
	}

	now := time.Now()
	m.mu.Lock()
	st := m.getOrCreate(domain)
	wait := computeWait(st.currentDelay, st.lastRequestAt, now)
	st.lastRequestAt = now.Add(wait)
	st.totalRequests++
	m.mu.Unlock()

	if wait > 0 {
		m.sleeper.Sleep(wait)
	}
	return domain, nil
}

func computeWait(delay time.Duration, lastRequestAt, now time.Time) time.Duration {
	if lastRequestAt.IsZero() {
		return 0
	}
	elapsed := now.Sub(lastRequestAt)
	if elapsed >= delay {
		return 0
	}
	wait := delay - elapsed
	if wait < 0 {
		wait = 0
	}
	return wait
}

// ReportRateLimit applies the definite-limit transition (spec §4.1):
// enter backoff, reset consecutive successes, grow the delay
// geometrically, capped at MaxDelay.
func (m *MemoryLimiter) ReportRateLimit(ctx context.Context, domain string) error {
	m.mu.Lock()
	st := m.getOrCreate(domain)
	st.inBackoff = true
	st.consecutiveSuccess = 0
	st.currentDelay = capDelay(scaleDelay(st.currentDelay, m.params.BackoffMultiplier), m.params.MaxDelay)
	st.rateLimitHits++
	snap := m.snapshotLocked(domain, st)
	m.mu.Unlock()

	m.record(snap, "rate_limit")
	return nil
}

// Report403 implements the distinct-URL-in-window pattern detector (spec
// §4.1). A definite Retry-After always escalates directly.
func (m *MemoryLimiter) Report403(ctx context.Context, domain, rawURL string, hasRetryAfter bool) (bool, error) {
	if hasRetryAfter {
		return true, m.ReportRateLimit(ctx, domain)
	}

	now := time.Now()
	m.mu.Lock()
	st := m.getOrCreate(domain)
	st.forbidden = append(st.forbidden, forbiddenEvent{url: rawURL, at: now})
	st.forbidden = pruneForbidden(st.forbidden, now, m.params.ForbiddenWindow)

	distinct := distinctURLCount(st.forbidden)
	tipped := distinct >= m.params.ForbiddenThreshold
	if tipped {
		st.inBackoff = true
		st.consecutiveSuccess = 0
		st.currentDelay = capDelay(scaleDelay(st.currentDelay, m.params.BackoffMultiplier), m.params.MaxDelay)
		st.rateLimitHits++
	}
	snap := m.snapshotLocked(domain, st)
	m.mu.Unlock()

	if tipped {
		m.record(snap, "403_pattern")
	}
	return tipped, nil
}

func pruneForbidden(events []forbiddenEvent, now time.Time, window time.Duration) []forbiddenEvent {
	cutoff := now.Add(-window)
	kept := events[:0]
	for _, e := range events {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

func distinctURLCount(events []forbiddenEvent) int {
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		seen[e.url] = struct{}{}
	}
	return len(seen)
}

// ReportServerError applies the mild bump (spec §4.1): ×1.5 (configurable
// via MildBackoffMultiplier), no backoff flag.
func (m *MemoryLimiter) ReportServerError(ctx context.Context, domain string) error {
	m.mu.Lock()
	st := m.getOrCreate(domain)
	st.currentDelay = capDelay(scaleDelay(st.currentDelay, m.params.MildBackoffMultiplier), m.params.MaxDelay)
	snap := m.snapshotLocked(domain, st)
	m.mu.Unlock()

	m.record(snap, "server_error")
	return nil
}

// ReportSuccess implements the recovery curve (spec §4.1): the forbidden
// ring is cleared on any success, so 403s interleaved with successes do
// not accumulate toward ForbiddenThreshold; successes
// accrue, and once RecoveryThreshold is reached while in backoff, the
// delay shrinks geometrically and the counter resets, snapping to
// BaseDelay and clearing backoff once the delay has fully recovered.
func (m *MemoryLimiter) ReportSuccess(ctx context.Context, domain string) error {
	m.mu.Lock()
	st := m.getOrCreate(domain)
	st.forbidden = nil
	st.consecutiveSuccess++

	if st.inBackoff && st.consecutiveSuccess >= m.params.RecoveryThreshold {
		st.currentDelay = floorDelay(scaleDelay(st.currentDelay, m.params.RecoveryMultiplier), m.params.MinDelay)
		st.consecutiveSuccess = 0
		if st.currentDelay <= m.params.BaseDelay {
			st.inBackoff = false
			st.currentDelay = m.params.BaseDelay
		}
	}
	snap := m.snapshotLocked(domain, st)
	m.mu.Unlock()

	m.record(snap, "success")
	return nil
}

// FindReadyURL returns the candidate whose domain has the smallest
// time-until-ready, short-circuiting as soon as one is found with zero
// wait (spec §4.4, grounded in original rate_limiter.rs::find_ready_url).
func (m *MemoryLimiter) FindReadyURL(ctx context.Context, candidates []url.URL) (url.URL, error) {
	if len(candidates) == 0 {
		return url.URL{}, fmt.Errorf("limiter: no candidates")
	}

	now := time.Now()
	best := candidates[0]
	bestWait := m.timeUntilReady(HostOf(best), now)
	if bestWait == 0 {
		return best, nil
	}

	for _, c := range candidates[1:] {
		wait := m.timeUntilReady(HostOf(c), now)
		if wait == 0 {
			return c, nil
		}
		if wait < bestWait {
			best, bestWait = c, wait
		}
	}
	return best, nil
}

func (m *MemoryLimiter) timeUntilReady(domain string, now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.domains[domain]
	if !ok {
		return 0
	}
	return computeWait(st.currentDelay, st.lastRequestAt, now)
}

func (m *MemoryLimiter) Snapshot(ctx context.Context, domain string) (DomainSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.domains[domain]
	if !ok {
		return DomainSnapshot{}, false, nil
	}
	return m.snapshotLocked(domain, st), true, nil
}

func (m *MemoryLimiter) snapshotLocked(domain string, st *domainState) DomainSnapshot {
	return DomainSnapshot{
		Domain:             domain,
		CurrentDelay:       st.currentDelay,
		InBackoff:          st.inBackoff,
		ConsecutiveSuccess: st.consecutiveSuccess,
		TotalRequests:      st.totalRequests,
		RateLimitHits:      st.rateLimitHits,
	}
}

func (m *MemoryLimiter) record(snap DomainSnapshot, reason string) {
	if m.rec == nil {
		return
	}
	m.rec.Limiter(observability.LimiterEvent{
		Domain:       snap.Domain,
		CurrentDelay: snap.CurrentDelay,
		InBackoff:    snap.InBackoff,
		Reason:       reason,
	})
}

func scaleDelay(d time.Duration, multiplier float64) time.Duration {
	return time.Duration(float64(d) * multiplier)
}

func capDelay(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}

func floorDelay(d, min time.Duration) time.Duration {
	if d < min {
		return min
	}
	return d
}
