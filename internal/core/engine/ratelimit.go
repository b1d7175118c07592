// Package engine holds the persisted client-side throttle shared by every
// intunectl process that points at the same store.
package engine

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/intunectl/intunectl/internal/core"
)

// RateLimiter counts Graph requests per host in fixed windows and honors
// backoff windows opened by 429 responses. It satisfies
// graph.RateLimitRecorder and graph.RateLimitGate.
type RateLimiter struct {
	Store  RateLimitStore
	Limits map[string]RateLimit
	Clock  func() time.Time
	Margin float64
}

// RateLimit is a request budget per window.
type RateLimit struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

type RateLimitStore interface {
	GetRateLimit(ctx context.Context, endpoint string) (*core.RateLimitState, error)
	UpdateRateLimit(ctx context.Context, endpoint string, state *core.RateLimitState) error
}

// DefaultLimits approximate the per-app Intune and token endpoint budgets.
var DefaultLimits = map[string]RateLimit{
	"graph.microsoft.com":       {RequestsPerWindow: 100, WindowDuration: 20 * time.Second},
	"login.microsoftonline.com": {RequestsPerWindow: 20, WindowDuration: time.Minute},
}

var fallbackLimit = RateLimit{RequestsPerWindow: 100, WindowDuration: 20 * time.Second}

// Allow reports whether a call to endpoint may start now, and otherwise how
// long to wait. Store errors allow the call.
func (r *RateLimiter) Allow(ctx context.Context, endpoint string) (bool, time.Duration, error) {
	if r == nil || r.Store == nil {
		return true, 0, nil
	}
	state, err := r.Store.GetRateLimit(ctx, endpoint)
	if err != nil || state == nil {
		return true, 0, err
	}

	now := r.now()
	if state.Throttled(now) {
		return false, state.BackoffUntil.Sub(now), nil
	}

	limit := r.getLimit(endpoint)
	windowEnd := state.WindowStart.Add(limit.WindowDuration)
	if now.Before(windowEnd) && state.RequestCount >= limit.RequestsPerWindow {
		return false, windowEnd.Sub(now), nil
	}
	return true, 0, nil
}

// Record counts one request, starting a new window when the last expired.
func (r *RateLimiter) Record(ctx context.Context, endpoint string) error {
	return r.update(ctx, endpoint, func(state *core.RateLimitState, now time.Time) {
		limit := r.getLimit(endpoint)
		if state.WindowStart.IsZero() || !now.Before(state.WindowStart.Add(limit.WindowDuration)) {
			state.WindowStart = now
			state.RequestCount = 0
		}
		state.RequestCount++
	})
}

// Record429 notes a throttled response. A positive retryAfter opens a
// backoff window; zero only counts the throttle.
func (r *RateLimiter) Record429(ctx context.Context, endpoint string, retryAfter time.Duration) error {
	return r.update(ctx, endpoint, func(state *core.RateLimitState, now time.Time) {
		state.Last429At = &now
		state.ThrottleCount++
		state.LastRetryAfter = retryAfter
		if retryAfter > 0 {
			until := now.Add(retryAfter)
			state.BackoffUntil = &until
		}
	})
}

func (r *RateLimiter) update(ctx context.Context, endpoint string, apply func(*core.RateLimitState, time.Time)) error {
	if r == nil || r.Store == nil {
		return nil
	}
	state, err := r.Store.GetRateLimit(ctx, endpoint)
	if err != nil {
		return err
	}
	now := r.now()
	if state == nil {
		state = &core.RateLimitState{WindowStart: now}
	}
	apply(state, now)
	return r.Store.UpdateRateLimit(ctx, endpoint, state)
}

// ApplyOverrides sets per-host budgets in requests per minute. Non-positive
// values are ignored.
func (r *RateLimiter) ApplyOverrides(overrides map[string]int) {
	if r == nil || len(overrides) == 0 {
		return
	}
	if r.Limits == nil {
		r.Limits = make(map[string]RateLimit, len(DefaultLimits)+len(overrides))
		for host, limit := range DefaultLimits {
			r.Limits[host] = limit
		}
	}
	for host, perMinute := range overrides {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" || perMinute <= 0 {
			continue
		}
		r.Limits[host] = RateLimit{RequestsPerWindow: perMinute, WindowDuration: time.Minute}
	}
}

// ApplySafetyMargin scales every budget by margin, which must be in (0, 1].
func (r *RateLimiter) ApplySafetyMargin(margin float64) {
	if r != nil && margin > 0 && margin <= 1 {
		r.Margin = margin
	}
}

func (r *RateLimiter) getLimit(endpoint string) RateLimit {
	limit := fallbackLimit
	if r == nil {
		return limit
	}
	limits := r.Limits
	if limits == nil {
		limits = DefaultLimits
	}
	if configured, ok := limits[strings.ToLower(endpoint)]; ok {
		limit = configured
	}
	if r.Margin > 0 && r.Margin <= 1 {
		limit.RequestsPerWindow = max(1, int(math.Floor(float64(limit.RequestsPerWindow)*r.Margin)))
	}
	return limit
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}
