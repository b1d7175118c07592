package core

import "time"

// RateLimitState is the persisted throttling picture for one Graph host.
// BackoffUntil is set from the last Retry-After and blocks new calls until
// it passes.
type RateLimitState struct {
	RequestCount   int
	WindowStart    time.Time
	BackoffUntil   *time.Time
	Last429At      *time.Time
	ThrottleCount  int
	LastRetryAfter time.Duration
}

// Throttled reports whether a backoff window is still open at now.
func (s *RateLimitState) Throttled(now time.Time) bool {
	return s != nil && s.BackoffUntil != nil && now.Before(*s.BackoffUntil)
}
