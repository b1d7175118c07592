package graph

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxRetryAfter caps a server-supplied wait.
const MaxRetryAfter = time.Hour

// Backoff is the fallback wait before retry number attempt+1: 2^(attempt+1)
// seconds.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return time.Duration(math.Pow(2, float64(attempt+1))) * time.Second
}

// RetryAfter reads a Retry-After header given as delta-seconds or as an
// HTTP-date. Missing or unparseable values yield fallback, a date in the past
// yields zero and anything longer than MaxRetryAfter is capped.
func RetryAfter(header http.Header, now time.Time, fallback time.Duration) time.Duration {
	if header == nil {
		return fallback
	}
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return fallback
	}

	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return fallback
		}
		if seconds >= MaxRetryAfter.Seconds() {
			return MaxRetryAfter
		}
		return time.Duration(seconds * float64(time.Second))
	}

	if at, err := http.ParseTime(raw); err == nil {
		wait := at.Sub(now)
		if wait < 0 {
			return 0
		}
		return min(wait, MaxRetryAfter)
	}

	return fallback
}
