package queuestore

import (
	"math"
	"time"
)

// DefaultBackoffBase matches the owning specification's default: attempt 1
// waits 5s, attempt 2 waits 10s, attempt 3 waits 20s, doubling each time.
const DefaultBackoffBase = 5 * time.Second

// Backoff returns the delay before retry number attempt (1-based: the delay
// applied after the attempt-th failure). Grounded on the teacher's
// queue/worker.ExponentialBackoff, generalized to an injectable base instead
// of a hardcoded constant so the Job Queue Service and the publish Retry
// Tracker can share the same formula with different bases.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if attempt < 1 {
		attempt = 1
	}

	multiple := math.Pow(2, float64(attempt-1))
	return time.Duration(float64(base) * multiple)
}
