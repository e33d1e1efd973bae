package common

import "time"

// Backoff returns the delay before retry number attempt (0-based), doubling
// base each attempt and never exceeding maxDelay.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		return min(base, maxDelay)
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}
