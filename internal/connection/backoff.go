package connection

import "time"

// Backoff returns the reconnect delay for the given attempt number:
// min(base * 2^attempt, max). Attempt 0 is the first retry.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 || max <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if d >= max {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}
