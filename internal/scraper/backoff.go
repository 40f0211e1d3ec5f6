package scraper

import (
	"fmt"
	"time"
)

// Backoff returns how long to pause before retry number n (0-based).
type Backoff func(n int) time.Duration

// FixedBackoff always pauses d.
func FixedBackoff(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// ExponentialBackoff pauses base*2^n, capped at max.
func ExponentialBackoff(base, max time.Duration) Backoff {
	return func(n int) time.Duration {
		if n < 0 {
			n = 0
		}
		d := base
		for i := 0; i < n; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		if d > max {
			return max
		}
		return d
	}
}

// BackoffFromMode builds the backoff named by config ("fixed" or "exponential").
func BackoffFromMode(mode string, base, max time.Duration) (Backoff, error) {
	switch mode {
	case "fixed":
		return FixedBackoff(base), nil
	case "exponential", "":
		return ExponentialBackoff(base, max), nil
	default:
		return nil, fmt.Errorf("unknown backoff mode %q", mode)
	}
}
