package syncer

import (
	"math"
	"time"
)

// RetryPolicy is the exponential backoff applied to connectivity probes while offline.
type RetryPolicy struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns the wait before the given failed attempt (1-based) is retried.
// The result never drops below InitialDelay and never exceeds MaxDelay.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.InitialDelay
	if base <= 0 {
		base = time.Second
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 2
	}

	d := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	if d < base {
		// float overflow on very large attempts
		d = p.MaxDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d <= 0 {
		d = base
	}
	return d
}
