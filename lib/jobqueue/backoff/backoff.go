// Package backoff computes retry delays for the worker pool.
//
// github.com/cenkalti/backoff/v5 (a teacher dependency) is not used here:
// its ExponentialBackOff applies an equal-jitter model (interval ±
// randomization*interval around a computed midpoint), not a uniform draw
// over [0, cap] from zero. The two distributions are not interchangeable,
// and the full-jitter formula below is pinned exactly by the testable
// property in spec §8 P3.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Policy computes the delay before the nth retry of a failed job.
type Policy struct {
	// BaseDelay is the delay unit attempts are scaled from. Default 250ms.
	BaseDelay time.Duration
	// MaxInterval caps the computed delay before jitter is applied.
	// Default 60s.
	MaxInterval time.Duration
}

// Default returns the policy with spec-mandated defaults: baseDelay=0.25s,
// maxInterval=60s.
func Default() Policy {
	return Policy{
		BaseDelay:   250 * time.Millisecond,
		MaxInterval: 60 * time.Second,
	}
}

// Delay returns a full-jitter delay for attempt n (1-based: n=1 is the
// first retry, after the first failure):
//
//	delay = uniform(0, min(maxInterval, baseDelay * 2^n))
//
// Zero is a legal return value.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	base := p.BaseDelay
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	maxInterval := p.MaxInterval
	if maxInterval <= 0 {
		maxInterval = 60 * time.Second
	}

	cap := scale(base, n)
	if cap > maxInterval {
		cap = maxInterval
	}
	if cap <= 0 {
		return 0
	}

	return time.Duration(rand.Int64N(int64(cap) + 1))
}

// scale computes base * 2^n, saturating at time.Duration's max instead of
// overflowing for large n.
func scale(base time.Duration, n int) time.Duration {
	const maxDuration = time.Duration(1<<63 - 1)
	if n >= 63 || base > maxDuration>>uint(n) {
		// would overflow
		return maxDuration
	}
	return base << uint(n)
}
