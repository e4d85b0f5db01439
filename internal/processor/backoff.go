package processor

import (
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before a retry attempt: exponential in the
// attempt number, capped, with optional jitter to spread synchronized
// failures.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter bool
}

// Delay returns the wait before the given attempt (1-based). Without jitter
// the sequence is non-decreasing up to Cap.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 2 * time.Second
	}
	max := b.Cap
	if max <= 0 {
		max = 30 * time.Second
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}

	if b.Jitter {
		delay += time.Duration(rand.Int64N(int64(delay)/5 + 1))
		if delay > max {
			delay = max
		}
	}
	return delay
}
