package httpx

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential delays capped at MaxDelay, spread by Jitter.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64
}

// NewBackoff returns a Backoff with sane fallbacks for zero values.
func NewBackoff(base, max time.Duration, jitter float64) Backoff {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if max <= 0 {
		max = time.Second
	}
	if jitter < 0 {
		jitter = 0
	}
	return Backoff{BaseDelay: base, MaxDelay: max, Jitter: math.Min(jitter, 1)}
}

// ForAttempt returns the delay before retry number attempt (0-indexed).
func (b *Backoff) ForAttempt(attempt int) time.Duration {
	delay := b.BaseDelay
	if attempt > 0 {
		if attempt > 30 {
			attempt = 30
		}
		delay = time.Duration(float64(b.BaseDelay) * float64(uint64(1)<<uint(attempt)))
	}
	if delay <= 0 || delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	if b.Jitter == 0 {
		return delay
	}
	factor := 1 + (rand.Float64()*2-1)*b.Jitter
	return time.Duration(float64(delay) * factor)
}
