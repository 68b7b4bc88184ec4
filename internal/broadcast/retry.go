package broadcast

import (
	"math/rand"
	"time"

	"shopbot/internal/transport"
)

// RetryPolicy is the single retry policy shared by all delivery workers:
// which error classes are retryable, how many attempts a recipient gets,
// and how long to back off between them.
type RetryPolicy struct {
	// MaxAttempts bounds total send attempts per recipient (first try
	// included).
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// Retryable reports whether an error of the given class may be attempted
// again. Blocked recipients and permanent API rejections never are.
func (p RetryPolicy) Retryable(c transport.Class) bool {
	return c == transport.ClassTransient || c == transport.ClassFlood
}

// Delay returns the backoff before the next attempt. attempt starts at 1
// (the attempt that just failed). Exponential with jitter 0.7..1.3, capped
// at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
