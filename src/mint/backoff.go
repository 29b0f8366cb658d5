package mint

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds transient mint failures. MaxRetries counts the attempts
// allowed after the first one.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Cap        time.Duration
}

// RetryDelay is the wait before attempt+1 may start. It grows from Base by a
// factor of two per attempt with +-50% jitter and never exceeds Cap.
func (p RetryPolicy) RetryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxInterval = p.Cap
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d > p.Cap {
		d = p.Cap
	}
	return d
}

// Exhausted reports whether attempt was the last one the budget allows.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt > p.MaxRetries
}
