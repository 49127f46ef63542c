// Package retry implements the jittered exponential backoff the
// client uses between retransmissions of a request that timed out,
// so a flood of simultaneous client restarts doesn't retransmit in
// lockstep.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy configures the backoff schedule. The zero value is not
// usable; construct with DefaultPolicy or a struct literal.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64 // fraction of the computed delay to randomize, e.g. 0.1 = ±10%
	MaxRetries int     // number of retries after the first attempt; total sends = MaxRetries+1
}

// DefaultPolicy returns 100ms base, 2s cap, 10% jitter, 3 retries
// (4 sends total).
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Jitter:     0.1,
		MaxRetries: 3,
	}
}

// Delay returns the backoff delay before retry attempt n (n=0 is the
// delay before the first retry, i.e. after the initial send
// timed out). The base delay doubles each attempt, saturating at
// MaxDelay rather than overflowing, then is perturbed by ±Jitter.
func (p Policy) Delay(n int, rng *rand.Rand) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < n; i++ {
		doubled := delay * 2
		if doubled < delay { // overflow
			delay = p.MaxDelay
			break
		}
		delay = doubled
		if delay > p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}

	if p.Jitter <= 0 {
		return delay
	}
	spread := float64(delay) * p.Jitter
	offset := (rng.Float64()*2 - 1) * spread
	jittered := time.Duration(float64(delay) + offset)
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}

// Do runs fn, retrying on a retryable error per Policy until it
// succeeds, a non-retryable error is returned, MaxRetries is
// exhausted, or ctx is done. retryable decides whether an error from
// fn warrants another attempt (the caller supplies this since only
// it knows which of its own error kinds are transient, e.g. a
// transport timeout but not a BER decode failure).
func Do(ctx context.Context, p Policy, rng *rand.Rand, retryable func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt-1, rng)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
	}
	return lastErr
}
