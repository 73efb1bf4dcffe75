// Package retry implements the fixed-attempt exponential backoff used around
// outbound HTTP calls, plus a consecutive-failure circuit breaker.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy is a fixed-attempt exponential backoff.
//
// The delay before retry n (1-based) is BaseDelay*2^(n-1), clamped to
// [BaseDelay, MaxDelay], then jittered by ±Jitter. Jitter 0 means the default
// (20%); a negative Jitter disables it.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64
}

// DefaultPolicy is five attempts with backoff between 1s and 10s.
func DefaultPolicy() Policy {
	return Policy{Attempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter == 0 {
		p.Jitter = 0.2
	}
	return p
}

// Delay returns the wait before retry number `retry` (1-based) given the
// error returned by the failed attempt.
func (p Policy) Delay(retry int, err error, rng *rand.Rand) time.Duration {
	p = p.withDefaults()

	var d time.Duration
	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		d = ra.RetryAfter()
	} else {
		d = p.BaseDelay
		for i := 1; i < retry; i++ {
			d *= 2
			if d >= p.MaxDelay {
				break
			}
		}
		if d < p.BaseDelay {
			d = p.BaseDelay
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + r))
	}
	// jitter never leaves [BaseDelay, MaxDelay]
	if d < p.BaseDelay {
		d = p.BaseDelay
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Notify is called before sleeping ahead of the next attempt.
type Notify func(attempt int, delay time.Duration, err error)

// Do runs fn until it succeeds, returns a NoRetry error, the attempts are
// exhausted or ctx is done. attempt is 1-based.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error, notify Notify) error {
	p = p.withDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return fmt.Errorf("%w (last error: %v)", cerr, err)
			}
			return cerr
		}
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			return nr.err
		}
		if attempt == p.Attempts {
			break
		}

		delay := p.Delay(attempt, err, rng)
		if notify != nil {
			notify(attempt+1, delay, err)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-t.C:
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", p.Attempts, err)
}
