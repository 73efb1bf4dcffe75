package retry

import (
	"sync"
	"time"
)

// BreakerConfig tunes a consecutive-failure circuit breaker.
//
// TripFailures < 0 disables the breaker; 0 applies the default (5).
type BreakerConfig struct {
	TripFailures int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	ResetAfter   time.Duration
}

// Breaker opens after TripFailures consecutive failures, for a cooldown that
// doubles with every further failure up to MaxDelay. A success closes it.
type Breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig
	now func() time.Time

	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

type BreakerState struct {
	Enabled   bool
	Open      bool
	Failures  int
	OpenUntil time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripFailures == 0 {
		cfg.TripFailures = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Minute
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = 5 * time.Minute
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

func (b *Breaker) enabled() bool { return b != nil && b.cfg.TripFailures > 0 }

// resetIfStaleLocked forgets failures that are older than ResetAfter.
func (b *Breaker) resetIfStaleLocked(now time.Time) {
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.cfg.ResetAfter {
		b.fails = 0
		b.openUntil = time.Time{}
	}
}

// Allow reports whether a call may proceed, and if not, until when it is blocked.
func (b *Breaker) Allow() (bool, time.Time) {
	if !b.enabled() {
		return true, time.Time{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.resetIfStaleLocked(now)
	if !b.openUntil.IsZero() && now.Before(b.openUntil) {
		return false, b.openUntil
	}
	return true, time.Time{}
}

// Record feeds the outcome of one call.
func (b *Breaker) Record(err error) {
	if !b.enabled() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.resetIfStaleLocked(now)

	if err == nil {
		b.fails = 0
		b.openUntil = time.Time{}
		b.lastFailure = time.Time{}
		return
	}
	b.fails++
	b.lastFailure = now
	if b.fails < b.cfg.TripFailures {
		return
	}
	d := b.cfg.BaseDelay
	for i := 0; i < b.fails-b.cfg.TripFailures; i++ {
		d *= 2
		if d >= b.cfg.MaxDelay {
			break
		}
	}
	if d > b.cfg.MaxDelay {
		d = b.cfg.MaxDelay
	}
	b.openUntil = now.Add(d)
}

func (b *Breaker) State() BreakerState {
	if !b.enabled() {
		return BreakerState{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	return BreakerState{
		Enabled:   true,
		Open:      !b.openUntil.IsZero() && now.Before(b.openUntil),
		Failures:  b.fails,
		OpenUntil: b.openUntil,
	}
}
