package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/retry"
	logx "relaybot/pkg/logx"
)

const DefaultTimeout = 60 * time.Second

// ResilientConfig tunes the wrapper around a provider.
type ResilientConfig struct {
	// Timeout bounds each attempt. 0 means DefaultTimeout.
	Timeout time.Duration
	// RatePerSec <= 0 disables rate limiting.
	RatePerSec float64
	Burst      int
	Retry      retry.Policy
	Breaker    retry.BreakerConfig
}

// Resilient wraps a Responder with an outbound rate limit, a per-attempt
// timeout, the retry policy and a consecutive-failure circuit breaker.
type Resilient struct {
	next Responder
	log  logx.Logger

	mu      sync.RWMutex
	cfg     ResilientConfig
	limiter *rate.Limiter
	breaker *retry.Breaker

	calls    atomic.Uint64
	failures atomic.Uint64
	retries  atomic.Uint64
}

type Stats struct {
	Calls    uint64
	Failures uint64
	Retries  uint64
	Breaker  retry.BreakerState
}

func NewResilient(next Responder, cfg ResilientConfig, log logx.Logger) *Resilient {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Resilient{next: next, log: log, limiter: rate.NewLimiter(rate.Inf, 1)}
	r.Apply(cfg)
	return r
}

// Apply swaps limits and policies in place. The breaker keeps its failure
// count unless its config changed.
func (r *Resilient) Apply(cfg ResilientConfig) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
		r.limiter.SetBurst(burst)
	} else {
		r.limiter.SetLimit(rate.Inf)
	}
	if r.breaker == nil || r.cfg.Breaker != cfg.Breaker {
		r.breaker = retry.NewBreaker(cfg.Breaker)
	}
	r.cfg = cfg
}

func (r *Resilient) snapshot() (ResilientConfig, *rate.Limiter, *retry.Breaker) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg, r.limiter, r.breaker
}

func (r *Resilient) Respond(ctx context.Context, req Request) (Reply, error) {
	cfg, limiter, breaker := r.snapshot()
	r.calls.Add(1)

	var out Reply
	err := retry.Do(ctx, cfg.Retry, func(ctx context.Context, attempt int) error {
		if ok, until := breaker.Allow(); !ok {
			return retry.NoRetry(fmt.Errorf("%w until %s", retry.ErrCircuitOpen, until.Format(time.RFC3339)))
		}
		if err := limiter.Wait(ctx); err != nil {
			return retry.NoRetry(err)
		}
		actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		rep, err := r.next.Respond(actx, req)
		cancel()
		switch {
		case err == nil:
			breaker.Record(nil)
			out = rep
			return nil
		case errors.Is(err, ErrEmptyReply):
			// the endpoint is healthy; it just had nothing to say
			breaker.Record(nil)
			return retry.NoRetry(err)
		case retry.IsNoRetry(err):
			return err
		default:
			breaker.Record(err)
			return err
		}
	}, func(attempt int, delay time.Duration, err error) {
		r.retries.Add(1)
		r.log.Warn("ai request failed; retrying",
			logx.Int("attempt", attempt),
			logx.Int("max_attempts", cfg.Retry.Attempts),
			logx.Duration("backoff", delay),
			logx.Err(err),
		)
	})
	if err != nil {
		if !errors.Is(err, ErrEmptyReply) {
			r.failures.Add(1)
		}
		return Reply{}, err
	}
	return out, nil
}

func (r *Resilient) Stats() Stats {
	_, _, breaker := r.snapshot()
	return Stats{
		Calls:    r.calls.Load(),
		Failures: r.failures.Load(),
		Retries:  r.retries.Load(),
		Breaker:  breaker.State(),
	}
}

var _ Responder = (*Resilient)(nil)
