package ai

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"relaybot/internal/retry"
	logx "relaybot/pkg/logx"
)

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Jitter: -1}
}

func TestResilientRetriesTransientErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	next := ResponderFunc(func(ctx context.Context, req Request) (Reply, error) {
		if calls.Add(1) < 3 {
			return Reply{}, errors.New("connection reset")
		}
		return Reply{Text: "ok"}, nil
	})
	r := NewResilient(next, ResilientConfig{Retry: fastPolicy(5), Breaker: retry.BreakerConfig{TripFailures: -1}}, logx.Nop())

	rep, err := r.Respond(context.Background(), Request{Text: "q"})
	if err != nil || rep.Text != "ok" {
		t.Fatalf("Respond = %+v, %v", rep, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	if st := r.Stats(); st.Retries != 2 || st.Failures != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestResilientStopsOnPermanentAndEmpty(t *testing.T) {
	t.Parallel()
	for _, want := range []error{retry.NoRetry(errors.New("forbidden")), ErrEmptyReply} {
		var calls atomic.Int32
		next := ResponderFunc(func(ctx context.Context, req Request) (Reply, error) {
			calls.Add(1)
			return Reply{}, want
		})
		r := NewResilient(next, ResilientConfig{Retry: fastPolicy(5)}, logx.Nop())
		if _, err := r.Respond(context.Background(), Request{}); err == nil {
			t.Fatalf("expected error for %v", want)
		}
		if calls.Load() != 1 {
			t.Fatalf("calls = %d for %v, want 1", calls.Load(), want)
		}
	}
}

func TestResilientGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	next := ResponderFunc(func(ctx context.Context, req Request) (Reply, error) {
		calls.Add(1)
		return Reply{}, errors.New("down")
	})
	r := NewResilient(next, ResilientConfig{Retry: fastPolicy(5), Breaker: retry.BreakerConfig{TripFailures: -1}}, logx.Nop())
	if _, err := r.Respond(context.Background(), Request{}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 5 {
		t.Fatalf("calls = %d, want 5", calls.Load())
	}
}

func TestResilientBreakerOpens(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	next := ResponderFunc(func(ctx context.Context, req Request) (Reply, error) {
		calls.Add(1)
		return Reply{}, errors.New("down")
	})
	r := NewResilient(next, ResilientConfig{
		Retry:   fastPolicy(1),
		Breaker: retry.BreakerConfig{TripFailures: 2, BaseDelay: time.Minute},
	}, logx.Nop())
	for i := 0; i < 2; i++ {
		_, _ = r.Respond(context.Background(), Request{})
	}
	_, err := r.Respond(context.Background(), Request{})
	if !errors.Is(err, retry.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
	if !r.Stats().Breaker.Open {
		t.Fatal("breaker should report open")
	}
}

func TestResilientAppliesAttemptTimeout(t *testing.T) {
	t.Parallel()
	next := ResponderFunc(func(ctx context.Context, req Request) (Reply, error) {
		<-ctx.Done()
		return Reply{}, ctx.Err()
	})
	r := NewResilient(next, ResilientConfig{Timeout: 10 * time.Millisecond, Retry: fastPolicy(2)}, logx.Nop())
	start := time.Now()
	if _, err := r.Respond(context.Background(), Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not applied")
	}
}
