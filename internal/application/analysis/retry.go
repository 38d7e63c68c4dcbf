package analysis

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/womenscare/clinical-analysis/internal/application"
)

// RetryPolicy bounds provider retries. Delay before attempt n+1 is
// BaseDelay * 2^(n-1), capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy: 3 attempts, 1s, 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// backOff builds the schedule for one provider call. Jitter is off so
// the waits are exactly the documented doubling sequence.
func (p RetryPolicy) backOff(ctx context.Context, clock application.Clock) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = p.MaxDelay
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = backoff.DefaultMaxInterval
	}
	exp.MaxElapsedTime = 0
	exp.Clock = clock
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.attempts()-1)), ctx)
}

// Sleeper waits for d or until ctx is done. It returns an error only
// when ctx ends first.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// sleeperTimer drives backoff waits through a Sleeper so tests can
// record the schedule without sleeping.
type sleeperTimer struct {
	ctx   context.Context
	sleep Sleeper
	c     chan time.Time
}

func newSleeperTimer(ctx context.Context, sleep Sleeper) *sleeperTimer {
	return &sleeperTimer{ctx: ctx, sleep: sleep, c: make(chan time.Time, 1)}
}

func (t *sleeperTimer) Start(d time.Duration) {
	if err := t.sleep(t.ctx, d); err != nil {
		return
	}
	t.c <- time.Now()
}

func (t *sleeperTimer) Stop() {}

func (t *sleeperTimer) C() <-chan time.Time { return t.c }
