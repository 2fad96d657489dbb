package controlplane

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opensandbox/batchfleet/internal/batch"
)

const (
	defaultSteadyPollInterval = time.Second
	defaultSteadyTimeout      = 5 * time.Minute
)

// SteadyWaiterConfig configures the steady-state waiter.
type SteadyWaiterConfig struct {
	Gateway      batch.Gateway
	Logger       *zap.Logger
	PollInterval time.Duration // 0 = default 1s
	Timeout      time.Duration // 0 = default 5m

	// After replaces time.After between polls; tests use it to skip the delay.
	After func(time.Duration) <-chan time.Time
}

// SteadyWaiter polls a pool at a fixed interval until its allocation state is steady.
type SteadyWaiter struct {
	gateway  batch.Gateway
	log      *zap.Logger
	interval time.Duration
	timeout  time.Duration
	after    func(time.Duration) <-chan time.Time
}

// NewSteadyWaiter creates a waiter.
func NewSteadyWaiter(cfg SteadyWaiterConfig) *SteadyWaiter {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultSteadyPollInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSteadyTimeout
	}
	after := cfg.After
	if after == nil {
		after = time.After
	}
	return &SteadyWaiter{
		gateway:  cfg.Gateway,
		log:      named(cfg.Logger, "steady"),
		interval: interval,
		timeout:  timeout,
		after:    after,
	}
}

// MaxPolls is the number of polls attempted before giving up.
func (w *SteadyWaiter) MaxPolls() int {
	n := int(w.timeout / w.interval)
	if n < 1 {
		n = 1
	}
	return n
}

// WaitUntilSteady returns nil on the first poll that observes a steady pool,
// a *batch.TimeoutError after MaxPolls polls, or ctx.Err() if ctx is done.
func (w *SteadyWaiter) WaitUntilSteady(ctx context.Context, poolID string) error {
	maxPolls := w.MaxPolls()
	for poll := 1; ; poll++ {
		pool, err := w.gateway.GetPool(ctx, poolID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("steady: get pool %s: %w", poolID, err)
		}
		if pool.AllocationState == batch.AllocationSteady {
			w.log.Debug("pool is steady", zap.String("pool", poolID), zap.Int("polls", poll))
			return nil
		}
		if poll >= maxPolls {
			w.log.Error("pool did not reach steady state",
				zap.String("pool", poolID), zap.Int("polls", poll), zap.Duration("timeout", w.timeout))
			return &batch.TimeoutError{PoolID: poolID, Polls: poll, Timeout: w.timeout}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.after(w.interval):
		}
	}
}
