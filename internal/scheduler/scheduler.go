package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gridcert/issuance-worker/internal/metrics"
)

// sleepSlice bounds how long a single sleep can run so cancellation is
// observed promptly even when the next boundary is an hour away.
const sleepSlice = 15 * time.Second

// Tick is the unit of work the scheduler drives once per wake-up
type Tick func(ctx context.Context)

// Options configures the scheduler cadence
type Options struct {
	// Mode is "hourly" (wake at hour boundaries) or "interval"
	Mode     string
	Interval time.Duration

	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// Scheduler periodically drives the synchronization pipeline. One tick
// runs at a time; the tick must always complete and the next sleep must
// always re-arm regardless of per-item failures inside the tick.
type Scheduler struct {
	tick    Tick
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a new scheduler
func New(tick Tick, opts Options, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{tick: tick, opts: opts, logger: logger, metrics: m}
}

// Run executes ticks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		zap.String("mode", s.opts.Mode),
		zap.Duration("interval", s.opts.Interval),
	)

	for {
		s.tick(ctx)
		s.metrics.SchedulerTicks.Inc()

		delay := s.NextDelay()
		s.logger.Debug("scheduler sleeping", zap.Duration("delay", delay))
		if !sleepCtx(ctx, delay) {
			s.logger.Info("scheduler stopped")
			return
		}
	}
}

// NextDelay returns how long to sleep until the next tick. In hourly
// mode this is the exact time to the next hour boundary, so the tick
// lands right after the period it should pick up has closed. Exactly at
// a boundary the full hour to the next one is returned; the tick for
// the just-closed period already ran.
func (s *Scheduler) NextDelay() time.Duration {
	if s.opts.Mode == "interval" {
		return s.opts.Interval
	}
	now := s.opts.Now().UTC()
	return now.Truncate(time.Hour).Add(time.Hour).Sub(now)
}

// sleepCtx sleeps for d in bounded slices and reports false when ctx was
// cancelled before the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		if remaining > sleepSlice {
			remaining = sleepSlice
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
