// Package scheduler drives sampling passes at a fixed cadence. Each pass is
// strictly sequential; the sleep after a pass is shortened by the time the
// pass took, and skipped entirely when the pass overran the period.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Pass runs one sampling pass. start is the wall-clock instant the pass began.
// A returned error is fatal and stops the scheduler.
type Pass func(ctx context.Context, start time.Time) error

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Scheduler alternates between SAMPLING and SLEEPING until the context ends
type Scheduler struct {
	period time.Duration
	pass   Pass
	now    func() time.Time
	sleep  SleepFunc
	logger *zap.Logger
}

// New creates a Scheduler using the wall clock and a timer-based sleep
func New(period time.Duration, pass Pass, logger *zap.Logger) (*Scheduler, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		period: period,
		pass:   pass,
		now:    time.Now,
		sleep:  Sleep,
		logger: logger.With(zap.String("component", "scheduler")),
	}, nil
}

// WithClock replaces the clock and sleep function (for testing)
func (s *Scheduler) WithClock(now func() time.Time, sleep SleepFunc) *Scheduler {
	s.now = now
	s.sleep = sleep
	return s
}

// SleepDuration returns max(0, period - elapsed)
func SleepDuration(period, elapsed time.Duration) time.Duration {
	if elapsed >= period {
		return 0
	}
	return period - elapsed
}

// RunOnce performs a single pass and returns how long to sleep before the next
func (s *Scheduler) RunOnce(ctx context.Context) (time.Duration, error) {
	start := s.now()
	if err := s.pass(ctx, start); err != nil {
		return 0, err
	}
	elapsed := s.now().Sub(start)
	wait := SleepDuration(s.period, elapsed)
	if wait == 0 {
		s.logger.Debug("pass overran period", zap.Duration("elapsed", elapsed), zap.Duration("period", s.period))
	}
	return wait, nil
}

// Run loops until ctx is cancelled (returns nil) or a pass fails (returns its error)
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		wait, err := s.RunOnce(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if wait <= 0 {
			continue
		}
		if err := s.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// Sleep waits for d using a timer, returning ctx.Err() if cancelled first
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
