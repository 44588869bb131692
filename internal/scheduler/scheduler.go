package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeengine/internal/logger"
)

// ErrFatal wraps task errors that must stop scheduling.
var ErrFatal = errors.New("fatal cycle error")

// Loop runs a task every Interval. When Align is set the wake-up is aligned to the
// interval boundary plus Offset (e.g. just after a candle close), like a cron tick.
type Loop struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	Align          bool
	RunImmediately bool
	Clock          Clock
}

// Run blocks until ctx is cancelled or the task returns an error wrapping ErrFatal.
// Cancellation is observed between cycles only: an in-flight cycle runs to completion
// with a context that is not cancelled by ctx, so shutdown never abandons half-applied work.
func (l *Loop) Run(ctx context.Context, task func(context.Context) error) error {
	if task == nil {
		return fmt.Errorf("scheduler %s: nil task", l.Name)
	}
	if l.Interval <= 0 {
		return fmt.Errorf("scheduler %s: invalid interval %s", l.Name, l.Interval)
	}
	if l.Offset < 0 {
		logger.Warnf("Scheduler %s: negative offset=%s, clamp to 0", l.Name, l.Offset)
		l.Offset = 0
	}
	clock := l.Clock
	if clock == nil {
		clock = SystemClock
	}
	logger.Infof("Scheduler %s: started interval=%s align=%v offset=%s run_immediately=%v",
		l.Name, l.Interval, l.Align, l.Offset, l.RunImmediately)

	if l.RunImmediately {
		if err := l.runOnce(ctx, task); err != nil {
			return err
		}
	}
	for {
		wait := l.nextWait(clock.Now())
		select {
		case <-ctx.Done():
			logger.Infof("Scheduler %s: ctx done, exit", l.Name)
			return nil
		case <-clock.After(wait):
		}
		if ctx.Err() != nil {
			logger.Infof("Scheduler %s: ctx done, exit", l.Name)
			return nil
		}
		if err := l.runOnce(ctx, task); err != nil {
			return err
		}
	}
}

func (l *Loop) runOnce(ctx context.Context, task func(context.Context) error) error {
	err := task(context.WithoutCancel(ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrFatal) {
		logger.Errorf("Scheduler %s: fatal cycle error, stop scheduling: %v", l.Name, err)
		return err
	}
	logger.Warnf("Scheduler %s: cycle error: %v", l.Name, err)
	return nil
}

func (l *Loop) nextWait(now time.Time) time.Duration {
	if !l.Align {
		return l.Interval
	}
	now = now.UTC()
	next := now.Truncate(l.Interval).Add(l.Interval).Add(l.Offset)
	return next.Sub(now)
}
