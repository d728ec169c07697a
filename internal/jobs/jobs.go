// Package jobs runs the background loops: fraud sweep, metrics
// reconciliation, payout execution, and insights collection. Each loop is a
// Timer guarded by a named lock so that only one instance runs a given job
// at a time when several servers share a database.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Func is one run of a background job.
type Func func(ctx context.Context) error

// Timer runs a job on a fixed interval. A tick is skipped, not queued, when
// the job's lock is held elsewhere.
type Timer struct {
	name     string
	fn       Func
	interval time.Duration
	locker   Locker
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

func NewTimer(name string, interval time.Duration, fn Func, locker Locker, logger *slog.Logger) *Timer {
	return &Timer{
		name:     name,
		fn:       fn,
		interval: interval,
		locker:   locker,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the periodic loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRun(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in job", "job", t.name, "panic", fmt.Sprint(r))
		}
	}()

	acquired, release, err := t.locker.TryLock(ctx, t.name)
	if err != nil {
		t.logger.Warn("job lock failed", "job", t.name, "error", err)
		return
	}
	if !acquired {
		t.logger.Debug("job already running elsewhere, skipping tick", "job", t.name)
		return
	}
	defer release()

	if err := t.fn(ctx); err != nil {
		t.logger.Warn("job run failed", "job", t.name, "error", err)
	}
}
