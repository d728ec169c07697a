package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ---------------------------------------------------------------------------
// MemoryLocker
// ---------------------------------------------------------------------------

func TestMemoryLockerSingleHolder(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	got, release, err := l.TryLock(ctx, "sweep")
	if err != nil || !got {
		t.Fatalf("first TryLock = %v, %v; want acquired", got, err)
	}

	got2, _, err := l.TryLock(ctx, "sweep")
	if err != nil {
		t.Fatalf("second TryLock: %v", err)
	}
	if got2 {
		t.Error("second TryLock acquired a held lock")
	}

	// A different name is an independent lock.
	gotOther, releaseOther, err := l.TryLock(ctx, "reconcile")
	if err != nil || !gotOther {
		t.Fatalf("TryLock other name = %v, %v; want acquired", gotOther, err)
	}
	releaseOther()

	release()
	got3, release3, err := l.TryLock(ctx, "sweep")
	if err != nil || !got3 {
		t.Fatalf("TryLock after release = %v, %v; want acquired", got3, err)
	}
	release3()
}

// ---------------------------------------------------------------------------
// Timer
// ---------------------------------------------------------------------------

func TestTimerTicksAndStops(t *testing.T) {
	var runs atomic.Int64
	timer := NewTimer("tick", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}, NewMemoryLocker(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go timer.Start(ctx)

	waitFor(t, time.Second, func() bool { return runs.Load() >= 3 })
	if !timer.Running() {
		t.Error("Running() = false while loop is live")
	}

	timer.Stop()
	waitFor(t, time.Second, func() bool { return !timer.Running() })
	settled := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != settled {
		t.Error("job still firing after Stop")
	}
}

func TestTimerSkipsTickWhenLockHeld(t *testing.T) {
	locker := NewMemoryLocker()
	got, release, err := locker.TryLock(context.Background(), "held")
	if err != nil || !got {
		t.Fatalf("pre-hold lock: %v, %v", got, err)
	}

	var runs atomic.Int64
	timer := NewTimer("held", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}, locker, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go timer.Start(ctx)

	time.Sleep(60 * time.Millisecond)
	if n := runs.Load(); n != 0 {
		t.Fatalf("job ran %d times under a held lock", n)
	}

	release()
	waitFor(t, time.Second, func() bool { return runs.Load() >= 1 })
}

func TestTimerSurvivesErrorsAndPanics(t *testing.T) {
	var runs atomic.Int64
	timer := NewTimer("flaky", 10*time.Millisecond, func(context.Context) error {
		n := runs.Add(1)
		switch n {
		case 1:
			return errors.New("transient")
		case 2:
			panic("boom")
		}
		return nil
	}, NewMemoryLocker(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go timer.Start(ctx)

	// The loop keeps ticking past the error and the panic.
	waitFor(t, time.Second, func() bool { return runs.Load() >= 4 })
}

func TestTimerStopsOnContextCancel(t *testing.T) {
	timer := NewTimer("ctx", 10*time.Millisecond, func(context.Context) error {
		return nil
	}, NewMemoryLocker(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go timer.Start(ctx)
	waitFor(t, time.Second, func() bool { return timer.Running() })

	cancel()
	waitFor(t, time.Second, func() bool { return !timer.Running() })
}
