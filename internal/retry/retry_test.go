package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoStopsOnFirstSuccess(t *testing.T) {
	calls := 0
	if err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 4, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("timeout")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err=%v calls=%d, want nil and 3", err, calls)
	}
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	boom := errors.New("still down")
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoPermanentShortCircuits(t *testing.T) {
	blocked := errors.New("account blocked")
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(blocked)
	})
	if !errors.Is(err, blocked) {
		t.Errorf("err = %v, want %v", err, blocked)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	// The wrapper is stripped before returning.
	var perm *PermanentError
	if errors.As(err, &perm) {
		t.Error("PermanentError wrapper leaked to the caller")
	}
}

func TestDoHonorsContextDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, 10, 500*time.Millisecond, func() error {
		calls++
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 before the first long backoff", calls)
	}
}

func TestDoClampsZeroAttempts(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return nil
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithJitterBounds(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 200; i++ {
		got := withJitter(d)
		if got < 75*time.Millisecond || got > 125*time.Millisecond {
			t.Fatalf("withJitter(%v) = %v, outside [75ms, 125ms]", d, got)
		}
	}
	if withJitter(0) != 0 {
		t.Error("withJitter(0) != 0")
	}
}
