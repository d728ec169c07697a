package circuitbreaker

import (
	"testing"
	"time"
)

func trip(b *Breaker, key string, n int) {
	for i := 0; i < n; i++ {
		b.RecordFailure(key)
	}
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := New(3, time.Minute)

	trip(b, "instagram", 2)
	if !b.Allow("instagram") {
		t.Fatal("two strikes should leave the circuit closed")
	}

	b.RecordFailure("instagram")
	if b.Allow("instagram") {
		t.Fatal("third strike should trip the circuit")
	}
	if got := b.State("instagram"); got != StateOpen {
		t.Errorf("state = %v, want StateOpen", got)
	}
}

func TestBreakerHalfOpenAdmitsOneProbe(t *testing.T) {
	b := New(2, 40*time.Millisecond)
	trip(b, "instagram", 2)

	if b.Allow("instagram") {
		t.Fatal("circuit should be open inside cool-off")
	}
	time.Sleep(50 * time.Millisecond)

	if !b.Allow("instagram") {
		t.Fatal("cool-off elapsed, probe should be admitted")
	}
	if got := b.State("instagram"); got != StateHalfOpen {
		t.Errorf("state = %v, want StateHalfOpen", got)
	}
	if b.Allow("instagram") {
		t.Error("only one probe may be in flight")
	}
}

func TestBreakerProbeOutcome(t *testing.T) {
	b := New(2, 40*time.Millisecond)

	trip(b, "instagram", 2)
	time.Sleep(50 * time.Millisecond)
	b.Allow("instagram")
	b.RecordSuccess("instagram")
	if got := b.State("instagram"); got != StateClosed {
		t.Errorf("after good probe: state = %v, want StateClosed", got)
	}
	if !b.Allow("instagram") {
		t.Error("closed circuit should allow")
	}

	trip(b, "youtube", 2)
	time.Sleep(50 * time.Millisecond)
	b.Allow("youtube")
	b.RecordFailure("youtube")
	if got := b.State("youtube"); got != StateOpen {
		t.Errorf("after failed probe: state = %v, want StateOpen", got)
	}
}

func TestBreakerSuccessClearsStrikes(t *testing.T) {
	b := New(3, time.Minute)

	trip(b, "instagram", 2)
	b.RecordSuccess("instagram")
	b.RecordFailure("instagram")
	if !b.Allow("instagram") {
		t.Error("strike count should reset on success")
	}
}

func TestBreakerKeysAreIndependent(t *testing.T) {
	b := New(2, time.Minute)
	trip(b, "instagram", 2)

	if b.Allow("instagram") {
		t.Error("instagram should be open")
	}
	if !b.Allow("youtube") {
		t.Error("youtube should be unaffected")
	}
	if got := b.State("twitch"); got != StateClosed {
		t.Errorf("unknown key state = %v, want StateClosed", got)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half_open",
		State(42):     "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
