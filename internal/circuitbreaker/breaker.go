// Package circuitbreaker provides a per-key circuit breaker, used to stop
// hammering an external collaborator (insights platforms, transfer rail)
// that is already failing.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // requests flow through
	StateOpen                  // tripped: requests are rejected
	StateHalfOpen              // one probe allowed to test recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "adkarma",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

type circuit struct {
	state     State
	strikes   int // consecutive failures while closed
	trippedAt time.Time
}

func (c *circuit) setState(key string, to State) {
	if c.state == to {
		return
	}
	cbStateTransitions.WithLabelValues(key, c.state.String(), to.String()).Inc()
	c.state = to
}

// Breaker trips a key open after threshold consecutive failures. Once
// openDuration has passed the circuit half-opens and admits a single
// probe; the probe's outcome closes or re-opens it.
type Breaker struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	threshold    int
	openDuration time.Duration
}

// New creates a circuit breaker.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		circuits:     make(map[string]*circuit),
		threshold:    threshold,
		openDuration: openDuration,
	}
}

// Allow reports whether a request for key may proceed.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok || c.state == StateClosed {
		return true
	}
	if c.state == StateOpen && time.Since(c.trippedAt) >= b.openDuration {
		c.setState(key, StateHalfOpen)
		return true
	}
	// Open inside its cool-off, or a half-open probe already in flight.
	return false
}

// RecordSuccess clears the strike count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	c.strikes = 0
	if c.state == StateHalfOpen {
		c.setState(key, StateClosed)
	}
}

// RecordFailure counts a strike. The circuit trips at the threshold, and a
// failed half-open probe re-opens immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}

	c.strikes++
	switch {
	case c.state == StateHalfOpen:
		c.trippedAt = time.Now()
		c.setState(key, StateOpen)
	case c.state == StateClosed && c.strikes >= b.threshold:
		c.trippedAt = time.Now()
		c.setState(key, StateOpen)
	}
}

// State returns the current state for a key; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}
