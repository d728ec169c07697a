// Package health provides a registry of named subsystem probes.
package health

import (
	"context"
	"sync"
)

// CheckFunc probes one subsystem. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// Status is the outcome of one probe.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

type probe struct {
	name string
	fn   CheckFunc
}

// Registry holds named probes and runs them on demand.
type Registry struct {
	mu     sync.RWMutex
	probes []probe
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named probe. Registration order is reporting order.
func (r *Registry) Register(name string, fn CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes = append(r.probes, probe{name: name, fn: fn})
}

// CheckAll runs every probe and reports the aggregate plus per-subsystem
// results. Aggregate health requires every probe to pass.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	probes := make([]probe, len(r.probes))
	copy(probes, r.probes)
	r.mu.RUnlock()

	healthy := true
	out := make([]Status, 0, len(probes))
	for _, p := range probes {
		st := Status{Name: p.name, Healthy: true}
		if err := p.fn(ctx); err != nil {
			st.Healthy = false
			st.Detail = err.Error()
			healthy = false
		}
		out = append(out, st)
	}
	return healthy, out
}
