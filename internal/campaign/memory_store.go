package campaign

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/adkarma/adkarma/internal/idgen"
)

// MemoryStore is an in-memory campaign store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	campaigns map[string]*Campaign
}

// NewMemoryStore creates an empty in-memory campaign store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{campaigns: make(map[string]*Campaign)}
}

func (m *MemoryStore) Create(ctx context.Context, c *Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == "" {
		c.ID = idgen.WithPrefix("cmp_")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListActive(ctx context.Context, limit int, afterID string) ([]*Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []*Campaign
	for _, c := range m.campaigns {
		if c.Status == StatusActive {
			cp := *c
			active = append(active, &cp)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	var out []*Campaign
	for _, c := range active {
		if afterID != "" && c.ID <= afterID {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
