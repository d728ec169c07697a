package fraud

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	flags map[string]*Flag
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flags: make(map[string]*Flag)}
}

func (m *MemoryStore) Create(_ context.Context, f *Flag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.flags[f.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flags[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, f *Flag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flags[f.ID]; !ok {
		return ErrNotFound
	}
	cp := *f
	m.flags[f.ID] = &cp
	return nil
}

func (m *MemoryStore) FindOpen(_ context.Context, t FlagType, campaignID string) (*Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *Flag
	for _, f := range m.flags {
		if f.Type == t && f.CampaignID == campaignID && f.Open() {
			if found == nil || f.CreatedAt.Before(found.CreatedAt) {
				found = f
			}
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, status Status, limit int, afterID string) ([]*Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.flags))
	for id, f := range m.flags {
		if status != "" && f.Status != status {
			continue
		}
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*Flag, 0, len(ids))
	for _, id := range ids {
		cp := *m.flags[id]
		out = append(out, &cp)
	}
	return out, nil
}
