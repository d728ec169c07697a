package payout

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	payouts map[string]*Payout
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payouts: make(map[string]*Payout)}
}

func (m *MemoryStore) Create(_ context.Context, p *Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payouts[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, p *Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payouts[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	m.payouts[p.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByWallet(_ context.Context, walletID string, limit int, afterID string) ([]*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0)
	for id, p := range m.payouts {
		if p.WalletID == walletID && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*Payout, 0, len(ids))
	for _, id := range ids {
		cp := *m.payouts[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) ListExecutable(_ context.Context, limit int) ([]*Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Payout
	for _, p := range m.payouts {
		if p.ApprovalStatus == ApprovalApproved && p.Status == StatusPending {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
