package earnings

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

type pairKey struct {
	campaignID string
	creatorID  string
}

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[pairKey]*CampaignMetrics
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[pairKey]*CampaignMetrics)}
}

func (m *MemoryStore) Upsert(_ context.Context, row *CampaignMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{row.CampaignID, row.CreatorID}
	cp := *row
	if existing, ok := m.rows[key]; ok {
		cp.PaidAmount = existing.PaidAmount
	}
	m.rows[key] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, campaignID, creatorID string) (*CampaignMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[pairKey{campaignID, creatorID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *MemoryStore) ListByCampaign(_ context.Context, campaignID string) ([]*CampaignMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*CampaignMetrics
	for key, row := range m.rows {
		if key.campaignID == campaignID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatorID < out[j].CreatorID })
	return out, nil
}

func (m *MemoryStore) ListByCreator(_ context.Context, creatorID string) ([]*CampaignMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*CampaignMetrics
	for key, row := range m.rows {
		if key.creatorID == creatorID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CampaignID < out[j].CampaignID })
	return out, nil
}

func (m *MemoryStore) AddPaid(_ context.Context, campaignID, creatorID string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{campaignID, creatorID}
	row, ok := m.rows[key]
	if !ok {
		// Start the row when none exists so the payment is not lost.
		m.rows[key] = &CampaignMetrics{
			CampaignID: campaignID,
			CreatorID:  creatorID,
			PaidAmount: amount,
		}
		return nil
	}
	row.PaidAmount = row.PaidAmount.Add(amount)
	return nil
}
