package escrow

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory escrow store for development and unit tests.
type MemoryStore struct {
	mu         sync.RWMutex
	escrows    map[string]*Escrow
	byCampaign map[string]string
}

// NewMemoryStore creates an empty in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		escrows:    make(map[string]*Escrow),
		byCampaign: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byCampaign[e.CampaignID]; ok {
		return ErrAlreadyExists
	}
	cp := *e
	m.escrows[e.ID] = &cp
	m.byCampaign[e.CampaignID] = e.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) GetByCampaign(ctx context.Context, campaignID string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byCampaign[campaignID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.escrows[id]
	return &cp, nil
}

func (m *MemoryStore) AddReleased(ctx context.Context, id string, delta decimal.Decimal) (*Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status == StatusRefunded {
		return nil, ErrAlreadySettled
	}
	released := e.ReleasedAmount.Add(delta)
	if released.GreaterThan(e.TotalAmount) || released.IsNegative() {
		return nil, ErrOverRelease
	}

	e.ReleasedAmount = released
	e.Status = DeriveStatus(e.TotalAmount, released)
	e.UpdatedAt = time.Now()
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.escrows[e.ID]; !ok {
		return ErrNotFound
	}
	cp := *e
	m.escrows[e.ID] = &cp
	return nil
}
