package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adkarma/adkarma/internal/idgen"
	"github.com/adkarma/adkarma/internal/pagination"
	"github.com/adkarma/adkarma/internal/syncutil"
)

// MemoryStore is an in-memory ledger for development and unit tests.
// Per-wallet mutations are serialized through a sharded mutex; the map
// itself is guarded separately so reads never block on balance writes.
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]*Wallet // by wallet ID
	byOwner map[string]string  // owner ID -> wallet ID
	txs     []*Transaction

	locks syncutil.ShardedMutex
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*Wallet),
		byOwner: make(map[string]string),
	}
}

func (m *MemoryStore) CreateWallet(ctx context.Context, ownerID string, ownerType OwnerType) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byOwner[ownerID]; ok {
		return nil, ErrWalletExists
	}

	now := time.Now()
	w := &Wallet{
		ID:               idgen.WithPrefix("wal_"),
		OwnerID:          ownerID,
		OwnerType:        ownerType,
		Available:        decimal.Zero,
		Pending:          decimal.Zero,
		Escrow:           decimal.Zero,
		LifetimeEarnings: decimal.Zero,
		TotalWithdrawn:   decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.wallets[w.ID] = w
	m.byOwner[ownerID] = w.ID

	cp := *w
	return &cp, nil
}

func (m *MemoryStore) Get(ctx context.Context, walletID string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) GetByOwner(ctx context.Context, ownerID string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byOwner[ownerID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *m.wallets[id]
	return &cp, nil
}

func (m *MemoryStore) Fund(ctx context.Context, walletID string, amount decimal.Decimal, reference string) error {
	unlock := m.locks.Lock(walletID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}

	w.Available = w.Available.Add(amount)
	w.UpdatedAt = time.Now()
	m.appendTx(walletID, TxCampaignFund, TxCompleted, amount, "campaign", reference, "campaign_funded")
	return nil
}

func (m *MemoryStore) LockEscrow(ctx context.Context, walletID string, amount decimal.Decimal, escrowID string) error {
	unlock := m.locks.Lock(walletID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Available.LessThan(amount) {
		return ErrInsufficientFunds
	}

	w.Available = w.Available.Sub(amount)
	w.Escrow = w.Escrow.Add(amount)
	w.UpdatedAt = time.Now()
	m.appendTx(walletID, TxEscrowLock, TxCompleted, amount.Neg(), "escrow", escrowID, "escrow_locked")
	return nil
}

func (m *MemoryStore) ReleaseEscrow(ctx context.Context, brandWalletID string, credits []EscrowCredit, escrowID string) error {
	total, err := BatchTotal(credits)
	if err != nil {
		return err
	}

	// The batch debits the brand and credits every creator in one step, so
	// all touched wallets are locked together.
	keys := make([]string, 0, len(credits)+1)
	keys = append(keys, brandWalletID)
	for _, c := range credits {
		keys = append(keys, c.CreatorWalletID)
	}
	unlock := m.locks.LockAll(keys...)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	brand, ok := m.wallets[brandWalletID]
	if !ok {
		return ErrWalletNotFound
	}
	if brand.Escrow.LessThan(total) {
		return ErrInsufficientFunds
	}
	// Validate every creator before mutating anything: the batch is
	// all-or-nothing.
	for _, c := range credits {
		if _, ok := m.wallets[c.CreatorWalletID]; !ok {
			return ErrWalletNotFound
		}
	}

	now := time.Now()
	brand.Escrow = brand.Escrow.Sub(total)
	brand.UpdatedAt = now
	m.appendTx(brandWalletID, TxEscrowRelease, TxCompleted, total.Neg(), "escrow", escrowID, "escrow_released")

	for _, c := range credits {
		cw := m.wallets[c.CreatorWalletID]
		cw.Available = cw.Available.Add(c.Amount)
		cw.LifetimeEarnings = cw.LifetimeEarnings.Add(c.Amount)
		cw.UpdatedAt = now
		m.appendTx(c.CreatorWalletID, TxEarning, TxCompleted, c.Amount, "escrow", escrowID, "campaign_earning")
	}
	return nil
}

func (m *MemoryStore) RefundEscrow(ctx context.Context, walletID string, amount decimal.Decimal, escrowID string) error {
	unlock := m.locks.Lock(walletID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Escrow.LessThan(amount) {
		return ErrInsufficientFunds
	}

	w.Escrow = w.Escrow.Sub(amount)
	w.Available = w.Available.Add(amount)
	w.UpdatedAt = time.Now()
	m.appendTx(walletID, TxRefund, TxCompleted, amount, "escrow", escrowID, "escrow_refunded")
	return nil
}

func (m *MemoryStore) ChargeFee(ctx context.Context, walletID string, amount decimal.Decimal, reference, description string) error {
	unlock := m.locks.Lock(walletID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Available.LessThan(amount) {
		return ErrInsufficientFunds
	}

	w.Available = w.Available.Sub(amount)
	w.UpdatedAt = time.Now()
	m.appendTx(walletID, TxPlatformFee, TxCompleted, amount.Neg(), "fee", reference, description)
	return nil
}

func (m *MemoryStore) HoldForPayout(ctx context.Context, walletID string, amount decimal.Decimal, payoutID string) error {
	unlock := m.locks.Lock(walletID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Available.LessThan(amount) {
		return ErrInsufficientFunds
	}

	w.Available = w.Available.Sub(amount)
	w.Pending = w.Pending.Add(amount)
	w.UpdatedAt = time.Now()
	m.appendTx(walletID, TxWithdrawal, TxPending, amount.Neg(), "payout", payoutID, "withdrawal_requested")
	return nil
}

func (m *MemoryStore) SettlePayout(ctx context.Context, walletID string, amount decimal.Decimal, payoutID string) error {
	unlock := m.locks.Lock(walletID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Pending.LessThan(amount) {
		return ErrInsufficientFunds
	}

	w.Pending = w.Pending.Sub(amount)
	w.TotalWithdrawn = w.TotalWithdrawn.Add(amount)
	w.UpdatedAt = time.Now()
	m.amendTxStatus(walletID, payoutID, TxCompleted)
	return nil
}

func (m *MemoryStore) ReleasePayoutHold(ctx context.Context, walletID string, amount decimal.Decimal, payoutID string) error {
	unlock := m.locks.Lock(walletID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Pending.LessThan(amount) {
		return ErrInsufficientFunds
	}

	w.Pending = w.Pending.Sub(amount)
	w.Available = w.Available.Add(amount)
	w.UpdatedAt = time.Now()
	m.amendTxStatus(walletID, payoutID, TxCancelled)
	return nil
}

func (m *MemoryStore) History(ctx context.Context, walletID string, limit int, cursor string) ([]*Transaction, string, error) {
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*Transaction
	for _, tx := range m.txs {
		if tx.WalletID != walletID {
			continue
		}
		// Same (created_at, id) tuple ordering as the SQL store, so rows
		// sharing a timestamp are not lost at page boundaries.
		if cur != nil {
			if tx.CreatedAt.After(cur.CreatedAt) ||
				(tx.CreatedAt.Equal(cur.CreatedAt) && tx.ID >= cur.ID) {
				continue
			}
		}
		cp := *tx
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	if len(all) > limit+1 {
		all = all[:limit+1]
	}
	page, next, _ := pagination.ComputePage(all, limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	return page, next, nil
}

func (m *MemoryStore) SumBuckets(ctx context.Context) (*BucketTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := &BucketTotals{Available: decimal.Zero, Pending: decimal.Zero, Escrow: decimal.Zero}
	for _, w := range m.wallets {
		totals.Available = totals.Available.Add(w.Available)
		totals.Pending = totals.Pending.Add(w.Pending)
		totals.Escrow = totals.Escrow.Add(w.Escrow)
	}
	return totals, nil
}

// appendTx records a transaction. Caller holds m.mu.
func (m *MemoryStore) appendTx(walletID string, typ TxType, status TxStatus, amount decimal.Decimal, refType, refID, description string) {
	m.txs = append(m.txs, &Transaction{
		ID:            idgen.WithPrefix("txn_"),
		WalletID:      walletID,
		Type:          typ,
		Status:        status,
		Amount:        amount,
		ReferenceType: refType,
		ReferenceID:   refID,
		Description:   description,
		CreatedAt:     time.Now(),
	})
}

// amendTxStatus updates the status of the pending withdrawal transaction
// that references the given payout. Caller holds m.mu.
func (m *MemoryStore) amendTxStatus(walletID, payoutID string, status TxStatus) {
	for _, tx := range m.txs {
		if tx.WalletID == walletID && tx.ReferenceID == payoutID && tx.Type == TxWithdrawal && tx.Status == TxPending {
			tx.Status = status
			return
		}
	}
}
