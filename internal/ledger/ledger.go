// Package ledger is the system of record for wallets and transactions.
//
// Every balance mutation is one or more paired bucket deltas executed
// atomically with the transaction row that documents it. No code path may
// move money without writing the matching transaction in the same atomic
// unit. Wallets are never deleted.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrWalletExists      = errors.New("wallet already exists for owner")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidOwnerType  = errors.New("owner type must be BRAND or CREATOR")
	ErrEmptyRelease      = errors.New("release batch is empty")
)

// OwnerType distinguishes the two wallet kinds.
type OwnerType string

const (
	OwnerBrand   OwnerType = "BRAND"
	OwnerCreator OwnerType = "CREATOR"
)

// TxType classifies ledger transactions.
type TxType string

const (
	TxEarning       TxType = "EARNING"
	TxWithdrawal    TxType = "WITHDRAWAL"
	TxEscrowLock    TxType = "ESCROW_LOCK"
	TxEscrowRelease TxType = "ESCROW_RELEASE"
	TxRefund        TxType = "REFUND"
	TxPlatformFee   TxType = "PLATFORM_FEE"
	TxCampaignFund  TxType = "CAMPAIGN_FUND"
)

// TxStatus tracks settlement of a transaction. Amounts are append-only;
// only the status of a withdrawal hold is amended as its payout settles.
type TxStatus string

const (
	TxPending   TxStatus = "PENDING"
	TxCompleted TxStatus = "COMPLETED"
	TxCancelled TxStatus = "CANCELLED"
)

// Wallet holds one owner's balances, split into three buckets.
type Wallet struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"ownerId"`
	OwnerType        OwnerType       `json:"ownerType"`
	Available        decimal.Decimal `json:"available"`
	Pending          decimal.Decimal `json:"pending"`
	Escrow           decimal.Decimal `json:"escrow"`
	LifetimeEarnings decimal.Decimal `json:"lifetimeEarnings"`
	TotalWithdrawn   decimal.Decimal `json:"totalWithdrawn"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Transaction is an immutable audit entry. Amount is signed: credits are
// positive, debits negative.
type Transaction struct {
	ID            string          `json:"id"`
	WalletID      string          `json:"walletId"`
	Type          TxType          `json:"type"`
	Status        TxStatus        `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	ReferenceType string          `json:"referenceType,omitempty"` // campaign, escrow, payout
	ReferenceID   string          `json:"referenceId,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// EscrowCredit is one creator's share of an escrow release batch.
type EscrowCredit struct {
	CreatorWalletID string          `json:"creatorWalletId"`
	Amount          decimal.Decimal `json:"amount"`
}

// BucketTotals is the sum of each bucket across all wallets, used by
// conservation checks.
type BucketTotals struct {
	Available decimal.Decimal `json:"available"`
	Pending   decimal.Decimal `json:"pending"`
	Escrow    decimal.Decimal `json:"escrow"`
}

// Store persists wallets and transactions. Implementations must execute
// each operation atomically and serialize concurrent operations against the
// same wallet.
type Store interface {
	CreateWallet(ctx context.Context, ownerID string, ownerType OwnerType) (*Wallet, error)
	Get(ctx context.Context, walletID string) (*Wallet, error)
	GetByOwner(ctx context.Context, ownerID string) (*Wallet, error)

	// Fund credits a brand wallet's available bucket (CAMPAIGN_FUND).
	Fund(ctx context.Context, walletID string, amount decimal.Decimal, reference string) error

	// LockEscrow moves available -> escrow (ESCROW_LOCK).
	LockEscrow(ctx context.Context, walletID string, amount decimal.Decimal, escrowID string) error

	// ReleaseEscrow moves the batch total out of the brand's escrow bucket
	// and credits each creator's available and lifetimeEarnings. The batch
	// is all-or-nothing: on any failure no wallet changes.
	ReleaseEscrow(ctx context.Context, brandWalletID string, credits []EscrowCredit, escrowID string) error

	// RefundEscrow moves escrow -> available (REFUND).
	RefundEscrow(ctx context.Context, walletID string, amount decimal.Decimal, escrowID string) error

	// ChargeFee debits available with a PLATFORM_FEE transaction.
	ChargeFee(ctx context.Context, walletID string, amount decimal.Decimal, reference, description string) error

	// HoldForPayout moves available -> pending and writes a PENDING
	// withdrawal transaction referencing the payout.
	HoldForPayout(ctx context.Context, walletID string, amount decimal.Decimal, payoutID string) error

	// SettlePayout drains the hold into totalWithdrawn and marks the
	// withdrawal transaction COMPLETED.
	SettlePayout(ctx context.Context, walletID string, amount decimal.Decimal, payoutID string) error

	// ReleasePayoutHold returns held funds to available and marks the
	// withdrawal transaction CANCELLED.
	ReleasePayoutHold(ctx context.Context, walletID string, amount decimal.Decimal, payoutID string) error

	History(ctx context.Context, walletID string, limit int, cursor string) ([]*Transaction, string, error)
	SumBuckets(ctx context.Context) (*BucketTotals, error)
}

// Service wraps a Store with amount validation. Balance checks live in the
// stores so they happen inside the same atomic unit as the mutation.
type Service struct {
	store Store
}

// NewService creates a ledger service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Store exposes the underlying store to sibling services (escrow, payout)
// that compose ledger operations.
func (s *Service) Store() Store { return s.store }

// CreateWallet creates the single wallet for an owner.
func (s *Service) CreateWallet(ctx context.Context, ownerID string, ownerType OwnerType) (*Wallet, error) {
	if ownerType != OwnerBrand && ownerType != OwnerCreator {
		return nil, ErrInvalidOwnerType
	}
	return s.store.CreateWallet(ctx, ownerID, ownerType)
}

// Get returns a wallet by ID.
func (s *Service) Get(ctx context.Context, walletID string) (*Wallet, error) {
	return s.store.Get(ctx, walletID)
}

// GetByOwner returns the wallet for an owner.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (*Wallet, error) {
	return s.store.GetByOwner(ctx, ownerID)
}

// Fund credits a brand wallet (campaign funding deposit).
func (s *Service) Fund(ctx context.Context, walletID string, amount decimal.Decimal, reference string) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return s.store.Fund(ctx, walletID, amount, reference)
}

// History returns a wallet's transactions, newest first.
func (s *Service) History(ctx context.Context, walletID string, limit int, cursor string) ([]*Transaction, string, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.History(ctx, walletID, limit, cursor)
}

// SumBuckets totals all wallet buckets for conservation checks.
func (s *Service) SumBuckets(ctx context.Context) (*BucketTotals, error) {
	return s.store.SumBuckets(ctx)
}

// BatchTotal sums a release batch, rejecting empty batches and non-positive
// amounts before anything touches the store.
func BatchTotal(credits []EscrowCredit) (decimal.Decimal, error) {
	if len(credits) == 0 {
		return decimal.Zero, ErrEmptyRelease
	}
	total := decimal.Zero
	for _, c := range credits {
		if c.Amount.Sign() <= 0 {
			return decimal.Zero, ErrInvalidAmount
		}
		total = total.Add(c.Amount)
	}
	return total, nil
}
