// Package escrow manages per-campaign fund locks.
//
// Flow:
//  1. Brand funds a campaign → available → escrow bucket, escrow row LOCKED
//  2. Creators earn → admin releases shares → brand escrow → creator available
//  3. Brand cancels → untouched remainder refunded → REFUNDED (terminal)
//
// A creator's share is capped by their unpaid reconciled earnings, and the
// platform commission is charged against the brand wallet when the escrow
// terminates, prorated to the released portion.
//
// Status is derived from the release ratio, never set directly:
// releasedAmount ≥ totalAmount ⇒ FULLY_RELEASED, > 0 ⇒ PARTIALLY_RELEASED,
// otherwise LOCKED.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/adkarma/adkarma/internal/campaign"
	"github.com/adkarma/adkarma/internal/idgen"
	"github.com/adkarma/adkarma/internal/ledger"
	"github.com/adkarma/adkarma/internal/logging"
	"github.com/adkarma/adkarma/internal/money"
	"github.com/adkarma/adkarma/internal/traces"
)

var (
	ErrNotFound       = errors.New("escrow not found")
	ErrAlreadyExists  = errors.New("escrow already exists for campaign")
	ErrOverRelease    = errors.New("release exceeds remaining escrow")
	ErrExceedsEarned  = errors.New("release exceeds unpaid earnings")
	ErrAlreadySettled = errors.New("escrow already settled")
	ErrInvalidAmount  = errors.New("invalid amount")
)

// Status represents the state of an escrow.
type Status string

const (
	StatusLocked            Status = "LOCKED"
	StatusPartiallyReleased Status = "PARTIALLY_RELEASED"
	StatusFullyReleased     Status = "FULLY_RELEASED"
	StatusRefunded          Status = "REFUNDED"
)

// Escrow is the per-campaign fund lock. Exactly one escrow may exist per
// campaign.
type Escrow struct {
	ID               string          `json:"id"`
	CampaignID       string          `json:"campaignId"`
	BrandWalletID    string          `json:"brandWalletId"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	ReleasedAmount   decimal.Decimal `json:"releasedAmount"`
	CommissionAmount decimal.Decimal `json:"commissionAmount"`
	Status           Status          `json:"status"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Remaining returns the unreleased portion.
func (e *Escrow) Remaining() decimal.Decimal {
	return e.TotalAmount.Sub(e.ReleasedAmount)
}

// IsTerminal reports whether no further releases or refunds are possible.
func (e *Escrow) IsTerminal() bool {
	return e.Status == StatusFullyReleased || e.Status == StatusRefunded
}

// DeriveStatus computes the status from the release ratio.
func DeriveStatus(total, released decimal.Decimal) Status {
	switch {
	case released.GreaterThanOrEqual(total):
		return StatusFullyReleased
	case released.Sign() > 0:
		return StatusPartiallyReleased
	default:
		return StatusLocked
	}
}

// Release is one creator's share in a release batch.
type Release struct {
	CreatorID string          `json:"creatorId" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
}

// Store persists escrow rows. Create must enforce campaign uniqueness.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	GetByCampaign(ctx context.Context, campaignID string) (*Escrow, error)
	// AddReleased adds delta to ReleasedAmount, rederives the status, and
	// returns the updated row. The cap check is atomic with the write so
	// concurrent server instances can never jointly exceed TotalAmount:
	// ErrOverRelease when the delta does not fit, ErrAlreadySettled on
	// refunded escrows.
	AddReleased(ctx context.Context, id string, delta decimal.Decimal) (*Escrow, error)
	Update(ctx context.Context, e *Escrow) error
}

// LedgerService is the slice of the ledger the escrow machine drives.
// ledger.Store satisfies it.
type LedgerService interface {
	GetByOwner(ctx context.Context, ownerID string) (*ledger.Wallet, error)
	LockEscrow(ctx context.Context, walletID string, amount decimal.Decimal, escrowID string) error
	ReleaseEscrow(ctx context.Context, brandWalletID string, credits []ledger.EscrowCredit, escrowID string) error
	RefundEscrow(ctx context.Context, walletID string, amount decimal.Decimal, escrowID string) error
	ChargeFee(ctx context.Context, walletID string, amount decimal.Decimal, reference, description string) error
}

// PaidRecorder ties releases to reconciled earnings without the escrow
// package importing earnings: a creator's share is capped by Unpaid, and a
// settled release advances CampaignMetrics.paidAmount through RecordPaid.
// Together they keep paidAmount at or below earnedAmount.
type PaidRecorder interface {
	Unpaid(ctx context.Context, campaignID, creatorID string) (decimal.Decimal, error)
	RecordPaid(ctx context.Context, campaignID, creatorID string, amount decimal.Decimal) error
}

// Service implements the escrow state machine.
type Service struct {
	store      Store
	ledger     LedgerService
	campaigns  campaign.Store
	paid       PaidRecorder
	commission decimal.Decimal // default rate for campaigns without one
	locks      sync.Map        // per-escrow ID locks: release and refund must not race
}

// NewService creates an escrow service.
func NewService(store Store, ledgerSvc LedgerService, campaigns campaign.Store) *Service {
	return &Service{store: store, ledger: ledgerSvc, campaigns: campaigns}
}

// WithPaidRecorder adds the earnings integration.
func (s *Service) WithPaidRecorder(r PaidRecorder) *Service {
	s.paid = r
	return s
}

// WithDefaultCommission sets the platform commission rate applied when a
// campaign carries no rate of its own.
func (s *Service) WithDefaultCommission(rate decimal.Decimal) *Service {
	s.commission = rate
	return s
}

func (s *Service) escrowLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Lock creates the escrow for a campaign and moves brand funds
// available → escrow. A second funding attempt for the same campaign fails
// with ErrAlreadyExists.
func (s *Service) Lock(ctx context.Context, campaignID string, amount decimal.Decimal) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Lock",
		traces.CampaignID(campaignID),
		traces.Amount(amount.String()),
	)
	defer span.End()

	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	amount = money.Round(amount)

	cmp, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetByCampaign(ctx, campaignID); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	brandWallet, err := s.ledger.GetByOwner(ctx, cmp.BrandID)
	if err != nil {
		return nil, err
	}

	rate := cmp.CommissionRate
	if rate.IsZero() {
		rate = s.commission
	}

	now := time.Now()
	esc := &Escrow{
		ID:               idgen.WithPrefix("esc_"),
		CampaignID:       campaignID,
		BrandWalletID:    brandWallet.ID,
		TotalAmount:      amount,
		ReleasedAmount:   decimal.Zero,
		CommissionAmount: money.Round(amount.Mul(rate)),
		Status:           StatusLocked,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.ledger.LockEscrow(ctx, brandWallet.ID, amount, esc.ID); err != nil {
		return nil, fmt.Errorf("failed to lock escrow funds: %w", err)
	}

	if err := s.store.Create(ctx, esc); err != nil {
		// Best-effort unwind if the row write fails after the funds moved.
		_ = s.ledger.RefundEscrow(ctx, brandWallet.ID, amount, esc.ID)
		if errors.Is(err, ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create escrow record: %w", err)
	}

	return esc, nil
}

// ReleaseBatch releases shares to creators, all-or-nothing. The batch is
// rejected before any wallet changes when its sum exceeds the remaining
// escrow (ErrOverRelease) or when a creator's share exceeds their unpaid
// reconciled earnings (ErrExceedsEarned).
func (s *Service) ReleaseBatch(ctx context.Context, escrowID string, releases []Release) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ReleaseBatch",
		traces.EscrowID(escrowID),
		attribute.Int("release_count", len(releases)),
	)
	defer span.End()

	mu := s.escrowLock(escrowID)
	mu.Lock()
	defer mu.Unlock()

	esc, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if esc.IsTerminal() {
		return nil, ErrAlreadySettled
	}

	total := decimal.Zero
	perCreator := make(map[string]decimal.Decimal, len(releases))
	credits := make([]ledger.EscrowCredit, 0, len(releases))
	for _, r := range releases {
		if r.Amount.Sign() <= 0 {
			return nil, ErrInvalidAmount
		}
		amt := money.Round(r.Amount)
		total = total.Add(amt)
		perCreator[r.CreatorID] = perCreator[r.CreatorID].Add(amt)

		w, err := s.ledger.GetByOwner(ctx, r.CreatorID)
		if err != nil {
			return nil, fmt.Errorf("creator %s: %w", r.CreatorID, err)
		}
		credits = append(credits, ledger.EscrowCredit{CreatorWalletID: w.ID, Amount: amt})
	}
	if len(credits) == 0 {
		return nil, ledger.ErrEmptyRelease
	}
	if total.GreaterThan(esc.Remaining()) {
		return nil, ErrOverRelease
	}

	// A creator is paid out of escrow only what reconciliation says they
	// have earned and not yet been paid.
	if s.paid != nil {
		for creatorID, amt := range perCreator {
			unpaid, err := s.paid.Unpaid(ctx, esc.CampaignID, creatorID)
			if err != nil {
				return nil, fmt.Errorf("creator %s: %w", creatorID, err)
			}
			if amt.GreaterThan(unpaid) {
				return nil, fmt.Errorf("creator %s: %w", creatorID, ErrExceedsEarned)
			}
		}
	}

	// Claim the amount on the row before moving funds so two server
	// instances can never release the same remainder twice.
	esc, err = s.store.AddReleased(ctx, escrowID, total)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.ReleaseEscrow(ctx, esc.BrandWalletID, credits, esc.ID); err != nil {
		if _, uerr := s.store.AddReleased(ctx, escrowID, total.Neg()); uerr != nil {
			logging.L(ctx).Error("escrow claim unwind failed, row overstates released amount",
				"escrow_id", escrowID, "amount", total.String(), "error", uerr)
		}
		return nil, fmt.Errorf("failed to release escrow funds: %w", err)
	}

	if s.paid != nil {
		for creatorID, amt := range perCreator {
			_ = s.paid.RecordPaid(ctx, esc.CampaignID, creatorID, amt)
		}
	}

	if esc.Status == StatusFullyReleased {
		s.chargeCommission(ctx, esc)
	}

	return esc, nil
}

// Refund returns the untouched remainder to the brand and terminates the
// escrow. Only LOCKED and PARTIALLY_RELEASED escrows can be refunded.
func (s *Service) Refund(ctx context.Context, escrowID string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Refund", traces.EscrowID(escrowID))
	defer span.End()

	mu := s.escrowLock(escrowID)
	mu.Lock()
	defer mu.Unlock()

	esc, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if esc.IsTerminal() {
		return nil, ErrAlreadySettled
	}

	remaining := esc.Remaining()
	if remaining.Sign() <= 0 {
		return nil, ErrAlreadySettled
	}

	if err := s.ledger.RefundEscrow(ctx, esc.BrandWalletID, remaining, esc.ID); err != nil {
		return nil, fmt.Errorf("failed to refund escrow: %w", err)
	}

	esc.Status = StatusRefunded
	esc.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, esc); err != nil {
		// Compensate: re-lock the refunded remainder.
		_ = s.ledger.LockEscrow(ctx, esc.BrandWalletID, remaining, esc.ID)
		return nil, fmt.Errorf("failed to update escrow after refund: %w", err)
	}

	s.chargeCommission(ctx, esc)

	return esc, nil
}

// chargeCommission settles the platform's cut once the escrow terminates,
// prorated to the portion that actually reached creators and debited from
// the brand's available balance. Creator credits have already happened, so
// a failed charge is logged for operator follow-up rather than surfaced.
func (s *Service) chargeCommission(ctx context.Context, esc *Escrow) {
	if esc.CommissionAmount.Sign() <= 0 || esc.ReleasedAmount.Sign() <= 0 {
		return
	}
	fee := money.Round(esc.CommissionAmount.Mul(esc.ReleasedAmount).Div(esc.TotalAmount))
	if fee.Sign() <= 0 {
		return
	}
	if err := s.ledger.ChargeFee(ctx, esc.BrandWalletID, fee, esc.ID, "platform_commission"); err != nil {
		logging.L(ctx).Warn("platform commission charge failed",
			"escrow_id", esc.ID, "fee", fee.String(), "error", err)
	}
}

// Get returns an escrow by ID.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	return s.store.Get(ctx, id)
}

// GetByCampaign returns the escrow for a campaign.
func (s *Service) GetByCampaign(ctx context.Context, campaignID string) (*Escrow, error) {
	return s.store.GetByCampaign(ctx, campaignID)
}
