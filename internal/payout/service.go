package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adkarma/adkarma/internal/idgen"
	"github.com/adkarma/adkarma/internal/ledger"
	"github.com/adkarma/adkarma/internal/logging"
	"github.com/adkarma/adkarma/internal/money"
	"github.com/adkarma/adkarma/internal/traces"
)

// Service handles the request/approval half of the payout lifecycle. The
// executor handles the provider half.
type Service struct {
	store         Store
	ledger        ledger.Store
	minWithdrawal decimal.Decimal
	tdsRate       decimal.Decimal
}

func NewService(store Store, ledgerStore ledger.Store, minWithdrawal, tdsRate decimal.Decimal) *Service {
	return &Service{
		store:         store,
		ledger:        ledgerStore,
		minWithdrawal: minWithdrawal,
		tdsRate:       tdsRate,
	}
}

func (s *Service) Store() Store { return s.store }

// Request creates a withdrawal: validates the minimum, computes TDS, holds
// the gross amount, and writes the payout row awaiting admin approval.
func (s *Service) Request(ctx context.Context, walletID string, amount decimal.Decimal, method PaymentMethod) (*Payout, error) {
	ctx, span := traces.StartSpan(ctx, "payout.Request",
		traces.WalletID(walletID),
		traces.Amount(amount.String()),
	)
	defer span.End()

	if amount.LessThan(s.minWithdrawal) {
		return nil, ErrBelowMinimum
	}
	if method.Empty() {
		return nil, ErrNoPaymentMethod
	}
	w, err := s.ledger.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}

	tds := money.Round(amount.Mul(s.tdsRate))
	now := time.Now().UTC()
	p := &Payout{
		ID:             idgen.WithPrefix("pay_"),
		WalletID:       walletID,
		CreatorID:      w.OwnerID,
		Amount:         amount,
		TDSAmount:      tds,
		NetAmount:      amount.Sub(tds),
		Status:         StatusPending,
		ApprovalStatus: ApprovalPending,
		Method:         method,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.ledger.HoldForPayout(ctx, walletID, amount, p.ID); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, p); err != nil {
		// Unwind the hold so a failed row write cannot strand funds in
		// pending.
		if relErr := s.ledger.ReleasePayoutHold(ctx, walletID, amount, p.ID); relErr != nil {
			logging.L(ctx).Error("payout hold unwind failed",
				"payout_id", p.ID, "wallet_id", walletID, "error", relErr)
		}
		return nil, fmt.Errorf("create payout: %w", err)
	}
	logging.L(ctx).Info("withdrawal requested",
		"payout_id", p.ID, "wallet_id", walletID, "amount", money.Format(amount))
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Payout, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByWallet(ctx context.Context, walletID string, limit int, afterID string) ([]*Payout, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByWallet(ctx, walletID, limit, afterID)
}

// Approve gates a payout into the executor's queue.
func (s *Service) Approve(ctx context.Context, id, admin string) (*Payout, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.ApprovalStatus != ApprovalPending {
		return nil, ErrAlreadyProcessed
	}
	p.ApprovalStatus = ApprovalApproved
	p.ApprovedBy = admin
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// BatchApprove approves a list of payout IDs. Per-payout failures are
// collected, not fatal.
func (s *Service) BatchApprove(ctx context.Context, ids []string, admin string) (approved []*Payout, failed map[string]string) {
	failed = make(map[string]string)
	for _, id := range ids {
		p, err := s.Approve(ctx, id, admin)
		if err != nil {
			failed[id] = err.Error()
			continue
		}
		approved = append(approved, p)
	}
	return approved, failed
}

// Reject declines a pending payout and returns the held funds.
func (s *Service) Reject(ctx context.Context, id, admin, reason string) (*Payout, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.ApprovalStatus != ApprovalPending {
		return nil, ErrAlreadyProcessed
	}
	if err := s.ledger.ReleasePayoutHold(ctx, p.WalletID, p.Amount, p.ID); err != nil {
		return nil, fmt.Errorf("release hold: %w", err)
	}
	p.ApprovalStatus = ApprovalRejected
	p.Status = StatusCancelled
	p.ApprovedBy = admin
	p.FailureReason = reason
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	logging.L(ctx).Info("payout rejected", "payout_id", p.ID, "admin", admin)
	return p, nil
}

// Reverse credits held funds back for a payout that never settled: one
// awaiting approval, or one the provider failed where an admin has
// confirmed no money moved externally. Settled and in-flight payouts cannot
// be reversed.
func (s *Service) Reverse(ctx context.Context, id, admin string) (*Payout, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	reversible := p.ApprovalStatus == ApprovalPending && p.Status == StatusPending ||
		p.Status == StatusFailed
	if !reversible {
		return nil, ErrAlreadyProcessed
	}
	if err := s.ledger.ReleasePayoutHold(ctx, p.WalletID, p.Amount, p.ID); err != nil {
		return nil, fmt.Errorf("release hold: %w", err)
	}
	p.Status = StatusCancelled
	if p.ApprovalStatus == ApprovalPending {
		p.ApprovalStatus = ApprovalRejected
	}
	p.ApprovedBy = admin
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	logging.L(ctx).Info("payout reversed", "payout_id", p.ID, "admin", admin)
	return p, nil
}
