package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/adkarma/adkarma/internal/ledger"
	"github.com/adkarma/adkarma/internal/logging"
	"github.com/adkarma/adkarma/internal/metrics"
	"github.com/adkarma/adkarma/internal/retry"
	"github.com/adkarma/adkarma/internal/traces"
)

// Executor drains approved payouts through the transfer provider in bounded
// batches. Each payout settles or fails independently; a provider failure
// leaves the ledger hold in place for an explicit admin Reverse.
type Executor struct {
	store           Store
	ledger          ledger.Store
	provider        TransferProvider
	batchSize       int
	providerTimeout time.Duration
}

func NewExecutor(store Store, ledgerStore ledger.Store, provider TransferProvider, batchSize int, providerTimeout time.Duration) *Executor {
	if batchSize <= 0 {
		batchSize = 25
	}
	if providerTimeout <= 0 {
		providerTimeout = 30 * time.Second
	}
	return &Executor{
		store:           store,
		ledger:          ledgerStore,
		provider:        provider,
		batchSize:       batchSize,
		providerTimeout: providerTimeout,
	}
}

// Run executes one batch.
func (e *Executor) Run(ctx context.Context) error {
	batch, err := e.store.ListExecutable(ctx, e.batchSize)
	if err != nil {
		return fmt.Errorf("list executable payouts: %w", err)
	}
	for _, p := range batch {
		e.execute(ctx, p)
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, p *Payout) {
	ctx, span := traces.StartSpan(ctx, "payout.Execute",
		traces.PayoutID(p.ID),
		traces.WalletID(p.WalletID),
		traces.Amount(p.NetAmount.String()),
	)
	defer span.End()

	p.Status = StatusProcessing
	p.UpdatedAt = time.Now().UTC()
	if err := e.store.Update(ctx, p); err != nil {
		logging.L(ctx).Warn("payout claim failed", "payout_id", p.ID, "error", err)
		return
	}

	if p.Method.Empty() {
		e.fail(ctx, p, ErrNoPaymentMethod.Error())
		return
	}

	// The payout ID is the provider idempotency key, so retrying a
	// transient submit failure cannot double-pay.
	submitCtx, cancel := context.WithTimeout(ctx, e.providerTimeout)
	var transferID string
	err := retry.Do(submitCtx, 3, 2*time.Second, func() error {
		var submitErr error
		transferID, submitErr = e.provider.Submit(submitCtx, TransferRequest{
			DestinationAccount: p.Method.Destination(),
			Amount:             p.NetAmount,
			ReferenceID:        p.ID,
			Narration:          "adkarma creator payout " + p.ID,
		})
		return submitErr
	})
	cancel()
	if err != nil {
		e.fail(ctx, p, err.Error())
		return
	}

	if err := e.ledger.SettlePayout(ctx, p.WalletID, p.Amount, p.ID); err != nil {
		// The transfer went out; the ledger hold is still pending. Leave
		// the payout FAILED so the discrepancy surfaces for an operator
		// instead of silently retrying the transfer.
		e.fail(ctx, p, fmt.Sprintf("transfer %s sent but settlement failed: %v", transferID, err))
		return
	}

	now := time.Now().UTC()
	p.Status = StatusCompleted
	p.TransferID = transferID
	p.ExecutedAt = &now
	p.UpdatedAt = now
	if err := e.store.Update(ctx, p); err != nil {
		logging.L(ctx).Error("payout completion write failed",
			"payout_id", p.ID, "transfer_id", transferID, "error", err)
		return
	}
	metrics.PayoutsExecutedTotal.WithLabelValues("completed").Inc()
	logging.L(ctx).Info("payout completed",
		"payout_id", p.ID, "transfer_id", transferID)
}

func (e *Executor) fail(ctx context.Context, p *Payout, reason string) {
	p.Status = StatusFailed
	p.FailureReason = reason
	p.UpdatedAt = time.Now().UTC()
	if err := e.store.Update(ctx, p); err != nil {
		logging.L(ctx).Error("payout failure write failed",
			"payout_id", p.ID, "error", err)
		return
	}
	metrics.PayoutsExecutedTotal.WithLabelValues("failed").Inc()
	logging.L(ctx).Warn("payout failed", "payout_id", p.ID, "reason", reason)
}
