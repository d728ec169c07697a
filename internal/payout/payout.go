// Package payout manages creator withdrawals: request, admin approval, and
// batched execution against the external transfer rail.
//
// Money flow: a request holds the full amount (available -> pending) up
// front. Settlement on provider success drains the hold into
// totalWithdrawn; rejection returns it. A FAILED payout deliberately stays
// debited because the external state may be ambiguous; crediting it back is
// the explicit admin Reverse action.
package payout

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound         = errors.New("payout not found")
	ErrBelowMinimum     = errors.New("amount below minimum withdrawal")
	ErrNoPaymentMethod  = errors.New("no payment method configured")
	ErrAlreadyProcessed = errors.New("payout already processed")
	ErrNotApproved      = errors.New("payout not approved")
)

// Status is the execution lifecycle.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// ApprovalStatus is the admin gate that sits in front of execution.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING_APPROVAL"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// UPIMethod pays out to a UPI virtual payment address.
type UPIMethod struct {
	VPA string `json:"vpa"`
}

// BankMethod pays out to a bank account.
type BankMethod struct {
	AccountNumber string `json:"accountNumber"`
	IFSC          string `json:"ifsc"`
	HolderName    string `json:"holderName"`
}

// PaymentMethod is a tagged union: exactly one field is non-nil.
type PaymentMethod struct {
	UPI  *UPIMethod  `json:"upi,omitempty"`
	Bank *BankMethod `json:"bank,omitempty"`
}

// Empty reports whether no destination is configured.
func (m PaymentMethod) Empty() bool {
	return m.UPI == nil && m.Bank == nil
}

// Destination renders the provider-facing account reference.
func (m PaymentMethod) Destination() string {
	switch {
	case m.UPI != nil:
		return m.UPI.VPA
	case m.Bank != nil:
		return m.Bank.AccountNumber + "@" + m.Bank.IFSC
	default:
		return ""
	}
}

// Payout is one withdrawal through its lifecycle. Amount is the gross hold;
// NetAmount = Amount - TDSAmount is what reaches the creator.
type Payout struct {
	ID             string          `json:"id"`
	WalletID       string          `json:"walletId"`
	CreatorID      string          `json:"creatorId"`
	Amount         decimal.Decimal `json:"amount"`
	TDSAmount      decimal.Decimal `json:"tdsAmount"`
	NetAmount      decimal.Decimal `json:"netAmount"`
	Status         Status          `json:"status"`
	ApprovalStatus ApprovalStatus  `json:"approvalStatus"`
	Method         PaymentMethod   `json:"method"`
	ApprovedBy     string          `json:"approvedBy,omitempty"`
	TransferID     string          `json:"transferId,omitempty"`
	FailureReason  string          `json:"failureReason,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	ExecutedAt     *time.Time      `json:"executedAt,omitempty"`
}

// Store persists payouts.
type Store interface {
	Create(ctx context.Context, p *Payout) error
	Get(ctx context.Context, id string) (*Payout, error)
	Update(ctx context.Context, p *Payout) error
	ListByWallet(ctx context.Context, walletID string, limit int, afterID string) ([]*Payout, error)
	// ListExecutable returns approved, still-PENDING payouts oldest first,
	// bounded by the executor batch size.
	ListExecutable(ctx context.Context, limit int) ([]*Payout, error)
}

// TransferRequest is what the external rail needs for one transfer.
type TransferRequest struct {
	DestinationAccount string
	Amount             decimal.Decimal
	ReferenceID        string
	Narration          string
}

// TransferProvider is the external payment rail. Implementations must treat
// ReferenceID as an idempotency key so a retried submit cannot double-pay.
type TransferProvider interface {
	Submit(ctx context.Context, req TransferRequest) (transferID string, err error)
}
