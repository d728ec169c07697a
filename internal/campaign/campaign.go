// Package campaign is the engine's read model of campaigns.
//
// Campaign CRUD lives in the surrounding product; the ledger and trust
// engine only needs the payout formula inputs and the serving status.
package campaign

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("campaign not found")

// Type selects which verified count drives the payout formula.
type Type string

const (
	TypeView       Type = "VIEW"
	TypeClick      Type = "CLICK"
	TypeConversion Type = "CONVERSION"
)

// Status is the campaign serving state. Only ACTIVE campaigns count events.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
)

// Campaign carries the fields the engine reads.
type Campaign struct {
	ID                  string           `json:"id"`
	BrandID             string           `json:"brandId"`
	Name                string           `json:"name"`
	Type                Type             `json:"type"`
	Status              Status           `json:"status"`
	PayoutPer1KViews    decimal.Decimal  `json:"payoutPer1kViews"`
	PayoutPerClick      decimal.Decimal  `json:"payoutPerClick"`
	PayoutPerSale       decimal.Decimal  `json:"payoutPerSale"`
	MaxPayoutPerCreator *decimal.Decimal `json:"maxPayoutPerCreator,omitempty"`
	CommissionRate      decimal.Decimal  `json:"commissionRate"`
	CreatedAt           time.Time        `json:"createdAt"`
}

// IsServing reports whether events against this campaign should count.
func (c *Campaign) IsServing() bool {
	return c.Status == StatusActive
}

// Store reads campaigns. Create exists for the product layer and tests.
type Store interface {
	Create(ctx context.Context, c *Campaign) error
	Get(ctx context.Context, id string) (*Campaign, error)
	ListActive(ctx context.Context, limit int, afterID string) ([]*Campaign, error)
}
