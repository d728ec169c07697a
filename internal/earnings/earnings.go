// Package earnings reconciles verified tracking counts into per-creator
// earned amounts. Recompute is a pure function of the current verified
// counts: it never increments earlier results, so re-running it any number
// of times yields the same figure.
package earnings

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("campaign metrics not found")

// CampaignMetrics is the reconciled earnings row for one campaign/creator
// pair. PaidAmount is advanced only by escrow releases, never by Recompute.
type CampaignMetrics struct {
	CampaignID          string          `json:"campaignId"`
	CreatorID           string          `json:"creatorId"`
	VerifiedViews       int64           `json:"verifiedViews"`
	VerifiedClicks      int64           `json:"verifiedClicks"`
	VerifiedConversions int64           `json:"verifiedConversions"`
	EarnedAmount        decimal.Decimal `json:"earnedAmount"`
	PaidAmount          decimal.Decimal `json:"paidAmount"`
	ComputedAt          time.Time       `json:"computedAt"`
}

// Unpaid is the earned amount not yet released to the creator.
func (m *CampaignMetrics) Unpaid() decimal.Decimal {
	return m.EarnedAmount.Sub(m.PaidAmount)
}

// Store persists reconciled metrics.
type Store interface {
	// Upsert replaces the row for (CampaignID, CreatorID), preserving
	// PaidAmount when the row already exists.
	Upsert(ctx context.Context, m *CampaignMetrics) error
	Get(ctx context.Context, campaignID, creatorID string) (*CampaignMetrics, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]*CampaignMetrics, error)
	ListByCreator(ctx context.Context, creatorID string) ([]*CampaignMetrics, error)
	// AddPaid advances PaidAmount after an escrow release settles earnings.
	AddPaid(ctx context.Context, campaignID, creatorID string, amount decimal.Decimal) error
}
