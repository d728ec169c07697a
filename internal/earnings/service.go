package earnings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adkarma/adkarma/internal/campaign"
	"github.com/adkarma/adkarma/internal/logging"
	"github.com/adkarma/adkarma/internal/metrics"
	"github.com/adkarma/adkarma/internal/money"
	"github.com/adkarma/adkarma/internal/traces"
	"github.com/adkarma/adkarma/internal/tracking"
)

const reconcilePageSize = 100

var perThousand = decimal.NewFromInt(1000)

// Service recomputes earnings from verified tracking counts.
type Service struct {
	store     Store
	campaigns campaign.Store
	events    tracking.Store
}

func NewService(store Store, campaigns campaign.Store, events tracking.Store) *Service {
	return &Service{store: store, campaigns: campaigns, events: events}
}

func (s *Service) Store() Store { return s.store }

// Recompute fully recounts verified events for the pair and upserts the
// earned amount. The result depends only on current counts and the campaign
// rates, so concurrent or repeated runs converge on the same row.
func (s *Service) Recompute(ctx context.Context, campaignID, creatorID string) (*CampaignMetrics, error) {
	ctx, span := traces.StartSpan(ctx, "earnings.Recompute",
		traces.CampaignID(campaignID),
		traces.CreatorID(creatorID),
	)
	defer span.End()

	camp, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	counts, err := s.events.VerifiedCounts(ctx, campaignID, creatorID)
	if err != nil {
		return nil, fmt.Errorf("verified counts: %w", err)
	}

	var earned decimal.Decimal
	switch camp.Type {
	case campaign.TypeView:
		earned = decimal.NewFromInt(counts.Views).Div(perThousand).Mul(camp.PayoutPer1KViews)
	case campaign.TypeClick:
		earned = decimal.NewFromInt(counts.Clicks).Mul(camp.PayoutPerClick)
	case campaign.TypeConversion:
		earned = decimal.NewFromInt(counts.Conversions).Mul(camp.PayoutPerSale)
	default:
		return nil, fmt.Errorf("campaign %s: unknown type %q", campaignID, camp.Type)
	}
	if camp.MaxPayoutPerCreator != nil && earned.GreaterThan(*camp.MaxPayoutPerCreator) {
		earned = *camp.MaxPayoutPerCreator
	}
	earned = money.Round(earned)

	m := &CampaignMetrics{
		CampaignID:          campaignID,
		CreatorID:           creatorID,
		VerifiedViews:       counts.Views,
		VerifiedClicks:      counts.Clicks,
		VerifiedConversions: counts.Conversions,
		EarnedAmount:        earned,
		ComputedAt:          time.Now().UTC(),
	}
	if err := s.store.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("upsert metrics: %w", err)
	}
	return m, nil
}

// Unpaid reports how much of a creator's reconciled earnings has not been
// released yet. A pair with no metrics row has earned nothing. Together
// with RecordPaid this satisfies the escrow service's PaidRecorder and caps
// PaidAmount at EarnedAmount.
func (s *Service) Unpaid(ctx context.Context, campaignID, creatorID string) (decimal.Decimal, error) {
	m, err := s.store.Get(ctx, campaignID, creatorID)
	if errors.Is(err, ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return m.Unpaid(), nil
}

// RecordPaid advances PaidAmount after an escrow release. Satisfies the
// escrow service's PaidRecorder.
func (s *Service) RecordPaid(ctx context.Context, campaignID, creatorID string, amount decimal.Decimal) error {
	return s.store.AddPaid(ctx, campaignID, creatorID, amount)
}

// Reconcile walks active campaigns and recomputes every creator with
// recorded events. Per-pair failures are logged and skipped.
func (s *Service) Reconcile(ctx context.Context) error {
	afterID := ""
	var failed bool
	for {
		camps, err := s.campaigns.ListActive(ctx, reconcilePageSize, afterID)
		if err != nil {
			metrics.ReconcileRunsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("list campaigns: %w", err)
		}
		if len(camps) == 0 {
			break
		}
		for _, camp := range camps {
			creators, err := s.events.CreatorsWithEvents(ctx, camp.ID)
			if err != nil {
				logging.L(ctx).Warn("reconcile: campaign skipped",
					"campaign_id", camp.ID, "error", err)
				failed = true
				continue
			}
			for _, creatorID := range creators {
				if _, err := s.Recompute(ctx, camp.ID, creatorID); err != nil {
					logging.L(ctx).Warn("reconcile: pair skipped",
						"campaign_id", camp.ID, "creator_id", creatorID, "error", err)
					failed = true
				}
			}
		}
		afterID = camps[len(camps)-1].ID
	}
	if failed {
		metrics.ReconcileRunsTotal.WithLabelValues("partial").Inc()
	} else {
		metrics.ReconcileRunsTotal.WithLabelValues("ok").Inc()
	}
	return nil
}
