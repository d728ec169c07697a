package fraud

import (
	"context"
	"time"

	"github.com/adkarma/adkarma/internal/campaign"
	"github.com/adkarma/adkarma/internal/idgen"
	"github.com/adkarma/adkarma/internal/logging"
	"github.com/adkarma/adkarma/internal/metrics"
	"github.com/adkarma/adkarma/internal/tracking"
)

const sweepPageSize = 200

// Sweeper runs the detection heuristics over tracking data. Failures for
// one link or campaign are logged and skipped so the rest of the sweep
// still runs.
type Sweeper struct {
	flags     Store
	events    tracking.Store
	campaigns campaign.Store
	// lookback bounds the snapshot scan; one sweep interval plus slack so
	// a slow run does not miss snapshots.
	lookback time.Duration
}

func NewSweeper(flags Store, events tracking.Store, campaigns campaign.Store, lookback time.Duration) *Sweeper {
	return &Sweeper{flags: flags, events: events, campaigns: campaigns, lookback: lookback}
}

// Run executes one full sweep.
func (s *Sweeper) Run(ctx context.Context) error {
	started := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(started).Seconds())
	}()

	s.sweepLinks(ctx)
	s.sweepSnapshots(ctx)
	s.sweepConversions(ctx)
	return nil
}

// sweepLinks covers the click-anomaly, IP-abuse, and bot-ratio heuristics,
// all driven by the trailing hour of clicks per active link.
func (s *Sweeper) sweepLinks(ctx context.Context) {
	hourAgo := time.Now().UTC().Add(-time.Hour)
	afterID := ""
	for {
		links, err := s.events.ListActiveLinks(ctx, sweepPageSize, afterID)
		if err != nil {
			logging.L(ctx).Warn("fraud sweep: list links failed", "error", err)
			return
		}
		if len(links) == 0 {
			return
		}
		for _, link := range links {
			if err := s.sweepLink(ctx, link, hourAgo); err != nil {
				logging.L(ctx).Warn("fraud sweep: link skipped",
					"link_id", link.ID, "error", err)
			}
		}
		afterID = links[len(links)-1].ID
	}
}

func (s *Sweeper) sweepLink(ctx context.Context, link *tracking.Link, since time.Time) error {
	total, fraudClicks, err := s.events.CountClicks(ctx, link.ID, since)
	if err != nil {
		return err
	}

	if total > ClickAnomalyThreshold {
		sev := 3
		switch {
		case total > 200:
			sev = 5
		case total > 100:
			sev = 4
		}
		s.raise(ctx, TypeClickAnomaly, link.CampaignID, link.CreatorID, sev, Evidence{
			ClickAnomaly: &ClickAnomalyEvidence{LinkID: link.ID, ClicksLastH: total},
		})
	}

	ips, err := s.events.TopIPCounts(ctx, link.ID, since, 20)
	if err != nil {
		return err
	}
	for _, ip := range ips {
		if ip.Count <= IPAbuseThreshold {
			break // sorted descending
		}
		sev := 4
		if ip.Count > 50 {
			sev = 5
		}
		s.raise(ctx, TypeIPAbuse, link.CampaignID, link.CreatorID, sev, Evidence{
			IPAbuse: &IPAbuseEvidence{LinkID: link.ID, IP: ip.IP, ClicksLastH: ip.Count},
		})
	}

	if total > BotRatioMinClicks {
		fraudPct := fraudClicks * 100 / total
		if fraudPct > BotRatioThresholdPct {
			sev := 4
			if fraudPct > 80 {
				sev = 5
			}
			s.raise(ctx, TypeBotDetected, link.CampaignID, link.CreatorID, sev, Evidence{
				BotRatio: &BotRatioEvidence{LinkID: link.ID, ClicksLastH: total, FraudPct: fraudPct},
			})
		}
	}
	return nil
}

// sweepSnapshots compares each recent view snapshot to its immediate
// predecessor for the same campaign, creator, and platform. Zero-baseline
// pairs are skipped.
func (s *Sweeper) sweepSnapshots(ctx context.Context) {
	since := time.Now().UTC().Add(-s.lookback)
	snaps, err := s.events.SnapshotsSince(ctx, since, 1000)
	if err != nil {
		logging.L(ctx).Warn("fraud sweep: list snapshots failed", "error", err)
		return
	}
	for _, snap := range snaps {
		prev, err := s.events.PrevSnapshot(ctx, snap.CampaignID, snap.CreatorID, snap.Platform, snap.CapturedAt)
		if err != nil {
			logging.L(ctx).Warn("fraud sweep: snapshot skipped",
				"snapshot_id", snap.ID, "error", err)
			continue
		}
		if prev == nil || prev.Views == 0 {
			continue
		}
		growthPct := (snap.Views - prev.Views) * 100 / prev.Views
		if growthPct <= ViewSpikeThresholdPct {
			continue
		}
		sev := 3
		switch {
		case growthPct > 2000:
			sev = 5
		case growthPct > 1000:
			sev = 4
		}
		s.raise(ctx, TypeViewSpike, snap.CampaignID, snap.CreatorID, sev, Evidence{
			ViewSpike: &ViewSpikeEvidence{
				Platform:  snap.Platform,
				PrevViews: prev.Views,
				NewViews:  snap.Views,
				GrowthPct: growthPct,
			},
		})
	}
}

// sweepConversions checks conversion campaigns for creators whose verified
// conversion rate against clean clicks is implausibly high.
func (s *Sweeper) sweepConversions(ctx context.Context) {
	afterID := ""
	for {
		camps, err := s.campaigns.ListActive(ctx, sweepPageSize, afterID)
		if err != nil {
			logging.L(ctx).Warn("fraud sweep: list campaigns failed", "error", err)
			return
		}
		if len(camps) == 0 {
			return
		}
		for _, c := range camps {
			if c.Type != campaign.TypeConversion {
				continue
			}
			if err := s.sweepCampaignConversions(ctx, c.ID); err != nil {
				logging.L(ctx).Warn("fraud sweep: campaign skipped",
					"campaign_id", c.ID, "error", err)
			}
		}
		afterID = camps[len(camps)-1].ID
	}
}

func (s *Sweeper) sweepCampaignConversions(ctx context.Context, campaignID string) error {
	creators, err := s.events.CreatorsWithEvents(ctx, campaignID)
	if err != nil {
		return err
	}
	for _, creatorID := range creators {
		vc, err := s.events.VerifiedCounts(ctx, campaignID, creatorID)
		if err != nil {
			return err
		}
		if vc.Conversions <= MismatchMinConversions || vc.Clicks == 0 {
			continue
		}
		ratioPct := vc.Conversions * 100 / vc.Clicks
		if ratioPct <= MismatchThresholdPct {
			continue
		}
		sev := 3
		switch {
		case ratioPct > 70:
			sev = 5
		case ratioPct > 50:
			sev = 4
		}
		s.raise(ctx, TypeConversionMismatch, campaignID, creatorID, sev, Evidence{
			ConversionMismatch: &ConversionMismatchEvidence{
				Clicks:      vc.Clicks,
				Conversions: vc.Conversions,
				RatioPct:    ratioPct,
			},
		})
	}
	return nil
}

// raise creates a flag, or escalates the open flag of the same type and
// campaign when one exists. Escalation raises severity monotonically and
// refreshes the evidence either way.
func (s *Sweeper) raise(ctx context.Context, t FlagType, campaignID, creatorID string, severity int, ev Evidence) {
	existing, err := s.flags.FindOpen(ctx, t, campaignID)
	if err != nil {
		logging.L(ctx).Warn("fraud sweep: find open flag failed",
			"type", string(t), "campaign_id", campaignID, "error", err)
		return
	}
	now := time.Now().UTC()
	if existing != nil {
		if severity > existing.Severity {
			existing.Severity = severity
		}
		existing.Evidence = ev
		existing.UpdatedAt = now
		if err := s.flags.Update(ctx, existing); err != nil {
			logging.L(ctx).Warn("fraud sweep: escalate flag failed",
				"flag_id", existing.ID, "error", err)
		}
		return
	}
	f := &Flag{
		ID:         idgen.WithPrefix("flg_"),
		Type:       t,
		Severity:   severity,
		Status:     StatusDetected,
		CampaignID: campaignID,
		CreatorID:  creatorID,
		Evidence:   ev,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.flags.Create(ctx, f); err != nil {
		logging.L(ctx).Warn("fraud sweep: create flag failed",
			"type", string(t), "campaign_id", campaignID, "error", err)
		return
	}
	metrics.FraudFlagsTotal.WithLabelValues(string(t)).Inc()
	logging.L(ctx).Info("fraud flag raised",
		"flag_id", f.ID, "type", string(t), "campaign_id", campaignID, "severity", severity)
}
