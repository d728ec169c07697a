package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mileusna/useragent"
	"github.com/shopspring/decimal"

	"github.com/adkarma/adkarma/internal/campaign"
	"github.com/adkarma/adkarma/internal/idgen"
	"github.com/adkarma/adkarma/internal/logging"
	"github.com/adkarma/adkarma/internal/metrics"
)

// Service runs the ingest paths: click redirect, conversion recording, and
// snapshot append.
type Service struct {
	store     Store
	campaigns campaign.Store
}

func NewService(store Store, campaigns campaign.Store) *Service {
	return &Service{store: store, campaigns: campaigns}
}

func (s *Service) Store() Store { return s.store }

// CreateLink registers a tracking link with a fresh slug.
func (s *Service) CreateLink(ctx context.Context, campaignID, creatorID, destinationURL string) (*Link, error) {
	if _, err := s.campaigns.Get(ctx, campaignID); err != nil {
		return nil, err
	}
	l := &Link{
		ID:             idgen.WithPrefix("lnk_"),
		Slug:           idgen.Slug(),
		CampaignID:     campaignID,
		CreatorID:      creatorID,
		DestinationURL: destinationURL,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateLink(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// CreatePromoCode registers a promo code for conversion attribution.
func (s *Service) CreatePromoCode(ctx context.Context, code, campaignID, creatorID string) (*PromoCode, error) {
	if _, err := s.campaigns.Get(ctx, campaignID); err != nil {
		return nil, err
	}
	p := &PromoCode{
		Code:       strings.ToUpper(strings.TrimSpace(code)),
		CampaignID: campaignID,
		CreatorID:  creatorID,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreatePromoCode(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// RegisterContent adds a piece of creator content for the insights
// collector to poll.
func (s *Service) RegisterContent(ctx context.Context, campaignID, creatorID, platform, contentURL string) (*Content, error) {
	if _, err := s.campaigns.Get(ctx, campaignID); err != nil {
		return nil, err
	}
	c := &Content{
		ID:         idgen.WithPrefix("cnt_"),
		CampaignID: campaignID,
		CreatorID:  creatorID,
		Platform:   strings.ToLower(platform),
		ContentURL: contentURL,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateContent(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RecordClick resolves a slug, classifies the click inline, records it, and
// returns the destination URL for the redirect. The caller always redirects
// on a nil error; only an unknown slug stops the visitor.
func (s *Service) RecordClick(ctx context.Context, slug, ip, ua, referer string) (string, error) {
	link, err := s.store.GetLinkBySlug(ctx, slug)
	if err != nil {
		return "", err
	}

	camp, err := s.campaigns.Get(ctx, link.CampaignID)
	if err != nil {
		return "", fmt.Errorf("load campaign %s: %w", link.CampaignID, err)
	}
	if !link.Active || !camp.IsServing() {
		// Redirect without recording so stale links keep working after a
		// campaign winds down.
		metrics.ClicksIngestedTotal.WithLabelValues("uncounted").Inc()
		return link.DestinationURL, nil
	}

	isFraud, reason := s.classify(ctx, link, ip, ua)

	ev := &ClickEvent{
		ID:          idgen.WithPrefix("clk_"),
		LinkID:      link.ID,
		CampaignID:  link.CampaignID,
		CreatorID:   link.CreatorID,
		IP:          ip,
		UserAgent:   ua,
		Referer:     referer,
		IsFraud:     isFraud,
		FraudReason: reason,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertClick(ctx, ev); err != nil {
		return "", fmt.Errorf("insert click: %w", err)
	}
	if isFraud {
		metrics.ClicksIngestedTotal.WithLabelValues("fraud").Inc()
		logging.L(ctx).Debug("fraud click recorded",
			"link_id", link.ID, "ip", ip, "reason", reason)
	} else {
		metrics.ClicksIngestedTotal.WithLabelValues("clean").Inc()
		if err := s.store.IncrementLinkClicks(ctx, link.ID); err != nil {
			logging.L(ctx).Warn("increment link clicks failed",
				"link_id", link.ID, "error", err)
		}
	}
	return link.DestinationURL, nil
}

// classify applies the inline fraud rules: a user agent with no identifiable
// browser, or an IP past its per-link hourly budget.
func (s *Service) classify(ctx context.Context, link *Link, ip, ua string) (bool, string) {
	parsed := useragent.Parse(ua)
	if parsed.Bot || parsed.Name == "" {
		return true, ReasonBotUserAgent
	}
	since := time.Now().UTC().Add(-ClickWindow)
	n, err := s.store.CountRecentClicksByIP(ctx, link.ID, ip, since)
	if err != nil {
		// Count on classification failing open, not on dropping the click.
		logging.L(ctx).Warn("ip window count failed", "link_id", link.ID, "error", err)
		return false, ""
	}
	if n >= IPClickLimit {
		return true, ReasonIPRateLimit
	}
	return false, ""
}

// RecordConversion attributes a sale to the promo code's creator.
func (s *Service) RecordConversion(ctx context.Context, code string, amount decimal.Decimal) (*ConversionEvent, error) {
	promo, err := s.store.GetPromoCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	ev := &ConversionEvent{
		ID:         idgen.WithPrefix("cnv_"),
		PromoCode:  promo.Code,
		CampaignID: promo.CampaignID,
		CreatorID:  promo.CreatorID,
		Amount:     amount,
		IsVerified: promo.Active,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.InsertConversion(ctx, ev); err != nil {
		return nil, fmt.Errorf("insert conversion: %w", err)
	}
	if promo.Active {
		if err := s.store.IncrementPromoUses(ctx, promo.Code); err != nil {
			logging.L(ctx).Warn("increment promo uses failed",
				"code", promo.Code, "error", err)
		}
	}
	return ev, nil
}

// AppendSnapshot records a platform stats reading from the insights collector.
func (s *Service) AppendSnapshot(ctx context.Context, snap *ViewSnapshot) error {
	if snap.ID == "" {
		snap.ID = idgen.WithPrefix("snp_")
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	return s.store.InsertViewSnapshot(ctx, snap)
}
