package earnings

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adkarma/adkarma/internal/campaign"
	"github.com/adkarma/adkarma/internal/tracking"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type earningsEnv struct {
	svc       *Service
	store     *MemoryStore
	campaigns *campaign.MemoryStore
	events    *tracking.MemoryStore
}

func newEarningsEnv(t *testing.T) *earningsEnv {
	t.Helper()
	store := NewMemoryStore()
	campaigns := campaign.NewMemoryStore()
	events := tracking.NewMemoryStore()
	return &earningsEnv{
		svc:       NewService(store, campaigns, events),
		store:     store,
		campaigns: campaigns,
		events:    events,
	}
}

func (e *earningsEnv) addCampaign(t *testing.T, cmp *campaign.Campaign) {
	t.Helper()
	if cmp.Status == "" {
		cmp.Status = campaign.StatusActive
	}
	cmp.CreatedAt = time.Now()
	if err := e.campaigns.Create(context.Background(), cmp); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
}

func (e *earningsEnv) addClicks(t *testing.T, campaignID, creatorID string, n int, fraud bool) {
	t.Helper()
	for i := 0; i < n; i++ {
		ev := &tracking.ClickEvent{
			ID:         fmt.Sprintf("clk_%s_%d_%v", creatorID, i, fraud),
			LinkID:     "lnk_1",
			CampaignID: campaignID,
			CreatorID:  creatorID,
			IP:         fmt.Sprintf("203.0.113.%d", i%250),
			IsFraud:    fraud,
			CreatedAt:  time.Now().UTC(),
		}
		if err := e.events.InsertClick(context.Background(), ev); err != nil {
			t.Fatalf("insert click: %v", err)
		}
	}
}

func (e *earningsEnv) addConversions(t *testing.T, campaignID, creatorID string, n int, verified bool) {
	t.Helper()
	for i := 0; i < n; i++ {
		ev := &tracking.ConversionEvent{
			ID:         fmt.Sprintf("cnv_%s_%d_%v", creatorID, i, verified),
			PromoCode:  "DEAL",
			CampaignID: campaignID,
			CreatorID:  creatorID,
			IsVerified: verified,
			CreatedAt:  time.Now().UTC(),
		}
		if err := e.events.InsertConversion(context.Background(), ev); err != nil {
			t.Fatalf("insert conversion: %v", err)
		}
	}
}

func (e *earningsEnv) addSnapshot(t *testing.T, campaignID, creatorID, url string, views int64, at time.Time) {
	t.Helper()
	s := &tracking.ViewSnapshot{
		ID:         fmt.Sprintf("snp_%s_%d", url, at.UnixNano()),
		CampaignID: campaignID,
		CreatorID:  creatorID,
		Platform:   "instagram",
		ContentURL: url,
		Views:      views,
		CapturedAt: at,
	}
	if err := e.events.InsertViewSnapshot(context.Background(), s); err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Recompute
// ---------------------------------------------------------------------------

func TestRecomputeViewCampaign(t *testing.T) {
	env := newEarningsEnv(t)
	ctx := context.Background()
	env.addCampaign(t, &campaign.Campaign{
		ID: "cmp_1", BrandID: "brand-1", Type: campaign.TypeView,
		PayoutPer1KViews: dec("90"),
	})
	now := time.Now().UTC()
	// Cumulative snapshots; only the latest per content counts.
	env.addSnapshot(t, "cmp_1", "creator-1", "https://instagram.com/p/a", 4000, now.Add(-time.Hour))
	env.addSnapshot(t, "cmp_1", "creator-1", "https://instagram.com/p/a", 12500, now)

	m, err := env.svc.Recompute(ctx, "cmp_1", "creator-1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if m.VerifiedViews != 12500 {
		t.Errorf("views = %d, want 12500", m.VerifiedViews)
	}
	// 12500 / 1000 * 90 = 1125.
	if !m.EarnedAmount.Equal(dec("1125")) {
		t.Errorf("earned = %s, want 1125", m.EarnedAmount)
	}
}

func TestRecomputeClickCampaignExcludesFraud(t *testing.T) {
	env := newEarningsEnv(t)
	env.addCampaign(t, &campaign.Campaign{
		ID: "cmp_1", BrandID: "brand-1", Type: campaign.TypeClick,
		PayoutPerClick: dec("2.50"),
	})
	env.addClicks(t, "cmp_1", "creator-1", 40, false)
	env.addClicks(t, "cmp_1", "creator-1", 15, true)

	m, err := env.svc.Recompute(context.Background(), "cmp_1", "creator-1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if m.VerifiedClicks != 40 {
		t.Errorf("clicks = %d, want 40 (fraud excluded)", m.VerifiedClicks)
	}
	if !m.EarnedAmount.Equal(dec("100")) {
		t.Errorf("earned = %s, want 100.00", m.EarnedAmount)
	}
}

func TestRecomputeConversionCampaign(t *testing.T) {
	env := newEarningsEnv(t)
	env.addCampaign(t, &campaign.Campaign{
		ID: "cmp_1", BrandID: "brand-1", Type: campaign.TypeConversion,
		PayoutPerSale: dec("150"),
	})
	env.addConversions(t, "cmp_1", "creator-1", 7, true)
	env.addConversions(t, "cmp_1", "creator-1", 3, false)

	m, err := env.svc.Recompute(context.Background(), "cmp_1", "creator-1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if m.VerifiedConversions != 7 {
		t.Errorf("conversions = %d, want 7 (unverified excluded)", m.VerifiedConversions)
	}
	if !m.EarnedAmount.Equal(dec("1050")) {
		t.Errorf("earned = %s, want 1050", m.EarnedAmount)
	}
}

func TestRecomputeCapsAtMaxPayout(t *testing.T) {
	env := newEarningsEnv(t)
	maxPayout := dec("500")
	env.addCampaign(t, &campaign.Campaign{
		ID: "cmp_1", BrandID: "brand-1", Type: campaign.TypeClick,
		PayoutPerClick: dec("10"), MaxPayoutPerCreator: &maxPayout,
	})
	env.addClicks(t, "cmp_1", "creator-1", 200, false) // 2000 uncapped

	m, err := env.svc.Recompute(context.Background(), "cmp_1", "creator-1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !m.EarnedAmount.Equal(dec("500")) {
		t.Errorf("earned = %s, want capped 500", m.EarnedAmount)
	}
	if m.VerifiedClicks != 200 {
		t.Errorf("clicks = %d, want raw count 200 even when capped", m.VerifiedClicks)
	}
}

func TestRecomputeIdempotentAndPreservesPaid(t *testing.T) {
	env := newEarningsEnv(t)
	ctx := context.Background()
	env.addCampaign(t, &campaign.Campaign{
		ID: "cmp_1", BrandID: "brand-1", Type: campaign.TypeClick,
		PayoutPerClick: dec("3"),
	})
	env.addClicks(t, "cmp_1", "creator-1", 100, false)

	first, err := env.svc.Recompute(ctx, "cmp_1", "creator-1")
	if err != nil {
		t.Fatalf("first recompute: %v", err)
	}
	if err := env.svc.RecordPaid(ctx, "cmp_1", "creator-1", dec("120")); err != nil {
		t.Fatalf("record paid: %v", err)
	}

	second, err := env.svc.Recompute(ctx, "cmp_1", "creator-1")
	if err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	if !second.EarnedAmount.Equal(first.EarnedAmount) {
		t.Errorf("recompute not idempotent: %s then %s", first.EarnedAmount, second.EarnedAmount)
	}

	row, err := env.store.Get(ctx, "cmp_1", "creator-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !row.PaidAmount.Equal(dec("120")) {
		t.Errorf("paid = %s, want 120 preserved across recompute", row.PaidAmount)
	}
	if !row.Unpaid().Equal(dec("180")) {
		t.Errorf("unpaid = %s, want 180", row.Unpaid())
	}
}

func TestUnpaidTracksRecordedPayments(t *testing.T) {
	env := newEarningsEnv(t)
	ctx := context.Background()
	env.addCampaign(t, &campaign.Campaign{
		ID: "cmp_1", BrandID: "brand-1", Type: campaign.TypeClick,
		PayoutPerClick: dec("3"),
	})

	// No metrics row yet: nothing earned, nothing releasable.
	unpaid, err := env.svc.Unpaid(ctx, "cmp_1", "creator-1")
	if err != nil {
		t.Fatalf("unpaid: %v", err)
	}
	if !unpaid.IsZero() {
		t.Errorf("unpaid = %s before any recompute, want 0", unpaid)
	}

	env.addClicks(t, "cmp_1", "creator-1", 100, false)
	if _, err := env.svc.Recompute(ctx, "cmp_1", "creator-1"); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if err := env.svc.RecordPaid(ctx, "cmp_1", "creator-1", dec("120")); err != nil {
		t.Fatalf("record paid: %v", err)
	}

	unpaid, err = env.svc.Unpaid(ctx, "cmp_1", "creator-1")
	if err != nil {
		t.Fatalf("unpaid: %v", err)
	}
	if !unpaid.Equal(dec("180")) {
		t.Errorf("unpaid = %s, want 180 (300 earned - 120 paid)", unpaid)
	}
}

func TestRecordPaidBeforeFirstRecompute(t *testing.T) {
	env := newEarningsEnv(t)
	ctx := context.Background()
	if err := env.svc.RecordPaid(ctx, "cmp_1", "creator-1", dec("40")); err != nil {
		t.Fatalf("record paid: %v", err)
	}
	row, err := env.store.Get(ctx, "cmp_1", "creator-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !row.PaidAmount.Equal(dec("40")) {
		t.Errorf("paid = %s, want 40", row.PaidAmount)
	}
}

// ---------------------------------------------------------------------------
// Reconcile
// ---------------------------------------------------------------------------

func TestReconcileCoversActiveCampaignCreators(t *testing.T) {
	env := newEarningsEnv(t)
	ctx := context.Background()
	env.addCampaign(t, &campaign.Campaign{
		ID: "cmp_1", BrandID: "brand-1", Type: campaign.TypeClick,
		PayoutPerClick: dec("1"),
	})
	env.addCampaign(t, &campaign.Campaign{
		ID: "cmp_2", BrandID: "brand-2", Type: campaign.TypeClick,
		PayoutPerClick: dec("2"), Status: campaign.StatusPaused,
	})
	env.addClicks(t, "cmp_1", "creator-1", 10, false)
	env.addClicks(t, "cmp_1", "creator-2", 4, false)
	env.addClicks(t, "cmp_2", "creator-1", 9, false)

	if err := env.svc.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	rows, err := env.store.ListByCampaign(ctx, "cmp_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows for cmp_1, want 2", len(rows))
	}
	if !rows[0].EarnedAmount.Equal(dec("10")) || !rows[1].EarnedAmount.Equal(dec("4")) {
		t.Errorf("earned = %s / %s, want 10 / 4", rows[0].EarnedAmount, rows[1].EarnedAmount)
	}

	// Paused campaigns are not reconciled.
	if _, err := env.store.Get(ctx, "cmp_2", "creator-1"); err != ErrNotFound {
		t.Errorf("paused campaign row err = %v, want ErrNotFound", err)
	}
}
