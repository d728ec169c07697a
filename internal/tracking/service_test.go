package tracking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adkarma/adkarma/internal/campaign"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
const botUA = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"

func newTestService(t *testing.T) (*Service, *MemoryStore, *campaign.MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	campaigns := campaign.NewMemoryStore()

	if err := campaigns.Create(context.Background(), &campaign.Campaign{
		ID:        "cmp_1",
		BrandID:   "brand-1",
		Name:      "Summer launch",
		Type:      campaign.TypeClick,
		Status:    campaign.StatusActive,
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	return NewService(store, campaigns), store, campaigns
}

func mustCreateLink(t *testing.T, svc *Service) *Link {
	t.Helper()
	link, err := svc.CreateLink(context.Background(), "cmp_1", "creator-1", "https://shop.example/landing")
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	return link
}

// ---------------------------------------------------------------------------
// Click ingest
// ---------------------------------------------------------------------------

func TestRecordClickClean(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	link := mustCreateLink(t, svc)

	dest, err := svc.RecordClick(ctx, link.Slug, "203.0.113.7", chromeUA, "https://instagram.com")
	if err != nil {
		t.Fatalf("record click: %v", err)
	}
	if dest != "https://shop.example/landing" {
		t.Errorf("dest = %q, want the link destination", dest)
	}

	got, err := store.GetLinkBySlug(ctx, link.Slug)
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	if got.TotalClicks != 1 {
		t.Errorf("totalClicks = %d, want 1", got.TotalClicks)
	}

	total, fraud, err := store.CountClicks(ctx, link.ID, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("count clicks: %v", err)
	}
	if total != 1 || fraud != 0 {
		t.Errorf("counts total=%d fraud=%d, want 1/0", total, fraud)
	}
}

func TestRecordClickBotUserAgent(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	link := mustCreateLink(t, svc)

	tests := []string{botUA, ""}
	for _, ua := range tests {
		dest, err := svc.RecordClick(ctx, link.Slug, "203.0.113.7", ua, "")
		if err != nil {
			t.Fatalf("record click (ua=%q): %v", ua, err)
		}
		// Fraud clicks still redirect.
		if dest != link.DestinationURL {
			t.Errorf("dest = %q, want redirect despite fraud", dest)
		}
	}

	got, _ := store.GetLinkBySlug(ctx, link.Slug)
	if got.TotalClicks != 0 {
		t.Errorf("totalClicks = %d, want 0 (fraud never counts)", got.TotalClicks)
	}
	total, fraud, _ := store.CountClicks(ctx, link.ID, time.Now().Add(-time.Minute))
	if total != 2 || fraud != 2 {
		t.Errorf("counts total=%d fraud=%d, want 2/2 (recorded but flagged)", total, fraud)
	}
}

func TestRecordClickIPWindowLimit(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	link := mustCreateLink(t, svc)

	// First five clicks from one IP are clean.
	for i := 0; i < IPClickLimit; i++ {
		if _, err := svc.RecordClick(ctx, link.Slug, "203.0.113.7", chromeUA, ""); err != nil {
			t.Fatalf("click %d: %v", i+1, err)
		}
	}
	got, _ := store.GetLinkBySlug(ctx, link.Slug)
	if got.TotalClicks != int64(IPClickLimit) {
		t.Fatalf("totalClicks = %d, want %d", got.TotalClicks, IPClickLimit)
	}

	// The sixth is recorded as fraud and does not count.
	if _, err := svc.RecordClick(ctx, link.Slug, "203.0.113.7", chromeUA, ""); err != nil {
		t.Fatalf("sixth click: %v", err)
	}
	got, _ = store.GetLinkBySlug(ctx, link.Slug)
	if got.TotalClicks != int64(IPClickLimit) {
		t.Errorf("totalClicks = %d, want %d after over-limit click", got.TotalClicks, IPClickLimit)
	}

	// A different IP on the same link is unaffected.
	if _, err := svc.RecordClick(ctx, link.Slug, "198.51.100.9", chromeUA, ""); err != nil {
		t.Fatalf("other-ip click: %v", err)
	}
	got, _ = store.GetLinkBySlug(ctx, link.Slug)
	if got.TotalClicks != int64(IPClickLimit)+1 {
		t.Errorf("totalClicks = %d, want %d", got.TotalClicks, IPClickLimit+1)
	}
}

func TestRecordClickUnknownSlug(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.RecordClick(context.Background(), "nope", "203.0.113.7", chromeUA, ""); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("got %v, want ErrLinkNotFound", err)
	}
}

func TestRecordClickPausedCampaignRedirectsUncounted(t *testing.T) {
	svc, store, campaigns := newTestService(t)
	ctx := context.Background()
	link := mustCreateLink(t, svc)

	cmp, _ := campaigns.Get(ctx, "cmp_1")
	cmp.Status = campaign.StatusPaused
	if err := campaigns.Create(ctx, cmp); err != nil {
		t.Fatalf("pause campaign: %v", err)
	}

	dest, err := svc.RecordClick(ctx, link.Slug, "203.0.113.7", chromeUA, "")
	if err != nil {
		t.Fatalf("record click: %v", err)
	}
	if dest != link.DestinationURL {
		t.Errorf("stale link must keep redirecting, got %q", dest)
	}

	total, _, _ := store.CountClicks(ctx, link.ID, time.Now().Add(-time.Minute))
	if total != 0 {
		t.Errorf("recorded %d events for a paused campaign, want 0", total)
	}
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func TestRecordConversionActiveCode(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreatePromoCode(ctx, "summer20", "cmp_1", "creator-1"); err != nil {
		t.Fatalf("create code: %v", err)
	}

	// Lookup is case-insensitive.
	ev, err := svc.RecordConversion(ctx, " Summer20 ", decimal.RequireFromString("1999.00"))
	if err != nil {
		t.Fatalf("record conversion: %v", err)
	}
	if !ev.IsVerified {
		t.Error("conversion on an active code should be verified")
	}
	if ev.CreatorID != "creator-1" || ev.CampaignID != "cmp_1" {
		t.Errorf("attribution = %s/%s, want creator-1/cmp_1", ev.CreatorID, ev.CampaignID)
	}

	promo, err := store.GetPromoCode(ctx, "SUMMER20")
	if err != nil {
		t.Fatalf("get promo: %v", err)
	}
	if promo.TotalUses != 1 {
		t.Errorf("totalUses = %d, want 1", promo.TotalUses)
	}
}

func TestRecordConversionUnknownCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.RecordConversion(context.Background(), "NOPE", decimal.NewFromInt(10)); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("got %v, want ErrCodeNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Registration guards
// ---------------------------------------------------------------------------

func TestCreateLinkUnknownCampaign(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.CreateLink(context.Background(), "cmp_missing", "creator-1", "https://x.example"); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("got %v, want campaign.ErrNotFound", err)
	}
}

func TestCreatePromoCodeDuplicate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreatePromoCode(ctx, "LAUNCH", "cmp_1", "creator-1"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.CreatePromoCode(ctx, "launch", "cmp_1", "creator-2"); err == nil {
		t.Error("expected duplicate code to fail")
	}
}

// ---------------------------------------------------------------------------
// Verified counts
// ---------------------------------------------------------------------------

func TestVerifiedCountsLatestSnapshotPerContent(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-2 * time.Hour)
	for i, views := range []int64{1000, 4000, 7000} {
		if err := svc.AppendSnapshot(ctx, &ViewSnapshot{
			CampaignID: "cmp_1",
			CreatorID:  "creator-1",
			Platform:   "instagram",
			ContentURL: "https://instagram.com/p/abc",
			Views:      views,
			CapturedAt: base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("snapshot %d: %v", i, err)
		}
	}
	// A second piece of content contributes its own latest reading.
	if err := svc.AppendSnapshot(ctx, &ViewSnapshot{
		CampaignID: "cmp_1",
		CreatorID:  "creator-1",
		Platform:   "youtube",
		ContentURL: "https://youtube.com/watch?v=xyz",
		Views:      500,
		CapturedAt: base,
	}); err != nil {
		t.Fatalf("youtube snapshot: %v", err)
	}

	counts, err := store.VerifiedCounts(ctx, "cmp_1", "creator-1")
	if err != nil {
		t.Fatalf("verified counts: %v", err)
	}
	if counts.Views != 7500 {
		t.Errorf("views = %d, want 7500 (latest per content, summed)", counts.Views)
	}
}

func TestVerifiedCountsExcludeFraudClicks(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	link := mustCreateLink(t, svc)

	for i := 0; i < 3; i++ {
		ip := fmt.Sprintf("203.0.113.%d", i)
		if _, err := svc.RecordClick(ctx, link.Slug, ip, chromeUA, ""); err != nil {
			t.Fatalf("clean click %d: %v", i, err)
		}
	}
	if _, err := svc.RecordClick(ctx, link.Slug, "203.0.113.99", botUA, ""); err != nil {
		t.Fatalf("bot click: %v", err)
	}

	counts, err := store.VerifiedCounts(ctx, "cmp_1", "creator-1")
	if err != nil {
		t.Fatalf("verified counts: %v", err)
	}
	if counts.Clicks != 3 {
		t.Errorf("clicks = %d, want 3 (fraud excluded)", counts.Clicks)
	}
}
