package insights

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adkarma/adkarma/internal/campaign"
	"github.com/adkarma/adkarma/internal/tracking"
)

type fakeProvider struct {
	mu      sync.Mutex
	stats   map[string]*Stats // by content URL
	err     error
	fetches int
}

var _ Provider = (*fakeProvider)(nil)

func (f *fakeProvider) Fetch(_ context.Context, _, contentURL string) (*Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.stats[contentURL]
	if !ok {
		return nil, errors.New("unknown content")
	}
	return s, nil
}

func newTrackingService(t *testing.T) (*tracking.Service, *tracking.MemoryStore) {
	t.Helper()
	store := tracking.NewMemoryStore()
	campaigns := campaign.NewMemoryStore()
	if err := campaigns.Create(context.Background(), &campaign.Campaign{
		ID:        "cmp_1",
		BrandID:   "brand-1",
		Type:      campaign.TypeView,
		Status:    campaign.StatusActive,
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return tracking.NewService(store, campaigns), store
}

func TestCollectorAppendsSnapshots(t *testing.T) {
	ctx := context.Background()
	svc, store := newTrackingService(t)
	if _, err := svc.RegisterContent(ctx, "cmp_1", "creator-1", "instagram", "https://instagram.com/p/a"); err != nil {
		t.Fatalf("register content: %v", err)
	}
	if _, err := svc.RegisterContent(ctx, "cmp_1", "creator-2", "youtube", "https://youtube.com/watch?v=b"); err != nil {
		t.Fatalf("register content: %v", err)
	}

	provider := &fakeProvider{stats: map[string]*Stats{
		"https://instagram.com/p/a":     {Views: 4200, Likes: 310, Comments: 12},
		"https://youtube.com/watch?v=b": {Views: 900, Likes: 40, Comments: 3},
	}}
	collector := NewCollector(provider, svc)

	if err := collector.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	snaps, err := store.SnapshotsSince(ctx, time.Now().Add(-time.Minute), 100)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	byURL := make(map[string]*tracking.ViewSnapshot)
	for _, s := range snaps {
		byURL[s.ContentURL] = s
	}
	ig := byURL["https://instagram.com/p/a"]
	if ig == nil || ig.Views != 4200 || ig.Likes != 310 || ig.CreatorID != "creator-1" {
		t.Errorf("instagram snapshot = %+v", ig)
	}
	if ig != nil && ig.ID == "" {
		t.Error("snapshot ID not assigned")
	}
}

func TestCollectorSkipsFailedFetches(t *testing.T) {
	ctx := context.Background()
	svc, store := newTrackingService(t)
	if _, err := svc.RegisterContent(ctx, "cmp_1", "creator-1", "instagram", "https://instagram.com/p/a"); err != nil {
		t.Fatalf("register content: %v", err)
	}

	provider := &fakeProvider{err: ErrProviderUnavailable}
	collector := NewCollector(provider, svc)

	if err := collector.Run(ctx); err != nil {
		t.Fatalf("run should swallow per-content failures, got %v", err)
	}
	snaps, err := store.SnapshotsSince(ctx, time.Now().Add(-time.Minute), 100)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("got %d snapshots from a dead provider, want 0", len(snaps))
	}
}

func TestCollectorBreakerStopsHammeringDeadPlatform(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTrackingService(t)
	for i := 0; i < 10; i++ {
		url := "https://instagram.com/p/" + string(rune('a'+i))
		if _, err := svc.RegisterContent(ctx, "cmp_1", "creator-1", "instagram", url); err != nil {
			t.Fatalf("register content: %v", err)
		}
	}

	provider := &fakeProvider{err: ErrProviderUnavailable}
	collector := NewCollector(provider, svc)

	if err := collector.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	// The breaker opens after 5 consecutive failures; the remaining content
	// in the round is skipped without a fetch.
	if provider.fetches != 5 {
		t.Errorf("provider fetched %d times, want 5 before the breaker opened", provider.fetches)
	}
}
