package tracking

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu          sync.RWMutex
	links       map[string]*Link // by ID
	slugs       map[string]string
	promos      map[string]*PromoCode
	content     map[string]*Content
	clicks      []*ClickEvent
	conversions []*ConversionEvent
	snapshots   []*ViewSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		links:   make(map[string]*Link),
		slugs:   make(map[string]string),
		promos:  make(map[string]*PromoCode),
		content: make(map[string]*Content),
	}
}

func (m *MemoryStore) CreateContent(_ context.Context, c *Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.content[c.ID] = &cp
	return nil
}

func (m *MemoryStore) ListContent(_ context.Context, limit int, afterID string) ([]*Content, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.content))
	for id, c := range m.content {
		if c.Active && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*Content, 0, len(ids))
	for _, id := range ids {
		cp := *m.content[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) CreateLink(_ context.Context, l *Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slugs[l.Slug]; ok {
		return ErrSlugTaken
	}
	cp := *l
	m.links[l.ID] = &cp
	m.slugs[l.Slug] = l.ID
	return nil
}

func (m *MemoryStore) GetLinkBySlug(_ context.Context, slug string) (*Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.slugs[slug]
	if !ok {
		return nil, ErrLinkNotFound
	}
	cp := *m.links[id]
	return &cp, nil
}

func (m *MemoryStore) IncrementLinkClicks(_ context.Context, linkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[linkID]
	if !ok {
		return ErrLinkNotFound
	}
	l.TotalClicks++
	return nil
}

func (m *MemoryStore) ListActiveLinks(_ context.Context, limit int, afterID string) ([]*Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.links))
	for id, l := range m.links {
		if l.Active && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*Link, 0, len(ids))
	for _, id := range ids {
		cp := *m.links[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) CreatePromoCode(_ context.Context, p *PromoCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.promos[p.Code]; ok {
		return ErrSlugTaken
	}
	cp := *p
	m.promos[p.Code] = &cp
	return nil
}

func (m *MemoryStore) GetPromoCode(_ context.Context, code string) (*PromoCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.promos[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) IncrementPromoUses(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.promos[code]
	if !ok {
		return ErrCodeNotFound
	}
	p.TotalUses++
	return nil
}

func (m *MemoryStore) InsertClick(_ context.Context, ev *ClickEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.clicks = append(m.clicks, &cp)
	return nil
}

func (m *MemoryStore) CountRecentClicksByIP(_ context.Context, linkID, ip string, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, ev := range m.clicks {
		if ev.LinkID == linkID && ev.IP == ip && ev.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountClicks(_ context.Context, linkID string, since time.Time) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total, fraud int64
	for _, ev := range m.clicks {
		if ev.LinkID == linkID && ev.CreatedAt.After(since) {
			total++
			if ev.IsFraud {
				fraud++
			}
		}
	}
	return total, fraud, nil
}

func (m *MemoryStore) TopIPCounts(_ context.Context, linkID string, since time.Time, limit int) ([]IPCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byIP := make(map[string]int64)
	for _, ev := range m.clicks {
		if ev.LinkID == linkID && ev.CreatedAt.After(since) {
			byIP[ev.IP]++
		}
	}
	out := make([]IPCount, 0, len(byIP))
	for ip, n := range byIP {
		out = append(out, IPCount{IP: ip, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IP < out[j].IP
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertConversion(_ context.Context, ev *ConversionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.conversions = append(m.conversions, &cp)
	return nil
}

func (m *MemoryStore) InsertViewSnapshot(_ context.Context, s *ViewSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.snapshots = append(m.snapshots, &cp)
	return nil
}

func (m *MemoryStore) SnapshotsSince(_ context.Context, since time.Time, limit int) ([]*ViewSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ViewSnapshot
	for _, s := range m.snapshots {
		if s.CapturedAt.After(since) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) PrevSnapshot(_ context.Context, campaignID, creatorID, platform string, before time.Time) (*ViewSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var prev *ViewSnapshot
	for _, s := range m.snapshots {
		if s.CampaignID != campaignID || s.CreatorID != creatorID || s.Platform != platform {
			continue
		}
		if !s.CapturedAt.Before(before) {
			continue
		}
		if prev == nil || s.CapturedAt.After(prev.CapturedAt) {
			prev = s
		}
	}
	if prev == nil {
		return nil, nil
	}
	cp := *prev
	return &cp, nil
}

func (m *MemoryStore) VerifiedCounts(_ context.Context, campaignID, creatorID string) (*VerifiedCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vc := &VerifiedCounts{}
	for _, ev := range m.clicks {
		if ev.CampaignID == campaignID && ev.CreatorID == creatorID && !ev.IsFraud {
			vc.Clicks++
		}
	}
	for _, ev := range m.conversions {
		if ev.CampaignID == campaignID && ev.CreatorID == creatorID && ev.IsVerified {
			vc.Conversions++
		}
	}
	// Snapshots carry cumulative platform totals; pay on the latest reading
	// per piece of content.
	byContent := make(map[string]int64)
	latestByContent := make(map[string]time.Time)
	for _, s := range m.snapshots {
		if s.CampaignID != campaignID || s.CreatorID != creatorID {
			continue
		}
		key := s.Platform + "|" + s.ContentURL
		if s.CapturedAt.After(latestByContent[key]) {
			latestByContent[key] = s.CapturedAt
			byContent[key] = s.Views
		}
	}
	for _, v := range byContent {
		vc.Views += v
	}
	return vc, nil
}

func (m *MemoryStore) CreatorsWithEvents(_ context.Context, campaignID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[string]struct{})
	for _, ev := range m.clicks {
		if ev.CampaignID == campaignID {
			set[ev.CreatorID] = struct{}{}
		}
	}
	for _, ev := range m.conversions {
		if ev.CampaignID == campaignID {
			set[ev.CreatorID] = struct{}{}
		}
	}
	for _, s := range m.snapshots {
		if s.CampaignID == campaignID {
			set[s.CreatorID] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
