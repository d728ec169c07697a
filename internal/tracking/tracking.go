// Package tracking records attribution events for creator links and promo
// codes.
//
// The click path sits on every shared link's redirect, so it is deliberately
// cheap: one window-count query, one insert, then the 302. Fraud-classified
// clicks are recorded but never counted; the visitor is redirected either
// way so a flagged click is indistinguishable from a clean one outside.
package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrLinkNotFound = errors.New("tracking link not found")
	ErrCodeNotFound = errors.New("promo code not found")
	ErrSlugTaken    = errors.New("slug already in use")
)

// Inline classification thresholds.
const (
	// IPClickLimit is the max clicks one IP may produce against one link
	// inside ClickWindow before further clicks are classified fraud.
	IPClickLimit = 5
	// ClickWindow is the trailing window for the per-IP limit.
	ClickWindow = time.Hour
)

// Fraud reasons stamped on click events at ingest.
const (
	ReasonBotUserAgent = "bot_user_agent"
	ReasonIPRateLimit  = "ip_rate_limit"
)

// Link attributes clicks on a shared URL to a creator within a campaign.
type Link struct {
	ID             string    `json:"id"`
	Slug           string    `json:"slug"`
	CampaignID     string    `json:"campaignId"`
	CreatorID      string    `json:"creatorId"`
	DestinationURL string    `json:"destinationUrl"`
	Active         bool      `json:"active"`
	TotalClicks    int64     `json:"totalClicks"`
	CreatedAt      time.Time `json:"createdAt"`
}

// PromoCode attributes conversions to a creator within a campaign.
type PromoCode struct {
	Code       string    `json:"code"`
	CampaignID string    `json:"campaignId"`
	CreatorID  string    `json:"creatorId"`
	Active     bool      `json:"active"`
	TotalUses  int64     `json:"totalUses"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ClickEvent is an immutable raw click signal. IsFraud is set at ingest and
// may be amended later; the event itself is never deleted.
type ClickEvent struct {
	ID          string    `json:"id"`
	LinkID      string    `json:"linkId"`
	CampaignID  string    `json:"campaignId"`
	CreatorID   string    `json:"creatorId"`
	IP          string    `json:"ip"`
	UserAgent   string    `json:"userAgent"`
	Referer     string    `json:"referer,omitempty"`
	IsFraud     bool      `json:"isFraud"`
	FraudReason string    `json:"fraudReason,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ConversionEvent is an immutable raw conversion signal.
type ConversionEvent struct {
	ID         string          `json:"id"`
	PromoCode  string          `json:"promoCode"`
	CampaignID string          `json:"campaignId"`
	CreatorID  string          `json:"creatorId"`
	Amount     decimal.Decimal `json:"amount"`
	IsVerified bool            `json:"isVerified"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Content is a registered piece of creator content the insights collector
// polls for view snapshots.
type Content struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaignId"`
	CreatorID  string    `json:"creatorId"`
	Platform   string    `json:"platform"`
	ContentURL string    `json:"contentUrl"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ViewSnapshot is a point-in-time reading of a creator's content stats on a
// platform, appended by the insights collector.
type ViewSnapshot struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaignId"`
	CreatorID  string    `json:"creatorId"`
	Platform   string    `json:"platform"`
	ContentURL string    `json:"contentUrl"`
	Views      int64     `json:"views"`
	Likes      int64     `json:"likes"`
	Comments   int64     `json:"comments"`
	CapturedAt time.Time `json:"capturedAt"`
}

// IPCount pairs an IP with its click count inside a window.
type IPCount struct {
	IP    string `json:"ip"`
	Count int64  `json:"count"`
}

// VerifiedCounts are the fraud-filtered counts reconciliation pays on.
type VerifiedCounts struct {
	Views       int64 `json:"views"`
	Clicks      int64 `json:"clicks"`
	Conversions int64 `json:"conversions"`
}

// Store persists tracking data and answers the window queries the ingest
// path, the fraud sweep, and earnings reconciliation run on.
type Store interface {
	CreateLink(ctx context.Context, l *Link) error
	GetLinkBySlug(ctx context.Context, slug string) (*Link, error)
	IncrementLinkClicks(ctx context.Context, linkID string) error
	ListActiveLinks(ctx context.Context, limit int, afterID string) ([]*Link, error)

	CreatePromoCode(ctx context.Context, p *PromoCode) error
	GetPromoCode(ctx context.Context, code string) (*PromoCode, error)
	IncrementPromoUses(ctx context.Context, code string) error

	InsertClick(ctx context.Context, ev *ClickEvent) error
	// CountRecentClicksByIP is the single window query on the redirect path.
	CountRecentClicksByIP(ctx context.Context, linkID, ip string, since time.Time) (int64, error)
	CountClicks(ctx context.Context, linkID string, since time.Time) (total, fraud int64, err error)
	TopIPCounts(ctx context.Context, linkID string, since time.Time, limit int) ([]IPCount, error)

	InsertConversion(ctx context.Context, ev *ConversionEvent) error

	CreateContent(ctx context.Context, c *Content) error
	ListContent(ctx context.Context, limit int, afterID string) ([]*Content, error)

	InsertViewSnapshot(ctx context.Context, s *ViewSnapshot) error
	// SnapshotsSince lists snapshots captured after the given time, oldest
	// first, for the view-spike sweep.
	SnapshotsSince(ctx context.Context, since time.Time, limit int) ([]*ViewSnapshot, error)
	// PrevSnapshot returns the snapshot immediately preceding the given
	// capture time for the same campaign/creator/platform, or nil.
	PrevSnapshot(ctx context.Context, campaignID, creatorID, platform string, before time.Time) (*ViewSnapshot, error)

	// VerifiedCounts recounts non-fraud clicks, verified conversions, and
	// the latest snapshot view total for a campaign/creator pair.
	VerifiedCounts(ctx context.Context, campaignID, creatorID string) (*VerifiedCounts, error)
	// CreatorsWithEvents lists creator IDs with any recorded events for a
	// campaign, for reconciliation walks.
	CreatorsWithEvents(ctx context.Context, campaignID string) ([]string, error)
}
