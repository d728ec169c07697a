package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore backs tracking with Postgres. Raw events are append-only;
// only the fraud flag on clicks and the counters on links and promo codes
// ever change.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateLink(ctx context.Context, l *Link) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tracking_links (id, slug, campaign_id, creator_id, destination_url, active, total_clicks, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.Slug, l.CampaignID, l.CreatorID, l.DestinationURL, l.Active, l.TotalClicks, l.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrSlugTaken
	}
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetLinkBySlug(ctx context.Context, slug string) (*Link, error) {
	var l Link
	err := p.db.QueryRowContext(ctx, `
		SELECT id, slug, campaign_id, creator_id, destination_url, active, total_clicks, created_at
		FROM tracking_links WHERE slug = $1`, slug).
		Scan(&l.ID, &l.Slug, &l.CampaignID, &l.CreatorID, &l.DestinationURL, &l.Active, &l.TotalClicks, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return &l, nil
}

func (p *PostgresStore) IncrementLinkClicks(ctx context.Context, linkID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE tracking_links SET total_clicks = total_clicks + 1 WHERE id = $1`, linkID)
	if err != nil {
		return fmt.Errorf("increment clicks: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (p *PostgresStore) ListActiveLinks(ctx context.Context, limit int, afterID string) ([]*Link, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, slug, campaign_id, creator_id, destination_url, active, total_clicks, created_at
		FROM tracking_links
		WHERE active = TRUE AND id > $1
		ORDER BY id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var out []*Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.Slug, &l.CampaignID, &l.CreatorID, &l.DestinationURL, &l.Active, &l.TotalClicks, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreatePromoCode(ctx context.Context, pc *PromoCode) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO promo_codes (code, campaign_id, creator_id, active, total_uses, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		pc.Code, pc.CampaignID, pc.CreatorID, pc.Active, pc.TotalUses, pc.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrSlugTaken
	}
	if err != nil {
		return fmt.Errorf("insert promo code: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetPromoCode(ctx context.Context, code string) (*PromoCode, error) {
	var pc PromoCode
	err := p.db.QueryRowContext(ctx, `
		SELECT code, campaign_id, creator_id, active, total_uses, created_at
		FROM promo_codes WHERE code = $1`, code).
		Scan(&pc.Code, &pc.CampaignID, &pc.CreatorID, &pc.Active, &pc.TotalUses, &pc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get promo code: %w", err)
	}
	return &pc, nil
}

func (p *PostgresStore) IncrementPromoUses(ctx context.Context, code string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE promo_codes SET total_uses = total_uses + 1 WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("increment uses: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCodeNotFound
	}
	return nil
}

func (p *PostgresStore) CreateContent(ctx context.Context, c *Content) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tracked_content (id, campaign_id, creator_id, platform, content_url, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.CampaignID, c.CreatorID, c.Platform, c.ContentURL, c.Active, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert content: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListContent(ctx context.Context, limit int, afterID string) ([]*Content, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, campaign_id, creator_id, platform, content_url, active, created_at
		FROM tracked_content
		WHERE active = TRUE AND id > $1
		ORDER BY id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	var out []*Content
	for rows.Next() {
		var c Content
		if err := rows.Scan(&c.ID, &c.CampaignID, &c.CreatorID, &c.Platform, &c.ContentURL, &c.Active, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) InsertClick(ctx context.Context, ev *ClickEvent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO click_events (id, link_id, campaign_id, creator_id, ip, user_agent, referer, is_fraud, fraud_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, ev.LinkID, ev.CampaignID, ev.CreatorID, ev.IP, ev.UserAgent, ev.Referer, ev.IsFraud, ev.FraudReason, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert click: %w", err)
	}
	return nil
}

func (p *PostgresStore) CountRecentClicksByIP(ctx context.Context, linkID, ip string, since time.Time) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM click_events
		WHERE link_id = $1 AND ip = $2 AND created_at > $3`,
		linkID, ip, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent clicks: %w", err)
	}
	return n, nil
}

func (p *PostgresStore) CountClicks(ctx context.Context, linkID string, since time.Time) (int64, int64, error) {
	var total, fraud int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_fraud)
		FROM click_events
		WHERE link_id = $1 AND created_at > $2`,
		linkID, since).Scan(&total, &fraud)
	if err != nil {
		return 0, 0, fmt.Errorf("count clicks: %w", err)
	}
	return total, fraud, nil
}

func (p *PostgresStore) TopIPCounts(ctx context.Context, linkID string, since time.Time, limit int) ([]IPCount, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT ip, COUNT(*) AS n
		FROM click_events
		WHERE link_id = $1 AND created_at > $2
		GROUP BY ip
		ORDER BY n DESC, ip
		LIMIT $3`, linkID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("top ips: %w", err)
	}
	defer rows.Close()

	var out []IPCount
	for rows.Next() {
		var c IPCount
		if err := rows.Scan(&c.IP, &c.Count); err != nil {
			return nil, fmt.Errorf("scan ip count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) InsertConversion(ctx context.Context, ev *ConversionEvent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO conversion_events (id, promo_code, campaign_id, creator_id, amount, is_verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.PromoCode, ev.CampaignID, ev.CreatorID, ev.Amount, ev.IsVerified, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert conversion: %w", err)
	}
	return nil
}

func (p *PostgresStore) InsertViewSnapshot(ctx context.Context, s *ViewSnapshot) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO view_snapshots (id, campaign_id, creator_id, platform, content_url, views, likes, comments, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.CampaignID, s.CreatorID, s.Platform, s.ContentURL, s.Views, s.Likes, s.Comments, s.CapturedAt)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (p *PostgresStore) SnapshotsSince(ctx context.Context, since time.Time, limit int) ([]*ViewSnapshot, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, campaign_id, creator_id, platform, content_url, views, likes, comments, captured_at
		FROM view_snapshots
		WHERE captured_at > $1
		ORDER BY captured_at
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*ViewSnapshot
	for rows.Next() {
		var s ViewSnapshot
		if err := rows.Scan(&s.ID, &s.CampaignID, &s.CreatorID, &s.Platform, &s.ContentURL, &s.Views, &s.Likes, &s.Comments, &s.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) PrevSnapshot(ctx context.Context, campaignID, creatorID, platform string, before time.Time) (*ViewSnapshot, error) {
	var s ViewSnapshot
	err := p.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, creator_id, platform, content_url, views, likes, comments, captured_at
		FROM view_snapshots
		WHERE campaign_id = $1 AND creator_id = $2 AND platform = $3 AND captured_at < $4
		ORDER BY captured_at DESC
		LIMIT 1`, campaignID, creatorID, platform, before).
		Scan(&s.ID, &s.CampaignID, &s.CreatorID, &s.Platform, &s.ContentURL, &s.Views, &s.Likes, &s.Comments, &s.CapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prev snapshot: %w", err)
	}
	return &s, nil
}

func (p *PostgresStore) VerifiedCounts(ctx context.Context, campaignID, creatorID string) (*VerifiedCounts, error) {
	vc := &VerifiedCounts{}
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM click_events
		WHERE campaign_id = $1 AND creator_id = $2 AND is_fraud = FALSE`,
		campaignID, creatorID).Scan(&vc.Clicks)
	if err != nil {
		return nil, fmt.Errorf("count clean clicks: %w", err)
	}
	err = p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversion_events
		WHERE campaign_id = $1 AND creator_id = $2 AND is_verified = TRUE`,
		campaignID, creatorID).Scan(&vc.Conversions)
	if err != nil {
		return nil, fmt.Errorf("count conversions: %w", err)
	}
	// Latest cumulative reading per piece of content, summed.
	err = p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(views), 0) FROM (
			SELECT DISTINCT ON (platform, content_url) views
			FROM view_snapshots
			WHERE campaign_id = $1 AND creator_id = $2
			ORDER BY platform, content_url, captured_at DESC
		) latest`,
		campaignID, creatorID).Scan(&vc.Views)
	if err != nil {
		return nil, fmt.Errorf("sum views: %w", err)
	}
	return vc, nil
}

func (p *PostgresStore) CreatorsWithEvents(ctx context.Context, campaignID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT creator_id FROM click_events WHERE campaign_id = $1
		UNION
		SELECT creator_id FROM conversion_events WHERE campaign_id = $1
		UNION
		SELECT creator_id FROM view_snapshots WHERE campaign_id = $1
		ORDER BY creator_id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("creators with events: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan creator: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
