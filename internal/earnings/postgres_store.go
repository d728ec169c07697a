package earnings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PostgresStore backs campaign metrics with Postgres. The upsert keeps
// paid_amount untouched so reconciliation never claws back released money.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Upsert(ctx context.Context, m *CampaignMetrics) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO campaign_metrics
			(campaign_id, creator_id, verified_views, verified_clicks, verified_conversions, earned_amount, paid_amount, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
		ON CONFLICT (campaign_id, creator_id) DO UPDATE SET
			verified_views = EXCLUDED.verified_views,
			verified_clicks = EXCLUDED.verified_clicks,
			verified_conversions = EXCLUDED.verified_conversions,
			earned_amount = EXCLUDED.earned_amount,
			computed_at = EXCLUDED.computed_at`,
		m.CampaignID, m.CreatorID, m.VerifiedViews, m.VerifiedClicks,
		m.VerifiedConversions, m.EarnedAmount, m.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert metrics: %w", err)
	}
	return nil
}

const metricsColumns = `campaign_id, creator_id, verified_views, verified_clicks, verified_conversions, earned_amount, paid_amount, computed_at`

func (p *PostgresStore) Get(ctx context.Context, campaignID, creatorID string) (*CampaignMetrics, error) {
	var m CampaignMetrics
	err := p.db.QueryRowContext(ctx, `
		SELECT `+metricsColumns+` FROM campaign_metrics
		WHERE campaign_id = $1 AND creator_id = $2`, campaignID, creatorID).
		Scan(&m.CampaignID, &m.CreatorID, &m.VerifiedViews, &m.VerifiedClicks,
			&m.VerifiedConversions, &m.EarnedAmount, &m.PaidAmount, &m.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get metrics: %w", err)
	}
	return &m, nil
}

func (p *PostgresStore) ListByCampaign(ctx context.Context, campaignID string) ([]*CampaignMetrics, error) {
	return p.list(ctx, `campaign_id = $1 ORDER BY creator_id`, campaignID)
}

func (p *PostgresStore) ListByCreator(ctx context.Context, creatorID string) ([]*CampaignMetrics, error) {
	return p.list(ctx, `creator_id = $1 ORDER BY campaign_id`, creatorID)
}

func (p *PostgresStore) list(ctx context.Context, where string, arg any) ([]*CampaignMetrics, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+metricsColumns+` FROM campaign_metrics WHERE `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var out []*CampaignMetrics
	for rows.Next() {
		var m CampaignMetrics
		if err := rows.Scan(&m.CampaignID, &m.CreatorID, &m.VerifiedViews, &m.VerifiedClicks,
			&m.VerifiedConversions, &m.EarnedAmount, &m.PaidAmount, &m.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan metrics: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AddPaid(ctx context.Context, campaignID, creatorID string, amount decimal.Decimal) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO campaign_metrics
			(campaign_id, creator_id, verified_views, verified_clicks, verified_conversions, earned_amount, paid_amount, computed_at)
		VALUES ($1, $2, 0, 0, 0, 0, $3, NOW())
		ON CONFLICT (campaign_id, creator_id) DO UPDATE SET
			paid_amount = campaign_metrics.paid_amount + EXCLUDED.paid_amount`,
		campaignID, creatorID, amount)
	if err != nil {
		return fmt.Errorf("add paid: %w", err)
	}
	return nil
}
