package campaign

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/adkarma/adkarma/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed campaign store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, c *Campaign) error {
	if c.ID == "" {
		c.ID = idgen.WithPrefix("cmp_")
	}
	var maxPayout any
	if c.MaxPayoutPerCreator != nil {
		maxPayout = *c.MaxPayoutPerCreator
	}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO campaigns (id, brand_id, name, type, status,
			payout_per_1k_views, payout_per_click, payout_per_sale,
			max_payout_per_creator, commission_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, c.ID, c.BrandID, c.Name, c.Type, c.Status,
		c.PayoutPer1KViews, c.PayoutPerClick, c.PayoutPerSale,
		maxPayout, c.CommissionRate).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

const campaignColumns = `
	id, brand_id, name, type, status, payout_per_1k_views, payout_per_click,
	payout_per_sale, max_payout_per_creator, commission_rate, created_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Campaign, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

func (p *PostgresStore) ListActive(ctx context.Context, limit int, afterID string) ([]*Campaign, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE status = 'ACTIVE' AND id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Campaign
	for rows.Next() {
		c, err := scanCampaign(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCampaign(scan func(...any) error) (*Campaign, error) {
	c := &Campaign{}
	var maxPayout decimal.NullDecimal
	err := scan(&c.ID, &c.BrandID, &c.Name, &c.Type, &c.Status,
		&c.PayoutPer1KViews, &c.PayoutPerClick, &c.PayoutPerSale,
		&maxPayout, &c.CommissionRate, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if maxPayout.Valid {
		c.MaxPayoutPerCreator = &maxPayout.Decimal
	}
	return c, nil
}
