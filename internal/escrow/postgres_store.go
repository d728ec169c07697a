package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore implements Store with PostgreSQL. The UNIQUE constraint on
// campaign_id enforces the one-escrow-per-campaign rule at the row level.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (id, campaign_id, brand_wallet_id, total_amount,
			released_amount, commission_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.CampaignID, e.BrandWalletID, e.TotalAmount,
		e.ReleasedAmount, e.CommissionAmount, e.Status, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create escrow: %w", err)
	}
	return nil
}

const escrowColumns = `
	id, campaign_id, brand_wallet_id, total_amount, released_amount,
	commission_amount, status, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	return p.scan(p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id))
}

func (p *PostgresStore) GetByCampaign(ctx context.Context, campaignID string) (*Escrow, error) {
	return p.scan(p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE campaign_id = $1`, campaignID))
}

// AddReleased claims delta of the remaining escrow in a single guarded
// UPDATE. The cap predicate rides in the WHERE clause, so concurrent claims
// from separate server instances serialize on the row and the losing one
// matches zero rows.
func (p *PostgresStore) AddReleased(ctx context.Context, id string, delta decimal.Decimal) (*Escrow, error) {
	e, err := p.scan(p.db.QueryRowContext(ctx, `
		UPDATE escrows SET
			released_amount = released_amount + $2::NUMERIC(14,2),
			status = CASE
				WHEN released_amount + $2::NUMERIC(14,2) >= total_amount THEN 'FULLY_RELEASED'
				WHEN released_amount + $2::NUMERIC(14,2) > 0 THEN 'PARTIALLY_RELEASED'
				ELSE 'LOCKED'
			END,
			updated_at = NOW()
		WHERE id = $1
		  AND status <> 'REFUNDED'
		  AND released_amount + $2::NUMERIC(14,2) BETWEEN 0 AND total_amount
		RETURNING `+escrowColumns, id, delta))
	if err == nil || !errors.Is(err, ErrNotFound) {
		return e, err
	}

	// Zero rows matched: tell the caller why.
	cur, gerr := p.Get(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if cur.Status == StatusRefunded {
		return nil, ErrAlreadySettled
	}
	return nil, ErrOverRelease
}

func (p *PostgresStore) Update(ctx context.Context, e *Escrow) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET
			released_amount = $2,
			status          = $3,
			updated_at      = $4
		WHERE id = $1
	`, e.ID, e.ReleasedAmount, e.Status, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update escrow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) scan(row *sql.Row) (*Escrow, error) {
	e := &Escrow{}
	err := row.Scan(&e.ID, &e.CampaignID, &e.BrandWalletID, &e.TotalAmount,
		&e.ReleasedAmount, &e.CommissionAmount, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}
