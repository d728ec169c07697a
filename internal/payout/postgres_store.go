package payout

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore backs payouts with Postgres. The payment method union lives
// in a JSONB column keyed by its tag.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const payoutColumns = `id, wallet_id, creator_id, amount, tds_amount, net_amount, status, approval_status, method, approved_by, transfer_id, failure_reason, created_at, updated_at, executed_at`

func (p *PostgresStore) Create(ctx context.Context, po *Payout) error {
	method, err := json.Marshal(po.Method)
	if err != nil {
		return fmt.Errorf("marshal method: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO payouts (`+payoutColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		po.ID, po.WalletID, po.CreatorID, po.Amount, po.TDSAmount, po.NetAmount,
		po.Status, po.ApprovalStatus, method, po.ApprovedBy, po.TransferID,
		po.FailureReason, po.CreatedAt, po.UpdatedAt, po.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Payout, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id)
	po, err := scanPayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return po, err
}

func (p *PostgresStore) Update(ctx context.Context, po *Payout) error {
	method, err := json.Marshal(po.Method)
	if err != nil {
		return fmt.Errorf("marshal method: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE payouts
		SET status = $2, approval_status = $3, method = $4, approved_by = $5,
		    transfer_id = $6, failure_reason = $7, updated_at = $8, executed_at = $9
		WHERE id = $1`,
		po.ID, po.Status, po.ApprovalStatus, method, po.ApprovedBy,
		po.TransferID, po.FailureReason, po.UpdatedAt, po.ExecutedAt)
	if err != nil {
		return fmt.Errorf("update payout: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListByWallet(ctx context.Context, walletID string, limit int, afterID string) ([]*Payout, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM payouts
		WHERE wallet_id = $1 AND id > $2
		ORDER BY id
		LIMIT $3`, walletID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()
	return collectPayouts(rows)
}

func (p *PostgresStore) ListExecutable(ctx context.Context, limit int) ([]*Payout, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM payouts
		WHERE approval_status = 'APPROVED' AND status = 'PENDING'
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list executable: %w", err)
	}
	defer rows.Close()
	return collectPayouts(rows)
}

func collectPayouts(rows *sql.Rows) ([]*Payout, error) {
	var out []*Payout
	for rows.Next() {
		po, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayout(row rowScanner) (*Payout, error) {
	var (
		po         Payout
		method     []byte
		approvedBy sql.NullString
		transferID sql.NullString
		reason     sql.NullString
		executedAt sql.NullTime
	)
	err := row.Scan(&po.ID, &po.WalletID, &po.CreatorID, &po.Amount, &po.TDSAmount,
		&po.NetAmount, &po.Status, &po.ApprovalStatus, &method, &approvedBy,
		&transferID, &reason, &po.CreatedAt, &po.UpdatedAt, &executedAt)
	if err != nil {
		return nil, err
	}
	po.ApprovedBy = approvedBy.String
	po.TransferID = transferID.String
	po.FailureReason = reason.String
	if executedAt.Valid {
		t := executedAt.Time
		po.ExecutedAt = &t
	}
	if len(method) > 0 {
		if err := json.Unmarshal(method, &po.Method); err != nil {
			return nil, fmt.Errorf("unmarshal method: %w", err)
		}
	}
	return &po, nil
}
