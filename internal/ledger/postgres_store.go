package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adkarma/adkarma/internal/idgen"
	"github.com/adkarma/adkarma/internal/pagination"
)

// PostgresStore implements Store with PostgreSQL. Balance updates use
// native NUMERIC arithmetic inside serializable transactions; CHECK
// constraints on the bucket columns are the final overdraft guard.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateWallet(ctx context.Context, ownerID string, ownerType OwnerType) (*Wallet, error) {
	w := &Wallet{
		ID:               idgen.WithPrefix("wal_"),
		OwnerID:          ownerID,
		OwnerType:        ownerType,
		Available:        decimal.Zero,
		Pending:          decimal.Zero,
		Escrow:           decimal.Zero,
		LifetimeEarnings: decimal.Zero,
		TotalWithdrawn:   decimal.Zero,
	}

	err := p.db.QueryRowContext(ctx, `
		INSERT INTO wallets (id, owner_id, owner_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id) DO NOTHING
		RETURNING created_at, updated_at
	`, w.ID, ownerID, ownerType).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return w, nil
}

func (p *PostgresStore) Get(ctx context.Context, walletID string) (*Wallet, error) {
	return p.scanWallet(p.db.QueryRowContext(ctx, walletQuery+` WHERE id = $1`, walletID))
}

func (p *PostgresStore) GetByOwner(ctx context.Context, ownerID string) (*Wallet, error) {
	return p.scanWallet(p.db.QueryRowContext(ctx, walletQuery+` WHERE owner_id = $1`, ownerID))
}

const walletQuery = `
	SELECT id, owner_id, owner_type, available, pending, escrow,
	       lifetime_earnings, total_withdrawn, created_at, updated_at
	FROM wallets`

func (p *PostgresStore) scanWallet(row *sql.Row) (*Wallet, error) {
	w := &Wallet{}
	err := row.Scan(&w.ID, &w.OwnerID, &w.OwnerType, &w.Available, &w.Pending,
		&w.Escrow, &w.LifetimeEarnings, &w.TotalWithdrawn, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (p *PostgresStore) Fund(ctx context.Context, walletID string, amount decimal.Decimal, reference string) error {
	return p.moveAndRecord(ctx, walletID, `
		UPDATE wallets SET
			available  = available + $2::NUMERIC(14,2),
			updated_at = NOW()
		WHERE id = $1
	`, amount, txRecord{TxCampaignFund, TxCompleted, amount, "campaign", reference, "campaign_funded"})
}

func (p *PostgresStore) LockEscrow(ctx context.Context, walletID string, amount decimal.Decimal, escrowID string) error {
	return p.moveAndRecord(ctx, walletID, `
		UPDATE wallets SET
			available  = available - $2::NUMERIC(14,2),
			escrow     = escrow    + $2::NUMERIC(14,2),
			updated_at = NOW()
		WHERE id = $1 AND available >= $2::NUMERIC(14,2)
	`, amount, txRecord{TxEscrowLock, TxCompleted, amount.Neg(), "escrow", escrowID, "escrow_locked"})
}

func (p *PostgresStore) ReleaseEscrow(ctx context.Context, brandWalletID string, credits []EscrowCredit, escrowID string) error {
	total, err := BatchTotal(credits)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Debit the brand's escrow bucket; the WHERE clause makes over-release
	// impossible at the row level.
	res, err := tx.ExecContext(ctx, `
		UPDATE wallets SET
			escrow     = escrow - $2::NUMERIC(14,2),
			updated_at = NOW()
		WHERE id = $1 AND escrow >= $2::NUMERIC(14,2)
	`, brandWalletID, total)
	if err != nil {
		return fmt.Errorf("failed to debit brand escrow: %w", err)
	}
	if err := p.checkAffected(ctx, tx, res, brandWalletID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, insertTxQuery,
		idgen.WithPrefix("txn_"), brandWalletID, TxEscrowRelease, TxCompleted,
		total.Neg(), "escrow", escrowID, "escrow_released"); err != nil {
		return fmt.Errorf("failed to record escrow release: %w", err)
	}

	for _, c := range credits {
		res, err := tx.ExecContext(ctx, `
			UPDATE wallets SET
				available         = available         + $2::NUMERIC(14,2),
				lifetime_earnings = lifetime_earnings + $2::NUMERIC(14,2),
				updated_at        = NOW()
			WHERE id = $1
		`, c.CreatorWalletID, c.Amount)
		if err != nil {
			return fmt.Errorf("failed to credit creator %s: %w", c.CreatorWalletID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrWalletNotFound
		}
		if _, err := tx.ExecContext(ctx, insertTxQuery,
			idgen.WithPrefix("txn_"), c.CreatorWalletID, TxEarning, TxCompleted,
			c.Amount, "escrow", escrowID, "campaign_earning"); err != nil {
			return fmt.Errorf("failed to record earning: %w", err)
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) RefundEscrow(ctx context.Context, walletID string, amount decimal.Decimal, escrowID string) error {
	return p.moveAndRecord(ctx, walletID, `
		UPDATE wallets SET
			escrow     = escrow    - $2::NUMERIC(14,2),
			available  = available + $2::NUMERIC(14,2),
			updated_at = NOW()
		WHERE id = $1 AND escrow >= $2::NUMERIC(14,2)
	`, amount, txRecord{TxRefund, TxCompleted, amount, "escrow", escrowID, "escrow_refunded"})
}

func (p *PostgresStore) ChargeFee(ctx context.Context, walletID string, amount decimal.Decimal, reference, description string) error {
	return p.moveAndRecord(ctx, walletID, `
		UPDATE wallets SET
			available  = available - $2::NUMERIC(14,2),
			updated_at = NOW()
		WHERE id = $1 AND available >= $2::NUMERIC(14,2)
	`, amount, txRecord{TxPlatformFee, TxCompleted, amount.Neg(), "fee", reference, description})
}

func (p *PostgresStore) HoldForPayout(ctx context.Context, walletID string, amount decimal.Decimal, payoutID string) error {
	return p.moveAndRecord(ctx, walletID, `
		UPDATE wallets SET
			available  = available - $2::NUMERIC(14,2),
			pending    = pending   + $2::NUMERIC(14,2),
			updated_at = NOW()
		WHERE id = $1 AND available >= $2::NUMERIC(14,2)
	`, amount, txRecord{TxWithdrawal, TxPending, amount.Neg(), "payout", payoutID, "withdrawal_requested"})
}

func (p *PostgresStore) SettlePayout(ctx context.Context, walletID string, amount decimal.Decimal, payoutID string) error {
	return p.settleHold(ctx, walletID, amount, payoutID, `
		UPDATE wallets SET
			pending         = pending         - $2::NUMERIC(14,2),
			total_withdrawn = total_withdrawn + $2::NUMERIC(14,2),
			updated_at      = NOW()
		WHERE id = $1 AND pending >= $2::NUMERIC(14,2)
	`, TxCompleted)
}

func (p *PostgresStore) ReleasePayoutHold(ctx context.Context, walletID string, amount decimal.Decimal, payoutID string) error {
	return p.settleHold(ctx, walletID, amount, payoutID, `
		UPDATE wallets SET
			pending    = pending   - $2::NUMERIC(14,2),
			available  = available + $2::NUMERIC(14,2),
			updated_at = NOW()
		WHERE id = $1 AND pending >= $2::NUMERIC(14,2)
	`, TxCancelled)
}

func (p *PostgresStore) History(ctx context.Context, walletID string, limit int, cursor string) ([]*Transaction, string, error) {
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}

	query := `
		SELECT id, wallet_id, type, status, amount, reference_type, reference_id, description, created_at
		FROM transactions
		WHERE wallet_id = $1`
	args := []any{walletID}
	if cur != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cur.CreatedAt, cur.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit+1)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		t := &Transaction{}
		var refType, refID, description sql.NullString
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Type, &t.Status, &t.Amount,
			&refType, &refID, &description, &t.CreatedAt); err != nil {
			return nil, "", err
		}
		t.ReferenceType = refType.String
		t.ReferenceID = refID.String
		t.Description = description.String
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	page, next, _ := pagination.ComputePage(txs, limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	return page, next, nil
}

func (p *PostgresStore) SumBuckets(ctx context.Context) (*BucketTotals, error) {
	totals := &BucketTotals{}
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(available), 0), COALESCE(SUM(pending), 0), COALESCE(SUM(escrow), 0)
		FROM wallets
	`).Scan(&totals.Available, &totals.Pending, &totals.Escrow)
	if err != nil {
		return nil, err
	}
	return totals, nil
}

// -----------------------------------------------------------------------------
// internals
// -----------------------------------------------------------------------------

type txRecord struct {
	typ         TxType
	status      TxStatus
	amount      decimal.Decimal
	refType     string
	refID       string
	description string
}

const insertTxQuery = `
	INSERT INTO transactions (id, wallet_id, type, status, amount, reference_type, reference_id, description)
	VALUES ($1, $2, $3, $4, $5::NUMERIC(14,2), $6, $7, $8)`

// moveAndRecord runs a guarded balance UPDATE and the paired transaction
// insert in one serializable transaction. The UPDATE's WHERE clause carries
// the sufficiency predicate; zero rows means the wallet is missing or the
// bucket is short.
func (p *PostgresStore) moveAndRecord(ctx context.Context, walletID, updateQuery string, amount decimal.Decimal, rec txRecord) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, updateQuery, walletID, amount)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if err := p.checkAffected(ctx, tx, res, walletID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, insertTxQuery,
		idgen.WithPrefix("txn_"), walletID, rec.typ, rec.status, rec.amount,
		rec.refType, rec.refID, rec.description); err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}

	return tx.Commit()
}

// settleHold moves held funds out of pending and amends the withdrawal
// transaction status in the same atomic unit.
func (p *PostgresStore) settleHold(ctx context.Context, walletID string, amount decimal.Decimal, payoutID, updateQuery string, status TxStatus) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, updateQuery, walletID, amount)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if err := p.checkAffected(ctx, tx, res, walletID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE transactions SET status = $4
		WHERE wallet_id = $1 AND reference_id = $2 AND type = $3 AND status = 'PENDING'
	`, walletID, payoutID, TxWithdrawal, status); err != nil {
		return fmt.Errorf("failed to amend withdrawal transaction: %w", err)
	}

	return tx.Commit()
}

// checkAffected distinguishes "wallet missing" from "bucket short" after a
// guarded UPDATE touched zero rows.
func (p *PostgresStore) checkAffected(ctx context.Context, tx *sql.Tx, res sql.Result, walletID string) error {
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM wallets WHERE id = $1)`, walletID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrWalletNotFound
	}
	return ErrInsufficientFunds
}
