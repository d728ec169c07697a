package fraud

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore backs flags with Postgres. Evidence lives in a JSONB column
// keyed by the union tag.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const flagColumns = `id, type, severity, status, campaign_id, creator_id, evidence, resolved_by, resolution_note, created_at, updated_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, f *Flag) error {
	evidence, err := json.Marshal(f.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO fraud_flags (`+flagColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		f.ID, f.Type, f.Severity, f.Status, f.CampaignID, f.CreatorID,
		evidence, f.ResolvedBy, f.ResolutionNote, f.CreatedAt, f.UpdatedAt, f.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert flag: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Flag, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+flagColumns+` FROM fraud_flags WHERE id = $1`, id)
	f, err := scanFlag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

func (p *PostgresStore) Update(ctx context.Context, f *Flag) error {
	evidence, err := json.Marshal(f.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE fraud_flags
		SET severity = $2, status = $3, evidence = $4, resolved_by = $5,
		    resolution_note = $6, updated_at = $7, resolved_at = $8
		WHERE id = $1`,
		f.ID, f.Severity, f.Status, evidence, f.ResolvedBy,
		f.ResolutionNote, f.UpdatedAt, f.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) FindOpen(ctx context.Context, t FlagType, campaignID string) (*Flag, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+flagColumns+` FROM fraud_flags
		WHERE type = $1 AND campaign_id = $2 AND status IN ('DETECTED', 'INVESTIGATING')
		ORDER BY created_at
		LIMIT 1`, t, campaignID)
	f, err := scanFlag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

func (p *PostgresStore) List(ctx context.Context, status Status, limit int, afterID string) ([]*Flag, error) {
	query := `SELECT ` + flagColumns + ` FROM fraud_flags WHERE id > $1`
	args := []any{afterID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT %d`, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	defer rows.Close()

	var out []*Flag
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlag(row rowScanner) (*Flag, error) {
	var (
		f          Flag
		creatorID  sql.NullString
		evidence   []byte
		resolvedBy sql.NullString
		note       sql.NullString
		resolvedAt sql.NullTime
	)
	err := row.Scan(&f.ID, &f.Type, &f.Severity, &f.Status, &f.CampaignID,
		&creatorID, &evidence, &resolvedBy, &note, &f.CreatedAt, &f.UpdatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	f.CreatorID = creatorID.String
	f.ResolvedBy = resolvedBy.String
	f.ResolutionNote = note.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		f.ResolvedAt = &t
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &f.Evidence); err != nil {
			return nil, fmt.Errorf("unmarshal evidence: %w", err)
		}
	}
	return &f, nil
}
