package rounding

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/consolidation/internal/platform/db"
)

// Repository persists rounding adjustments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a rounding repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveAdjustments upserts one row per rounded record keyed by (entity, account, period).
func (r *Repository) SaveAdjustments(ctx context.Context, adjustments []Adjustment) error {
	batch := &pgx.Batch{}
	for _, a := range adjustments {
		batch.Queue(`INSERT INTO rounding_adjustments
	(entity_id, account_code, period, original_debit, original_credit, rounded_debit, rounded_credit,
	 delta, method, precision, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
ON CONFLICT (entity_id, account_code, period) DO UPDATE SET
	original_debit = EXCLUDED.original_debit,
	original_credit = EXCLUDED.original_credit,
	rounded_debit = EXCLUDED.rounded_debit,
	rounded_credit = EXCLUDED.rounded_credit,
	delta = EXCLUDED.delta,
	method = EXCLUDED.method,
	precision = EXCLUDED.precision,
	updated_at = NOW()`,
			a.EntityID, a.AccountCode, a.Period, a.OriginalDebit, a.OriginalCredit,
			a.RoundedDebit, a.RoundedCredit, a.Delta, string(a.Method), a.Precision)
	}
	return db.SendBatch(ctx, r.pool, batch)
}

// ListAdjustments returns the stored adjustments of an entity for a period.
func (r *Repository) ListAdjustments(ctx context.Context, entityID uuid.UUID, period string) ([]Adjustment, error) {
	rows, err := r.pool.Query(ctx, `SELECT entity_id, account_code, period, original_debit, original_credit,
	rounded_debit, rounded_credit, delta, method, precision
FROM rounding_adjustments
WHERE entity_id = $1 AND period = $2
ORDER BY account_code`, entityID, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Adjustment
	for rows.Next() {
		var (
			a      Adjustment
			method string
		)
		if err := rows.Scan(&a.EntityID, &a.AccountCode, &a.Period, &a.OriginalDebit, &a.OriginalCredit,
			&a.RoundedDebit, &a.RoundedCredit, &a.Delta, &method, &a.Precision); err != nil {
			return nil, err
		}
		a.Method = Method(method)
		out = append(out, a)
	}
	return out, rows.Err()
}
