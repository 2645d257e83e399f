package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/consolidation/internal/platform/db"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

// Repository provides persistence for entities, chart of accounts and trial balances.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetEntity loads a single entity.
func (r *Repository) GetEntity(ctx context.Context, id uuid.UUID) (Entity, error) {
	var e Entity
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, name, functional_currency, parent_id
FROM entities WHERE id = $1`, id).Scan(&e.ID, &e.CompanyID, &e.Name, &e.FunctionalCurrency, &e.ParentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entity{}, fmt.Errorf("%w: entity %s", shared.ErrNotFound, id)
		}
		return Entity{}, err
	}
	return e, nil
}

// ListEntities returns all entities of a company.
func (r *Repository) ListEntities(ctx context.Context, companyID uuid.UUID) ([]Entity, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, name, functional_currency, parent_id
FROM entities WHERE company_id = $1 ORDER BY name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Name, &e.FunctionalCurrency, &e.ParentID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TrialBalance returns all records for an entity and period.
func (r *Repository) TrialBalance(ctx context.Context, entityID uuid.UUID, period string) ([]TrialBalanceRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, entity_id, account_code, account_name, period, debit, credit,
	translated_debit, translated_credit, COALESCE(target_currency, ''), exchange_rate, fctr_amount,
	rounded_debit, rounded_credit
FROM trial_balances WHERE entity_id = $1 AND period = $2 ORDER BY account_code`, entityID, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TrialBalanceRecord
	for rows.Next() {
		var rec TrialBalanceRecord
		if err := rows.Scan(&rec.ID, &rec.EntityID, &rec.AccountCode, &rec.AccountName, &rec.Period,
			&rec.Debit, &rec.Credit, &rec.TranslatedDebit, &rec.TranslatedCredit, &rec.TargetCurrency,
			&rec.ExchangeRate, &rec.FCTRAmount, &rec.RoundedDebit, &rec.RoundedCredit); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ChartOfAccounts returns company-wide entries plus, when entityID is set, the
// entity-specific ones.
func (r *Repository) ChartOfAccounts(ctx context.Context, companyID uuid.UUID, entityID *uuid.UUID) ([]ChartOfAccountEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT entity_id, account_code, account_name, class_name,
	COALESCE(subclass_name, ''), COALESCE(note_name, ''), COALESCE(subnote_name, '')
FROM chart_of_accounts
WHERE company_id = $1 AND (entity_id IS NULL OR entity_id = $2)
ORDER BY account_code`, companyID, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChartOfAccountEntry
	for rows.Next() {
		var c ChartOfAccountEntry
		if err := rows.Scan(&c.EntityID, &c.AccountCode, &c.AccountName, &c.ClassName, &c.SubclassName, &c.NoteName, &c.SubnoteName); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateAccount inserts a chart-of-account entry.
func (r *Repository) CreateAccount(ctx context.Context, companyID uuid.UUID, entry ChartOfAccountEntry) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO chart_of_accounts
	(company_id, entity_id, account_code, account_name, class_name, subclass_name, note_name, subnote_name)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''))`,
		companyID, entry.EntityID, entry.AccountCode, entry.AccountName, entry.ClassName,
		entry.SubclassName, entry.NoteName, entry.SubnoteName)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: account %s already exists", shared.ErrValidation, entry.AccountCode)
		}
		return err
	}
	return nil
}

// UpdateTranslations writes translated amounts for the given records as one batch.
func (r *Repository) UpdateTranslations(ctx context.Context, updates []TranslationUpdate) error {
	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`UPDATE trial_balances SET translated_debit = $2, translated_credit = $3,
	target_currency = $4, exchange_rate = $5, fctr_amount = $6, updated_at = NOW()
WHERE id = $1`, u.RecordID, u.TranslatedDebit, u.TranslatedCredit, u.TargetCurrency, u.ExchangeRate, u.FCTRAmount)
	}
	return db.SendUpdateBatch(ctx, r.pool, batch)
}

// UpdateRounding writes rounded amounts for the given records as one batch.
func (r *Repository) UpdateRounding(ctx context.Context, updates []RoundingUpdate) error {
	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`UPDATE trial_balances SET rounded_debit = $2, rounded_credit = $3, updated_at = NOW()
WHERE id = $1`, u.RecordID, u.RoundedDebit, u.RoundedCredit)
	}
	return db.SendUpdateBatch(ctx, r.pool, batch)
}

// SetRoundingDifference stores the reported amounts of the rounding
// difference row for key, inserting the row with zero raw amounts when absent.
// The rounded columns are replaced, never accumulated, so a rerun leaves one
// net posting.
func (r *Repository) SetRoundingDifference(ctx context.Context, key RecordKey, accountName string, roundedDebit, roundedCredit float64) (bool, error) {
	var inserted bool
	err := r.pool.QueryRow(ctx, `INSERT INTO trial_balances (entity_id, account_code, account_name, period, debit, credit, rounded_debit, rounded_credit)
VALUES ($1, $2, $3, $4, 0, 0, $5, $6)
ON CONFLICT (entity_id, account_code, period) DO UPDATE SET
	rounded_debit = EXCLUDED.rounded_debit,
	rounded_credit = EXCLUDED.rounded_credit,
	updated_at = NOW()
RETURNING (xmax = 0)`, key.EntityID, key.AccountCode, accountName, key.Period, roundedDebit, roundedCredit).Scan(&inserted)
	if err != nil {
		return false, err
	}
	return inserted, nil
}
