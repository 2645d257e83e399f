package fx

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists translation rules and adjustments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a translation repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ActiveRules returns the entity's active rules ordered by ascending priority.
func (r *Repository) ActiveRules(ctx context.Context, entityID uuid.UUID) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, entity_id, applies_to, COALESCE(gl_account_code, ''), COALESCE(class_name, ''),
	rate_value, COALESCE(rate_type, ''), COALESCE(to_currency, ''), priority, is_active
FROM translation_rules
WHERE entity_id = $1 AND is_active
ORDER BY priority ASC, created_at ASC`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []Rule
	for rows.Next() {
		var (
			rule                     Rule
			appliesTo, glCode, class string
			rateType                 string
		)
		if err := rows.Scan(&rule.ID, &rule.EntityID, &appliesTo, &glCode, &class,
			&rule.RateValue, &rateType, &rule.ToCurrency, &rule.Priority, &rule.Active); err != nil {
			return nil, err
		}
		target, err := ParseTarget(appliesTo, glCode, class)
		if err != nil {
			return nil, fmt.Errorf("translation rule %s: %w", rule.ID, err)
		}
		rule.Target = target
		rule.RateType = Method(rateType)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// UpsertAdjustment stores the audit row for a translated record, replacing any
// prior row with the same key.
func (r *Repository) UpsertAdjustment(ctx context.Context, adj Adjustment) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO translation_adjustments
	(entity_id, account_code, period, original_debit, original_credit, translated_debit, translated_credit,
	 fctr_amount, exchange_rate, target_currency, rule_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, '')::uuid, NOW())
ON CONFLICT (entity_id, account_code, period) DO UPDATE SET
	original_debit = EXCLUDED.original_debit,
	original_credit = EXCLUDED.original_credit,
	translated_debit = EXCLUDED.translated_debit,
	translated_credit = EXCLUDED.translated_credit,
	fctr_amount = EXCLUDED.fctr_amount,
	exchange_rate = EXCLUDED.exchange_rate,
	target_currency = EXCLUDED.target_currency,
	rule_id = EXCLUDED.rule_id,
	updated_at = NOW()`,
		adj.Key.EntityID, adj.Key.AccountCode, adj.Key.Period, adj.OriginalDebit, adj.OriginalCredit,
		adj.TranslatedDebit, adj.TranslatedCredit, adj.FCTRAmount, adj.Rate, adj.TargetCurrency, adj.RuleID)
	return err
}
