package consol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/consolidation/internal/platform/db"
)

// Repository persists working rows and consolidation logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a consolidation repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var workingColumns = []string{
	"company_id", "period", "statement_type", "account_code", "account_name", "class_name",
	"subclass_name", "note_name", "subnote_name", "entity_amounts", "elimination_amount",
	"adjustment_amount", "translation_amount", "consolidated_amount", "created_by", "calculated_at",
}

// WithTx executes fn inside a serializable transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

var _ TxStore = (*txRepository)(nil)

func (t *txRepository) DeleteWorkings(ctx context.Context, companyID uuid.UUID, period, statementType string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM consolidation_workings
WHERE company_id = $1 AND period = $2 AND statement_type = $3`, companyID, period, statementType)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepository) InsertWorkings(ctx context.Context, companyID uuid.UUID, rows []WorkingRow) error {
	data := make([][]any, len(rows))
	for i, row := range rows {
		amounts, err := encodeAmounts(row.EntityAmounts)
		if err != nil {
			return err
		}
		data[i] = []any{
			companyID, row.Period, row.StatementType, row.AccountCode, row.AccountName, row.ClassName,
			row.SubclassName, row.NoteName, row.SubnoteName, amounts, row.EliminationAmount,
			row.AdjustmentAmount, row.TranslationAmount, row.ConsolidatedAmount, row.CreatedBy, row.CalculatedAt,
		}
	}
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{"consolidation_workings"}, workingColumns, pgx.CopyFromRows(data))
	if err != nil {
		return err
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copied %d of %d working rows", n, len(rows))
	}
	return nil
}

// ListWorkings returns saved rows ordered by account code.
func (r *Repository) ListWorkings(ctx context.Context, companyID uuid.UUID, period, statementType string) ([]WorkingRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT period, statement_type, account_code, account_name, class_name,
	subclass_name, note_name, subnote_name, entity_amounts, elimination_amount, adjustment_amount,
	translation_amount, consolidated_amount, created_by, calculated_at
FROM consolidation_workings
WHERE company_id = $1 AND period = $2 AND statement_type = $3
ORDER BY account_code`, companyID, period, statementType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WorkingRow
	for rows.Next() {
		var (
			w       WorkingRow
			amounts []byte
		)
		if err := rows.Scan(&w.Period, &w.StatementType, &w.AccountCode, &w.AccountName, &w.ClassName,
			&w.SubclassName, &w.NoteName, &w.SubnoteName, &amounts, &w.EliminationAmount, &w.AdjustmentAmount,
			&w.TranslationAmount, &w.ConsolidatedAmount, &w.CreatedBy, &w.CalculatedAt); err != nil {
			return nil, err
		}
		if w.EntityAmounts, err = decodeAmounts(amounts); err != nil {
			return nil, fmt.Errorf("working %s: %w", w.AccountCode, err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// AppendLog inserts a consolidation log row.
func (r *Repository) AppendLog(ctx context.Context, log Log) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO consolidation_logs
	(id, company_id, period, statement_type, action, records_count, message, saved_by, saved_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`,
		log.ID, log.CompanyID, log.Period, log.StatementType, log.Action, log.RecordsCount, log.Message, log.SavedBy, log.SavedAt)
	return err
}

// FetchLogs returns up to limit log rows, newest first.
func (r *Repository) FetchLogs(ctx context.Context, companyID uuid.UUID, filter LogFilter, limit int) ([]Log, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, period, statement_type, action, records_count,
	COALESCE(message, ''), saved_by, saved_at
FROM consolidation_logs
WHERE company_id = $1 AND ($2 = '' OR period = $2) AND ($3 = '' OR statement_type = $3)
ORDER BY saved_at DESC
LIMIT $4`, companyID, filter.Period, filter.StatementType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.ID, &l.CompanyID, &l.Period, &l.StatementType, &l.Action, &l.RecordsCount,
			&l.Message, &l.SavedBy, &l.SavedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// PGHierarchyGenerator delegates skeleton generation to the
// generate_consolidation_workings database function.
type PGHierarchyGenerator struct {
	pool *pgxpool.Pool
}

// NewPGHierarchyGenerator constructs the generator.
func NewPGHierarchyGenerator(pool *pgxpool.Pool) *PGHierarchyGenerator {
	return &PGHierarchyGenerator{pool: pool}
}

// Generate returns the ids of the initialised working rows.
func (g *PGHierarchyGenerator) Generate(ctx context.Context, companyID uuid.UUID, period, statementType string) ([]uuid.UUID, error) {
	rows, err := g.pool.Query(ctx, `SELECT generate_consolidation_workings($1, $2, NULLIF($3, ''))`, companyID, period, statementType)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func encodeAmounts(amounts map[uuid.UUID]float64) ([]byte, error) {
	out := make(map[string]float64, len(amounts))
	for id, v := range amounts {
		out[id.String()] = v
	}
	return json.Marshal(out)
}

func decodeAmounts(raw []byte) (map[uuid.UUID]float64, error) {
	out := map[uuid.UUID]float64{}
	if len(raw) == 0 {
		return out, nil
	}
	var parsed map[string]float64
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	for k, v := range parsed {
		id, err := uuid.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("entity amount key %q: %w", k, err)
		}
		out[id] = v
	}
	return out, nil
}
