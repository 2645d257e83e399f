package elimination

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/consolidation/internal/platform/db"
)

// Repository persists elimination entries and lines.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository instance.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn inside a serializable transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("elimination: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

var _ TxStore = (*txRepository)(nil)

func (t *txRepository) InsertHeader(ctx context.Context, entry Entry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO elimination_entries
	(id, company_id, name, description, entry_date, period, total_debit, total_credit, is_posted, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.CompanyID, entry.Name, entry.Description, entry.Date, entry.Period,
		entry.TotalDebit, entry.TotalCredit, entry.Posted, entry.CreatedBy, entry.CreatedAt)
	return err
}

func (t *txRepository) InsertLines(ctx context.Context, entryID uuid.UUID, lines []Line) error {
	rows := make([][]any, len(lines))
	for i, l := range lines {
		rows[i] = []any{entryID, l.EntityID, l.GLCode, l.Debit, l.Credit, l.LineNumber}
	}
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"elimination_lines"},
		[]string{"entry_id", "entity_id", "gl_code", "debit", "credit", "line_number"},
		pgx.CopyFromRows(rows))
	return err
}

// GetEntry loads an entry with its ordered lines.
func (r *Repository) GetEntry(ctx context.Context, id uuid.UUID) (Entry, error) {
	var e Entry
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, name, COALESCE(description, ''), entry_date, period,
	total_debit, total_credit, is_posted, created_by, created_at
FROM elimination_entries WHERE id = $1`, id).Scan(&e.ID, &e.CompanyID, &e.Name, &e.Description, &e.Date,
		&e.Period, &e.TotalDebit, &e.TotalCredit, &e.Posted, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	byID, err := r.linesFor(ctx, []uuid.UUID{id})
	if err != nil {
		return Entry{}, err
	}
	e.Lines = byID[id]
	return e, nil
}

// ListEntries returns a company's entries, newest first. An empty period lists all.
func (r *Repository) ListEntries(ctx context.Context, companyID uuid.UUID, period string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, name, COALESCE(description, ''), entry_date, period,
	total_debit, total_credit, is_posted, created_by, created_at
FROM elimination_entries
WHERE company_id = $1 AND ($2 = '' OR period = $2)
ORDER BY entry_date DESC, created_at DESC`, companyID, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	var ids []uuid.UUID
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Name, &e.Description, &e.Date, &e.Period,
			&e.TotalDebit, &e.TotalCredit, &e.Posted, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return entries, nil
	}
	byID, err := r.linesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Lines = byID[entries[i].ID]
	}
	return entries, nil
}

// DeleteEntry removes the header; lines are removed by ON DELETE CASCADE.
func (r *Repository) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM elimination_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *Repository) linesFor(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT entry_id, entity_id, gl_code, debit, credit, line_number
FROM elimination_lines WHERE entry_id = ANY($1) ORDER BY entry_id, line_number`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID][]Line, len(ids))
	for rows.Next() {
		var entryID uuid.UUID
		var l Line
		if err := rows.Scan(&entryID, &l.EntityID, &l.GLCode, &l.Debit, &l.Credit, &l.LineNumber); err != nil {
			return nil, err
		}
		out[entryID] = append(out[entryID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for id := range out {
		sortLines(out[id])
	}
	return out, nil
}
