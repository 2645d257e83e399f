package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/consolidation/internal/shared"
)

// TxBeginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// WithTx executes a function within a transaction using the Serializable isolation level.
func WithTx(ctx context.Context, pool TxBeginner, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// BatchSender is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// SendBatch flushes a batch and surfaces the first failing statement.
func SendBatch(ctx context.Context, conn BatchSender, batch *pgx.Batch) error {
	return sendBatch(ctx, conn, batch, false)
}

// SendUpdateBatch is SendBatch for keyed UPDATE statements: a statement that
// matches no row fails the batch with shared.ErrNotFound.
func SendUpdateBatch(ctx context.Context, conn BatchSender, batch *pgx.Batch) error {
	return sendBatch(ctx, conn, batch, true)
}

func sendBatch(ctx context.Context, conn BatchSender, batch *pgx.Batch, requireRow bool) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	results := conn.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return fmt.Errorf("platform/db: batch statement %d: %w", i, err)
		}
		if requireRow && tag.RowsAffected() == 0 {
			_ = results.Close()
			return fmt.Errorf("platform/db: batch statement %d: %w: no row updated", i, shared.ErrNotFound)
		}
	}
	return results.Close()
}
