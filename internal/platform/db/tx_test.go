package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/consolidation/internal/shared"
)

type fakeResults struct {
	tags   []string
	err    error
	next   int
	closed bool
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil && r.next == len(r.tags) {
		return pgconn.CommandTag{}, r.err
	}
	tag := pgconn.NewCommandTag(r.tags[r.next])
	r.next++
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }

func (r *fakeResults) QueryRow() pgx.Row { return nil }

func (r *fakeResults) Close() error {
	r.closed = true
	return nil
}

type fakeConn struct {
	results *fakeResults
	sent    int
}

func (c *fakeConn) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	c.sent++
	return c.results
}

func queued(n int) *pgx.Batch {
	batch := &pgx.Batch{}
	for i := 0; i < n; i++ {
		batch.Queue("UPDATE trial_balances SET rounded_debit = $2 WHERE id = $1", i, 1.0)
	}
	return batch
}

func TestSendUpdateBatchRejectsMissingRow(t *testing.T) {
	conn := &fakeConn{results: &fakeResults{tags: []string{"UPDATE 1", "UPDATE 0", "UPDATE 1"}}}

	err := SendUpdateBatch(context.Background(), conn, queued(3))
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Contains(t, err.Error(), "batch statement 1")
	require.True(t, conn.results.closed)
	require.Equal(t, 2, conn.results.next)
}

func TestSendUpdateBatchAcceptsUpdatedRows(t *testing.T) {
	conn := &fakeConn{results: &fakeResults{tags: []string{"UPDATE 1", "UPDATE 1"}}}

	require.NoError(t, SendUpdateBatch(context.Background(), conn, queued(2)))
	require.True(t, conn.results.closed)
}

func TestSendBatchIgnoresRowCount(t *testing.T) {
	conn := &fakeConn{results: &fakeResults{tags: []string{"INSERT 0 0", "UPDATE 0"}}}

	require.NoError(t, SendBatch(context.Background(), conn, queued(2)))
}

func TestSendBatchSurfacesStatementError(t *testing.T) {
	conn := &fakeConn{results: &fakeResults{tags: []string{"UPDATE 1"}, err: errors.New("deadlock detected")}}

	err := SendBatch(context.Background(), conn, queued(2))
	require.ErrorContains(t, err, "batch statement 1: deadlock detected")
	require.True(t, conn.results.closed)
}

func TestSendBatchSkipsEmptyBatch(t *testing.T) {
	conn := &fakeConn{results: &fakeResults{}}

	require.NoError(t, SendUpdateBatch(context.Background(), conn, &pgx.Batch{}))
	require.Zero(t, conn.sent)
}
