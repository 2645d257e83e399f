package e2e

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/consol"
	"github.com/odyssey-erp/consolidation/internal/elimination"
	"github.com/odyssey-erp/consolidation/internal/ledger"
	"github.com/odyssey-erp/consolidation/internal/shared"
	_ "github.com/odyssey-erp/consolidation/internal/testing/guard"
)

type memoryLedger struct {
	entities []ledger.Entity
	accounts []ledger.ChartOfAccountEntry
	balances map[uuid.UUID][]ledger.TrialBalanceRecord
}

func (m *memoryLedger) ListEntities(ctx context.Context, companyID uuid.UUID) ([]ledger.Entity, error) {
	var out []ledger.Entity
	for _, e := range m.entities {
		if e.CompanyID == companyID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryLedger) TrialBalance(ctx context.Context, entityID uuid.UUID, period string) ([]ledger.TrialBalanceRecord, error) {
	var out []ledger.TrialBalanceRecord
	for _, rec := range m.balances[entityID] {
		if rec.Period == period {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memoryLedger) ChartOfAccounts(ctx context.Context, companyID uuid.UUID, entityID *uuid.UUID) ([]ledger.ChartOfAccountEntry, error) {
	if entityID != nil {
		return nil, nil
	}
	return m.accounts, nil
}

type memoryEliminations struct {
	mu      sync.Mutex
	entries map[uuid.UUID]elimination.Entry
}

type memoryEliminationTx struct {
	header elimination.Entry
	lines  []elimination.Line
}

func (t *memoryEliminationTx) InsertHeader(ctx context.Context, entry elimination.Entry) error {
	t.header = entry
	return nil
}

func (t *memoryEliminationTx) InsertLines(ctx context.Context, entryID uuid.UUID, lines []elimination.Line) error {
	t.lines = append(t.lines, lines...)
	return nil
}

func (m *memoryEliminations) WithTx(ctx context.Context, fn func(context.Context, elimination.TxStore) error) error {
	tx := &memoryEliminationTx{}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := tx.header
	entry.Lines = tx.lines
	m.entries[entry.ID] = entry
	return nil
}

func (m *memoryEliminations) GetEntry(ctx context.Context, id uuid.UUID) (elimination.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return elimination.Entry{}, fmt.Errorf("%w: elimination entry %s", shared.ErrNotFound, id)
	}
	return entry, nil
}

func (m *memoryEliminations) ListEntries(ctx context.Context, companyID uuid.UUID, period string) ([]elimination.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []elimination.Entry
	for _, e := range m.entries {
		if e.CompanyID == companyID && (period == "" || e.Period == period) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryEliminations) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

type workingKey struct {
	company   uuid.UUID
	period    string
	statement string
}

type memoryWorkings struct {
	mu   sync.Mutex
	rows map[workingKey][]consol.WorkingRow
	logs []consol.Log
}

type memoryWorkingsTx struct {
	staged map[workingKey][]consol.WorkingRow
}

func (t *memoryWorkingsTx) DeleteWorkings(ctx context.Context, companyID uuid.UUID, period, statementType string) (int64, error) {
	key := workingKey{companyID, period, statementType}
	n := len(t.staged[key])
	delete(t.staged, key)
	return int64(n), nil
}

func (t *memoryWorkingsTx) InsertWorkings(ctx context.Context, companyID uuid.UUID, rows []consol.WorkingRow) error {
	for _, r := range rows {
		key := workingKey{companyID, r.Period, r.StatementType}
		t.staged[key] = append(t.staged[key], r)
	}
	return nil
}

func (m *memoryWorkings) WithTx(ctx context.Context, fn func(context.Context, consol.TxStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryWorkingsTx{staged: make(map[workingKey][]consol.WorkingRow, len(m.rows))}
	for k, v := range m.rows {
		tx.staged[k] = append([]consol.WorkingRow(nil), v...)
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.rows = tx.staged
	return nil
}

func (m *memoryWorkings) ListWorkings(ctx context.Context, companyID uuid.UUID, period, statementType string) ([]consol.WorkingRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := append([]consol.WorkingRow(nil), m.rows[workingKey{companyID, period, statementType}]...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].AccountCode < rows[j].AccountCode })
	return rows, nil
}

func (m *memoryWorkings) AppendLog(ctx context.Context, log consol.Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func (m *memoryWorkings) FetchLogs(ctx context.Context, companyID uuid.UUID, filter consol.LogFilter, limit int) ([]consol.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []consol.Log
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		l := m.logs[i]
		if l.CompanyID != companyID {
			continue
		}
		if filter.Period != "" && l.Period != filter.Period {
			continue
		}
		if filter.StatementType != "" && l.StatementType != filter.StatementType {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

type staticGenerator struct {
	ids []uuid.UUID
	err error
}

func (g staticGenerator) Generate(ctx context.Context, companyID uuid.UUID, period, statementType string) ([]uuid.UUID, error) {
	return g.ids, g.err
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *memoryAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}
