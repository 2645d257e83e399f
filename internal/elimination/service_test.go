package elimination

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/consolidation/internal/ledger"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

type memoryStore struct {
	entries   map[uuid.UUID]Entry
	failLines bool
}

type memoryTx struct {
	store   *memoryStore
	pending map[uuid.UUID]Entry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[uuid.UUID]Entry)}
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	tx := &memoryTx{store: m, pending: make(map[uuid.UUID]Entry)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, e := range tx.pending {
		m.entries[id] = e
	}
	return nil
}

func (m *memoryStore) GetEntry(ctx context.Context, id uuid.UUID) (Entry, error) {
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

func (m *memoryStore) ListEntries(ctx context.Context, companyID uuid.UUID, period string) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if e.CompanyID != companyID {
			continue
		}
		if period != "" && e.Period != period {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memoryStore) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.entries[id]; !ok {
		return ErrEntryNotFound
	}
	delete(m.entries, id)
	return nil
}

func (t *memoryTx) InsertHeader(ctx context.Context, entry Entry) error {
	entry.Lines = nil
	t.pending[entry.ID] = entry
	return nil
}

func (t *memoryTx) InsertLines(ctx context.Context, entryID uuid.UUID, lines []Line) error {
	if t.store.failLines {
		return errors.New("copy failed")
	}
	e := t.pending[entryID]
	e.Lines = append([]Line(nil), lines...)
	t.pending[entryID] = e
	return nil
}

type staticEntities []ledger.Entity

func (s staticEntities) ListEntities(ctx context.Context, companyID uuid.UUID) ([]ledger.Entity, error) {
	var out []ledger.Entity
	for _, e := range s {
		if e.CompanyID == companyID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (m *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

type memoryIdem struct {
	keys map[string]struct{}
}

func (m *memoryIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = struct{}{}
	return nil
}

func (m *memoryIdem) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type fixture struct {
	svc      *Service
	store    *memoryStore
	audit    *memoryAudit
	tenant   shared.Tenant
	parent   ledger.Entity
	sub      ledger.Entity
	stranger ledger.Entity
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	company := uuid.New()
	parent := ledger.Entity{ID: uuid.New(), CompanyID: company, Name: "Parent"}
	sub := ledger.Entity{ID: uuid.New(), CompanyID: company, Name: "Sub"}
	stranger := ledger.Entity{ID: uuid.New(), CompanyID: uuid.New(), Name: "Other"}
	store := newMemoryStore()
	audit := &memoryAudit{}
	svc := NewService(store, staticEntities{parent, sub, stranger}, audit, nil)
	svc.WithClock(func() time.Time { return time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC) })
	return fixture{
		svc:      svc,
		store:    store,
		audit:    audit,
		tenant:   shared.Tenant{UserID: uuid.New(), CompanyID: company},
		parent:   parent,
		sub:      sub,
		stranger: stranger,
	}
}

func (f fixture) ctx() context.Context {
	return shared.ContextWithTenant(context.Background(), f.tenant)
}

func (f fixture) input(debit, credit float64) CreateEntryInput {
	return CreateEntryInput{
		Name: "Intercompany loan",
		Date: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		Lines: []LineInput{
			{EntityID: f.parent.ID, GLCode: "2100", Debit: debit},
			{EntityID: f.sub.ID, GLCode: "1200", Credit: credit},
		},
	}
}

func TestCreateEntryPersistsBalancedEntry(t *testing.T) {
	f := newFixture(t)

	entry, err := f.svc.CreateEntry(f.ctx(), f.input(100, 100))
	require.NoError(t, err)
	require.Equal(t, "2025-01", entry.Period)
	require.True(t, entry.Posted)
	require.Equal(t, StatusPosted, entry.Status())
	require.Equal(t, f.tenant.UserID, entry.CreatedBy)

	stored, err := f.svc.GetEntry(f.ctx(), entry.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 2)
	require.Equal(t, 1, stored.Lines[0].LineNumber)
	require.Equal(t, 2, stored.Lines[1].LineNumber)
	require.Len(t, f.audit.logs, 1)
	require.Equal(t, "elimination_create", f.audit.logs[0].Action)
}

func TestCreateEntryRejectsImbalanceWithoutWriting(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateEntry(f.ctx(), f.input(100, 90))
	require.ErrorIs(t, err, shared.ErrBalance)
	var balErr *BalanceError
	require.True(t, errors.As(err, &balErr))
	require.Equal(t, 10.0, balErr.Difference)
	require.Empty(t, f.store.entries)
	require.Empty(t, f.audit.logs)
}

func TestCreateEntryRequiresTwoLines(t *testing.T) {
	f := newFixture(t)
	input := f.input(100, 100)
	input.Lines = input.Lines[:1]

	_, err := f.svc.CreateEntry(f.ctx(), input)
	require.ErrorIs(t, err, ErrTooFewLines)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateEntryValidatesLineFields(t *testing.T) {
	f := newFixture(t)
	input := f.input(100, 100)
	input.Lines[1].GLCode = ""

	_, err := f.svc.CreateEntry(f.ctx(), input)
	require.ErrorIs(t, err, shared.ErrValidation)

	input = f.input(100, 100)
	input.Lines[0].Debit = -5
	_, err = f.svc.CreateEntry(f.ctx(), input)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateEntryRejectsForeignEntity(t *testing.T) {
	f := newFixture(t)
	input := f.input(100, 100)
	input.Lines[1].EntityID = f.stranger.ID

	_, err := f.svc.CreateEntry(f.ctx(), input)
	require.ErrorIs(t, err, shared.ErrAuthorization)
	require.Empty(t, f.store.entries)
}

func TestCreateEntryRequiresTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateEntry(context.Background(), f.input(100, 100))
	require.ErrorIs(t, err, shared.ErrAuthorization)
}

func TestCreateEntryLeavesNothingOnLineFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failLines = true

	_, err := f.svc.CreateEntry(f.ctx(), f.input(100, 100))
	require.ErrorIs(t, err, shared.ErrPersistence)
	require.Empty(t, f.store.entries)
}

func TestCreateEntryIdempotency(t *testing.T) {
	f := newFixture(t)
	idem := &memoryIdem{keys: make(map[string]struct{})}
	f.svc.WithIdempotency(idem)

	input := f.input(100, 100)
	input.IdempotencyKey = "req-1"
	_, err := f.svc.CreateEntry(f.ctx(), input)
	require.NoError(t, err)

	_, err = f.svc.CreateEntry(f.ctx(), input)
	require.ErrorIs(t, err, ErrDuplicateRequest)
	require.Len(t, f.store.entries, 1)
}

func TestCreateEntryReleasesKeyOnFailure(t *testing.T) {
	f := newFixture(t)
	idem := &memoryIdem{keys: make(map[string]struct{})}
	f.svc.WithIdempotency(idem)
	f.store.failLines = true

	input := f.input(100, 100)
	input.IdempotencyKey = "req-2"
	_, err := f.svc.CreateEntry(f.ctx(), input)
	require.Error(t, err)
	require.Empty(t, idem.keys)
}

func TestDeleteEntryChecksOwnership(t *testing.T) {
	f := newFixture(t)
	entry, err := f.svc.CreateEntry(f.ctx(), f.input(50, 50))
	require.NoError(t, err)

	other := shared.ContextWithTenant(context.Background(), shared.Tenant{UserID: uuid.New(), CompanyID: uuid.New()})
	require.ErrorIs(t, f.svc.DeleteEntry(other, entry.ID), shared.ErrAuthorization)
	require.Len(t, f.store.entries, 1)

	require.NoError(t, f.svc.DeleteEntry(f.ctx(), entry.ID))
	require.Empty(t, f.store.entries)
	require.ErrorIs(t, f.svc.DeleteEntry(f.ctx(), entry.ID), shared.ErrNotFound)
	require.Equal(t, "elimination_delete", f.audit.logs[len(f.audit.logs)-1].Action)
}

func TestPeriodTotals(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateEntry(f.ctx(), f.input(100, 100))
	require.NoError(t, err)
	_, err = f.svc.CreateEntry(f.ctx(), f.input(25, 25))
	require.NoError(t, err)

	totals, err := f.svc.PeriodTotals(f.ctx(), "2025-01")
	require.NoError(t, err)
	require.InDelta(t, 125, totals["2100"], 1e-9)
	require.InDelta(t, -125, totals["1200"], 1e-9)

	_, err = f.svc.PeriodTotals(f.ctx(), "2025-13")
	require.ErrorIs(t, err, shared.ErrValidation)
}
