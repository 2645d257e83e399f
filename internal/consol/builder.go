package consol

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/ledger"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

// LedgerReader supplies the balances and hierarchy consumed by BuildRows.
type LedgerReader interface {
	ListEntities(ctx context.Context, companyID uuid.UUID) ([]ledger.Entity, error)
	TrialBalance(ctx context.Context, entityID uuid.UUID, period string) ([]ledger.TrialBalanceRecord, error)
	ChartOfAccounts(ctx context.Context, companyID uuid.UUID, entityID *uuid.UUID) ([]ledger.ChartOfAccountEntry, error)
}

// EliminationTotals returns net elimination debit minus credit per GL code.
type EliminationTotals interface {
	PeriodTotals(ctx context.Context, period string) (map[string]float64, error)
}

// BuildInput is the raw material of a working-row set.
type BuildInput struct {
	Period        string
	StatementType string
	Accounts      []ledger.ChartOfAccountEntry
	Balances      []ledger.TrialBalanceRecord
	Eliminations  map[string]float64
	Adjustments   map[string]float64
}

// StatementOf classifies a COA class name into a statement type.
func StatementOf(className string) string {
	class := strings.ToLower(className)
	switch {
	case strings.Contains(class, "asset"), strings.Contains(class, "liabilit"), strings.Contains(class, "equity"):
		return StatementBalanceSheet
	case strings.Contains(class, "revenue"), strings.Contains(class, "income"),
		strings.Contains(class, "expense"), strings.Contains(class, "cost"):
		return StatementIncome
	default:
		return ""
	}
}

// BuildRows assembles one row per account of the statement. Entity amounts are
// local reported balances; translation_amount carries the move to group currency
// and elimination_amount is the credit-positive elimination posting, so that
// consolidated = Σ entity − elimination + adjustment + translation.
func BuildRows(in BuildInput) []WorkingRow {
	index := ledger.AccountIndex(in.Accounts)
	rows := make(map[string]*WorkingRow)
	row := func(code string) *WorkingRow {
		if r, ok := rows[code]; ok {
			return r
		}
		acct := index[code]
		r := &WorkingRow{
			Period:        in.Period,
			StatementType: in.StatementType,
			AccountCode:   code,
			AccountName:   acct.AccountName,
			ClassName:     acct.ClassName,
			SubclassName:  acct.SubclassName,
			NoteName:      acct.NoteName,
			SubnoteName:   acct.SubnoteName,
			EntityAmounts: map[uuid.UUID]float64{},
		}
		rows[code] = r
		return r
	}
	include := func(code string) bool {
		acct, ok := index[code]
		if !ok {
			return false
		}
		return in.StatementType == "" || StatementOf(acct.ClassName) == in.StatementType
	}

	for _, rec := range in.Balances {
		if !include(rec.AccountCode) {
			continue
		}
		r := row(rec.AccountCode)
		r.EntityAmounts[rec.EntityID] += rec.LocalNet()
		r.TranslationAmount += rec.GroupNet() - rec.LocalNet()
	}
	for code, net := range in.Eliminations {
		if include(code) {
			row(code).EliminationAmount -= net
		}
	}
	for code, amt := range in.Adjustments {
		if include(code) {
			row(code).AdjustmentAmount += amt
		}
	}

	out := make([]WorkingRow, 0, len(rows))
	for _, r := range rows {
		r.ConsolidatedAmount = shared.Round2(r.ExpectedConsolidated())
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountCode < out[j].AccountCode })
	return out
}

// Builder gathers ledger and elimination data for BuildRows.
type Builder struct {
	ledger       LedgerReader
	eliminations EliminationTotals
}

// NewBuilder constructs a working-row builder.
func NewBuilder(ledgerReader LedgerReader, eliminations EliminationTotals) *Builder {
	return &Builder{ledger: ledgerReader, eliminations: eliminations}
}

// Build computes working rows for the tenant's entities without saving them.
func (b *Builder) Build(ctx context.Context, period, statementType string) ([]WorkingRow, error) {
	tenant, err := shared.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if err := shared.ValidatePeriod(period); err != nil {
		return nil, err
	}
	if err := ValidateStatementType(statementType); err != nil {
		return nil, err
	}
	entities, err := b.ledger.ListEntities(ctx, tenant.CompanyID)
	if err != nil {
		return nil, err
	}
	if err := ledger.ValidateHierarchy(entities); err != nil {
		return nil, err
	}
	accounts, err := b.ledger.ChartOfAccounts(ctx, tenant.CompanyID, nil)
	if err != nil {
		return nil, err
	}
	in := BuildInput{Period: period, StatementType: statementType, Accounts: accounts}
	for _, e := range entities {
		entityID := e.ID
		scoped, err := b.ledger.ChartOfAccounts(ctx, tenant.CompanyID, &entityID)
		if err != nil {
			return nil, err
		}
		for _, acct := range scoped {
			if acct.EntityID != nil {
				in.Accounts = append(in.Accounts, acct)
			}
		}
		records, err := b.ledger.TrialBalance(ctx, e.ID, period)
		if err != nil {
			return nil, fmt.Errorf("trial balance for entity %s: %w", e.ID, err)
		}
		in.Balances = append(in.Balances, records...)
	}
	if b.eliminations != nil {
		in.Eliminations, err = b.eliminations.PeriodTotals(ctx, period)
		if err != nil {
			return nil, err
		}
	}
	rows := BuildRows(in)
	for i := range rows {
		rows[i].CreatedBy = tenant.UserID
	}
	return rows, nil
}
