package ledger

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/consolidation/internal/shared"
)

func TestClassLookupPrefersEntitySpecific(t *testing.T) {
	entity := uuid.New()
	entries := []ChartOfAccountEntry{
		{EntityID: &entity, AccountCode: "1000", ClassName: "Current Assets"},
		{AccountCode: "1000", ClassName: "Assets"},
		{AccountCode: "2000", ClassName: "Liabilities"},
	}
	lookup := ClassLookup(entries)
	require.Equal(t, "Current Assets", lookup["1000"])
	require.Equal(t, "Liabilities", lookup["2000"])

	index := AccountIndex(entries)
	require.Equal(t, "Current Assets", index["1000"].ClassName)
}

func TestValidateHierarchyDetectsCycle(t *testing.T) {
	company := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	entities := []Entity{
		{ID: a, CompanyID: company, ParentID: &c},
		{ID: b, CompanyID: company, ParentID: &a},
		{ID: c, CompanyID: company, ParentID: &b},
	}
	err := ValidateHierarchy(entities)
	require.True(t, errors.Is(err, shared.ErrValidation))
}

func TestValidateHierarchyAcceptsTree(t *testing.T) {
	company := uuid.New()
	root, child, grandchild := uuid.New(), uuid.New(), uuid.New()
	entities := []Entity{
		{ID: root, CompanyID: company},
		{ID: child, CompanyID: company, ParentID: &root},
		{ID: grandchild, CompanyID: company, ParentID: &child},
	}
	require.NoError(t, ValidateHierarchy(entities))
}

func TestValidateHierarchyRejectsForeignParent(t *testing.T) {
	parent := uuid.New()
	entities := []Entity{
		{ID: parent, CompanyID: uuid.New()},
		{ID: uuid.New(), CompanyID: uuid.New(), ParentID: &parent},
	}
	require.Error(t, ValidateHierarchy(entities))
}

func TestGroupNetPrefersTranslatedAmounts(t *testing.T) {
	td, tc := 1500.0, 0.0
	rec := TrialBalanceRecord{Debit: 1000, TranslatedDebit: &td, TranslatedCredit: &tc}
	require.InDelta(t, 1500, rec.GroupNet(), 1e-9)
	require.InDelta(t, 1000, rec.LocalNet(), 1e-9)

	rd := 10.0
	rounded := TrialBalanceRecord{Debit: 10.7, RoundedDebit: &rd}
	require.InDelta(t, 10, rounded.GroupNet(), 1e-9)
}
