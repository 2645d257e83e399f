// Package ledger holds the group's entities, chart of accounts and trial
// balances consumed by the consolidation pipeline.
package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/shared"
)

// Entity is a legal entity in a consolidation group.
type Entity struct {
	ID                 uuid.UUID
	CompanyID          uuid.UUID
	Name               string
	FunctionalCurrency string
	ParentID           *uuid.UUID
}

// ChartOfAccountEntry maps an account code to its statement hierarchy path.
// EntityID nil marks a company-wide account.
type ChartOfAccountEntry struct {
	EntityID     *uuid.UUID
	AccountCode  string
	AccountName  string
	ClassName    string
	SubclassName string
	NoteName     string
	SubnoteName  string
}

// AccountSpec requests creation of a chart-of-account entry.
type AccountSpec struct {
	AccountCode    string `json:"account_code" validate:"required,max=64"`
	AccountName    string `json:"account_name" validate:"required,max=255"`
	ClassName      string `json:"class_name" validate:"required"`
	SubclassName   string `json:"subclass_name"`
	NoteName       string `json:"note_name"`
	SubnoteName    string `json:"subnote_name"`
	EntitySpecific bool   `json:"entity_specific"`
}

// RecordKey uniquely identifies a trial balance row.
type RecordKey struct {
	EntityID    uuid.UUID
	AccountCode string
	Period      string
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.EntityID, k.AccountCode, k.Period)
}

// TrialBalanceRecord is a single account balance of an entity for a period.
type TrialBalanceRecord struct {
	ID               uuid.UUID
	EntityID         uuid.UUID
	AccountCode      string
	AccountName      string
	Period           string
	Debit            float64
	Credit           float64
	TranslatedDebit  *float64
	TranslatedCredit *float64
	TargetCurrency   string
	ExchangeRate     *float64
	FCTRAmount       *float64
	RoundedDebit     *float64
	RoundedCredit    *float64
}

// Key returns the unique key of the record.
func (r TrialBalanceRecord) Key() RecordKey {
	return RecordKey{EntityID: r.EntityID, AccountCode: r.AccountCode, Period: r.Period}
}

// ReportedDebit prefers the rounded value, then the raw debit.
func (r TrialBalanceRecord) ReportedDebit() float64 {
	if r.RoundedDebit != nil {
		return *r.RoundedDebit
	}
	return r.Debit
}

// ReportedCredit prefers the rounded value, then the raw credit.
func (r TrialBalanceRecord) ReportedCredit() float64 {
	if r.RoundedCredit != nil {
		return *r.RoundedCredit
	}
	return r.Credit
}

// GroupNet is the debit-positive balance in group currency. Untranslated
// records are taken at their reported local amounts.
func (r TrialBalanceRecord) GroupNet() float64 {
	if r.TranslatedDebit != nil || r.TranslatedCredit != nil {
		return deref(r.TranslatedDebit) - deref(r.TranslatedCredit)
	}
	return r.ReportedDebit() - r.ReportedCredit()
}

// LocalNet is the debit-positive balance in functional currency.
func (r TrialBalanceRecord) LocalNet() float64 {
	return r.ReportedDebit() - r.ReportedCredit()
}

// TranslationUpdate carries translated amounts written back to a record.
type TranslationUpdate struct {
	RecordID         uuid.UUID
	TranslatedDebit  float64
	TranslatedCredit float64
	TargetCurrency   string
	ExchangeRate     float64
	FCTRAmount       float64
}

// RoundingUpdate carries rounded amounts written back to a record.
type RoundingUpdate struct {
	RecordID      uuid.UUID
	RoundedDebit  float64
	RoundedCredit float64
}

// ClassLookup resolves account codes to class names, preferring entity-specific
// entries over company-wide ones.
func ClassLookup(entries []ChartOfAccountEntry) map[string]string {
	lookup := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.EntityID == nil {
			lookup[entry.AccountCode] = entry.ClassName
		}
	}
	for _, entry := range entries {
		if entry.EntityID != nil {
			lookup[entry.AccountCode] = entry.ClassName
		}
	}
	return lookup
}

// AccountIndex is like ClassLookup but keeps the full hierarchy path.
func AccountIndex(entries []ChartOfAccountEntry) map[string]ChartOfAccountEntry {
	index := make(map[string]ChartOfAccountEntry, len(entries))
	for _, entry := range entries {
		if entry.EntityID == nil {
			index[entry.AccountCode] = entry
		}
	}
	for _, entry := range entries {
		if entry.EntityID != nil {
			index[entry.AccountCode] = entry
		}
	}
	return index
}

// ValidateHierarchy rejects parent chains that loop back on themselves or
// leave the tenant.
func ValidateHierarchy(entities []Entity) error {
	byID := make(map[uuid.UUID]Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}
	for _, e := range entities {
		seen := map[uuid.UUID]struct{}{e.ID: {}}
		cur := e
		for cur.ParentID != nil {
			parent, ok := byID[*cur.ParentID]
			if !ok {
				break
			}
			if parent.CompanyID != e.CompanyID {
				return fmt.Errorf("%w: entity %s parent %s belongs to another company", shared.ErrValidation, e.ID, parent.ID)
			}
			if _, dup := seen[parent.ID]; dup {
				return fmt.Errorf("%w: entity hierarchy cycle at %s", shared.ErrValidation, parent.ID)
			}
			seen[parent.ID] = struct{}{}
			cur = parent
		}
	}
	return nil
}

// NormalizeCode trims account codes supplied by callers.
func NormalizeCode(code string) string {
	return strings.TrimSpace(code)
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
