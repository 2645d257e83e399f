// Package consol merges entity trial balances, eliminations and translations
// into consolidated working rows and keeps the save log.
package consol

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/shared"
)

// Statement types accepted for working rows.
const (
	StatementBalanceSheet   = "balance_sheet"
	StatementIncome         = "income_statement"
	StatementCashFlow       = "cash_flow"
	StatementEquityMovement = "changes_in_equity"
)

// Log actions written to consolidation_logs.
const (
	ActionSave           = "save"
	ActionGenerate       = "generate"
	ActionGenerateFailed = "generate_failed"
)

// MaxLogRows caps FetchLogs results.
const MaxLogRows = 50

// ValidateStatementType rejects unknown statement types.
func ValidateStatementType(statementType string) error {
	switch statementType {
	case StatementBalanceSheet, StatementIncome, StatementCashFlow, StatementEquityMovement:
		return nil
	case "":
		return fmt.Errorf("%w: statement type is required", shared.ErrValidation)
	default:
		return fmt.Errorf("%w: unknown statement type %q", shared.ErrValidation, statementType)
	}
}

// WorkingRow is one consolidated line item for a period and statement type.
type WorkingRow struct {
	Period             string                `json:"period"`
	StatementType      string                `json:"statement_type"`
	AccountCode        string                `json:"account_code"`
	AccountName        string                `json:"account_name"`
	ClassName          string                `json:"class_name"`
	SubclassName       string                `json:"subclass_name,omitempty"`
	NoteName           string                `json:"note_name,omitempty"`
	SubnoteName        string                `json:"subnote_name,omitempty"`
	EntityAmounts      map[uuid.UUID]float64 `json:"entity_amounts"`
	EliminationAmount  float64               `json:"elimination_amount"`
	AdjustmentAmount   float64               `json:"adjustment_amount"`
	TranslationAmount  float64               `json:"translation_amount"`
	ConsolidatedAmount float64               `json:"consolidated_amount"`
	CreatedBy          uuid.UUID             `json:"created_by"`
	CalculatedAt       time.Time             `json:"calculated_at"`
}

// EntityTotal sums the entity contributions of the row.
func (r WorkingRow) EntityTotal() float64 {
	var total float64
	for _, v := range r.EntityAmounts {
		total += v
	}
	return total
}

// ExpectedConsolidated derives Σ entity − elimination + adjustment + translation.
func (r WorkingRow) ExpectedConsolidated() float64 {
	return r.EntityTotal() - r.EliminationAmount + r.AdjustmentAmount + r.TranslationAmount
}

// Log is an append-only record of a consolidation action.
type Log struct {
	ID            uuid.UUID `json:"id"`
	CompanyID     uuid.UUID `json:"company_id"`
	Period        string    `json:"period"`
	StatementType string    `json:"statement_type"`
	Action        string    `json:"action"`
	RecordsCount  int       `json:"records_count"`
	Message       string    `json:"message,omitempty"`
	SavedBy       uuid.UUID `json:"saved_by"`
	SavedAt       time.Time `json:"saved_at"`
}

// LogFilter narrows FetchLogs. Empty fields match everything.
type LogFilter struct {
	Period        string
	StatementType string
}

// GenerateResult reports the skeleton produced by the hierarchy generator.
type GenerateResult struct {
	Period        string      `json:"period"`
	StatementType string      `json:"statement_type,omitempty"`
	WorkingIDs    []uuid.UUID `json:"working_ids"`
	Shared        bool        `json:"-"`
}

// SaveResult reports a replace of working rows.
type SaveResult struct {
	Period        string `json:"period"`
	StatementType string `json:"statement_type"`
	RecordsSaved  int    `json:"records_saved"`
	Replaced      int64  `json:"replaced"`
	Batches       int    `json:"batches"`
}

func normalizeRows(rows []WorkingRow, period, statementType string) ([]WorkingRow, error) {
	out := make([]WorkingRow, len(rows))
	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		row.AccountCode = strings.TrimSpace(row.AccountCode)
		if row.AccountCode == "" {
			return nil, fmt.Errorf("%w: row %d account code is required", shared.ErrValidation, i+1)
		}
		if row.Period != "" && row.Period != period {
			return nil, fmt.Errorf("%w: row %d period %s does not match %s", shared.ErrValidation, i+1, row.Period, period)
		}
		if row.StatementType != "" && row.StatementType != statementType {
			return nil, fmt.Errorf("%w: row %d statement type %s does not match %s", shared.ErrValidation, i+1, row.StatementType, statementType)
		}
		if prev, dup := seen[row.AccountCode]; dup {
			return nil, fmt.Errorf("%w: account %s appears in rows %d and %d", shared.ErrValidation, row.AccountCode, prev, i+1)
		}
		seen[row.AccountCode] = i + 1
		row.Period = period
		row.StatementType = statementType
		if row.EntityAmounts == nil {
			row.EntityAmounts = map[uuid.UUID]float64{}
		}
		out[i] = row
	}
	return out, nil
}
