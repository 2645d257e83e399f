package fx

import (
	"github.com/odyssey-erp/consolidation/internal/ledger"
)

// Translation is the outcome of translating a single trial balance record.
type Translation struct {
	Record           ledger.TrialBalanceRecord
	RuleID           string
	Rate             float64
	ToCurrency       string
	TranslatedDebit  float64
	TranslatedCredit float64
	FCTRDebit        float64
	FCTRCredit       float64
	FCTRAmount       float64
}

// Translate converts debit and credit at rate and derives the translation
// adjustment: fctr = (debit*rate - debit) - (credit*rate - credit).
func Translate(debit, credit, rate float64) (translatedDebit, translatedCredit, fctrDebit, fctrCredit, fctr float64) {
	translatedDebit = debit * rate
	translatedCredit = credit * rate
	fctrDebit = translatedDebit - debit
	fctrCredit = translatedCredit - credit
	fctr = fctrDebit - fctrCredit
	return
}

// Plan selects a rule for every record and computes the translated amounts.
// Records without a matching rule, or whose rule carries no rate, are left out.
func Plan(records []ledger.TrialBalanceRecord, rules []Rule, classes map[string]string) []Translation {
	out := make([]Translation, 0, len(records))
	for _, rec := range records {
		rule, ok := SelectRule(rules, rec.AccountCode, classes[rec.AccountCode])
		if !ok {
			continue
		}
		rate, ok := rule.Rate()
		if !ok {
			continue
		}
		td, tc, fd, fc, fctr := Translate(rec.Debit, rec.Credit, rate)
		out = append(out, Translation{
			Record:           rec,
			RuleID:           rule.ID.String(),
			Rate:             rate,
			ToCurrency:       rule.ToCurrency,
			TranslatedDebit:  td,
			TranslatedCredit: tc,
			FCTRDebit:        fd,
			FCTRCredit:       fc,
			FCTRAmount:       fctr,
		})
	}
	return out
}

// Update maps the translation onto the trial balance write-back.
func (t Translation) Update() ledger.TranslationUpdate {
	return ledger.TranslationUpdate{
		RecordID:         t.Record.ID,
		TranslatedDebit:  t.TranslatedDebit,
		TranslatedCredit: t.TranslatedCredit,
		TargetCurrency:   t.ToCurrency,
		ExchangeRate:     t.Rate,
		FCTRAmount:       t.FCTRAmount,
	}
}

// Adjustment maps the translation onto its audit row.
func (t Translation) Adjustment() Adjustment {
	return Adjustment{
		Key:              t.Record.Key(),
		OriginalDebit:    t.Record.Debit,
		OriginalCredit:   t.Record.Credit,
		TranslatedDebit:  t.TranslatedDebit,
		TranslatedCredit: t.TranslatedCredit,
		FCTRAmount:       t.FCTRAmount,
		Rate:             t.Rate,
		TargetCurrency:   t.ToCurrency,
		RuleID:           t.RuleID,
	}
}

// Adjustment is the audit row kept per translated record, keyed by
// (entity, account, period). A later write for the same key replaces it.
type Adjustment struct {
	Key              ledger.RecordKey
	OriginalDebit    float64
	OriginalCredit   float64
	TranslatedDebit  float64
	TranslatedCredit float64
	FCTRAmount       float64
	Rate             float64
	TargetCurrency   string
	RuleID           string
}
