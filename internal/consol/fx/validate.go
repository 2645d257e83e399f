package fx

import (
	"sort"

	"github.com/odyssey-erp/consolidation/internal/ledger"
)

// Gap describes a record that no active rule can translate.
type Gap struct {
	AccountCode string
	ClassName   string
	Reason      string
}

// Coverage summarises how much of a trial balance the active rules reach.
type Coverage struct {
	Checked int
	Covered int
	Gaps    []Gap
}

const (
	gapNoRule = "no matching rule"
	gapNoRate = "matching rule has no rate"
)

// ValidateCoverage reports records that ApplyTranslations would skip.
func ValidateCoverage(records []ledger.TrialBalanceRecord, rules []Rule, classes map[string]string) Coverage {
	var res Coverage
	for _, rec := range records {
		res.Checked++
		class := classes[rec.AccountCode]
		rule, ok := SelectRule(rules, rec.AccountCode, class)
		if !ok {
			res.Gaps = append(res.Gaps, Gap{AccountCode: rec.AccountCode, ClassName: class, Reason: gapNoRule})
			continue
		}
		if _, ok := rule.Rate(); !ok {
			res.Gaps = append(res.Gaps, Gap{AccountCode: rec.AccountCode, ClassName: class, Reason: gapNoRate})
			continue
		}
		res.Covered++
	}
	sort.Slice(res.Gaps, func(i, j int) bool { return res.Gaps[i].AccountCode < res.Gaps[j].AccountCode })
	return res
}
