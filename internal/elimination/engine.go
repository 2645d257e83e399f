package elimination

import (
	"math"
	"sort"

	"github.com/odyssey-erp/consolidation/internal/shared"
)

// ComputeTotals sums the debit and credit sides of the lines.
func ComputeTotals(lines []LineInput) (debit, credit float64) {
	for _, l := range lines {
		debit += l.Debit
		credit += l.Credit
	}
	return debit, credit
}

// CheckBalance returns a *BalanceError when |debit-credit| exceeds the tolerance.
func CheckBalance(lines []LineInput) error {
	debit, credit := ComputeTotals(lines)
	if shared.WithinTolerance(debit, credit) {
		return nil
	}
	return &BalanceError{
		Debit:      shared.Round2(debit),
		Credit:     shared.Round2(credit),
		Difference: shared.Round2(debit - credit),
	}
}

// NetByAccount aggregates debit-minus-credit per GL code across entries.
func NetByAccount(entries []Entry) map[string]float64 {
	totals := make(map[string]float64)
	for _, entry := range entries {
		for _, line := range entry.Lines {
			totals[line.GLCode] += line.Debit - line.Credit
		}
	}
	for code, v := range totals {
		if math.Abs(v) < 1e-9 {
			totals[code] = 0
		}
	}
	return totals
}

func buildLines(inputs []LineInput) []Line {
	lines := make([]Line, len(inputs))
	for i, in := range inputs {
		lines[i] = Line{
			EntityID:   in.EntityID,
			GLCode:     in.GLCode,
			Debit:      in.Debit,
			Credit:     in.Credit,
			LineNumber: i + 1,
		}
	}
	return lines
}

func sortLines(lines []Line) {
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].LineNumber < lines[j].LineNumber })
}
