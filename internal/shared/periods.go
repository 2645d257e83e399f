package shared

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// PeriodLayout is the canonical YYYY-MM period code.
const PeriodLayout = "2006-01"

// BalanceTolerance is the largest debit/credit divergence treated as balanced.
const BalanceTolerance = 0.01

// ValidatePeriod checks the period code is present and well formed.
func ValidatePeriod(period string) error {
	period = strings.TrimSpace(period)
	if period == "" {
		return fmt.Errorf("%w: period is required", ErrValidation)
	}
	if _, err := time.Parse(PeriodLayout, period); err != nil {
		return fmt.Errorf("%w: period %q must use YYYY-MM", ErrValidation, period)
	}
	return nil
}

// PeriodOf formats a date into its period code.
func PeriodOf(t time.Time) string {
	return t.Format(PeriodLayout)
}

// Round2 rounds to cents.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// WithinTolerance reports whether |a-b| is inside BalanceTolerance.
func WithinTolerance(a, b float64) bool {
	// nudge for binary representation of cent values, e.g. 100.01-100
	return math.Abs(a-b) <= BalanceTolerance+1e-9
}
