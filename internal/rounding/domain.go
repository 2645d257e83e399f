// Package rounding rounds entity trial balances to a reporting precision and
// posts the net rounding bias to a designated account.
package rounding

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/consolidation/internal/ledger"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

// Method selects the rounding function.
type Method string

const (
	// MethodNearest rounds half up.
	MethodNearest Method = "nearest"
	// MethodUp rounds towards positive infinity.
	MethodUp Method = "up"
	// MethodDown rounds towards negative infinity.
	MethodDown Method = "down"
)

// MaxPrecision bounds the number of decimal places.
const MaxPrecision = 6

// ParseMethod normalises a caller supplied method name.
func ParseMethod(raw string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(raw))); m {
	case MethodNearest, MethodUp, MethodDown:
		return m, nil
	case "":
		return MethodNearest, nil
	default:
		return "", fmt.Errorf("%w: unknown rounding method %q", shared.ErrValidation, raw)
	}
}

// scaleEpsilon is the resolution the scaled value is snapped to before the
// rounding function runs. 1.1*10 is 11.000000000000002 in binary and must
// still ceil to 11.
const scaleEpsilon = 1e6

// Round applies method to value at the given number of decimal places.
func Round(value float64, method Method, precision int) float64 {
	factor := math.Pow(10, float64(precision))
	scaled := math.Round(value*factor*scaleEpsilon) / scaleEpsilon
	switch method {
	case MethodUp:
		scaled = math.Ceil(scaled)
	case MethodDown:
		scaled = math.Floor(scaled)
	default:
		scaled = math.Floor(scaled + 0.5)
	}
	return scaled / factor
}

// Request describes a rounding run.
type Request struct {
	EntityID          uuid.UUID           `json:"entity_id" validate:"required"`
	Period            string              `json:"period" validate:"required"`
	Method            Method              `json:"method" validate:"omitempty,oneof=nearest up down"`
	Precision         int                 `json:"precision" validate:"gte=0,lte=6"`
	DifferenceAccount string              `json:"difference_account" validate:"required,max=64"`
	NewAccount        *ledger.AccountSpec `json:"new_account"`
}

// Adjustment records the original and rounded amounts of one touched record.
// The source record keeps its raw amounts.
type Adjustment struct {
	RecordID       uuid.UUID
	EntityID       uuid.UUID
	AccountCode    string
	Period         string
	OriginalDebit  float64
	OriginalCredit float64
	RoundedDebit   float64
	RoundedCredit  float64
	Delta          float64
	Method         Method
	Precision      int
}

// Update converts the adjustment into the ledger write.
func (a Adjustment) Update() ledger.RoundingUpdate {
	return ledger.RoundingUpdate{
		RecordID:      a.RecordID,
		RoundedDebit:  a.RoundedDebit,
		RoundedCredit: a.RoundedCredit,
	}
}

// Key identifies the rounded record.
func (a Adjustment) Key() ledger.RecordKey {
	return ledger.RecordKey{EntityID: a.EntityID, AccountCode: a.AccountCode, Period: a.Period}
}

// Plan rounds every record and returns the touched records plus the total
// difference Σ(debit−rounded debit) − Σ(credit−rounded credit).
func Plan(records []ledger.TrialBalanceRecord, method Method, precision int) ([]Adjustment, float64) {
	var (
		adjustments []Adjustment
		total       float64
	)
	for _, rec := range records {
		rd := Round(rec.Debit, method, precision)
		rc := Round(rec.Credit, method, precision)
		delta := (rec.Debit - rd) - (rec.Credit - rc)
		total += delta
		if rd == rec.Debit && rc == rec.Credit {
			continue
		}
		adjustments = append(adjustments, Adjustment{
			RecordID:       rec.ID,
			EntityID:       rec.EntityID,
			AccountCode:    rec.AccountCode,
			Period:         rec.Period,
			OriginalDebit:  rec.Debit,
			OriginalCredit: rec.Credit,
			RoundedDebit:   rd,
			RoundedCredit:  rc,
			Delta:          delta,
			Method:         method,
			Precision:      precision,
		})
	}
	return adjustments, total
}

// Split breaks a signed difference into debit and credit buckets.
func Split(diff float64) (debit, credit float64) {
	if diff >= 0 {
		return diff, 0
	}
	return 0, -diff
}
