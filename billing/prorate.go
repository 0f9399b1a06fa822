/*
prorate.go - Cost allocation and rounding

PURPOSE:
  Splits a cycle's total cost across residents in proportion to their
  occupied days, then rounds each share UP to the nearest ten currency
  units. Residents are never undercharged by fractional rounding.

ROUNDING CONVENTION:
  amountDue = ceil(raw / 10) * 10

  The rounded shares are deliberately NOT reconciled against the total:
  their sum may exceed totalCost by a small bounded surplus (less than
  10 units per resident). That is accepted domain behavior, not a defect,
  and must be preserved.

NUMERIC SEMANTICS:
  Raw amounts are computed as totalCost * days / totalDays - multiply
  before divide, so the division happens once on the largest operand and
  the result is exact whenever the rational is representable. Ratios are
  recorded at 4 decimals for audit only; amounts never derive from the
  rounded ratio.
*/
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ratioPrecision is the stored audit precision of share ratios.
const ratioPrecision = 4

var ten = decimal.NewFromInt(10)

// Weight is one proration input: an opaque reference and its occupied-day
// count.
type Weight struct {
	Ref  string
	Days int
}

// Allocation is one proration output row.
type Allocation struct {
	Ref        string
	Days       int
	ShareRatio decimal.Decimal // rounded to 4 decimals
	AmountDue  decimal.Decimal // multiple of ten, >= raw amount
}

// Allocate splits totalCost across the weights by occupied-day ratio.
// Output preserves input order. Rejects a zero or negative total day
// count with ErrInvalidOccupancy.
func Allocate(totalCost decimal.Decimal, weights []Weight) ([]Allocation, error) {
	totalDays := 0
	for _, w := range weights {
		totalDays += w.Days
	}
	if totalDays <= 0 {
		return nil, fmt.Errorf("total occupied days %d: %w", totalDays, ErrInvalidOccupancy)
	}

	total := decimal.NewFromInt(int64(totalDays))
	allocations := make([]Allocation, len(weights))
	for i, w := range weights {
		days := decimal.NewFromInt(int64(w.Days))
		raw := totalCost.Mul(days).Div(total)

		allocations[i] = Allocation{
			Ref:        w.Ref,
			Days:       w.Days,
			ShareRatio: days.Div(total).Round(ratioPrecision),
			AmountDue:  RoundUpToTen(raw),
		}
	}
	return allocations, nil
}

// RoundUpToTen rounds up to the nearest whole multiple of ten currency
// units: 23333.33 -> 23340, 400000 -> 400000.
func RoundUpToTen(x decimal.Decimal) decimal.Decimal {
	return x.Div(ten).Ceil().Mul(ten)
}
