package procurement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PricedLine is the pricing calculator's view of a candidate line. Callers
// may carry non-included lines for display; only included ones are summed.
type PricedLine struct {
	Qty       int64
	UnitPrice decimal.Decimal
	Included  bool
}

// Totals holds the financial breakdown of an order. All values are rounded
// to two decimal places; Net is derived from the rounded components so that
// Net = Subtotal + Tax - Withholding holds exactly.
type Totals struct {
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	Withholding decimal.Decimal
	Net         decimal.Decimal
}

var (
	percentFloor = decimal.Zero
	percentCeil  = decimal.NewFromInt(100)
	oneHundred   = decimal.NewFromInt(100)
)

// Price computes subtotal, tax, withholding and net payable from scratch.
// The tax rate is a fraction (0.16 for 16%); withholdingPercent must lie in
// [0,100]. The function never mutates its inputs and keeps no state between
// calls, so the order invariant can be re-established by recomputation at
// any time.
func Price(lines []PricedLine, taxRate, withholdingPercent decimal.Decimal) (Totals, error) {
	if withholdingPercent.LessThan(percentFloor) || withholdingPercent.GreaterThan(percentCeil) {
		return Totals{}, fmt.Errorf("%w: withholding percent %s outside [0,100]", ErrValidation, withholdingPercent)
	}
	if taxRate.IsNegative() {
		return Totals{}, fmt.Errorf("%w: negative tax rate %s", ErrValidation, taxRate)
	}
	subtotal := decimal.Zero
	for _, line := range lines {
		if !line.Included {
			continue
		}
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(line.Qty)))
	}
	subtotal = subtotal.Round(2)
	tax := subtotal.Mul(taxRate).Round(2)
	withholding := tax.Mul(withholdingPercent).Div(oneHundred).Round(2)
	net := subtotal.Add(tax).Sub(withholding)
	return Totals{Subtotal: subtotal, Tax: tax, Withholding: withholding, Net: net}, nil
}
