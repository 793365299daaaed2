package procurement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPriceBasic(t *testing.T) {
	lines := []PricedLine{
		{Qty: 10, UnitPrice: d("2.50"), Included: true},
		{Qty: 4, UnitPrice: d("12.00"), Included: true},
	}
	totals, err := Price(lines, d("0.16"), d("75"))
	require.NoError(t, err)
	require.True(t, totals.Subtotal.Equal(d("73.00")), "subtotal %s", totals.Subtotal)
	require.True(t, totals.Tax.Equal(d("11.68")), "tax %s", totals.Tax)
	require.True(t, totals.Withholding.Equal(d("8.76")), "withholding %s", totals.Withholding)
	require.True(t, totals.Net.Equal(d("75.92")), "net %s", totals.Net)
}

func TestPriceSkipsExcludedLines(t *testing.T) {
	lines := []PricedLine{
		{Qty: 10, UnitPrice: d("5.00"), Included: true},
		{Qty: 100, UnitPrice: d("9.99"), Included: false},
	}
	totals, err := Price(lines, d("0.16"), decimal.Zero)
	require.NoError(t, err)
	require.True(t, totals.Subtotal.Equal(d("50.00")))
}

func TestPriceZeroWithholding(t *testing.T) {
	totals, err := Price([]PricedLine{{Qty: 1, UnitPrice: d("100"), Included: true}}, d("0.16"), decimal.Zero)
	require.NoError(t, err)
	require.True(t, totals.Withholding.IsZero())
	require.True(t, totals.Net.Equal(d("116.00")))
}

func TestPriceFullWithholding(t *testing.T) {
	totals, err := Price([]PricedLine{{Qty: 1, UnitPrice: d("100"), Included: true}}, d("0.16"), d("100"))
	require.NoError(t, err)
	require.True(t, totals.Withholding.Equal(totals.Tax))
	require.True(t, totals.Net.Equal(totals.Subtotal))
}

func TestPriceRoundingIdentity(t *testing.T) {
	// Prices chosen so every component needs rounding; the identity must
	// hold over the rounded values, not the exact ones.
	lines := []PricedLine{
		{Qty: 3, UnitPrice: d("0.333"), Included: true},
		{Qty: 7, UnitPrice: d("1.111"), Included: true},
	}
	totals, err := Price(lines, d("0.16"), d("75"))
	require.NoError(t, err)
	require.True(t, totals.Net.Equal(totals.Subtotal.Add(totals.Tax).Sub(totals.Withholding)))
	require.True(t, totals.Subtotal.Exponent() >= -2)
	require.True(t, totals.Tax.Exponent() >= -2)
	require.True(t, totals.Withholding.Exponent() >= -2)
}

func TestPriceEmptySelection(t *testing.T) {
	totals, err := Price(nil, d("0.16"), d("75"))
	require.NoError(t, err)
	require.True(t, totals.Subtotal.IsZero())
	require.True(t, totals.Net.IsZero())
}

func TestPriceRejectsBadPercent(t *testing.T) {
	_, err := Price(nil, d("0.16"), d("101"))
	require.ErrorIs(t, err, ErrValidation)
	_, err = Price(nil, d("0.16"), d("-1"))
	require.ErrorIs(t, err, ErrValidation)
}

func TestPriceRejectsNegativeRate(t *testing.T) {
	_, err := Price(nil, d("-0.01"), decimal.Zero)
	require.ErrorIs(t, err, ErrValidation)
}
